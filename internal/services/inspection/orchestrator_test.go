package inspection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/classifier"
)

type fakeDevice struct {
	mu        sync.Mutex
	calls     []string
	failPlant map[int]bool
	rebootErr error
	gate      chan struct{}
}

func (d *fakeDevice) record(c string) {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()
}

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) Reboot(context.Context) error {
	d.record("reboot")
	return d.rebootErr
}

func (d *fakeDevice) CaptureImage(ctx context.Context, id int) (string, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	d.record(fmt.Sprintf("capture %d", id))
	if d.failPlant[id] {
		return "", errors.New("robot timeout")
	}
	return fmt.Sprintf("plant_%d.jpg", id), nil
}

func (d *fakeDevice) MoveToHome(context.Context) error {
	d.record("home")
	return nil
}

func (d *fakeDevice) Shutdown(context.Context) error {
	d.record("shutdown")
	return nil
}

type fakeEvaluator map[string]classifier.Outcome

func (f fakeEvaluator) Evaluate(_ context.Context, path string) classifier.Outcome {
	if out, ok := f[path]; ok {
		return out
	}
	return classifier.Outcome{Condition: entities.ConditionHealthy}
}

type memSink struct {
	mu   sync.Mutex
	recs []messages.PlantInspectionRecord
}

func (s *memSink) PersistInspectionRecord(_ context.Context, rec messages.PlantInspectionRecord) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	return nil
}

type textSource struct {
	text string
	err  error
}

func (t textSource) SummarizeEnvironment(context.Context) (string, error) { return t.text, t.err }
func (t textSource) SummarizeWeather(context.Context) (string, error)     { return t.text, t.err }

type memNotifier struct {
	jobs []messages.NotificationJob
}

func (n *memNotifier) Dispatch(_ context.Context, jobs []messages.NotificationJob) error {
	n.jobs = append(n.jobs, jobs...)
	return nil
}

type fixture struct {
	orch     *Orchestrator
	device   *fakeDevice
	sink     *memSink
	notifier *memNotifier
	metrics  *metrics.Metrics
	sleeps   []time.Duration
}

func plantRange(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}

func newFixture(t *testing.T, cfg Config, eval fakeEvaluator, dev *fakeDevice) *fixture {
	t.Helper()
	f := &fixture{device: dev, sink: &memSink{}, notifier: &memNotifier{}, metrics: metrics.New(prometheus.NewRegistry())}
	if cfg.Recipients == nil {
		cfg.Recipients = []string{"628111"}
	}
	o, err := NewOrchestrator(cfg, Deps{
		Device:      dev,
		Evaluator:   eval,
		Sink:        f.sink,
		Environment: textSource{text: "Last 4 hours: ok"},
		Weather:     textSource{err: errors.New("weather down")},
		Notifier:    f.notifier,
	}, logger.Nop(), f.metrics)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	var mu sync.Mutex
	o.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		f.sleeps = append(f.sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	o.now = func() time.Time { return time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC) }
	f.orch = o
	return f
}

func TestRunCycleSkipsFailedPlant(t *testing.T) {
	dev := &fakeDevice{failPlant: map[int]bool{7: true}}
	f := newFixture(t, Config{
		FarmName:        "Mubarok Farm",
		PlantIDs:        plantRange(14),
		RebootFirst:     true,
		BootGrace:       15 * time.Second,
		InterPlantDelay: 15 * time.Second,
		HomingDelay:     10 * time.Second,
	}, fakeEvaluator{}, dev)

	rep, err := f.orch.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(f.sink.recs) != 13 || len(rep.Records) != 13 {
		t.Fatalf("persisted %d, reported %d", len(f.sink.recs), len(rep.Records))
	}
	seen := map[int]bool{}
	for _, r := range f.sink.recs {
		if r.PlantID == 7 {
			t.Fatal("plant 7 must not be persisted")
		}
		if seen[r.PlantID] {
			t.Fatalf("plant %d persisted twice", r.PlantID)
		}
		seen[r.PlantID] = true
		if r.RunID != rep.RunID {
			t.Fatalf("run id = %q, want %q", r.RunID, rep.RunID)
		}
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0] != 7 {
		t.Fatalf("skipped = %v", rep.Skipped)
	}
	if rep.Report.Attachment != "plant_1.jpg" {
		t.Fatalf("attachment = %q", rep.Report.Attachment)
	}
	if len(f.notifier.jobs) != 1 {
		t.Fatalf("jobs = %d", len(f.notifier.jobs))
	}
	if f.orch.State() != StateIdle || f.orch.Running() {
		t.Fatal("orchestrator should be idle after the run")
	}
	if got := testutil.ToFloat64(f.metrics.PlantsSkipped); got != 1 {
		t.Fatalf("skipped metric = %v", got)
	}

	// boot grace, 12 inter-plant delays (none after the failed or the last plant), homing
	if len(f.sleeps) != 14 {
		t.Fatalf("sleeps = %d: %v", len(f.sleeps), f.sleeps)
	}
	calls := dev.Calls()
	if calls[0] != "reboot" || calls[len(calls)-1] != "home" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRunCycleUnhealthyWithoutDiagnosis(t *testing.T) {
	diag := &entities.Diagnosis{Name: "Leaf spot", Probability: 0.9}
	eval := fakeEvaluator{
		"plant_2.jpg": {Condition: entities.ConditionUnhealthy},
		"plant_3.jpg": {Condition: entities.ConditionUnhealthy, Diagnosis: diag},
	}
	f := newFixture(t, Config{PlantIDs: []int{1, 2, 3}}, eval, &fakeDevice{})

	rep, err := f.orch.RunCycle(context.Background(), TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.sink.recs) != 3 {
		t.Fatalf("records = %d", len(f.sink.recs))
	}
	r2 := f.sink.recs[1]
	if r2.Condition != entities.ConditionUnhealthy || r2.Diagnosis != nil {
		t.Fatalf("plant 2 record = %+v", r2)
	}
	if len(rep.Unhealthy) != 2 || rep.Report.Attachment != "plant_2.jpg" {
		t.Fatalf("unhealthy = %+v, attachment = %q", rep.Unhealthy, rep.Report.Attachment)
	}
	msg := f.notifier.jobs[0].Message
	for _, want := range []string{
		"*Plant #2*: unhealthy, diagnosis unavailable",
		"*Plant #3*: Diagnosis: Leaf spot (90%)",
		"Last 4 hours: ok",
		"Weather data unavailable.",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("report missing %q:\n%s", want, msg)
		}
	}
	if calls := f.device.Calls(); calls[0] == "reboot" {
		t.Fatal("reboot should be skipped when disabled")
	}
}

func TestRunCycleRebootFailureProceeds(t *testing.T) {
	dev := &fakeDevice{rebootErr: errors.New("ack timeout")}
	f := newFixture(t, Config{PlantIDs: []int{1}, RebootFirst: true, ShutdownEnabled: true}, fakeEvaluator{}, dev)

	if _, err := f.orch.RunCycle(context.Background(), TriggerScheduled); err != nil {
		t.Fatal(err)
	}
	want := []string{"reboot", "capture 1", "home", "shutdown"}
	got := dev.Calls()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	if v := testutil.ToFloat64(f.metrics.InspectionRuns.WithLabelValues(TriggerScheduled, "completed")); v != 1 {
		t.Fatalf("runs metric = %v", v)
	}
}

func TestConcurrentTriggerRejected(t *testing.T) {
	dev := &fakeDevice{gate: make(chan struct{})}
	f := newFixture(t, Config{PlantIDs: []int{1, 2}}, fakeEvaluator{}, dev)

	runID, err := f.orch.Start(context.Background(), TriggerManual)
	if err != nil || runID == "" {
		t.Fatalf("Start: %q, %v", runID, err)
	}
	if _, err := f.orch.Start(context.Background(), TriggerManual); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("second Start err = %v", err)
	}
	if _, err := f.orch.RunCycle(context.Background(), TriggerScheduled); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("RunCycle err = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.orch.State() != StatePerPlant {
		if time.Now().After(deadline) {
			t.Fatal("run never reached per-plant state")
		}
		time.Sleep(time.Millisecond)
	}
	st := f.orch.Status()
	if !st.Running || st.RunID != runID || st.PlantID != 1 || st.PlantStep != 1 || st.Plants != 2 {
		t.Fatalf("status = %+v", st)
	}

	close(dev.gate)
	for f.orch.Running() {
		if time.Now().After(deadline) {
			t.Fatal("run did not finish")
		}
		time.Sleep(time.Millisecond)
	}
	last := f.orch.LastRun()
	if last == nil || last.RunID != runID || len(last.Records) != 2 {
		t.Fatalf("last run = %+v", last)
	}
	if _, err := f.orch.RunCycle(context.Background(), TriggerManual); err != nil {
		t.Fatalf("run after completion: %v", err)
	}
}

func TestRunCycleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(t, Config{PlantIDs: []int{1, 2}, RebootFirst: true}, fakeEvaluator{}, &fakeDevice{})

	rep, err := f.orch.RunCycle(ctx, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Error == "" || len(rep.Records) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if len(f.notifier.jobs) != 0 {
		t.Fatal("cancelled run must not send a report")
	}
	if f.orch.State() != StateIdle {
		t.Fatalf("state = %v", f.orch.State())
	}
}

func TestNewOrchestratorValidates(t *testing.T) {
	if _, err := NewOrchestrator(Config{PlantIDs: []int{1}}, Deps{}, logger.Nop(), nil); err == nil {
		t.Fatal("missing deps should fail")
	}
	deps := Deps{Device: &fakeDevice{}, Evaluator: fakeEvaluator{}, Sink: &memSink{}, Notifier: &memNotifier{}}
	if _, err := NewOrchestrator(Config{}, deps, logger.Nop(), nil); err == nil {
		t.Fatal("empty plant list should fail")
	}
	_, err := NewOrchestrator(Config{PlantIDs: []int{1, 2, 2}}, deps, logger.Nop(), nil)
	if err == nil || !strings.Contains(err.Error(), "plant 2 listed twice") {
		t.Fatalf("duplicate plant ids should fail, got %v", err)
	}
}
