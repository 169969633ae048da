package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

func fp(v float64) *float64 { return &v }

// sensorBench answers commands by recording readings, like the node would.
type sensorBench struct {
	mu       sync.Mutex
	store    *ReadingStore
	respond  map[string]entities.SensorReading
	commands []string
	failures int
}

func (b *sensorBench) PublishMessage(message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmd := message.(string)
	b.commands = append(b.commands, cmd)
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unreachable")
	}
	if r, ok := b.respond[cmd]; ok {
		r.ReceivedAt = time.Now()
		b.store.Record(r)
	}
	return nil
}

type memorySink struct {
	records []messages.EnvironmentRecord
	err     error
}

func (s *memorySink) PersistEnvironmentRecord(_ context.Context, rec messages.EnvironmentRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func allResponses() map[string]entities.SensorReading {
	return map[string]entities.SensorReading{
		"MEASURE_PH":    {Kind: entities.KindPH, Value: 6.8, Temperature: fp(25.3)},
		"MEASURE_TDS":   {Kind: entities.KindTDS, Value: 950, Temperature: fp(25.1)},
		"MEASURE_DHT22": {Kind: entities.KindAir, Value: 71, Temperature: fp(29.4)},
	}
}

func newTestOrchestrator(t *testing.T, bench *sensorBench, sink *memorySink) *Orchestrator {
	t.Helper()
	cfg := Config{
		Rotation:             entities.AllKinds,
		Stabilization:        map[entities.SensorKind]time.Duration{},
		Required:             messages.EnvironmentFields,
		PublishRetries:       2,
		PublishRetryInterval: time.Millisecond,
	}
	o, err := NewOrchestrator(cfg, bench.store, bench, sink, logger.Nop(), nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	o.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return o
}

func TestCompleteCycleEmitsOneRecord(t *testing.T) {
	store := NewReadingStore()
	bench := &sensorBench{store: store, respond: allResponses()}
	sink := &memorySink{}
	o := newTestOrchestrator(t, bench, sink)

	rec, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(sink.records))
	}
	if *rec.PH != 6.8 || *rec.TDS != 950 || *rec.AirHumidity != 71 || *rec.AirTemperature != 29.4 {
		t.Fatalf("unexpected record %+v", rec.Values())
	}
	if *rec.WaterTemperature != 25.1 {
		t.Fatalf("water temperature should come from the TDS probe, got %v", *rec.WaterTemperature)
	}
	if rec.CycleID == "" {
		t.Fatal("cycle id missing")
	}
	want := []string{"MEASURE_TDS", "MEASURE_PH", "MEASURE_DHT22"}
	for i, c := range want {
		if bench.commands[i] != c {
			t.Fatalf("commands = %v, want %v", bench.commands, want)
		}
	}
	if store.size() != 0 {
		t.Fatal("every read kind must be cleared")
	}
}

func TestMissingAirDiscardsCycle(t *testing.T) {
	store := NewReadingStore()
	resp := allResponses()
	delete(resp, "MEASURE_DHT22")
	bench := &sensorBench{store: store, respond: resp}
	sink := &memorySink{}
	o := newTestOrchestrator(t, bench, sink)

	_, err := o.RunCycle(context.Background())
	if !errors.Is(err, ErrIncompleteCycle) {
		t.Fatalf("expected ErrIncompleteCycle, got %v", err)
	}
	if len(sink.records) != 0 {
		t.Fatal("partial data must never be persisted")
	}
	// ph and tds were consumed by their own reads, so nothing bleeds into the next cycle
	if store.size() != 0 {
		t.Fatalf("store len = %d", store.size())
	}
}

func TestStaleReadingIsDropped(t *testing.T) {
	store := NewReadingStore()
	resp := allResponses()
	delete(resp, "MEASURE_PH")
	bench := &sensorBench{store: store, respond: resp}
	sink := &memorySink{}
	o := newTestOrchestrator(t, bench, sink)

	store.Record(entities.SensorReading{Kind: entities.KindPH, Value: 5.0, ReceivedAt: time.Now().Add(-time.Hour)})
	if _, err := o.RunCycle(context.Background()); !errors.Is(err, ErrIncompleteCycle) {
		t.Fatalf("stale ph must not complete the cycle, got %v", err)
	}
	if len(sink.records) != 0 {
		t.Fatal("nothing should be persisted")
	}
}

func TestPublishIsRetried(t *testing.T) {
	store := NewReadingStore()
	bench := &sensorBench{store: store, respond: allResponses(), failures: 2}
	sink := &memorySink{}
	o := newTestOrchestrator(t, bench, sink)

	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(bench.commands) != 5 {
		t.Fatalf("commands = %v, want two retries on the first kind", bench.commands)
	}
}

func TestTransportFailureAbortsCycle(t *testing.T) {
	store := NewReadingStore()
	bench := &sensorBench{store: store, respond: allResponses(), failures: 100}
	sink := &memorySink{}
	o := newTestOrchestrator(t, bench, sink)

	_, err := o.RunCycle(context.Background())
	if err == nil || errors.Is(err, ErrIncompleteCycle) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(sink.records) != 0 {
		t.Fatal("nothing should be persisted")
	}
}

func TestOnlyConfiguredFieldsAreRequired(t *testing.T) {
	store := NewReadingStore()
	resp := allResponses()
	delete(resp, "MEASURE_DHT22")
	bench := &sensorBench{store: store, respond: resp}
	sink := &memorySink{}
	o := newTestOrchestrator(t, bench, sink)
	o.cfg.Required = []string{messages.FieldPH, messages.FieldTDS}

	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].AirHumidity != nil {
		t.Fatalf("unexpected records %+v", sink.records)
	}
}

func TestRequiredFieldMustBeProducible(t *testing.T) {
	cfg := Config{Rotation: []entities.SensorKind{entities.KindPH}, Required: []string{messages.FieldAirHumidity}}
	if _, err := NewOrchestrator(cfg, NewReadingStore(), &sensorBench{}, &memorySink{}, logger.Nop(), nil); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := NewReadingStore()
	bench := &sensorBench{store: store, respond: allResponses()}
	sink := &memorySink{}
	o := newTestOrchestrator(t, bench, sink)

	ctx, cancel := context.WithCancel(context.Background())
	o.sleep = func(ctx context.Context, _ time.Duration) error {
		if len(sink.records) >= 2 {
			cancel()
		}
		return ctx.Err()
	}
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if len(sink.records) < 2 {
		t.Fatalf("records = %d", len(sink.records))
	}
}
