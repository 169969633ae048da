package inspection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/smartfarm/internal/clock"
	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/classifier"
)

// ErrCycleInProgress rejects a trigger while another run is active.
var ErrCycleInProgress = errors.New("inspection cycle already in progress")

// Trigger sources.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

type Device interface {
	Reboot(ctx context.Context) error
	CaptureImage(ctx context.Context, plantID int) (string, error)
	MoveToHome(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, imagePath string) classifier.Outcome
}

type RecordSink interface {
	PersistInspectionRecord(ctx context.Context, rec messages.PlantInspectionRecord) error
}

type EnvironmentSummarizer interface {
	SummarizeEnvironment(ctx context.Context) (string, error)
}

type WeatherSummarizer interface {
	SummarizeWeather(ctx context.Context) (string, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, jobs []messages.NotificationJob) error
}

type Config struct {
	FarmName        string
	PlantIDs        []int
	RebootFirst     bool
	BootGrace       time.Duration
	InterPlantDelay time.Duration
	HomingDelay     time.Duration
	ShutdownEnabled bool
	ShutdownDelay   time.Duration
	Recipients      []string
	Location        *time.Location
}

// Deps groups the collaborators; Environment and Weather may be nil.
type Deps struct {
	Device      Device
	Evaluator   Evaluator
	Sink        RecordSink
	Environment EnvironmentSummarizer
	Weather     WeatherSummarizer
	Notifier    Notifier
}

// CycleReport describes one finished (or cancelled) run.
type CycleReport struct {
	RunID      string                           `json:"run_id"`
	Trigger    string                           `json:"trigger"`
	StartedAt  time.Time                        `json:"started_at"`
	FinishedAt time.Time                        `json:"finished_at"`
	Records    []messages.PlantInspectionRecord `json:"records"`
	Skipped    []int                            `json:"skipped"`
	Unhealthy  []UnhealthyPlant                 `json:"unhealthy"`
	Report     Report                           `json:"report"`
	Error      string                           `json:"error,omitempty"`
}

// Status is a point-in-time view for the ops API.
type Status struct {
	State     State        `json:"state"`
	Running   bool         `json:"running"`
	RunID     string       `json:"run_id,omitempty"`
	PlantID   int          `json:"plant_id,omitempty"`
	PlantStep int          `json:"plant_step,omitempty"`
	Plants    int          `json:"plants"`
	LastRun   *CycleReport `json:"last_run,omitempty"`
	NextRuns  []time.Time  `json:"next_runs,omitempty"`
}

// Orchestrator runs the inspection state machine; only one run is active at a time.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	log     *logger.Logger
	metrics *metrics.Metrics

	running   atomic.Bool
	state     atomic.Int32
	plantID   atomic.Int64
	plantStep atomic.Int64

	mu      sync.RWMutex
	runID   string
	lastRun *CycleReport
	// upcoming lists scheduled run times after now; nil when nothing is scheduled.
	upcoming func(now time.Time) []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(cfg Config, deps Deps, log *logger.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if deps.Device == nil || deps.Evaluator == nil || deps.Sink == nil || deps.Notifier == nil {
		return nil, errors.New("inspection: device, evaluator, sink and notifier are required")
	}
	if len(cfg.PlantIDs) == 0 {
		return nil, errors.New("inspection: no plants configured")
	}
	seen := make(map[int]bool, len(cfg.PlantIDs))
	for _, id := range cfg.PlantIDs {
		if seen[id] {
			return nil, fmt.Errorf("inspection: plant %d listed twice", id)
		}
		seen[id] = true
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		log:     log.Named("inspection"),
		metrics: m,
		now:     time.Now,
		sleep:   clock.Sleep,
	}, nil
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Status reports the current state and the last completed run.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := Status{
		State:   o.State(),
		Running: o.running.Load(),
		Plants:  len(o.cfg.PlantIDs),
		LastRun: o.lastRun,
	}
	if st.Running {
		st.RunID = o.runID
	}
	if o.upcoming != nil {
		st.NextRuns = o.upcoming(o.now())
	}
	if st.State == StatePerPlant {
		st.PlantID = int(o.plantID.Load())
		st.PlantStep = int(o.plantStep.Load())
	}
	return st
}

func (o *Orchestrator) setUpcoming(f func(now time.Time) []time.Time) {
	o.mu.Lock()
	o.upcoming = f
	o.mu.Unlock()
}

// LastRun returns the most recent cycle report, or nil before the first run.
func (o *Orchestrator) LastRun() *CycleReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastRun
}

// RunCycle performs a full run synchronously.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger string) (CycleReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleInProgress
	}
	defer o.running.Store(false)
	runID := uuid.NewString()
	o.setRunID(runID)
	return o.run(ctx, runID, trigger), nil
}

// Start launches a run in the background and returns its id.
func (o *Orchestrator) Start(ctx context.Context, trigger string) (string, error) {
	if !o.running.CompareAndSwap(false, true) {
		return "", ErrCycleInProgress
	}
	runID := uuid.NewString()
	o.setRunID(runID)
	go func() {
		defer o.running.Store(false)
		o.run(ctx, runID, trigger)
	}()
	return runID, nil
}

func (o *Orchestrator) setRunID(id string) {
	o.mu.Lock()
	o.runID = id
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.metrics.SetInspectionState(int(s))
}

func (o *Orchestrator) run(ctx context.Context, runID, trigger string) CycleReport {
	rep := CycleReport{RunID: runID, Trigger: trigger, StartedAt: o.now()}
	log := o.log.With("run", runID, "trigger", trigger)
	log.Infow("inspection started", "plants", len(o.cfg.PlantIDs))

	err := o.steps(ctx, log, &rep)
	o.setState(StateIdle)

	rep.FinishedAt = o.now()
	result := "completed"
	if err != nil {
		rep.Error = err.Error()
		result = "aborted"
		log.Warnw("inspection aborted", "err", err, "inspected", len(rep.Records))
	} else {
		log.Infow("inspection finished", "inspected", len(rep.Records), "skipped", rep.Skipped,
			"unhealthy", len(rep.Unhealthy), "took", rep.FinishedAt.Sub(rep.StartedAt).String())
	}
	o.metrics.InspectionRun(trigger, result)

	o.mu.Lock()
	o.lastRun = &rep
	o.mu.Unlock()
	return rep
}

// steps only fails when ctx is cancelled; every other problem is logged and skipped.
func (o *Orchestrator) steps(ctx context.Context, log *logger.Logger, rep *CycleReport) error {
	if o.cfg.RebootFirst {
		o.setState(StateWakingDevice)
		if err := o.deps.Device.Reboot(ctx); err != nil {
			log.Warnw("reboot not confirmed, continuing", "err", err)
		}
		if err := o.sleep(ctx, o.cfg.BootGrace); err != nil {
			return err
		}
	}

	o.setState(StatePerPlant)
	var healthyImages []string
	for i, id := range o.cfg.PlantIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.plantID.Store(int64(id))
		o.plantStep.Store(int64(i + 1))

		path, err := o.deps.Device.CaptureImage(ctx, id)
		if err != nil {
			log.Warnw("plant skipped, no image", "plant", id, "err", err)
			rep.Skipped = append(rep.Skipped, id)
			o.metrics.PlantSkipped()
			continue
		}

		out := o.deps.Evaluator.Evaluate(ctx, path)
		rec := messages.PlantInspectionRecord{
			RunID:     rep.RunID,
			PlantID:   id,
			Timestamp: o.now(),
			Condition: out.Condition,
			Diagnosis: out.Diagnosis,
			ImagePath: path,
		}
		if err := o.deps.Sink.PersistInspectionRecord(ctx, rec); err != nil {
			log.Errorw("persist inspection record", "plant", id, "err", err)
		}
		rep.Records = append(rep.Records, rec)
		o.metrics.PlantInspected(string(out.Condition))
		log.Infow("plant inspected", "plant", id, "condition", out.Condition, "diagnosis", rec.DiagnosisText())

		if out.Condition == entities.ConditionUnhealthy {
			rep.Unhealthy = append(rep.Unhealthy, UnhealthyPlant{PlantID: id, Diagnosis: rec.DiagnosisText(), ImagePath: path})
		} else {
			healthyImages = append(healthyImages, path)
		}

		if i < len(o.cfg.PlantIDs)-1 {
			if err := o.sleep(ctx, o.cfg.InterPlantDelay); err != nil {
				return err
			}
		}
	}

	o.setState(StateReporting)
	rep.Report = ComposeReport(ReportInput{
		FarmName:      o.cfg.FarmName,
		At:            o.now().In(o.cfg.Location),
		Unhealthy:     rep.Unhealthy,
		HealthyImages: healthyImages,
		Environment:   o.environmentSummary(ctx, log),
		Weather:       o.weatherSummary(ctx, log),
	})
	if len(o.cfg.Recipients) == 0 {
		log.Warnw("no notification recipients configured, report not sent")
	} else if err := o.deps.Notifier.Dispatch(ctx, rep.Report.Jobs(o.cfg.Recipients)); err != nil {
		log.Errorw("report dispatch failed", "err", err)
	}

	o.setState(StateReturning)
	if err := o.sleep(ctx, o.cfg.HomingDelay); err != nil {
		return err
	}
	if err := o.deps.Device.MoveToHome(ctx); err != nil {
		log.Warnw("robot homing failed", "err", err)
	}

	if o.cfg.ShutdownEnabled {
		o.setState(StateShuttingDown)
		if err := o.sleep(ctx, o.cfg.ShutdownDelay); err != nil {
			return err
		}
		if err := o.deps.Device.Shutdown(ctx); err != nil {
			log.Warnw("remote shutdown failed", "err", err)
		}
	}
	return nil
}

func (o *Orchestrator) environmentSummary(ctx context.Context, log *logger.Logger) string {
	if o.deps.Environment == nil {
		return ""
	}
	s, err := o.deps.Environment.SummarizeEnvironment(ctx)
	if err != nil {
		log.Warnw("environment summary unavailable", "err", err)
		return ""
	}
	return s
}

func (o *Orchestrator) weatherSummary(ctx context.Context, log *logger.Logger) string {
	if o.deps.Weather == nil {
		return ""
	}
	s, err := o.deps.Weather.SummarizeWeather(ctx)
	if err != nil {
		log.Warnw("weather summary unavailable", "err", err)
		return ""
	}
	return s
}
