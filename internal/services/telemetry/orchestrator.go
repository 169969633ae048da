package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/smartfarm/internal/clock"
	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
	"github.com/LeonardoBeccarini/smartfarm/pkg/broker"
)

// ErrIncompleteCycle is returned when a required field was not observed during the cycle.
var ErrIncompleteCycle = errors.New("incomplete acquisition cycle")

// RecordSink persists completed environment records.
type RecordSink interface {
	PersistEnvironmentRecord(ctx context.Context, rec messages.EnvironmentRecord) error
}

type Config struct {
	Rotation             []entities.SensorKind
	Stabilization        map[entities.SensorKind]time.Duration
	Required             []string
	PublishRetries       int
	PublishRetryInterval time.Duration
	ErrorBackoff         time.Duration
}

// Orchestrator drives the command, stabilization and read cycle.
type Orchestrator struct {
	cfg       Config
	store     *ReadingStore
	publisher broker.IPublisher
	sink      RecordSink
	log       *logger.Logger
	metrics   *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(cfg Config, store *ReadingStore, publisher broker.IPublisher, sink RecordSink,
	log *logger.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if store == nil || publisher == nil || sink == nil {
		return nil, errors.New("telemetry: store, publisher and sink are required")
	}
	if len(cfg.Rotation) == 0 {
		return nil, errors.New("telemetry: empty rotation")
	}
	produced := map[string]bool{}
	for _, k := range cfg.Rotation {
		for _, f := range fieldsOf(k) {
			produced[f] = true
		}
	}
	for _, f := range cfg.Required {
		if !produced[f] {
			return nil, fmt.Errorf("telemetry: required field %q is not produced by rotation %v", f, cfg.Rotation)
		}
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		sink:      sink,
		log:       log.Named("telemetry"),
		metrics:   m,
		now:       time.Now,
		sleep:     clock.Sleep,
	}, nil
}

func fieldsOf(k entities.SensorKind) []string {
	switch k {
	case entities.KindPH, entities.KindTDS:
		return []string{string(k), messages.FieldWaterTemperature}
	case entities.KindAir:
		return []string{messages.FieldAirTemperature, messages.FieldAirHumidity}
	}
	return nil
}

// Run loops acquisition cycles until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Infow("telemetry orchestrator started", "rotation", o.cfg.Rotation, "required", o.cfg.Required)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, err := o.RunCycle(ctx)
		switch {
		case err == nil, errors.Is(err, ErrIncompleteCycle):
		case ctx.Err() != nil:
			return nil
		default:
			o.log.Errorw("cycle failed, backing off", "backoff", o.cfg.ErrorBackoff, "err", err)
			if o.sleep(ctx, o.cfg.ErrorBackoff) != nil {
				return nil
			}
		}
	}
}

// RunCycle performs one pass over the rotation and persists the record if it is complete.
func (o *Orchestrator) RunCycle(ctx context.Context) (messages.EnvironmentRecord, error) {
	cycleID := uuid.NewString()
	log := o.log.With("cycle", cycleID)
	readings := make(map[entities.SensorKind]entities.SensorReading, len(o.cfg.Rotation))

	for _, kind := range o.cfg.Rotation {
		issued := o.now()
		if err := o.command(ctx, kind); err != nil {
			o.metrics.Cycle("transport_error")
			return messages.EnvironmentRecord{}, fmt.Errorf("cycle %s: %w", cycleID, err)
		}
		if err := o.sleep(ctx, o.cfg.Stabilization[kind]); err != nil {
			return messages.EnvironmentRecord{}, err
		}

		r, ok := o.store.TakeAndClear(kind)
		switch {
		case !ok:
			log.Warnw("no reading after stabilization window", "kind", kind)
		case r.ReceivedAt.Before(issued):
			log.Warnw("dropping stale reading", "kind", kind, "received_at", r.ReceivedAt, "issued_at", issued)
		default:
			readings[kind] = r
		}
	}

	rec := assemble(cycleID, o.now(), readings)
	if missing := rec.Missing(o.cfg.Required); len(missing) > 0 {
		o.metrics.Cycle("incomplete")
		log.Warnw("discarding incomplete cycle", "missing", missing)
		return rec, fmt.Errorf("%w: missing %s", ErrIncompleteCycle, strings.Join(missing, ", "))
	}
	if err := o.sink.PersistEnvironmentRecord(ctx, rec); err != nil {
		o.metrics.Cycle("persist_error")
		return rec, fmt.Errorf("persist environment record: %w", err)
	}
	o.metrics.Cycle("emitted")
	log.Infow("environment record emitted", "values", rec.Values())
	return rec, nil
}

// command publishes the measurement command with a constant backoff.
func (o *Orchestrator) command(ctx context.Context, kind entities.SensorKind) error {
	payload := kind.Command()
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.cfg.PublishRetryInterval), uint64(max(o.cfg.PublishRetries, 0))),
		ctx,
	)
	err := backoff.RetryNotify(func() error {
		return o.publisher.PublishMessage(payload)
	}, bo, func(err error, next time.Duration) {
		o.log.Warnw("command publish failed, retrying", "command", payload, "retry_in", next, "err", err)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", payload, err)
	}
	return nil
}

func assemble(cycleID string, at time.Time, readings map[entities.SensorKind]entities.SensorReading) messages.EnvironmentRecord {
	rec := messages.EnvironmentRecord{CycleID: cycleID, Timestamp: at}
	if r, ok := readings[entities.KindPH]; ok {
		v := r.Value
		rec.PH = &v
		rec.WaterTemperature = r.Temperature
	}
	if r, ok := readings[entities.KindTDS]; ok {
		v := r.Value
		rec.TDS = &v
		if r.Temperature != nil {
			rec.WaterTemperature = r.Temperature
		}
	}
	if r, ok := readings[entities.KindAir]; ok {
		v := r.Value
		rec.AirHumidity = &v
		rec.AirTemperature = r.Temperature
	}
	return rec
}
