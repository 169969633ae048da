package inspection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LeonardoBeccarini/smartfarm/internal/config"
	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

type Forecaster interface {
	Forecast(ctx context.Context) (messages.WeatherForecast, error)
}

type WeatherStore interface {
	PersistWeather(ctx context.Context, f messages.WeatherForecast) error
}

// cronLogger adapts the zap logger to cron.Logger.
type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "err", err)...)
}

// Scheduler fires daily jobs at local wall-clock times.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location
	log  *logger.Logger

	mu          sync.Mutex
	inspections []cron.EntryID
}

func NewScheduler(loc *time.Location, log *logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	l := log.Named("scheduler")
	cl := cronLogger{log: l}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		loc: loc,
		log: l,
	}
}

// dailySpec turns "HH:MM" into a five-field cron spec.
func dailySpec(hm string) (string, error) {
	h, m, err := config.ParseClock(hm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// AddDaily registers job to run every day at hm.
func (s *Scheduler) AddDaily(hm, name string, job func()) (cron.EntryID, error) {
	spec, err := dailySpec(hm)
	if err != nil {
		return 0, err
	}
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return 0, fmt.Errorf("schedule %s at %s: %w", name, hm, err)
	}
	s.log.Infow("job scheduled", "job", name, "at", hm, "tz", s.loc.String())
	return id, nil
}

// ScheduleInspections registers one inspection run per time of day.
func (s *Scheduler) ScheduleInspections(ctx context.Context, o *Orchestrator, times []string) error {
	for _, hm := range times {
		at := hm
		id, err := s.AddDaily(at, "inspection", func() {
			if _, err := o.RunCycle(ctx, TriggerScheduled); err != nil {
				if errors.Is(err, ErrCycleInProgress) {
					s.log.Warnw("scheduled inspection skipped, run in progress", "at", at)
					return
				}
				s.log.Errorw("scheduled inspection failed", "at", at, "err", err)
			}
		})
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.inspections = append(s.inspections, id)
		s.mu.Unlock()
	}
	o.setUpcoming(s.NextInspections)
	return nil
}

// ScheduleWeatherLog stores the daily forecast at hm.
func (s *Scheduler) ScheduleWeatherLog(ctx context.Context, hm string, src Forecaster, store WeatherStore) error {
	_, err := s.AddDaily(hm, "weather-log", func() {
		if err := LogWeather(ctx, src, store); err != nil {
			s.log.Warnw("weather log failed", "err", err)
			return
		}
		s.log.Infow("weather forecast stored")
	})
	return err
}

// LogWeather fetches today's forecast and persists it.
func LogWeather(ctx context.Context, src Forecaster, store WeatherStore) error {
	f, err := src.Forecast(ctx)
	if err != nil {
		return err
	}
	return store.PersistWeather(ctx, f)
}

// NextInspections returns the next fire time of every inspection job after t, earliest first.
func (s *Scheduler) NextInspections(t time.Time) []time.Time {
	s.mu.Lock()
	ids := append([]cron.EntryID(nil), s.inspections...)
	s.mu.Unlock()

	// Next reads the zone from its argument
	t = t.In(s.loc)
	out := make([]time.Time, 0, len(ids))
	for _, id := range ids {
		if e := s.cron.Entry(id); e.Valid() {
			out = append(out, e.Schedule.Next(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and returns a context done when running jobs finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
