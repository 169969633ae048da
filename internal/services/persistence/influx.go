package persistence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

const (
	measurementEnvironment = "environment"
	measurementPlant       = "plant_conditions"
	notAvailable           = "N/A"
)

// pointWriter is satisfied by api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes records as points and tracks the last write error for health checks.
type InfluxSink struct {
	writer   pointWriter
	location string
	log      *logger.Logger

	mu      sync.RWMutex
	lastErr time.Time
}

func NewInfluxSink(writer pointWriter, location string, log *logger.Logger) *InfluxSink {
	return &InfluxSink{
		writer:   writer,
		location: location,
		log:      log.Named("influx"),
		lastErr:  time.Now().Add(-24 * time.Hour),
	}
}

func environmentPoint(rec messages.EnvironmentRecord, location string) *write.Point {
	fields := make(map[string]interface{}, 6)
	for k, v := range rec.Values() {
		fields[k] = v
	}
	fields["cycle_id"] = rec.CycleID
	return influxdb2.NewPoint(measurementEnvironment, map[string]string{"location": location}, fields, rec.Timestamp)
}

func inspectionPoint(rec messages.PlantInspectionRecord, location string) *write.Point {
	diagnosis := rec.DiagnosisText()
	if diagnosis == "" {
		diagnosis = notAvailable
	}
	image := rec.ImagePath
	if image == "" {
		image = notAvailable
	}
	tags := map[string]string{
		"location":  location,
		"plant_id":  strconv.Itoa(rec.PlantID),
		"condition": string(rec.Condition),
	}
	fields := map[string]interface{}{
		"diagnosis": diagnosis,
		"image_url": image,
		"run_id":    rec.RunID,
	}
	return influxdb2.NewPoint(measurementPlant, tags, fields, rec.Timestamp)
}

func (s *InfluxSink) PersistEnvironmentRecord(ctx context.Context, rec messages.EnvironmentRecord) error {
	return s.write(ctx, measurementEnvironment, environmentPoint(rec, s.location))
}

func (s *InfluxSink) PersistInspectionRecord(ctx context.Context, rec messages.PlantInspectionRecord) error {
	return s.write(ctx, measurementPlant, inspectionPoint(rec, s.location))
}

func (s *InfluxSink) write(ctx context.Context, measurement string, p *write.Point) error {
	if err := s.writer.WritePoint(ctx, p); err != nil {
		s.mu.Lock()
		s.lastErr = time.Now()
		s.mu.Unlock()
		return fmt.Errorf("influx write %s: %w", measurement, err)
	}
	s.log.Debugw("point written", "measurement", measurement)
	return nil
}

// LastErrorAge is the time since the last failed write.
func (s *InfluxSink) LastErrorAge() time.Duration {
	if s == nil {
		return 99999 * time.Hour
	}
	s.mu.RLock()
	t := s.lastErr
	s.mu.RUnlock()
	return time.Since(t)
}
