package persistence

import (
	"context"
	"errors"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

// Sink is the narrow write interface the orchestrators persist through.
type Sink interface {
	PersistEnvironmentRecord(ctx context.Context, rec messages.EnvironmentRecord) error
	PersistInspectionRecord(ctx context.Context, rec messages.PlantInspectionRecord) error
}

// MultiSink fans every write out to all sinks; one failing backend does not
// prevent the others from storing the record.
type MultiSink []Sink

func (m MultiSink) PersistEnvironmentRecord(ctx context.Context, rec messages.EnvironmentRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PersistEnvironmentRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) PersistInspectionRecord(ctx context.Context, rec messages.PlantInspectionRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.PersistInspectionRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
