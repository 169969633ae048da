package telemetry

import (
	"sync"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
)

// ReadingStore keeps the latest reading per sensor kind. The MQTT delivery path only
// calls Record, the orchestrator only calls TakeAndClear.
type ReadingStore struct {
	mu     sync.Locker
	latest map[entities.SensorKind]entities.SensorReading
}

func NewReadingStore() *ReadingStore {
	return NewReadingStoreWithLocker(&sync.Mutex{})
}

func NewReadingStoreWithLocker(l sync.Locker) *ReadingStore {
	return &ReadingStore{mu: l, latest: make(map[entities.SensorKind]entities.SensorReading)}
}

// Record overwrites the current value for the reading's kind (last write wins).
func (s *ReadingStore) Record(r entities.SensorReading) {
	s.mu.Lock()
	s.latest[r.Kind] = r
	s.mu.Unlock()
}

// TakeAndClear returns the current value for kind, if any, and resets it to absent.
func (s *ReadingStore) TakeAndClear(kind entities.SensorKind) (entities.SensorReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.latest[kind]
	if ok {
		delete(s.latest, kind)
	}
	return r, ok
}

// size is the number of kinds currently holding a value.
func (s *ReadingStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latest)
}
