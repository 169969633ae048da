package sensor_simulator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/pkg/broker"
	"github.com/LeonardoBeccarini/smartfarm/pkg/dedup"
)

// SensorSimulator answers MEASURE_* commands like the greenhouse node would.
type SensorSimulator struct {
	publisher broker.IPublisher
	generator *DataGenerator
	deduper   *dedup.Deduper
	delay     time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	pending map[entities.SensorKind]*time.Timer
}

func NewSensorSimulator(publisher broker.IPublisher, gen *DataGenerator, delay time.Duration, log *logger.Logger) *SensorSimulator {
	return &SensorSimulator{
		publisher: publisher,
		generator: gen,
		deduper:   dedup.New(2*time.Minute, 1000),
		delay:     delay,
		log:       log.Named("simulator"),
		pending:   make(map[entities.SensorKind]*time.Timer),
	}
}

// HandleCommand is the command-topic handler. Unknown commands (e.g. reboot) are ignored.
func (s *SensorSimulator) HandleCommand(_ string, msg mqtt.Message) error {
	fresh := s.deduper.ShouldProcess(dedup.PayloadKey(msg.Payload()))
	if !fresh && msg.Duplicate() {
		return nil
	}
	cmd := strings.TrimSpace(string(msg.Payload()))
	if !strings.HasPrefix(strings.ToUpper(cmd), "MEASURE_") {
		s.log.Debugw("ignoring command", "cmd", cmd)
		return nil
	}
	kind, err := entities.ParseSensorKind(cmd)
	if err != nil {
		return err
	}
	s.schedule(kind)
	return nil
}

// schedule replaces any pending answer for the same kind.
func (s *SensorSimulator) schedule(kind entities.SensorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[kind]; ok {
		t.Stop()
	}
	s.pending[kind] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.pending, kind)
		s.mu.Unlock()
		if err := s.Respond(kind); err != nil {
			s.log.Warnw("publish error", "kind", kind, "err", err)
		}
	})
}

// Respond publishes one reading for kind immediately.
func (s *SensorSimulator) Respond(kind entities.SensorKind) error {
	p, ok := s.generator.Next(kind)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.log.Infow("publishing reading", "kind", kind, "payload", string(payload))
	return s.publisher.PublishMessage(payload)
}

// Run blocks until ctx is done, then cancels pending answers.
func (s *SensorSimulator) Run(ctx context.Context) {
	<-ctx.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.pending {
		t.Stop()
		delete(s.pending, k)
	}
}
