package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/metrics"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
	"github.com/LeonardoBeccarini/smartfarm/pkg/dedup"
)

var errMissingValue = errors.New("missing value")

func firstOf(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// DecodePayload turns a data-topic message into a reading.
// Temperature-compensated values (comp_ph, comp_tds) take precedence over raw ones.
func DecodePayload(payload []byte, receivedAt time.Time) (entities.SensorReading, error) {
	var p messages.SensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return entities.SensorReading{}, fmt.Errorf("invalid sensor payload: %w", err)
	}

	r := entities.SensorReading{ReceivedAt: receivedAt}
	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "ph":
		v := firstOf(p.CompPH, p.PH, p.Value)
		if v == nil {
			return r, fmt.Errorf("ph payload: %w", errMissingValue)
		}
		if *v < 0 || *v > 14 {
			return r, fmt.Errorf("ph %.2f out of range", *v)
		}
		r.Kind, r.Value, r.Temperature = entities.KindPH, *v, p.Temp
	case "tds":
		v := firstOf(p.CompTDS, p.TDS, p.Value)
		if v == nil {
			return r, fmt.Errorf("tds payload: %w", errMissingValue)
		}
		if *v < 0 {
			return r, fmt.Errorf("tds %.2f out of range", *v)
		}
		r.Kind, r.Value, r.Temperature = entities.KindTDS, *v, p.Temp
	case "", "dht22", "air":
		if p.Temperature == nil || p.Humidity == nil {
			return r, fmt.Errorf("air payload: %w", errMissingValue)
		}
		if *p.Humidity < 0 || *p.Humidity > 100 {
			return r, fmt.Errorf("humidity %.1f out of range", *p.Humidity)
		}
		r.Kind, r.Value, r.Temperature = entities.KindAir, *p.Humidity, p.Temperature
	default:
		return r, fmt.Errorf("unknown payload type %q", p.Type)
	}
	return r, nil
}

// Ingestor is the data-topic handler feeding the ReadingStore.
type Ingestor struct {
	store   *ReadingStore
	deduper *dedup.Deduper
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewIngestor(store *ReadingStore, deduper *dedup.Deduper, log *logger.Logger, m *metrics.Metrics) *Ingestor {
	return &Ingestor{store: store, deduper: deduper, log: log.Named("ingest"), metrics: m, now: time.Now}
}

// Handle never returns an error for bad payloads: they are logged and dropped.
func (i *Ingestor) Handle(topic string, msg mqtt.Message) error {
	payload := msg.Payload()
	fresh := i.deduper.ShouldProcess(dedup.PayloadKey(payload))
	if !fresh && msg.Duplicate() {
		i.metrics.SensorMessage("unknown", "duplicate")
		return nil
	}

	r, err := DecodePayload(payload, i.now())
	if err != nil {
		i.log.Warnw("dropping malformed sensor message", "topic", topic, "payload", string(payload), "err", err)
		i.metrics.SensorMessage("unknown", "malformed")
		return nil
	}
	i.store.Record(r)
	i.metrics.SensorMessage(string(r.Kind), "recorded")
	i.log.Debugw("reading recorded", "kind", r.Kind, "value", r.Value)
	return nil
}
