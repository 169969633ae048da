package ops

import (
	"context"
	"time"
)

type ConnChecker interface {
	IsConnectionOpen() bool
}

// Pinger is satisfied by influxdb2.Client.
type Pinger interface {
	Ping(ctx context.Context) (bool, error)
}

type ErrorAger interface {
	LastErrorAge() time.Duration
}

// HealthStatus is the /healthz body.
type HealthStatus struct {
	Status          string  `json:"status"`
	MQTTEnabled     bool    `json:"mqtt_enabled"`
	MQTTConnected   bool    `json:"mqtt_connected"`
	InfluxOK        bool    `json:"influx_ok"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec"`
}

// HealthChecker derives ok/degraded/down from the broker link, the time-series
// backend and the age of the last failed write. A nil mqtt or influx means that
// dependency is not used by this deployment and does not count against health.
type HealthChecker struct {
	mqtt        ConnChecker
	influx      Pinger
	writer      ErrorAger
	minErrorAge time.Duration
	pingTimeout time.Duration
}

func NewHealthChecker(mqtt ConnChecker, influx Pinger, writer ErrorAger, minErrorAge time.Duration) *HealthChecker {
	if minErrorAge <= 0 {
		minErrorAge = 30 * time.Second
	}
	return &HealthChecker{mqtt: mqtt, influx: influx, writer: writer, minErrorAge: minErrorAge, pingTimeout: 2 * time.Second}
}

func (h *HealthChecker) MQTTConnected() bool {
	return h.mqtt != nil && h.mqtt.IsConnectionOpen()
}

func (h *HealthChecker) mqttOK() bool {
	return h.mqtt == nil || h.mqtt.IsConnectionOpen()
}

func (h *HealthChecker) influxOK(ctx context.Context) bool {
	if h.influx == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, h.pingTimeout)
	defer cancel()
	ok, err := h.influx.Ping(ctx)
	return err == nil && ok
}

func (h *HealthChecker) errorAge() time.Duration {
	if h.writer == nil {
		return 99999 * time.Hour
	}
	return h.writer.LastErrorAge()
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	age := h.errorAge()
	mqttOK := h.mqttOK()
	st := HealthStatus{
		MQTTEnabled:     h.mqtt != nil,
		MQTTConnected:   h.MQTTConnected(),
		InfluxOK:        h.influxOK(ctx),
		LastWriteErrorS: age.Seconds(),
	}
	switch {
	case mqttOK && st.InfluxOK && age > h.minErrorAge:
		st.Status = "ok"
	case mqttOK || st.InfluxOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st
}

// Ready requires every dependency in use and no recent write error.
func (h *HealthChecker) Ready(ctx context.Context) bool {
	return h.mqttOK() && h.influxOK(ctx) && h.errorAge() > h.minErrorAge
}
