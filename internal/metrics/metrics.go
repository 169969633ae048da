package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the daemon exports. A nil *Metrics is a valid no-op.
type Metrics struct {
	TelemetryCycles    *prometheus.CounterVec
	SensorMessages     *prometheus.CounterVec
	InspectionRuns     *prometheus.CounterVec
	PlantsInspected    *prometheus.CounterVec
	PlantsSkipped      prometheus.Counter
	NotificationWrites *prometheus.CounterVec
	InspectionState    prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TelemetryCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Name:      "telemetry_cycles_total",
			Help:      "Acquisition cycles by result (emitted, incomplete, transport_error).",
		}, []string{"result"}),
		SensorMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Name:      "sensor_messages_total",
			Help:      "Messages received on the data topic by kind and result.",
		}, []string{"kind", "result"}),
		InspectionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Name:      "inspection_runs_total",
			Help:      "Inspection runs by trigger and result.",
		}, []string{"trigger", "result"}),
		PlantsInspected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Name:      "plants_inspected_total",
			Help:      "Inspected plants by coarse condition.",
		}, []string{"condition"}),
		PlantsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Name:      "plants_skipped_total",
			Help:      "Plants skipped because no image could be captured.",
		}),
		NotificationWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartfarm",
			Name:      "notification_writes_total",
			Help:      "Notification slot writes by outcome (written, forced, failed).",
		}, []string{"outcome"}),
		InspectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartfarm",
			Name:      "inspection_state",
			Help:      "Current inspection state (0 idle, 1 waking, 2 per-plant, 3 reporting, 4 returning, 5 shutting down).",
		}),
	}
	reg.MustRegister(
		m.TelemetryCycles,
		m.SensorMessages,
		m.InspectionRuns,
		m.PlantsInspected,
		m.PlantsSkipped,
		m.NotificationWrites,
		m.InspectionState,
	)
	return m
}

func (m *Metrics) Cycle(result string) {
	if m == nil {
		return
	}
	m.TelemetryCycles.WithLabelValues(result).Inc()
}

func (m *Metrics) SensorMessage(kind, result string) {
	if m == nil {
		return
	}
	m.SensorMessages.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) InspectionRun(trigger, result string) {
	if m == nil {
		return
	}
	m.InspectionRuns.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) PlantInspected(condition string) {
	if m == nil {
		return
	}
	m.PlantsInspected.WithLabelValues(condition).Inc()
}

func (m *Metrics) PlantSkipped() {
	if m == nil {
		return
	}
	m.PlantsSkipped.Inc()
}

func (m *Metrics) NotificationWrite(outcome string) {
	if m == nil {
		return
	}
	m.NotificationWrites.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetInspectionState(v int) {
	if m == nil {
		return
	}
	m.InspectionState.Set(float64(v))
}
