package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndNilSafety(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Cycle("emitted")
	m.Cycle("emitted")
	m.SensorMessage("ph", "recorded")
	m.PlantSkipped()
	m.SetInspectionState(2)

	if got := testutil.ToFloat64(m.TelemetryCycles.WithLabelValues("emitted")); got != 2 {
		t.Fatalf("cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.PlantsSkipped); got != 1 {
		t.Fatalf("skipped = %v", got)
	}
	if got := testutil.ToFloat64(m.InspectionState); got != 2 {
		t.Fatalf("state = %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.Cycle("emitted")
	nilMetrics.NotificationWrite("forced")
	nilMetrics.SetInspectionState(1)
}
