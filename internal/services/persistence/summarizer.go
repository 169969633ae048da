package persistence

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

// Stats summarizes one field over the look-back window.
type Stats struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	Median float64
}

// ComputeStats returns zero Stats for an empty slice.
func ComputeStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return Stats{Count: n, Min: sorted[0], Max: sorted[n-1], Mean: sum / float64(n), Median: median}
}

var fieldLabels = map[string]struct {
	label string
	unit  string
}{
	messages.FieldPH:               {"pH", ""},
	messages.FieldTDS:              {"TDS", " ppm"},
	messages.FieldWaterTemperature: {"Water temperature", " °C"},
	messages.FieldAirTemperature:   {"Air temperature", " °C"},
	messages.FieldAirHumidity:      {"Humidity", " %"},
}

// FormatSummary renders per-field stats as report lines, in record field order.
func FormatSummary(stats map[string]Stats, lookback time.Duration) string {
	var b strings.Builder
	for _, f := range messages.EnvironmentFields {
		st, ok := stats[f]
		if !ok || st.Count == 0 {
			continue
		}
		fl := fieldLabels[f]
		fmt.Fprintf(&b, "- %s: avg %.1f%s (min %.1f, max %.1f, median %.1f)\n",
			fl.label, st.Mean, fl.unit, st.Min, st.Max, st.Median)
	}
	if b.Len() == 0 {
		return fmt.Sprintf("No sensor data recorded in the last %s.", humanDuration(lookback))
	}
	return fmt.Sprintf("Last %s:\n%s", humanDuration(lookback), strings.TrimRight(b.String(), "\n"))
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "hour"
		}
		return strconv.Itoa(h) + " hours"
	}
	return d.String()
}

func buildEnvironmentFlux(bucket, location string, lookback time.Duration) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %q and r.location == %q)
  |> filter(fn: (r) => r._field != "cycle_id")
  |> keep(columns: ["_time","_field","_value"])
`, bucket, int(lookback.Seconds()), measurementEnvironment, location)
}

// InfluxSummarizer builds the environment synthesis used in inspection reports.
type InfluxSummarizer struct {
	query    api.QueryAPI
	bucket   string
	location string
	lookback time.Duration
}

func NewInfluxSummarizer(query api.QueryAPI, bucket, location string, lookback time.Duration) *InfluxSummarizer {
	if lookback <= 0 {
		lookback = 4 * time.Hour
	}
	return &InfluxSummarizer{query: query, bucket: bucket, location: location, lookback: lookback}
}

func (s *InfluxSummarizer) SummarizeEnvironment(ctx context.Context) (string, error) {
	res, err := s.query.Query(ctx, buildEnvironmentFlux(s.bucket, s.location, s.lookback))
	if err != nil {
		return "", fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	values := map[string][]float64{}
	for res.Next() {
		rec := res.Record()
		if v, ok := toFloat(rec.Value()); ok {
			values[rec.Field()] = append(values[rec.Field()], v)
		}
	}
	if err := res.Err(); err != nil {
		return "", fmt.Errorf("influx iterate: %w", err)
	}

	stats := make(map[string]Stats, len(values))
	for f, vs := range values {
		stats[f] = ComputeStats(vs)
	}
	return FormatSummary(stats, s.lookback), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
