package messages

import (
	"fmt"
	"strings"
	"time"
)

// Environment record field names, also used as InfluxDB field keys and config values.
const (
	FieldPH               = "ph"
	FieldTDS              = "tds"
	FieldWaterTemperature = "water_temperature"
	FieldAirTemperature   = "air_temperature"
	FieldAirHumidity      = "air_humidity"
)

// EnvironmentFields lists every field in record order.
var EnvironmentFields = []string{FieldPH, FieldTDS, FieldWaterTemperature, FieldAirTemperature, FieldAirHumidity}

// EnvironmentRecord is one completed acquisition cycle.
type EnvironmentRecord struct {
	CycleID          string    `json:"cycle_id"`
	Timestamp        time.Time `json:"timestamp"`
	PH               *float64  `json:"ph,omitempty"`
	TDS              *float64  `json:"tds,omitempty"`
	WaterTemperature *float64  `json:"water_temperature,omitempty"`
	AirTemperature   *float64  `json:"air_temperature,omitempty"`
	AirHumidity      *float64  `json:"air_humidity,omitempty"`
}

// Values returns the populated fields keyed by field name.
func (r EnvironmentRecord) Values() map[string]float64 {
	out := make(map[string]float64, len(EnvironmentFields))
	for name, p := range map[string]*float64{
		FieldPH:               r.PH,
		FieldTDS:              r.TDS,
		FieldWaterTemperature: r.WaterTemperature,
		FieldAirTemperature:   r.AirTemperature,
		FieldAirHumidity:      r.AirHumidity,
	} {
		if p != nil {
			out[name] = *p
		}
	}
	return out
}

// Missing returns the required fields that are not populated, in the given order.
func (r EnvironmentRecord) Missing(required []string) []string {
	have := r.Values()
	var missing []string
	for _, f := range required {
		if _, ok := have[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// ValidateFieldNames rejects unknown names in a required-field list.
func ValidateFieldNames(names []string) error {
	known := strings.Join(EnvironmentFields, ",")
	for _, n := range names {
		ok := false
		for _, f := range EnvironmentFields {
			if n == f {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("unknown environment field %q (known: %s)", n, known)
		}
	}
	return nil
}
