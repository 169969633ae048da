package entities

import (
	"fmt"
	"strings"
	"time"
)

// SensorKind identifies one of the physical probes on the greenhouse node.
type SensorKind string

const (
	KindPH  SensorKind = "ph"
	KindTDS SensorKind = "tds"
	KindAir SensorKind = "air" // DHT22 air temperature + humidity
)

// AllKinds is the default measurement rotation.
var AllKinds = []SensorKind{KindTDS, KindPH, KindAir}

// Command returns the text payload that asks the node to sample this kind.
func (k SensorKind) Command() string {
	switch k {
	case KindPH:
		return "MEASURE_PH"
	case KindTDS:
		return "MEASURE_TDS"
	case KindAir:
		return "MEASURE_DHT22"
	}
	return ""
}

// ParseSensorKind accepts both kind names and the measurement commands.
func ParseSensorKind(s string) (SensorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ph", "measure_ph":
		return KindPH, nil
	case "tds", "measure_tds":
		return KindTDS, nil
	case "air", "dht22", "measure_dht22":
		return KindAir, nil
	}
	return "", fmt.Errorf("unknown sensor kind %q", s)
}

// SensorReading is the latest value reported for one kind.
// For KindAir, Value holds the relative humidity and Temperature the air temperature.
type SensorReading struct {
	Kind        SensorKind `json:"kind"`
	Value       float64    `json:"value"`
	Temperature *float64   `json:"temperature,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
}
