package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
)

// walk is a bounded random walk around a nominal value.
type walk struct {
	value, min, max, step float64
}

func (w *walk) next(r *rand.Rand) float64 {
	w.value += (r.Float64()*2 - 1) * w.step
	w.value = math.Max(w.min, math.Min(w.max, w.value))
	return w.value
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// DataGenerator keeps one random walk per physical quantity of the greenhouse node.
type DataGenerator struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	ph        walk
	tds       walk
	waterTemp walk
	airTemp   walk
	humidity  walk
}

func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rnd:       rand.New(rand.NewSource(seed)),
		ph:        walk{value: 6.4, min: 5.0, max: 8.0, step: 0.05},
		tds:       walk{value: 900, min: 500, max: 1400, step: 15},
		waterTemp: walk{value: 25, min: 20, max: 32, step: 0.2},
		airTemp:   walk{value: 29, min: 20, max: 40, step: 0.4},
		humidity:  walk{value: 70, min: 35, max: 95, step: 1},
	}
}

// Next returns a payload in the data-topic format for kind.
func (g *DataGenerator) Next(kind entities.SensorKind) (messages.SensorPayload, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f := func(v float64) *float64 { return &v }
	switch kind {
	case entities.KindPH:
		temp := round(g.waterTemp.next(g.rnd), 1)
		raw := g.ph.next(g.rnd)
		// the node compensates pH by about 0.003 per degree away from 25 °C
		comp := raw - 0.003*(temp-25)
		return messages.SensorPayload{Type: "ph", Value: f(round(raw, 2)), CompPH: f(round(comp, 2)), Temp: f(temp)}, true
	case entities.KindTDS:
		temp := round(g.waterTemp.next(g.rnd), 1)
		raw := g.tds.next(g.rnd)
		comp := raw / (1 + 0.02*(temp-25))
		return messages.SensorPayload{Type: "tds", Value: f(round(raw, 0)), CompTDS: f(round(comp, 0)), Temp: f(temp)}, true
	case entities.KindAir:
		return messages.SensorPayload{
			Temperature: f(round(g.airTemp.next(g.rnd), 1)),
			Humidity:    f(round(g.humidity.next(g.rnd), 1)),
		}, true
	}
	return messages.SensorPayload{}, false
}
