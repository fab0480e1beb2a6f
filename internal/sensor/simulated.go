package sensor

import "math"

// Readings served when no GPIO is available.
const (
	DefaultSimulatedTemperature = 20.0
	DefaultSimulatedHumidity    = 50.0
)

// Simulated is a Driver returning fixed values. Setting Fail makes both reads
// return NaN, which is how a disconnected sensor looks to the reader.
type Simulated struct {
	Temperature float64
	Humidity    float64
	Fail        bool
}

func NewSimulated(temperature, humidity float64) *Simulated {
	return &Simulated{Temperature: temperature, Humidity: humidity}
}

func (s *Simulated) Begin() error { return nil }

func (s *Simulated) ReadTemperature() float64 {
	if s.Fail {
		return math.NaN()
	}
	return s.Temperature
}

func (s *Simulated) ReadHumidity() float64 {
	if s.Fail {
		return math.NaN()
	}
	return s.Humidity
}
