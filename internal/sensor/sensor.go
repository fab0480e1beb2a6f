// Package sensor samples ambient temperature and humidity.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"thermostat/internal/logger"
	"thermostat/internal/models"
)

// ErrInvalidReading is returned when the driver reports NaN for either quantity
// (disconnected sensor, checksum failure or a timing violation on the wire).
var ErrInvalidReading = errors.New("invalid sensor reading")

// Driver is a temperature/humidity sensor. Reads are synchronous and report
// failure as NaN.
type Driver interface {
	Begin() error
	ReadTemperature() float64 // °C
	ReadHumidity() float64    // % RH
}

// Reader produces Samples from a Driver.
type Reader struct {
	driver Driver
	ready  bool
	log    *logger.Logger
	now    func() time.Time
}

func NewReader(driver Driver, log *logger.Logger) *Reader {
	if log == nil {
		log = logger.Nop()
	}
	return &Reader{driver: driver, log: log, now: time.Now}
}

// Begin initialises the driver. A driver that fails to start is never read;
// samples keep failing with ErrInvalidReading.
func (r *Reader) Begin() error {
	if err := r.driver.Begin(); err != nil {
		r.log.Errorw("sensor init failed", "err", err)
		return fmt.Errorf("sensor init: %w", err)
	}
	r.ready = true
	return nil
}

// Sample reads temperature then humidity. There is no retry; a failed sample
// is dropped and the caller tries again on its next tick.
func (r *Reader) Sample() (models.Sample, error) {
	if !r.ready {
		return models.Sample{}, fmt.Errorf("%w: sensor not initialised", ErrInvalidReading)
	}
	t := r.driver.ReadTemperature()
	h := r.driver.ReadHumidity()
	if math.IsNaN(t) || math.IsNaN(h) {
		return models.Sample{}, fmt.Errorf("%w: temperature=%v humidity=%v", ErrInvalidReading, t, h)
	}
	return models.Sample{Temperature: t, Humidity: h, TakenAt: r.now()}, nil
}

// Open returns the driver for a configured model name.
func Open(model string, pin int) (Driver, error) {
	switch strings.ToUpper(strings.TrimSpace(model)) {
	case "DHT11":
		return NewDHT(pin, DHT11), nil
	case "DHT22":
		return NewDHT(pin, DHT22), nil
	case "FAKE":
		return NewSimulated(DefaultSimulatedTemperature, DefaultSimulatedHumidity), nil
	default:
		return nil, fmt.Errorf("unknown sensor model %q", model)
	}
}
