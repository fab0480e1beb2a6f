package sensor

import (
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// Model selects the DHT frame layout and start-signal length.
type Model byte

const (
	DHT11 Model = iota + 1
	DHT22
)

func (m Model) String() string {
	switch m {
	case DHT11:
		return "DHT11"
	case DHT22:
		return "DHT22"
	default:
		return "unknown"
	}
}

const (
	// DHT sensors refuse to be polled faster than this; a read inside the
	// window returns the previous transaction.
	minReadInterval = 2 * time.Second

	frameBytes = 5
	framePulse = frameBytes * 8 * 2 // low+high pulse per bit

	maxPulseLoops = 10000 // spin count that counts as a timeout
	responseWait  = 5 * time.Millisecond
)

var (
	errNoResponse = errors.New("dht: sensor did not respond")
	errTimeout    = errors.New("dht: pulse timeout")
	errChecksum   = errors.New("dht: checksum mismatch")
)

// DHT drives a DHT11/DHT22 on a single GPIO pin. Both quantities come from
// one transaction, so ReadTemperature followed by ReadHumidity costs one read.
type DHT struct {
	pin   rpio.Pin
	model Model
	now   func() time.Time

	lastRead    time.Time
	temperature float64
	humidity    float64
	err         error
}

func NewDHT(pin int, model Model) *DHT {
	return &DHT{pin: rpio.Pin(pin), model: model, now: time.Now}
}

// Begin maps the GPIO registers and leaves the data line pulled high.
func (d *DHT) Begin() error {
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("open gpio: %w", err)
	}
	d.pin.Output()
	d.pin.High()
	return nil
}

func (d *DHT) ReadTemperature() float64 {
	d.refresh()
	if d.err != nil {
		return math.NaN()
	}
	return d.temperature
}

func (d *DHT) ReadHumidity() float64 {
	d.refresh()
	if d.err != nil {
		return math.NaN()
	}
	return d.humidity
}

func (d *DHT) refresh() {
	now := d.now()
	if !d.lastRead.IsZero() && now.Sub(d.lastRead) < minReadInterval {
		return
	}
	d.lastRead = now

	frame, err := d.transact()
	if err == nil {
		d.temperature, d.humidity, err = decodeFrame(d.model, frame)
	}
	d.err = err
}

func (d *DHT) startSignal() time.Duration {
	if d.model == DHT11 {
		return 20 * time.Millisecond
	}
	return 1100 * time.Microsecond
}

// transact runs one request/response exchange. Pulse widths are measured in
// spin-loop iterations, which is enough to tell a 26µs high from a 70µs one.
func (d *DHT) transact() ([frameBytes]byte, error) {
	pulses := make([]int, framePulse)

	// a GC pause mid-frame corrupts the timing
	defer pauseGC()()

	d.pin.Output()
	d.pin.Low()
	spin(d.startSignal())
	d.pin.High()
	d.pin.Input()
	d.pin.PullUp()
	defer d.pin.PullOff()

	// the sensor acknowledges with 80µs low then 80µs high
	deadline := time.Now().Add(responseWait)
	for d.pin.Read() == rpio.High {
		if time.Now().After(deadline) {
			return [frameBytes]byte{}, errNoResponse
		}
	}
	if _, ok := d.measure(rpio.Low); !ok {
		return [frameBytes]byte{}, errTimeout
	}
	if _, ok := d.measure(rpio.High); !ok {
		return [frameBytes]byte{}, errTimeout
	}

	for i := 0; i < framePulse; i += 2 {
		var ok bool
		if pulses[i], ok = d.measure(rpio.Low); !ok {
			return [frameBytes]byte{}, errTimeout
		}
		if pulses[i+1], ok = d.measure(rpio.High); !ok {
			return [frameBytes]byte{}, errTimeout
		}
	}
	return decodePulses(pulses)
}

func (d *DHT) measure(level rpio.State) (int, bool) {
	n := 0
	for d.pin.Read() == level {
		n++
		if n > maxPulseLoops {
			return n, false
		}
	}
	return n, true
}

// pauseGC disables the collector and returns a func restoring the previous
// GOGC setting.
func pauseGC() func() {
	old := debug.SetGCPercent(-1)
	return func() { debug.SetGCPercent(old) }
}

func spin(d time.Duration) {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
	}
}

// decodePulses turns 40 low/high pulse pairs into the 5-byte frame. Every bit
// starts with a ~50µs low; a high longer than that average is a 1.
func decodePulses(pulses []int) ([frameBytes]byte, error) {
	var frame [frameBytes]byte
	if len(pulses) != framePulse {
		return frame, fmt.Errorf("dht: expected %d pulses, got %d", framePulse, len(pulses))
	}

	threshold := 0
	for i := 0; i < framePulse; i += 2 {
		threshold += pulses[i]
	}
	threshold /= framePulse / 2

	for bit := 0; bit < frameBytes*8; bit++ {
		frame[bit/8] <<= 1
		if pulses[bit*2+1] > threshold {
			frame[bit/8] |= 0x01
		}
	}

	if !checksum(frame) {
		return frame, errChecksum
	}
	return frame, nil
}

func checksum(frame [frameBytes]byte) bool {
	var sum uint8
	for i := 0; i < 4; i++ {
		sum += frame[i]
	}
	return sum == frame[4]
}

// decodeFrame converts a checked frame into °C and % RH.
func decodeFrame(model Model, frame [frameBytes]byte) (float64, float64, error) {
	switch model {
	case DHT11:
		humidity := float64(frame[0]) + float64(frame[1])*0.1
		temperature := float64(frame[2]) + float64(frame[3]&0x0f)*0.1
		if frame[3]&0x80 != 0 {
			temperature = -temperature
		}
		return temperature, humidity, nil
	case DHT22:
		humidity := float64(uint16(frame[0])<<8|uint16(frame[1])) / 10
		temperature := float64(uint16(frame[2]&0x7f)<<8|uint16(frame[3])) / 10
		if frame[2]&0x80 != 0 {
			temperature = -temperature
		}
		return temperature, humidity, nil
	default:
		return math.NaN(), math.NaN(), fmt.Errorf("dht: unsupported model %d", model)
	}
}
