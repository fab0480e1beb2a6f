package service

import (
	"math"
	"time"
)

// ChangePolicy decides whether a reading differs from the last reported one.
// A zero Tolerance means exact equality: any difference at all is a change.
type ChangePolicy struct {
	Tolerance float64
}

// Unchanged reports whether both values are within tolerance of the previous
// pair. A change in either value is reported.
func (p ChangePolicy) Unchanged(prevTemp, prevHum, temp, hum float64) bool {
	if p.Tolerance <= 0 {
		return temp == prevTemp && hum == prevHum
	}
	return math.Abs(temp-prevTemp) <= p.Tolerance && math.Abs(hum-prevHum) <= p.Tolerance
}

// RetryPolicy spaces out attempts after a sampling cycle that did not report.
// A zero Initial retries on the next loop iteration.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait after the n-th consecutive unsuccessful attempt (n >= 1).
func (p RetryPolicy) Delay(n int) time.Duration {
	if p.Initial <= 0 || n <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.Initial) * math.Pow(mult, float64(n-1))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
