package models

import "time"

// Sample is one sensor reading. It lives for a single reporter tick.
type Sample struct {
	Temperature float64   `json:"temperature"` // °C
	Humidity    float64   `json:"humidity"`    // % RH
	TakenAt     time.Time `json:"taken_at"`
}
