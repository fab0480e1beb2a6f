package models

import "time"

// DeviceState is the thermostat's process-lifetime state. There is exactly one
// instance, owned by the control loop and passed by pointer to the dispatcher
// and the reporter. It is never persisted; the cloud shadow restores power and
// target temperature after a restart.
type DeviceState struct {
	DeviceID string

	PowerOn           bool    // written by PowerCommand only
	TargetTemperature float64 // written by set/adjust temperature commands

	// Written by the reporter after a successful telemetry send only.
	LastReportedTemperature float64
	LastReportedHumidity    float64
	LastReportAt            time.Time
	Reported                bool
}

// Snapshot copies the state for readers outside the loop goroutine.
func (s *DeviceState) Snapshot(connected bool, now time.Time) Snapshot {
	snap := Snapshot{
		DeviceID:          s.DeviceID,
		PowerOn:           s.PowerOn,
		TargetTemperature: s.TargetTemperature,
		Connected:         connected,
		UpdatedAt:         now.UTC(),
	}
	if s.Reported {
		t, h := s.LastReportedTemperature, s.LastReportedHumidity
		at := s.LastReportAt.UTC()
		snap.Temperature = &t
		snap.Humidity = &h
		snap.LastReportAt = &at
	}
	return snap
}

// Snapshot is an immutable view of DeviceState served by the local API.
type Snapshot struct {
	DeviceID          string     `json:"device_id"`
	PowerOn           bool       `json:"power_on"`
	TargetTemperature float64    `json:"target_temperature"`
	Temperature       *float64   `json:"temperature,omitempty"` // last reported °C
	Humidity          *float64   `json:"humidity,omitempty"`    // last reported %
	LastReportAt      *time.Time `json:"last_report_at,omitempty"`
	Connected         bool       `json:"connected"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
