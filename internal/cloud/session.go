// Package cloud connects the thermostat to its device-shadow service.
//
// Network callbacks never touch device state. Inbound commands are queued on
// an Inbox and dispatched by Handle, which the control loop calls from its
// own goroutine.
package cloud

import (
	"context"
	"errors"

	"thermostat/internal/models"
)

var ErrNotConnected = errors.New("cloud session not connected")

// Handler applies commands addressed to one device.
type Handler interface {
	Dispatch(cmd models.Command) models.Ack
}

// Session is the device side of the cloud service.
type Session interface {
	// Register routes commands for deviceID to h. Call before Begin.
	Register(deviceID string, h Handler)
	// OnConnected and OnDisconnected callbacks run on network goroutines.
	OnConnected(fn func())
	OnDisconnected(fn func())
	// RestoreDeviceStates asks the service to replay the last known state on connect.
	RestoreDeviceStates(enabled bool)
	Begin(ctx context.Context, appKey, appSecret string) error
	// Handle dispatches queued commands on the caller's goroutine and
	// returns how many were processed.
	Handle(ctx context.Context) int
	SendTemperatureEvent(ctx context.Context, deviceID string, temperature, humidity float64) error
	Connected() bool
	Close(ctx context.Context) error
}
