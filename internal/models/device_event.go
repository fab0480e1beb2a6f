package models

import "time"

// Journal event types.
const (
	EventBoot         = "BOOT"
	EventCommand      = "COMMAND"
	EventTelemetry    = "TELEMETRY"
	EventSensorError  = "SENSOR_ERROR"
	EventSendError    = "SEND_ERROR"
	EventConnected    = "CONNECTED"
	EventDisconnected = "DISCONNECTED"

	EventSensorRecovered = "SENSOR_RECOVERED"
)

// EventTypes lists every journal event type.
var EventTypes = []string{
	EventBoot,
	EventCommand,
	EventTelemetry,
	EventSensorError,
	EventSensorRecovered,
	EventSendError,
	EventConnected,
	EventDisconnected,
}

// DeviceEvent is a single diagnostic journal entry.
type DeviceEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // one of EventTypes
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
