package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"thermostat/internal/models"
)

var (
	ErrMalformedCommand = errors.New("malformed command")
	ErrUnknownAction    = errors.New("unknown action")
)

// EventCurrentTemperature is the action name of telemetry events.
const EventCurrentTemperature = "currentTemperature"

// Request is a decoded command message.
type Request struct {
	RequestID string
	Command   models.Command
}

type commandMessage struct {
	RequestID string          `json:"request_id"`
	Action    string          `json:"action"`
	Value     json.RawMessage `json:"value"`
}

type powerValue struct {
	State string `json:"state"`
}

type temperatureValue struct {
	Temperature *float64 `json:"temperature"`
}

type modeValue struct {
	ThermostatMode string `json:"thermostatMode"`
}

// DecodeCommand parses {"request_id","action","value"} into a typed command.
func DecodeCommand(payload []byte) (Request, error) {
	var msg commandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}

	cmd, err := decodeValue(msg.Action, msg.Value)
	if err != nil {
		return Request{RequestID: msg.RequestID}, err
	}
	return Request{RequestID: msg.RequestID, Command: cmd}, nil
}

func decodeValue(action string, raw json.RawMessage) (models.Command, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s without value", ErrMalformedCommand, action)
	}

	switch action {
	case models.ActionSetPowerState:
		var v powerValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
		}
		switch {
		case strings.EqualFold(v.State, "on"):
			return models.PowerCommand{On: true}, nil
		case strings.EqualFold(v.State, "off"):
			return models.PowerCommand{On: false}, nil
		default:
			return nil, fmt.Errorf("%w: power state %q", ErrMalformedCommand, v.State)
		}

	case models.ActionTargetTemperature, models.ActionAdjustTargetTemperature:
		var v temperatureValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
		}
		if v.Temperature == nil {
			return nil, fmt.Errorf("%w: %s without temperature", ErrMalformedCommand, action)
		}
		if action == models.ActionTargetTemperature {
			return models.SetTemperatureCommand{Temperature: *v.Temperature}, nil
		}
		return &models.AdjustTemperatureCommand{Delta: *v.Temperature}, nil

	case models.ActionSetThermostatMode:
		var v modeValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
		}
		if v.ThermostatMode == "" {
			return nil, fmt.Errorf("%w: empty thermostat mode", ErrMalformedCommand)
		}
		return models.ModeCommand{Mode: v.ThermostatMode}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

type responseMessage struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Value     any    `json:"value,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EncodeResponse answers a dispatched command. cmd is read after dispatch, so
// an adjust command reports the new absolute target.
func EncodeResponse(requestID string, cmd models.Command, ack models.Ack) ([]byte, error) {
	return json.Marshal(responseMessage{
		RequestID: requestID,
		Action:    cmd.Action(),
		Success:   ack.Accepted,
		Value:     CommandValue(cmd),
	})
}

// EncodeRejection answers a message that could not be decoded.
func EncodeRejection(requestID, action string, cause error) ([]byte, error) {
	return json.Marshal(responseMessage{
		RequestID: requestID,
		Action:    action,
		Success:   false,
		Error:     cause.Error(),
	})
}

// CommandValue renders the wire value of cmd.
func CommandValue(cmd models.Command) any {
	switch c := cmd.(type) {
	case models.PowerCommand:
		return powerValue{State: powerState(c.On)}
	case models.SetTemperatureCommand:
		return temperatureValue{Temperature: &c.Temperature}
	case *models.AdjustTemperatureCommand:
		return temperatureValue{Temperature: &c.Delta}
	case models.ModeCommand:
		return modeValue{ThermostatMode: c.Mode}
	}
	return nil
}

func powerState(on bool) string {
	if on {
		return "On"
	}
	return "Off"
}

type readingValue struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

type eventMessage struct {
	Action    string       `json:"action"`
	Value     readingValue `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
}

// EncodeTemperatureEvent builds the telemetry message.
func EncodeTemperatureEvent(temperature, humidity float64, at time.Time) ([]byte, error) {
	return json.Marshal(eventMessage{
		Action:    EventCurrentTemperature,
		Value:     readingValue{Temperature: temperature, Humidity: humidity},
		Timestamp: at.UTC(),
	})
}

// Shadow is the retained desired/reported state of a device. Nil fields are
// unknown.
type Shadow struct {
	PowerState        *string  `json:"powerState,omitempty"`
	TargetTemperature *float64 `json:"targetTemperature,omitempty"`
}

// Apply folds an accepted command into the shadow. It reports whether the
// shadow changed.
func (s *Shadow) Apply(cmd models.Command) bool {
	switch c := cmd.(type) {
	case models.PowerCommand:
		state := powerState(c.On)
		if s.PowerState != nil && *s.PowerState == state {
			return false
		}
		s.PowerState = &state
		return true
	case models.SetTemperatureCommand:
		return s.setTarget(c.Temperature)
	case *models.AdjustTemperatureCommand:
		return s.setTarget(c.Delta)
	}
	return false
}

func (s *Shadow) setTarget(t float64) bool {
	if s.TargetTemperature != nil && *s.TargetTemperature == t {
		return false
	}
	s.TargetTemperature = &t
	return true
}

// Commands converts a restored shadow into the commands that reproduce it.
func (s Shadow) Commands() []models.Command {
	var cmds []models.Command
	if s.PowerState != nil {
		cmds = append(cmds, models.PowerCommand{On: strings.EqualFold(*s.PowerState, "on")})
	}
	if s.TargetTemperature != nil {
		cmds = append(cmds, models.SetTemperatureCommand{Temperature: *s.TargetTemperature})
	}
	return cmds
}

func DecodeShadow(payload []byte) (Shadow, error) {
	var s Shadow
	if err := json.Unmarshal(payload, &s); err != nil {
		return Shadow{}, fmt.Errorf("decode shadow: %w", err)
	}
	return s, nil
}
