package models

// Command is a remote or local instruction for the thermostat. The concrete
// variants below are the only implementations.
type Command interface {
	Action() string
}

// Command actions as they appear on the wire.
const (
	ActionSetPowerState           = "setPowerState"
	ActionTargetTemperature       = "targetTemperature"
	ActionAdjustTargetTemperature = "adjustTargetTemperature"
	ActionSetThermostatMode       = "setThermostatMode"
)

// PowerCommand switches the thermostat on or off.
type PowerCommand struct {
	On bool
}

func (PowerCommand) Action() string { return ActionSetPowerState }

// SetTemperatureCommand sets an absolute target temperature.
type SetTemperatureCommand struct {
	Temperature float64
}

func (SetTemperatureCommand) Action() string { return ActionTargetTemperature }

// AdjustTemperatureCommand moves the target by Delta. Dispatch rewrites Delta
// to the resulting absolute target, which is what the cloud expects back.
type AdjustTemperatureCommand struct {
	Delta float64
}

func (*AdjustTemperatureCommand) Action() string { return ActionAdjustTargetTemperature }

// ModeCommand selects a thermostat mode. It is acknowledged but has no effect.
type ModeCommand struct {
	Mode string
}

func (ModeCommand) Action() string { return ActionSetThermostatMode }

// Ack is the dispatcher's answer to a command.
type Ack struct {
	Accepted bool
	Value    any // value reported back to the sender, e.g. the new absolute target
}
