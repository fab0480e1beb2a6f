package service

import (
	"fmt"
	"time"

	"thermostat/internal/logger"
	"thermostat/internal/models"

	"github.com/google/uuid"
)

// Recorder receives journal entries. Record must not block.
type Recorder interface {
	Record(ev models.DeviceEvent)
}

// Dispatcher applies commands to the device state. It runs on the loop
// goroutine only.
type Dispatcher struct {
	state   *models.DeviceState
	journal Recorder
	log     *logger.Logger
	now     func() time.Time
}

func NewDispatcher(state *models.DeviceState, journal Recorder, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{state: state, journal: journal, log: log, now: time.Now}
}

// Dispatch never fails for a known command. Target temperatures are taken as
// given, without range checks.
func (d *Dispatcher) Dispatch(cmd models.Command) models.Ack {
	var ack models.Ack
	meta := map[string]any{}

	switch c := cmd.(type) {
	case models.PowerCommand:
		d.state.PowerOn = c.On
		d.log.Infow("Thermostat turned "+onOff(c.On), "device_id", d.state.DeviceID)
		ack = models.Ack{Accepted: true, Value: c.On}
		meta["power_on"] = c.On

	case models.SetTemperatureCommand:
		d.state.TargetTemperature = c.Temperature
		d.log.Infow("Thermostat target temperature changed", "device_id", d.state.DeviceID, "target", c.Temperature)
		ack = models.Ack{Accepted: true, Value: c.Temperature}
		meta["target_temperature"] = c.Temperature

	case *models.AdjustTemperatureCommand:
		delta := c.Delta
		d.state.TargetTemperature += delta
		c.Delta = d.state.TargetTemperature
		d.log.Infow("Thermostat target temperature adjusted", "device_id", d.state.DeviceID, "delta", delta, "target", c.Delta)
		ack = models.Ack{Accepted: true, Value: c.Delta}
		meta["delta"] = delta
		meta["target_temperature"] = c.Delta

	case models.ModeCommand:
		d.log.Infow("Thermostat mode set", "device_id", d.state.DeviceID, "mode", c.Mode)
		ack = models.Ack{Accepted: true, Value: c.Mode}
		meta["mode"] = c.Mode

	default:
		d.log.Warnw("unsupported command", "device_id", d.state.DeviceID, "type", fmt.Sprintf("%T", cmd))
		return models.Ack{}
	}

	if d.journal != nil {
		d.journal.Record(models.DeviceEvent{
			EventID:     uuid.NewString(),
			OccurredAt:  d.now().UTC(),
			Type:        models.EventCommand,
			Description: cmd.Action(),
			Metadata:    meta,
		})
	}
	return ack
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
