// Package bootstrap brings the device up in a fixed order: sensor, network,
// command handlers, cloud session. Each step blocks until it is done.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"thermostat/internal/cloud"
	"thermostat/internal/logger"
	"thermostat/internal/models"
	"thermostat/internal/network"
)

// SensorStarter is satisfied by sensor.Reader.
type SensorStarter interface {
	Begin() error
}

// Recorder is satisfied by service.Journal.
type Recorder interface {
	Record(ev models.DeviceEvent)
}

type Config struct {
	DeviceID            string
	SSID                string
	AppKey              string
	AppSecret           string
	RestoreDeviceStates bool
	Network             network.Backoff
}

type Deps struct {
	Sensor  SensorStarter
	Link    network.Link
	Session cloud.Session
	Handler cloud.Handler
	Journal Recorder
	Log     *logger.Logger
}

// Run executes the bootstrap sequence. If the network never comes up it
// returns an error wrapping network.ErrNetworkUnavailable before any handler
// is registered.
func Run(ctx context.Context, cfg Config, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	record := func(typ, desc string, meta map[string]any) {
		if d.Journal == nil {
			return
		}
		d.Journal.Record(models.DeviceEvent{
			EventID:     uuid.NewString(),
			OccurredAt:  time.Now().UTC(),
			Type:        typ,
			Description: desc,
			Metadata:    meta,
		})
	}

	if err := d.Sensor.Begin(); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	log.Infow("sensor ready")

	log.Infow("[Wifi]: Connecting", "ssid", cfg.SSID)
	st, err := network.WaitReady(ctx, d.Link, cfg.Network, log)
	if err != nil {
		return fmt.Errorf("wifi: %w", err)
	}
	log.Infow("[WiFi]: connected", "interface", st.Interface, "ip", st.IP.String())

	d.Session.Register(cfg.DeviceID, d.Handler)
	d.Session.OnConnected(func() {
		log.Infow("Connected to cloud", "device_id", cfg.DeviceID)
		record(models.EventConnected, "connected to cloud", nil)
	})
	d.Session.OnDisconnected(func() {
		log.Warnw("Disconnected from cloud", "device_id", cfg.DeviceID)
		record(models.EventDisconnected, "disconnected from cloud", nil)
	})
	d.Session.RestoreDeviceStates(cfg.RestoreDeviceStates)

	if err := d.Session.Begin(ctx, cfg.AppKey, cfg.AppSecret); err != nil {
		return fmt.Errorf("cloud: %w", err)
	}

	record(models.EventBoot, "bootstrap complete", map[string]any{
		"device_id":      cfg.DeviceID,
		"ip":             st.IP.String(),
		"restore_states": cfg.RestoreDeviceStates,
	})
	log.Infow("bootstrap complete", "device_id", cfg.DeviceID)
	return nil
}
