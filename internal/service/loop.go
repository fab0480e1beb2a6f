package service

import (
	"context"
	"sync/atomic"
	"time"

	"thermostat/internal/logger"
	"thermostat/internal/models"
)

// DefaultPumpInterval paces the control loop.
const DefaultPumpInterval = 50 * time.Millisecond

// Pump is the inbound side of the cloud session.
type Pump interface {
	Handle(ctx context.Context) int
	Connected() bool
}

// Loop is the single goroutine that owns the device state. Each iteration
// handles queued commands, runs a reporter tick and publishes a snapshot.
type Loop struct {
	pump     Pump
	reporter *Reporter
	state    *models.DeviceState
	log      *logger.Logger
	now      func() time.Time

	snapshot atomic.Pointer[models.Snapshot]
}

func NewLoop(pump Pump, reporter *Reporter, state *models.DeviceState, log *logger.Logger) *Loop {
	if log == nil {
		log = logger.Nop()
	}
	l := &Loop{pump: pump, reporter: reporter, state: state, log: log, now: time.Now}
	l.publish(l.now())
	return l
}

// Run iterates every tick until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = DefaultPumpInterval
	}
	l.log.Infow("control loop started", "device_id", l.state.DeviceID, "pump_interval", tick.String())

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		l.Step(ctx)
		select {
		case <-ctx.Done():
			l.log.Infow("control loop stopped", "device_id", l.state.DeviceID)
			return
		case <-t.C:
		}
	}
}

// Step runs one iteration.
func (l *Loop) Step(ctx context.Context) Outcome {
	l.pump.Handle(ctx)
	now := l.now()
	out := l.reporter.Tick(ctx, now)
	l.publish(now)
	return out
}

// Snapshot returns the state as of the last iteration. Safe for any goroutine.
func (l *Loop) Snapshot() models.Snapshot {
	return *l.snapshot.Load()
}

func (l *Loop) publish(now time.Time) {
	snap := l.state.Snapshot(l.pump.Connected(), now)
	l.snapshot.Store(&snap)
}
