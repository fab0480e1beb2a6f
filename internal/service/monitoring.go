package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"thermostat/internal/models"
)

// StaleSnapshotAfter is the floor for how old the loop snapshot may get
// before the state is reported as unavailable.
const StaleSnapshotAfter = 5 * time.Second

// StaleThreshold is the snapshot age that means the loop is wedged rather
// than busy. One iteration may block on a command response, a shadow publish
// and a telemetry publish, each bounded by sendTimeout.
func StaleThreshold(sendTimeout time.Duration) time.Duration {
	if sendTimeout < 0 {
		sendTimeout = 0
	}
	return 3*sendTimeout + StaleSnapshotAfter
}

// ErrStaleSnapshot is returned when the control loop stopped publishing.
var ErrStaleSnapshot = errors.New("device state is stale")

// SnapshotSource is satisfied by *Loop.
type SnapshotSource interface {
	Snapshot() models.Snapshot
}

type MonitoringService struct {
	source     SnapshotSource
	staleAfter time.Duration
	now        func() time.Time
}

// NewMonitoringService reports snapshots older than staleAfter as stale; a
// non-positive value means StaleSnapshotAfter.
func NewMonitoringService(source SnapshotSource, staleAfter time.Duration) *MonitoringService {
	if staleAfter <= 0 {
		staleAfter = StaleSnapshotAfter
	}
	return &MonitoringService{source: source, staleAfter: staleAfter, now: time.Now}
}

// GetState returns the snapshot published by the last loop iteration.
func (s *MonitoringService) GetState(ctx context.Context) (models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, err
	}
	snap := s.source.Snapshot()
	if age := s.now().Sub(snap.UpdatedAt); age > s.staleAfter {
		return models.Snapshot{}, fmt.Errorf("%w: last update %s ago", ErrStaleSnapshot, age.Round(time.Millisecond))
	}
	return snap, nil
}
