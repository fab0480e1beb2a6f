package service

import (
	"context"
	"time"

	"thermostat/internal/cloud"
	"thermostat/internal/models"
	"thermostat/internal/repository"
)

type Authorization interface {
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (string, error)
}

// Thermostat accepts local commands and answers once the loop dispatched them.
type Thermostat interface {
	Submit(ctx context.Context, cmd models.Command) (models.Ack, error)
}

// Monitoring exposes read-only device state.
type Monitoring interface {
	GetState(ctx context.Context) (models.Snapshot, error)
}

// EventLog exposes the diagnostic journal with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.DeviceEvent, error)
	Summary(ctx context.Context, from, to time.Time) (LogSummary, error)
}

// Service aggregates what the local API needs.
type Service struct {
	Thermostat
	Monitoring
	EventLog
	Authorization
}

// NewService wires the repository layer, the loop snapshot and the command
// inbox into the services behind the local API.
func NewService(repos *repository.Repository, snapshots SnapshotSource, inbox *cloud.Inbox, deviceID string, staleAfter time.Duration, auth AuthConfig) *Service {
	return &Service{
		Thermostat:    NewControlService(inbox, deviceID),
		Monitoring:    NewMonitoringService(snapshots, staleAfter),
		EventLog:      NewEventLogService(repos.EventRepo),
		Authorization: NewAuthService(auth),
	}
}
