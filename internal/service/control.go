package service

import (
	"context"
	"fmt"

	"thermostat/internal/cloud"
	"thermostat/internal/models"
)

// ControlService submits local API commands to the control loop. Commands
// are dispatched by the loop goroutine exactly like cloud commands.
type ControlService struct {
	inbox    *cloud.Inbox
	deviceID string
}

func NewControlService(inbox *cloud.Inbox, deviceID string) *ControlService {
	return &ControlService{inbox: inbox, deviceID: deviceID}
}

func (s *ControlService) Submit(ctx context.Context, cmd models.Command) (models.Ack, error) {
	ack, err := s.inbox.Submit(ctx, s.deviceID, cmd)
	if err != nil {
		return models.Ack{}, fmt.Errorf("submit %s: %w", cmd.Action(), err)
	}
	return ack, nil
}
