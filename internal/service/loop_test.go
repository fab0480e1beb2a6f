package service

import (
	"context"
	"testing"
	"time"

	"thermostat/internal/cloud"
	"thermostat/internal/models"
)

// inboxPump drains a real inbox through a dispatcher, like the cloud session.
type inboxPump struct {
	inbox      *cloud.Inbox
	dispatcher *Dispatcher
	connected  bool
	handled    int
}

func (p *inboxPump) Handle(context.Context) int {
	n := p.inbox.Drain(func(env cloud.Envelope) models.Ack {
		return p.dispatcher.Dispatch(env.Command)
	})
	p.handled += n
	return n
}

func (p *inboxPump) Connected() bool { return p.connected }

func newTestLoop(t *testing.T) (*Loop, *inboxPump, *models.DeviceState, *senderStub) {
	t.Helper()
	state := &models.DeviceState{DeviceID: "d1"}
	pump := &inboxPump{inbox: cloud.NewInbox(8), dispatcher: NewDispatcher(state, nil, nil), connected: true}
	sender := &senderStub{}
	reporter := NewReporter(ReporterConfig{Interval: time.Minute}, state,
		&sampleStub{samples: []models.Sample{reading(21, 40)}}, sender, nil, nil)
	return NewLoop(pump, reporter, state, nil), pump, state, sender
}

func TestLoop_StepHandlesThenTicksThenPublishes(t *testing.T) {
	t.Parallel()

	loop, pump, _, sender := newTestLoop(t)
	if err := pump.inbox.Post(cloud.Envelope{DeviceID: "d1", Command: models.PowerCommand{On: true}}); err != nil {
		t.Fatalf("post: %v", err)
	}

	if out := loop.Step(context.Background()); out != OutcomeReported {
		t.Fatalf("expected first step to report, got %v", out)
	}
	if pump.handled != 1 || sender.calls != 1 {
		t.Fatalf("expected one command and one send, got handled=%d sends=%d", pump.handled, sender.calls)
	}

	snap := loop.Snapshot()
	if !snap.PowerOn || !snap.Connected || snap.Temperature == nil || *snap.Temperature != 21 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestLoop_SnapshotAvailableBeforeFirstStep(t *testing.T) {
	t.Parallel()

	loop, _, _, _ := newTestLoop(t)
	snap := loop.Snapshot()
	if snap.DeviceID != "d1" || snap.Temperature != nil {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
}

func TestLoop_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	loop, _, state, _ := newTestLoop(t)
	loop.Step(context.Background())
	snap := loop.Snapshot()

	state.TargetTemperature = 30
	if loop.Snapshot().TargetTemperature != snap.TargetTemperature {
		t.Fatal("snapshot must not change until the next step")
	}
}

func TestLoop_RunDispatchesLocalSubmitAndStops(t *testing.T) {
	t.Parallel()

	loop, pump, _, _ := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx, time.Millisecond)
		close(done)
	}()

	control := NewControlService(pump.inbox, "d1")
	submitCtx, submitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer submitCancel()
	ack, err := control.Submit(submitCtx, models.SetTemperatureCommand{Temperature: 23})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !ack.Accepted || ack.Value != 23.0 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	deadline := time.Now().Add(2 * time.Second)
	for loop.Snapshot().TargetTemperature != 23 {
		if time.Now().After(deadline) {
			t.Fatal("snapshot never reflected the submitted command")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}
