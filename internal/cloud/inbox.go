package cloud

import (
	"context"
	"errors"
	"sync/atomic"

	"thermostat/internal/models"
)

var ErrInboxFull = errors.New("command inbox full")

// Source tells Handle who sent a command and therefore who gets the answer.
type Source string

const (
	SourceCloud   Source = "cloud"
	SourceLocal   Source = "local"
	SourceRestore Source = "restore"
)

// Envelope is a queued command awaiting dispatch on the loop goroutine.
type Envelope struct {
	DeviceID  string
	RequestID string
	Source    Source
	Command   models.Command

	reply chan models.Ack
}

// Inbox hands commands from network goroutines to the loop goroutine.
// Producers never block; the consumer drains with Drain.
type Inbox struct {
	ch      chan Envelope
	dropped atomic.Int64
}

const DefaultInboxSize = 64

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{ch: make(chan Envelope, size)}
}

// Post enqueues env without waiting.
func (in *Inbox) Post(env Envelope) error {
	select {
	case in.ch <- env:
		return nil
	default:
		in.dropped.Add(1)
		return ErrInboxFull
	}
}

// Submit enqueues cmd and waits until the loop has dispatched it.
func (in *Inbox) Submit(ctx context.Context, deviceID string, cmd models.Command) (models.Ack, error) {
	reply := make(chan models.Ack, 1)
	env := Envelope{DeviceID: deviceID, Source: SourceLocal, Command: cmd, reply: reply}
	if err := in.Post(env); err != nil {
		return models.Ack{}, err
	}

	select {
	case ack := <-reply:
		return ack, nil
	case <-ctx.Done():
		return models.Ack{}, ctx.Err()
	}
}

// Drain dispatches at most the envelopes queued when it was called, so a busy
// producer cannot keep the loop from reaching its next tick.
func (in *Inbox) Drain(fn func(Envelope) models.Ack) int {
	n := len(in.ch)
	for i := 0; i < n; i++ {
		select {
		case env := <-in.ch:
			ack := fn(env)
			if env.reply != nil {
				env.reply <- ack
			}
		default:
			return i
		}
	}
	return n
}

// Dropped reports how many envelopes were refused because the inbox was full.
func (in *Inbox) Dropped() int64 {
	return in.dropped.Load()
}
