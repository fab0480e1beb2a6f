package service

import (
	"context"
	"sync/atomic"
	"time"

	"thermostat/internal/logger"
	"thermostat/internal/models"
	"thermostat/internal/repository"
)

const (
	defaultJournalBuffer = 256
	journalPruneEvery    = time.Hour
	journalWriteTimeout  = 5 * time.Second
)

// Journal queues diagnostic events and writes them from its own goroutine,
// so the control loop never waits on the database.
type Journal struct {
	repo      repository.EventRepo
	ch        chan models.DeviceEvent
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time
	dropped   atomic.Int64
}

func NewJournal(repo repository.EventRepo, buffer int, retention time.Duration, log *logger.Logger) *Journal {
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Journal{
		repo:      repo,
		ch:        make(chan models.DeviceEvent, buffer),
		retention: retention,
		log:       log,
		now:       time.Now,
	}
}

// Record queues ev. When the queue is full the event is dropped and counted.
func (j *Journal) Record(ev models.DeviceEvent) {
	select {
	case j.ch <- ev:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.log.Warnw("journal full, events dropped", "dropped", n)
		}
	}
}

// Dropped reports how many events Record had to discard.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Run writes queued events until ctx is cancelled, then flushes what is
// already queued.
func (j *Journal) Run(ctx context.Context) {
	var prune <-chan time.Time
	if j.retention > 0 {
		t := time.NewTicker(journalPruneEvery)
		defer t.Stop()
		prune = t.C
		j.prune(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			j.flush()
			return
		case ev := <-j.ch:
			j.write(ctx, ev)
		case <-prune:
			j.prune(ctx)
		}
	}
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	for {
		select {
		case ev := <-j.ch:
			j.write(ctx, ev)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, ev models.DeviceEvent) {
	wctx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
	defer cancel()
	if err := j.repo.Append(wctx, ev); err != nil {
		j.log.Errorw("journal write failed", "type", ev.Type, "err", err)
	}
}

func (j *Journal) prune(ctx context.Context) {
	before := j.now().Add(-j.retention)
	n, err := j.repo.Prune(ctx, before)
	if err != nil {
		j.log.Warnw("journal prune failed", "err", err)
		return
	}
	if n > 0 {
		j.log.Infow("journal pruned", "removed", n, "before", before.UTC().Format(time.RFC3339))
	}
}
