package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"thermostat/internal/models"
	"thermostat/internal/repository"
)

// ErrInvalidLogFilter is returned for filters the journal cannot answer.
var ErrInvalidLogFilter = errors.New("invalid log filter")

type EventLogService struct {
	eventRepo repository.EventRepo
}

func NewEventLogService(eventRepo repository.EventRepo) *EventLogService {
	return &EventLogService{eventRepo: eventRepo}
}

// List returns journal entries matching f, oldest first.
func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.DeviceEvent, error) {
	q, err := buildQuery(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, q)
}

// Summary counts entries per type in [from, to]. Every known type is present
// in the result, with zero when nothing was journaled.
func (s *EventLogService) Summary(ctx context.Context, from, to time.Time) (LogSummary, error) {
	q, err := buildQuery(LogFilter{From: from, To: to})
	if err != nil {
		return LogSummary{}, err
	}
	counts, err := s.eventRepo.CountByType(ctx, q.From, q.To)
	if err != nil {
		return LogSummary{}, err
	}

	sum := LogSummary{Counts: make(map[string]int, len(models.EventTypes))}
	for _, typ := range models.EventTypes {
		sum.Counts[typ] = 0
	}
	for typ, n := range counts {
		sum.Counts[typ] = n
		sum.Total += n
	}
	if !q.From.IsZero() {
		sum.From = &q.From
	}
	if !q.To.IsZero() {
		sum.To = &q.To
	}
	return sum, nil
}

// buildQuery normalizes f to UTC and upper-case types and validates it.
func buildQuery(f LogFilter) (repository.EventQuery, error) {
	q := repository.EventQuery{
		From:  normalizeToUTC(f.From),
		To:    normalizeToUTC(f.To),
		Limit: f.Limit,
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return repository.EventQuery{}, fmt.Errorf("%w: from must be <= to", ErrInvalidLogFilter)
	}
	if q.Limit < 0 || q.Limit > MaxLogLimit {
		return repository.EventQuery{}, fmt.Errorf("%w: limit must be between 0 and %d", ErrInvalidLogFilter, MaxLogLimit)
	}

	for _, t := range f.Types {
		typ := normalizeEventType(t)
		if typ == "" {
			continue
		}
		if !slices.Contains(models.EventTypes, typ) {
			return repository.EventQuery{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidLogFilter, t)
		}
		if !slices.Contains(q.Types, typ) {
			q.Types = append(q.Types, typ)
		}
	}
	return q, nil
}

func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}
