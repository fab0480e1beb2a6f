package repository

import (
	"context"
	"database/sql"
	"time"

	"thermostat/internal/models"
)

// EventQuery selects journal entries. Zero fields do not filter.
type EventQuery struct {
	From  time.Time // inclusive
	To    time.Time // inclusive
	Types []string
	Limit int // keep only the newest Limit entries
}

// EventRepo stores the device's diagnostic journal. Device state itself is
// never persisted.
type EventRepo interface {
	Append(ctx context.Context, e models.DeviceEvent) error
	List(ctx context.Context, q EventQuery) ([]models.DeviceEvent, error)
	CountByType(ctx context.Context, from, to time.Time) (map[string]int, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type Repository struct {
	EventRepo EventRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		EventRepo: NewEventSQLite(db),
	}
}
