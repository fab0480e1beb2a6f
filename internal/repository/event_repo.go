package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"thermostat/internal/models"

	"github.com/google/uuid"
)

// SQLite TIMESTAMP text format used for both stored values and range filters.
const sqliteTimeLayout = "2006-01-02 15:04:05"

const eventColumns = `id, occurred_at, type, message, meta`

// EventSQLite is the journal table in the device's SQLite file.
type EventSQLite struct {
	db *sql.DB
}

func NewEventSQLite(db *sql.DB) *EventSQLite { return &EventSQLite{db: db} }

// Append inserts e, filling in a missing id or timestamp. Metadata that cannot
// be encoded is dropped rather than failing the write.
func (r *EventSQLite) Append(ctx context.Context, e models.DeviceEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	var meta sql.NullString
	if e.Metadata != nil {
		if b, err := json.Marshal(e.Metadata); err == nil {
			meta = sql.NullString{String: string(b), Valid: true}
		}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?)`,
		e.EventID,
		at.UTC().Format(sqliteTimeLayout),
		normalizeType(e.Type),
		e.Description,
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", normalizeType(e.Type), err)
	}
	return nil
}

// List returns the entries selected by q, oldest first. With a Limit the
// newest entries win.
func (r *EventSQLite) List(ctx context.Context, q EventQuery) ([]models.DeviceEvent, error) {
	where, args := eventFilter(q.From, q.To, q.Types)

	stmt := `SELECT ` + eventColumns + ` FROM device_events` + where
	if q.Limit > 0 {
		stmt += ` ORDER BY occurred_at DESC LIMIT ?`
		args = append(args, q.Limit)
	} else {
		stmt += ` ORDER BY occurred_at ASC`
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []models.DeviceEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if q.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

// CountByType returns how many entries of each type fall in [from, to].
// Types without entries are absent from the map.
func (r *EventSQLite) CountByType(ctx context.Context, from, to time.Time) (map[string]int, error) {
	where, args := eventFilter(from, to, nil)
	rows, err := r.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM device_events`+where+` GROUP BY type`, args...)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return counts, nil
}

// Prune deletes events older than before and returns how many were removed.
func (r *EventSQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM device_events WHERE occurred_at < ?`,
		before.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func eventFilter(from, to time.Time, types []string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, from.UTC().Format(sqliteTimeLayout))
	}
	if !to.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, to.UTC().Format(sqliteTimeLayout))
	}
	if len(types) > 0 {
		marks := make([]string, len(types))
		for i, t := range types {
			marks[i] = "?"
			args = append(args, normalizeType(t))
		}
		conds = append(conds, "type IN ("+strings.Join(marks, ", ")+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEvent(rows *sql.Rows) (models.DeviceEvent, error) {
	var (
		ev   models.DeviceEvent
		meta sql.NullString
	)
	if err := rows.Scan(&ev.EventID, &ev.OccurredAt, &ev.Type, &ev.Description, &meta); err != nil {
		return models.DeviceEvent{}, fmt.Errorf("scan event: %w", err)
	}
	ev.OccurredAt = ev.OccurredAt.UTC()

	if meta.Valid && meta.String != "" {
		var v any
		if err := json.Unmarshal([]byte(meta.String), &v); err == nil {
			ev.Metadata = v
		} else {
			ev.Metadata = meta.String // keep raw if malformed
		}
	}
	return ev, nil
}

func normalizeType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
