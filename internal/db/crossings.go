package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/zone"
)

// MaxRecentLimit caps RecentEvents.
const MaxRecentLimit = 1000

// Session describes one run of the counter.
type Session struct {
	ID       string
	Started  time.Time
	Source   string
	Corridor zone.Corridor
	Version  string
}

// StartSession records a new run and returns its ID. Events recorded through
// the returned ID are grouped under it.
func (db *DB) StartSession(ctx context.Context, s Session) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Started.IsZero() {
		s.Started = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_unix_nanos, source, left_line_x, right_line_x, version)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Started.UnixNano(), s.Source, s.Corridor.Left, s.Corridor.Right, s.Version,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return s.ID, nil
}

// RecordEvent stores one crossing or reset. Recording the same event ID twice
// is a no-op.
func (db *DB) RecordEvent(ctx context.Context, sessionID string, ev counter.Event) error {
	var session sql.NullString
	if sessionID != "" {
		session = sql.NullString{String: sessionID, Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO crossings
			(event_id, kind, at_unix_nanos, x, count_in, count_out, present, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Kind.String(), ev.At.UnixNano(), ev.X,
		int64(ev.In), int64(ev.Out), int64(ev.Present), session,
	)
	if err != nil {
		return fmt.Errorf("insert crossing %s: %w", ev.ID, err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]counter.Event, error) {
	if limit <= 0 || limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	rows, err := db.QueryContext(ctx,
		`SELECT event_id, kind, at_unix_nanos, x, count_in, count_out, present
		FROM crossings ORDER BY at_unix_nanos DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query crossings: %w", err)
	}
	defer rows.Close()

	events := []counter.Event{}
	for rows.Next() {
		var (
			ev            counter.Event
			kind          string
			atNanos       int64
			in, out, pres int64
		)
		if err := rows.Scan(&ev.ID, &kind, &atNanos, &ev.X, &in, &out, &pres); err != nil {
			return nil, fmt.Errorf("scan crossing: %w", err)
		}
		if err := ev.Kind.UnmarshalText([]byte(kind)); err != nil {
			return nil, fmt.Errorf("crossing %s: %w", ev.ID, err)
		}
		ev.At = time.Unix(0, atNanos).UTC()
		ev.In, ev.Out, ev.Present = uint64(in), uint64(out), uint64(pres)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// HourlyBucket counts crossings in one hour.
type HourlyBucket struct {
	Start time.Time `json:"start"`
	In    int64     `json:"in"`
	Out   int64     `json:"out"`
}

// HourlyCrossings groups crossings at or after since into UTC hours, oldest
// first. Hours without crossings are omitted.
func (db *DB) HourlyCrossings(ctx context.Context, since time.Time) ([]HourlyBucket, error) {
	const hourNanos = int64(time.Hour)
	rows, err := db.QueryContext(ctx,
		`SELECT (at_unix_nanos / ?) * ? AS bucket,
			SUM(CASE WHEN kind = 'in' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'out' THEN 1 ELSE 0 END)
		FROM crossings
		WHERE at_unix_nanos >= ? AND kind IN ('in', 'out')
		GROUP BY bucket ORDER BY bucket`,
		hourNanos, hourNanos, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query hourly crossings: %w", err)
	}
	defer rows.Close()

	var buckets []HourlyBucket
	for rows.Next() {
		var b HourlyBucket
		var start int64
		if err := rows.Scan(&start, &b.In, &b.Out); err != nil {
			return nil, fmt.Errorf("scan hourly crossings: %w", err)
		}
		b.Start = time.Unix(0, start).UTC()
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Totals returns the number of recorded in and out crossings.
func (db *DB) Totals(ctx context.Context) (in, out int64, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN kind = 'in' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'out' THEN 1 ELSE 0 END), 0)
		FROM crossings`).Scan(&in, &out)
	if err != nil {
		return 0, 0, fmt.Errorf("query crossing totals: %w", err)
	}
	return in, out, nil
}
