// Package history keeps changes pushed by the hub in a SQLite database, so
// that recent states of an object can be looked up after the fact.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bartekpacia/homehub/api"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Event is a recorded change of an object.
type Event struct {
	ObjectID string          `json:"object_id"`
	Type     api.ObjectType  `json:"type"`
	Status   string          `json:"status"`
	Fields   json.RawMessage `json:"fields"`
	At       time.Time       `json:"at"`
}

type Store struct {
	db        *sql.DB
	retention time.Duration
}

// Open opens or creates the database at path. Events older than retention
// are removed by [Store.Prune]. Zero retention keeps everything.
func Open(path string, retention time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Writes come from a single goroutine. One connection avoids
	// "database is locked" errors between readers and the writer.
	db.SetMaxOpenConns(1)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			object_id TEXT NOT NULL,
			type INTEGER NOT NULL,
			status TEXT NOT NULL,
			fields TEXT NOT NULL,
			at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_object_at ON events(object_id, at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_at ON events(at)`,
	}

	for _, query := range queries {
		_, err := db.Exec(query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	slog.Info("opened history database", slog.String("path", path), slog.Duration("retention", retention))

	return &Store{db: db, retention: retention}, nil
}

// Record stores the merged record of an object as of at.
func (s *Store) Record(ctx context.Context, id string, d api.Device, at time.Time) error {
	fields, err := json.Marshal(d.Base().Fields())
	if err != nil {
		return fmt.Errorf("marshal fields of %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (object_id, type, status, fields, at) VALUES (?, ?, ?, ?, ?)`,
		id, int(d.Base().Type), d.Base().Status, string(fields), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert event of %s: %w", id, err)
	}

	return nil
}

// Query returns up to limit most recent events of the object, newest first.
func (s *Store) Query(ctx context.Context, id string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_id, type, status, fields, at FROM events
		WHERE object_id = ? ORDER BY at DESC, id DESC LIMIT ?`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events of %s: %w", id, err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			e      Event
			typ    int
			fields string
			at     int64
		)

		err := rows.Scan(&e.ObjectID, &typ, &e.Status, &fields, &at)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Type = api.ObjectType(typ)
		e.Fields = json.RawMessage(fields)
		e.At = time.UnixMilli(at)
		events = append(events, e)
	}

	return events, rows.Err()
}

// Prune removes events older than the retention and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, now time.Time) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, now.Add(-s.retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}

	return res.RowsAffected()
}

// PruneEvery calls [Store.Prune] every interval until ctx is done.
func (s *Store) PruneEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			n, err := s.Prune(ctx, now)
			if err != nil {
				slog.Error("failed to prune history", slog.Any("error", err))
			} else if n > 0 {
				slog.Debug("pruned history", slog.Int64("events", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}
