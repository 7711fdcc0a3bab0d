package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	agent       TEXT NOT NULL,
	task        TEXT NOT NULL,
	action      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER,
	flags       TEXT,
	domains     TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);
CREATE INDEX IF NOT EXISTS idx_audit_events_agent ON audit_events(agent);
`

// SQLiteStore keeps audit events in a SQLite database. Rows are never
// updated or deleted; write order is the autoincrement sequence.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) a SQLite audit database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: configure sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Log inserts one event. Timestamp is set if empty.
func (s *SQLiteStore) Log(event Event) error {
	if event.Timestamp == "" {
		event.Timestamp = FormatTimestamp(time.Now())
	}

	var duration sql.NullInt64
	if event.DurationMs != nil {
		duration = sql.NullInt64{Int64: *event.DurationMs, Valid: true}
	}
	flags, err := jsonColumn(event.Flags, len(event.Flags))
	if err != nil {
		return fmt.Errorf("audit: marshal flags: %w", err)
	}
	domains, err := jsonColumn(event.Domains, len(event.Domains))
	if err != nil {
		return fmt.Errorf("audit: marshal domains: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO audit_events (id, timestamp, agent, task, action, reason, duration_ms, flags, domains)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp, event.Agent, event.Task, string(event.Action),
		event.Reason, duration, flags, domains,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Query returns events matching the filter in write order.
func (s *SQLiteStore) Query(filter Filter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, filter.Agent)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, FormatTimestamp(filter.Since))
	}

	query := `SELECT id, timestamp, agent, task, action, reason, duration_ms, flags, domains
		FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			action   string
			duration sql.NullInt64
			flags    sql.NullString
			domains  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Agent, &e.Task, &action, &e.Reason, &duration, &flags, &domains); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Action = Action(action)
		if duration.Valid {
			d := duration.Int64
			e.DurationMs = &d
		}
		if flags.Valid && json.Unmarshal([]byte(flags.String), &e.Flags) != nil {
			continue // corrupt row
		}
		if domains.Valid && json.Unmarshal([]byte(domains.String), &e.Domains) != nil {
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: read events: %w", err)
	}
	return events, nil
}

// Export returns every event.
func (s *SQLiteStore) Export() ([]Event, error) {
	return s.Query(Filter{})
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func jsonColumn(v any, n int) (sql.NullString, error) {
	if n == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
