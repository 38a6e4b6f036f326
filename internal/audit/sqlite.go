package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/2keychains/2kc/internal/brokererr"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts TEXT NOT NULL,
    trace_id TEXT NOT NULL,
    request_id TEXT NOT NULL,
    event TEXT NOT NULL,
    details TEXT,
    error_message TEXT
);`

// SQLiteSink is the durable Sink backed by a single-table pure-Go SQLite
// database, using the same open/pragma/migrate sequence as the rest of this
// codebase's SQLite-backed stores but trimmed to the one table this trail
// needs.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (creating if absent) the database at path and ensures the
// audit_log table exists.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.ServerError, "opening audit database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, brokererr.Wrap(brokererr.ServerError, "setting audit database pragma", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, brokererr.Wrap(brokererr.ServerError, "creating audit_log table", err)
	}

	return &SQLiteSink{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) Write(ctx context.Context, event Event) error {
	ts := event.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, trace_id, request_id, event, details, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ts, event.TraceID, event.RequestID, event.EventName, nullableText(event.Details), nullableText(event.ErrorMessage))
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

func (s *SQLiteSink) ListByRequest(ctx context.Context, requestID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, request_id, event, details, error_message
		FROM audit_log
		WHERE request_id = ?
		ORDER BY id ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query audit log by request: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteSink) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, request_id, event, details, error_message
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit log: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var details, errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.TraceID, &e.RequestID, &e.EventName, &details, &errMsg); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Details = details.String
		e.ErrorMessage = errMsg.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return events, nil
}

func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
