// Package runlog keeps an audit row per processing run in a Postgres
// database that may live apart from the application database.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"
)

// Entry is one finished processing run.
type Entry struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	MeetingID    string    `json:"meeting_id"`
	UserID       string    `json:"user_id"`
	Mode         string    `json:"mode"`
	Outcome      string    `json:"outcome"`
	Status       string    `json:"status"`
	Warnings     []string  `json:"warnings,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	TraceID      string    `json:"trace_id,omitempty"`
	Hostname     string    `json:"hostname,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recorder stores run entries.
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
}

// Noop discards entries.
type Noop struct{}

// Record implements Recorder.
func (Noop) Record(context.Context, *Entry) error { return nil }

const schema = `
CREATE TABLE IF NOT EXISTS digest_runs (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	meeting_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	mode          TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	status        TEXT NOT NULL,
	warnings      TEXT[] NOT NULL DEFAULT '{}',
	error_message TEXT,
	duration_ms   BIGINT NOT NULL,
	trace_id      TEXT,
	hostname      TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS digest_runs_meeting_idx ON digest_runs (meeting_id, created_at DESC);
`

// Client writes and reads the run log.
type Client struct {
	db *sql.DB
}

// Open connects to the run log database described by dsn.
func Open(dsn string) (*Client, error) {
	if dsn == "" {
		return nil, fmt.Errorf("run log not configured")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Configure connection pool.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Client{db: db}, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// EnsureSchema creates the run log table if it is missing.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating run log schema: %w", err)
	}
	return nil
}

// Record implements Recorder.
func (c *Client) Record(ctx context.Context, entry *Entry) error {
	e := prepare(entry)

	query := `
		INSERT INTO digest_runs
			(run_id, meeting_id, user_id, mode, outcome, status, warnings,
			 error_message, duration_ms, trace_id, hostname)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := c.db.QueryRowContext(ctx, query,
		e.RunID,
		e.MeetingID,
		e.UserID,
		e.Mode,
		e.Outcome,
		e.Status,
		pq.Array(e.Warnings),
		nullIfEmpty(e.ErrorMessage),
		e.DurationMs,
		nullIfEmpty(e.TraceID),
		nullIfEmpty(e.Hostname),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// History returns the most recent runs of a meeting, newest first.
func (c *Client) History(ctx context.Context, meetingID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, run_id, meeting_id, user_id, mode, outcome, status, warnings,
		       error_message, duration_ms, trace_id, hostname, created_at
		FROM digest_runs
		WHERE meeting_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := c.db.QueryContext(ctx, query, meetingID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errorMsg, traceID, hostname sql.NullString

		err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.MeetingID,
			&e.UserID,
			&e.Mode,
			&e.Outcome,
			&e.Status,
			pq.Array(&e.Warnings),
			&errorMsg,
			&e.DurationMs,
			&traceID,
			&hostname,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		e.ErrorMessage = errorMsg.String
		e.TraceID = traceID.String
		e.Hostname = hostname.String
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return entries, nil
}

// prepare fills defaults and truncates free text before an insert.
func prepare(entry *Entry) Entry {
	e := *entry
	if e.Hostname == "" {
		e.Hostname, _ = os.Hostname()
	}
	if e.Warnings == nil {
		e.Warnings = []string{}
	}
	e.ErrorMessage = truncate(e.ErrorMessage, 500)
	return e
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// nullIfEmpty returns nil if s is empty, otherwise returns s.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
