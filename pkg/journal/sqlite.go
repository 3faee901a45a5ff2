// Package journal keeps a local record of endpoint mutations so operators
// can see what changed and what was rolled back.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"ardupilot-manager/pkg/model"
)

const schema = `CREATE TABLE IF NOT EXISTS endpoint_ops(
	id TEXT PRIMARY KEY,
	op TEXT NOT NULL,
	endpoint TEXT,
	result TEXT NOT NULL,
	detail TEXT,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_endpoint_ops_ts ON endpoint_ops(ts);`

// SQLite is a journal backed by a single sqlite file.
type SQLite struct {
	db *sql.DB
}

// Open creates the database and schema if needed.
func Open(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Record appends an entry. ID and Timestamp are filled in when empty.
func (s *SQLite) Record(ctx context.Context, e model.JournalEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.Timestamp), ulid.DefaultEntropy()).String()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO endpoint_ops(id, op, endpoint, result, detail, ts) VALUES(?,?,?,?,?,?)`,
		e.ID, e.Op, e.Endpoint, e.Result, e.Detail, e.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("record journal entry: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *SQLite) List(ctx context.Context, limit int) ([]model.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, op, endpoint, result, detail, ts FROM endpoint_ops ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()
	var out []model.JournalEntry
	for rows.Next() {
		var (
			e                model.JournalEntry
			endpoint, detail sql.NullString
			ts               int64
		)
		if err := rows.Scan(&e.ID, &e.Op, &endpoint, &e.Result, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		e.Endpoint = endpoint.String
		e.Detail = detail.String
		e.Timestamp = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune drops entries older than the cutoff.
func (s *SQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM endpoint_ops WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
