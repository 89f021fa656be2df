package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// SQL stores documents in a SQLite-dialect table.
type SQL struct {
	conn *sql.DB
}

// OpenLibSQL connects to a libSQL/Turso database. url may be a
// libsql://, https:// or file: URL; authToken is appended when set.
func OpenLibSQL(ctx context.Context, url, authToken string) (*SQL, error) {
	dsn := url
	if authToken != "" && !strings.Contains(dsn, "authToken=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "authToken=" + authToken
	}

	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql: %w", err)
	}
	store, err := NewSQL(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

// NewSQL wraps an open connection and ensures the documents table exists.
func NewSQL(ctx context.Context, conn *sql.DB) (*SQL, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn cannot be nil")
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping remote database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		full_data TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	)`
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}
	return &SQL{conn: conn}, nil
}

// Get implements DocumentStore.Get.
func (s *SQL) Get(ctx context.Context, path string) (*Document, error) {
	var (
		data      string
		version   int64
		updatedAt string
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT full_data, version, updated_at FROM documents WHERE path = ?`, path,
	).Scan(&data, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}

	ts, _ := time.Parse(time.RFC3339Nano, updatedAt)
	return &Document{
		Path:      path,
		FullData:  json.RawMessage(data),
		Version:   version,
		UpdatedAt: ts,
	}, nil
}

// SetMerge implements DocumentStore.SetMerge.
func (s *SQL) SetMerge(ctx context.Context, path string, fullData json.RawMessage) (int64, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx, `
		INSERT INTO documents (path, full_data, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			full_data = excluded.full_data,
			version = documents.version + 1,
			updated_at = excluded.updated_at
		RETURNING version`,
		path, string(fullData), time.Now().UTC().Format(time.RFC3339Nano),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to write document %s: %w", path, err)
	}
	return version, nil
}

// Close implements DocumentStore.Close.
func (s *SQL) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
