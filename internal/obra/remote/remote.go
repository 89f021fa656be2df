// Package remote provides the best-effort document store that mirrors each
// project key's snapshot for other devices.
//
// Documents live at artifacts/<appID>/public/data/projects/<key> and carry a
// single payload field, fullData, plus a version that increases on every
// write. Writes merge: only fullData is replaced.
//
// Backends:
//   - SQL: libSQL/Turso (or any database/sql SQLite dialect)
//   - Mongo: MongoDB collection keyed by path
//   - Memory: in-process, for tests and offline demos
//
// Watch turns any backend into a subscription by polling, woken early by an
// optional Notifier (Redis pub/sub, or Memory itself).
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Namespace is the fixed root of every document path.
const Namespace = "artifacts"

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrPermission is returned when the backend rejects the caller.
	ErrPermission = errors.New("permission denied")
)

// DocPath returns the document path for a project key under an app id.
func DocPath(appID, key string) string {
	return fmt.Sprintf("%s/%s/public/data/projects/%s", Namespace, appID, key)
}

// Document is one stored document.
type Document struct {
	Path      string          `json:"path"`
	FullData  json.RawMessage `json:"fullData"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// DocumentStore reads and merge-writes documents.
type DocumentStore interface {
	// Get returns the document at path, or ErrNotFound.
	Get(ctx context.Context, path string) (*Document, error)

	// SetMerge replaces the fullData field, creating the document if needed.
	// It returns the new version.
	SetMerge(ctx context.Context, path string, fullData json.RawMessage) (int64, error)

	// Close releases resources.
	Close() error
}

// Notifier signals that a document changed.
type Notifier interface {
	// Notify announces a write to path.
	Notify(ctx context.Context, path string) error

	// Listen returns a channel that receives a value after writes to path.
	// The returned cancel func stops listening.
	Listen(ctx context.Context, path string) (<-chan struct{}, func(), error)
}
