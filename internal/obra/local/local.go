// Package local provides the always-available key-value substrate that
// caches every snapshot on the device.
//
// The primary implementation is an embedded SQLite database (WAL mode,
// single kv table). Memory is a map-backed variant for tests.
//
// Keys:
//   - obraControl_projectKey            active project key pointer
//   - obraControl_data_<key>            cached snapshot for a project key
//   - obraControl_activeProject_<key>   active project id under a key
//   - obraControl_darkMode              display preference
package local

import (
	"context"
	"errors"
)

const (
	// ProjectKeyPointer stores the active project key.
	ProjectKeyPointer = "obraControl_projectKey"

	// DarkModeKey stores the display preference.
	DarkModeKey = "obraControl_darkMode"

	dataPrefix          = "obraControl_data_"
	activeProjectPrefix = "obraControl_activeProject_"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("local store is closed")

// DataKey returns the key caching the snapshot for projectKey.
func DataKey(projectKey string) string {
	return dataPrefix + projectKey
}

// ActiveProjectKey returns the key storing the active project under projectKey.
func ActiveProjectKey(projectKey string) string {
	return activeProjectPrefix + projectKey
}

// Store is a string key-value store.
type Store interface {
	// Get returns the value and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes a value, replacing any previous one.
	Set(ctx context.Context, key, value string) error

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}
