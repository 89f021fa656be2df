package gateway

import (
	"sync"

	"github.com/mschirtzinger/obracontrol/internal/metrics"
)

// Status is the user-visible sync state.
//
// Transitions: offline -> syncing -> synced | error, and synced | error ->
// syncing on every save or key change. Any state drops to offline when no
// identity is available.
type Status string

const (
	StatusOffline Status = "offline"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// AllStatuses lists every status.
var AllStatuses = []Status{StatusOffline, StatusSyncing, StatusSynced, StatusError}

// Label returns the Spanish display label.
func (s Status) Label() string {
	switch s {
	case StatusOffline:
		return "Sin conexión"
	case StatusSyncing:
		return "Sincronizando"
	case StatusSynced:
		return "Sincronizado"
	case StatusError:
		return "Error de sincronización"
	default:
		return string(s)
	}
}

// StatusTracker holds the current status and notifies listeners on change.
type StatusTracker struct {
	mu        sync.Mutex
	current   Status
	listeners map[int]func(Status)
	nextID    int
	metrics   *metrics.Metrics
}

// NewStatusTracker starts in StatusOffline.
func NewStatusTracker(m *metrics.Metrics) *StatusTracker {
	t := &StatusTracker{
		current:   StatusOffline,
		listeners: make(map[int]func(Status)),
		metrics:   m,
	}
	t.metrics.SetStatus(string(StatusOffline), statusNames())
	return t
}

// Current returns the current status.
func (t *StatusTracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Set changes the status and notifies listeners if it differs.
func (t *StatusTracker) Set(s Status) {
	t.mu.Lock()
	if t.current == s {
		t.mu.Unlock()
		return
	}
	t.current = s
	listeners := make([]func(Status), 0, len(t.listeners))
	for _, fn := range t.listeners {
		listeners = append(listeners, fn)
	}
	t.mu.Unlock()

	t.metrics.SetStatus(string(s), statusNames())
	for _, fn := range listeners {
		fn(s)
	}
}

// OnStatus registers fn for status changes. The returned func unregisters it.
func (t *StatusTracker) OnStatus(fn func(Status)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

func statusNames() []string {
	out := make([]string, len(AllStatuses))
	for i, s := range AllStatuses {
		out[i] = string(s)
	}
	return out
}
