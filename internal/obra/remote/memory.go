package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Memory is an in-process DocumentStore that also acts as its own Notifier.
type Memory struct {
	mu        sync.Mutex
	docs      map[string]*Document
	listeners map[string]map[chan struct{}]struct{}

	getErr error
	setErr error
	writes int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:      make(map[string]*Document),
		listeners: make(map[string]map[chan struct{}]struct{}),
	}
}

// FailGets makes subsequent Get calls return err (nil restores normal behavior).
func (m *Memory) FailGets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// FailSets makes subsequent SetMerge calls return err (nil restores normal behavior).
func (m *Memory) FailSets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

// Writes returns the number of successful SetMerge calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Get implements DocumentStore.Get.
func (m *Memory) Get(_ context.Context, path string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	cp.FullData = append(json.RawMessage(nil), doc.FullData...)
	return &cp, nil
}

// SetMerge implements DocumentStore.SetMerge.
func (m *Memory) SetMerge(ctx context.Context, path string, fullData json.RawMessage) (int64, error) {
	m.mu.Lock()
	if m.setErr != nil {
		err := m.setErr
		m.mu.Unlock()
		return 0, err
	}
	doc, ok := m.docs[path]
	if !ok {
		doc = &Document{Path: path}
		m.docs[path] = doc
	}
	doc.FullData = append(json.RawMessage(nil), fullData...)
	doc.Version++
	doc.UpdatedAt = time.Now().UTC()
	version := doc.Version
	m.writes++
	m.mu.Unlock()

	_ = m.Notify(ctx, path)
	return version, nil
}

// Notify implements Notifier.Notify.
func (m *Memory) Notify(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.listeners[path] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Listen implements Notifier.Listen.
func (m *Memory) Listen(_ context.Context, path string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	if m.listeners[path] == nil {
		m.listeners[path] = make(map[chan struct{}]struct{})
	}
	m.listeners[path][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners[path], ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Close implements DocumentStore.Close.
func (m *Memory) Close() error {
	return nil
}
