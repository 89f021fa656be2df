// Package gateway persists snapshots local-first and mirrors them to the
// remote document store.
//
// Every save writes the local substrate synchronously, then merge-writes the
// remote document in the background. A remote subscription feeds newer
// remote snapshots back to the caller, overwriting the local cache: the last
// remote write wins. Remote failures never roll back local state; they only
// move the sync status to error.
package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mschirtzinger/obracontrol/internal/metrics"
	"github.com/mschirtzinger/obracontrol/internal/obra/local"
	"github.com/mschirtzinger/obracontrol/internal/obra/remote"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/session"
)

var (
	// ErrRemoteRead is returned through onError when a subscription fails.
	ErrRemoteRead = errors.New("remote read failed")

	// ErrRemoteWrite is reported in SaveResult when a remote write fails.
	ErrRemoteWrite = errors.New("remote write failed")
)

// DefaultAppID is the deployment identifier in remote document paths.
const DefaultAppID = "obra-control-prod"

// Config holds gateway configuration.
type Config struct {
	// AppID scopes remote document paths.
	AppID string

	// PollInterval is how often subscriptions re-read the remote document.
	PollInterval time.Duration

	// WriteTimeout bounds each background remote write.
	WriteTimeout time.Duration

	// StaleWriteGuard skips a remote write when a newer save for the same
	// key has already been written, and ignores remote snapshots that echo
	// one of this process's own replaced saves.
	StaleWriteGuard bool

	// Seed returns the dataset for keys with no local data.
	Seed func() schema.Snapshot

	// Notifier announces remote writes to other processes. Optional.
	Notifier remote.Notifier

	// Metrics records save outcomes. Optional.
	Metrics *metrics.Metrics

	// Logger for gateway activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AppID:           DefaultAppID,
		PollInterval:    remote.DefaultPollInterval,
		WriteTimeout:    30 * time.Second,
		StaleWriteGuard: true,
		Seed:            schema.Seed,
		Logger:          log.New(os.Stderr, "[gateway] ", log.LstdFlags),
	}
}

// SaveResult is the outcome of the background part of a save.
type SaveResult struct {
	Key string
	Seq uint64

	// Remote is true when the remote document was written.
	Remote bool

	// Skipped is true when no remote write was attempted (no remote store
	// or no identity).
	Skipped bool

	// Superseded is true when a newer save for the key was already written.
	Superseded bool

	// Err wraps ErrRemoteWrite on failure.
	Err error
}

// Unsubscribe stops a subscription and waits for its goroutine to exit.
type Unsubscribe func()

// Gateway coordinates local and remote persistence.
type Gateway struct {
	local   local.Store
	remote  remote.DocumentStore
	session *session.Session
	config  *Config
	status  *StatusTracker

	mu        sync.Mutex
	activeKey string
	issued    map[string]uint64
	written   map[string]uint64

	// sent maps the digest of every payload written to the remote document
	// to its save sequence, per key, so the watcher can recognize echoes of
	// writes this process has already replaced.
	sent map[string]map[[sha256.Size]byte]uint64

	// writeMu serializes remote writes so sequence checks are meaningful.
	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a gateway with default configuration. remoteStore may be nil
// for local-only operation.
func New(localStore local.Store, remoteStore remote.DocumentStore, sess *session.Session) (*Gateway, error) {
	return NewWithConfig(localStore, remoteStore, sess, DefaultConfig())
}

// NewWithConfig creates a gateway with custom configuration.
func NewWithConfig(localStore local.Store, remoteStore remote.DocumentStore, sess *session.Session, config *Config) (*Gateway, error) {
	if localStore == nil {
		return nil, fmt.Errorf("local store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.AppID == "" {
		config.AppID = defaults.AppID
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Seed == nil {
		config.Seed = defaults.Seed
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if sess == nil {
		sess = session.New(&session.Config{Logger: config.Logger})
	}

	return &Gateway{
		local:   localStore,
		remote:  remoteStore,
		session: sess,
		config:  config,
		status:  NewStatusTracker(config.Metrics),
		issued:  make(map[string]uint64),
		written: make(map[string]uint64),
		sent:    make(map[string]map[[sha256.Size]byte]uint64),
	}, nil
}

// Status returns the current sync status.
func (g *Gateway) Status() Status {
	return g.status.Current()
}

// OnStatus registers fn for status changes.
func (g *Gateway) OnStatus(fn func(Status)) func() {
	return g.status.OnStatus(fn)
}

// RemoteEnabled reports whether a remote store is configured.
func (g *Gateway) RemoteEnabled() bool {
	return g.remote != nil
}

// LoadInitial returns the locally cached snapshot for key, or the seed
// dataset when the key has never been saved on this device. A corrupt cache
// entry is logged and treated as absent.
func (g *Gateway) LoadInitial(ctx context.Context, key string) (schema.Snapshot, error) {
	raw, ok, err := g.local.Get(ctx, local.DataKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read local cache: %w", err)
	}
	if !ok {
		return g.config.Seed(), nil
	}
	snap, err := decodeSnapshot([]byte(raw))
	if err != nil {
		g.config.Logger.Printf("Warning: discarding unreadable cache for %s: %v", key, err)
		return g.config.Seed(), nil
	}
	return snap, nil
}

// Save writes snap to the local substrate for key, then writes the remote
// document in the background. The returned error covers only the local
// write. The channel receives exactly one SaveResult and is then closed.
func (g *Gateway) Save(ctx context.Context, key string, snap schema.Snapshot) (<-chan SaveResult, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := g.local.Set(ctx, local.DataKey(key), string(data)); err != nil {
		return nil, fmt.Errorf("failed to write local cache: %w", err)
	}
	g.config.Metrics.ObserveSave("local")

	seq := g.nextSeq(key)
	out := make(chan SaveResult, 1)

	if g.remote == nil {
		g.setStatusFor(key, StatusOffline)
		g.config.Metrics.ObserveSave("skipped")
		out <- SaveResult{Key: key, Seq: seq, Skipped: true}
		close(out)
		return out, nil
	}

	g.setStatusFor(key, StatusSyncing)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.config.WriteTimeout)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer close(out)
		defer cancel()
		out <- g.writeRemote(writeCtx, key, seq, data)
	}()
	return out, nil
}

// Wait blocks until in-flight remote writes finish or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) writeRemote(ctx context.Context, key string, seq uint64, data []byte) SaveResult {
	result := SaveResult{Key: key, Seq: seq}

	if _, err := g.session.Ensure(ctx); err != nil {
		g.setStatusFor(key, StatusOffline)
		g.config.Metrics.ObserveSave("skipped")
		result.Skipped = true
		return result
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if g.config.StaleWriteGuard && g.superseded(key, seq) {
		g.config.Metrics.ObserveSave("superseded")
		result.Superseded = true
		return result
	}

	path := remote.DocPath(g.config.AppID, key)
	g.recordSent(key, seq, data)
	start := time.Now()
	_, err := g.remote.SetMerge(ctx, path, data)
	g.config.Metrics.ObserveRemoteWrite(time.Since(start))
	if err != nil {
		g.config.Logger.Printf("Remote write for %s failed: %v", key, err)
		g.config.Metrics.ObserveSave("remote_error")
		g.setStatusFor(key, StatusError)
		result.Err = fmt.Errorf("%w: %w", ErrRemoteWrite, err)
		return result
	}

	g.markWritten(key, seq)
	g.notify(ctx, path)
	g.config.Metrics.ObserveSave("remote_ok")
	g.setStatusFor(key, StatusSynced)
	result.Remote = true
	return result
}

// SubscribeRemote watches the remote document for key. onSnapshot receives
// each newer remote snapshot after it has been written to the local cache.
// A missing document is seeded from the local snapshot. onError receives a
// failure wrapping ErrRemoteRead, after which the subscription has ended.
//
// The returned channel is closed once the first remote state has been
// handled (including its onSnapshot call), or as soon as the subscription
// ends without one.
//
// Without a remote store or an identity the subscription is a no-op and the
// status is offline. Callbacks run on the subscription goroutine.
func (g *Gateway) SubscribeRemote(ctx context.Context, key string, onSnapshot func(schema.Snapshot), onError func(error)) (Unsubscribe, <-chan struct{}) {
	g.mu.Lock()
	g.activeKey = key
	g.mu.Unlock()

	ready := make(chan struct{})
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(ready) }) }

	if g.remote == nil {
		g.status.Set(StatusOffline)
		markReady()
		return func() {}, ready
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer markReady()

		if _, err := g.session.Ensure(subCtx); err != nil {
			g.setStatusFor(key, StatusOffline)
			return
		}
		g.setStatusFor(key, StatusSyncing)

		path := remote.DocPath(g.config.AppID, key)
		watchConfig := remote.WatchConfig{
			PollInterval: g.config.PollInterval,
			Notifier:     g.config.Notifier,
			Logger:       g.config.Logger,
		}
		err := remote.Watch(subCtx, g.remote, path, watchConfig, func(ev remote.Event) {
			g.handleRemote(subCtx, key, path, ev, onSnapshot)
			markReady()
		})
		if err == nil || subCtx.Err() != nil {
			return
		}

		g.config.Logger.Printf("Subscription for %s failed: %v", key, err)
		g.setStatusFor(key, StatusError)
		if onError != nil {
			onError(fmt.Errorf("%w: %w", ErrRemoteRead, err))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, ready
}

func (g *Gateway) handleRemote(ctx context.Context, key, path string, ev remote.Event, onSnapshot func(schema.Snapshot)) {
	if !ev.Exists() || isEmptyPayload(ev.Doc.FullData) {
		g.seedRemote(ctx, key, path)
		return
	}

	snap, err := decodeSnapshot(ev.Doc.FullData)
	if err != nil {
		g.config.Logger.Printf("Warning: ignoring unreadable remote snapshot for %s: %v", key, err)
		g.setStatusFor(key, StatusError)
		return
	}

	cached, ok, err := g.local.Get(ctx, local.DataKey(key))
	if err == nil && ok && bytes.Equal([]byte(cached), ev.Doc.FullData) {
		g.setStatusFor(key, StatusSynced)
		return
	}
	if g.config.StaleWriteGuard && g.isStaleEcho(key, ev.Doc.FullData) {
		g.config.Logger.Printf("Ignoring echo of an older save for %s", key)
		return
	}

	if err := g.local.Set(ctx, local.DataKey(key), string(ev.Doc.FullData)); err != nil {
		g.config.Logger.Printf("Warning: failed to cache remote snapshot for %s: %v", key, err)
	}
	g.config.Metrics.ObserveRemoteSnapshot()
	g.setStatusFor(key, StatusSynced)
	if onSnapshot != nil {
		onSnapshot(snap)
	}
}

// seedRemote writes the current local snapshot to a missing remote document.
func (g *Gateway) seedRemote(ctx context.Context, key, path string) {
	snap, err := g.LoadInitial(ctx, key)
	if err != nil {
		g.config.Logger.Printf("Warning: cannot seed remote for %s: %v", key, err)
		g.setStatusFor(key, StatusError)
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		g.setStatusFor(key, StatusError)
		return
	}

	g.writeMu.Lock()
	_, err = g.remote.SetMerge(ctx, path, data)
	g.writeMu.Unlock()
	if err != nil {
		g.config.Logger.Printf("Seeding remote for %s failed: %v", key, err)
		g.setStatusFor(key, StatusError)
		return
	}

	g.config.Logger.Printf("Seeded remote document for %s", key)
	g.notify(ctx, path)
	g.setStatusFor(key, StatusSynced)
}

func (g *Gateway) notify(ctx context.Context, path string) {
	if g.config.Notifier == nil {
		return
	}
	if err := g.config.Notifier.Notify(ctx, path); err != nil {
		g.config.Logger.Printf("Warning: change notification failed: %v", err)
	}
}

// setStatusFor applies s only while key is the subscribed key, so late
// results for a previous key do not overwrite the current status.
func (g *Gateway) setStatusFor(key string, s Status) {
	g.mu.Lock()
	active := g.activeKey
	g.mu.Unlock()
	if active != "" && active != key {
		return
	}
	g.status.Set(s)
}

func (g *Gateway) nextSeq(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued[key]++
	return g.issued[key]
}

func (g *Gateway) superseded(key string, seq uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return seq < g.written[key]
}

func (g *Gateway) markWritten(key string, seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq > g.written[key] {
		g.written[key] = seq
	}
}

// maxSent bounds the digests remembered per key.
const maxSent = 64

func (g *Gateway) recordSent(key string, seq uint64, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sums := g.sent[key]
	if sums == nil {
		sums = make(map[[sha256.Size]byte]uint64)
		g.sent[key] = sums
	}
	sums[sha256.Sum256(data)] = seq
	if len(sums) > maxSent {
		var oldest [sha256.Size]byte
		low := seq
		for sum, s := range sums {
			if s <= low {
				oldest, low = sum, s
			}
		}
		delete(sums, oldest)
	}
}

// isStaleEcho reports whether data is a payload this process wrote for key
// and has since replaced with a newer save. Digests older than the matched
// one are forgotten: document versions only grow, so they cannot return.
func (g *Gateway) isStaleEcho(key string, data []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	sums := g.sent[key]
	seq, ok := sums[sha256.Sum256(data)]
	if !ok {
		return false
	}
	for sum, s := range sums {
		if s < seq {
			delete(sums, sum)
		}
	}
	return seq < g.issued[key]
}

func decodeSnapshot(data []byte) (schema.Snapshot, error) {
	var snap schema.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot is null")
	}
	return snap, nil
}

func isEmptyPayload(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
