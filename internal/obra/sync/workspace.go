package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"reflect"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/mschirtzinger/obracontrol/internal/obra/codec"
	"github.com/mschirtzinger/obracontrol/internal/obra/gateway"
	"github.com/mschirtzinger/obracontrol/internal/obra/local"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/store"
)

// ErrInvalidKey is returned for project keys of three characters or fewer.
var ErrInvalidKey = errors.New("invalid project key")

// ErrClosed is returned by operations on a closed workspace.
var ErrClosed = errors.New("workspace is closed")

// KeyPrefix starts generated project keys.
const KeyPrefix = "OBRA-"

// NormalizeKey trims and uppercases a key entered by the user and checks
// its length.
func NormalizeKey(key string) (string, error) {
	return checkKey(strings.ToUpper(strings.TrimSpace(key)))
}

// checkKey validates a key without rewriting it. Keys read back from the
// local store are used as stored, since the remote document path depends
// on the exact spelling.
func checkKey(key string) (string, error) {
	if len(key) <= 3 {
		return "", fmt.Errorf("%w: %q must be longer than 3 characters", ErrInvalidKey, key)
	}
	return key, nil
}

// GenerateKey returns a random key of the form OBRA-1234.
func GenerateKey() string {
	return fmt.Sprintf("%s%d", KeyPrefix, 1000+rand.IntN(9000))
}

// ChangeKind says what caused a workspace change.
type ChangeKind string

const (
	ChangeLocal  ChangeKind = "local"
	ChangeRemote ChangeKind = "remote"
	ChangeKey    ChangeKind = "key"
	ChangeImport ChangeKind = "import"
	ChangeReload ChangeKind = "reload"
)

// Change describes a store update.
type Change struct {
	Kind          ChangeKind
	Key           string
	ActiveProject schema.ID
}

// Config holds workspace configuration.
type Config struct {
	// Key is the project key to open. Empty uses the persisted key, or a
	// generated one on first run.
	Key string

	// FirstSyncTimeout bounds how long Open and SwitchKey wait for the
	// remote document to be read before working from the local cache.
	// Zero means DefaultFirstSyncTimeout; negative means do not wait.
	FirstSyncTimeout time.Duration

	// Logger for workspace activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultFirstSyncTimeout is used when Config.FirstSyncTimeout is zero.
const DefaultFirstSyncTimeout = 10 * time.Second

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FirstSyncTimeout: DefaultFirstSyncTimeout,
		Logger:           log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Workspace is the project store for the active key, kept in sync with the
// local cache and the remote document.
type Workspace struct {
	gw     *gateway.Gateway
	local  local.Store
	store  *store.Store
	logger *log.Logger

	firstSync time.Duration

	// ctx parents every subscription and is canceled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// switchMu serializes key switches and reloads.
	switchMu gosync.Mutex

	// writeMu is held for every change to the store contents together with
	// its save: mutations, imports, reloads, remote snapshots and key loads.
	// Lock order is switchMu, writeMu, mu.
	writeMu gosync.Mutex

	mu            gosync.Mutex
	key           string
	activeProject schema.ID
	generation    uint64
	unsubscribe   gateway.Unsubscribe
	closed        bool

	listenerMu gosync.Mutex
	listeners  map[int]func(Change)
	nextID     int
}

// Open loads the workspace for the configured or persisted key and starts
// the remote subscription.
func Open(ctx context.Context, gw *gateway.Gateway, localStore local.Store, config *Config) (*Workspace, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if localStore == nil {
		return nil, fmt.Errorf("local store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.FirstSyncTimeout == 0 {
		config.FirstSyncTimeout = DefaultFirstSyncTimeout
	}

	key, err := resolveKey(ctx, localStore, config.Key)
	if err != nil {
		return nil, err
	}

	wsCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &Workspace{
		gw:        gw,
		local:     localStore,
		store:     store.New(nil),
		logger:    config.Logger,
		firstSync: config.FirstSyncTimeout,
		ctx:       wsCtx,
		cancel:    cancel,
		listeners: make(map[int]func(Change)),
	}

	if err := w.load(ctx, key); err != nil {
		cancel()
		return nil, err
	}
	w.waitFirstSync(ctx, w.subscribe())
	w.logger.Printf("Opened workspace %s (%d projects)", key, w.store.Len())
	return w, nil
}

func resolveKey(ctx context.Context, localStore local.Store, requested string) (string, error) {
	if requested != "" {
		key, err := NormalizeKey(requested)
		if err != nil {
			return "", err
		}
		if err := localStore.Set(ctx, local.ProjectKeyPointer, key); err != nil {
			return "", fmt.Errorf("failed to persist project key: %w", err)
		}
		return key, nil
	}

	stored, ok, err := localStore.Get(ctx, local.ProjectKeyPointer)
	if err != nil {
		return "", fmt.Errorf("failed to read project key: %w", err)
	}
	if ok {
		if key, err := checkKey(stored); err == nil {
			return key, nil
		}
	}

	key := GenerateKey()
	if err := localStore.Set(ctx, local.ProjectKeyPointer, key); err != nil {
		return "", fmt.Errorf("failed to persist project key: %w", err)
	}
	return key, nil
}

// Key returns the active project key.
func (w *Workspace) Key() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.key
}

// Status returns the sync status.
func (w *Workspace) Status() gateway.Status {
	return w.gw.Status()
}

// OnStatus registers fn for sync status changes.
func (w *Workspace) OnStatus(fn func(gateway.Status)) func() {
	return w.gw.OnStatus(fn)
}

// OnChange registers fn for store changes. Callbacks run on the goroutine
// that caused the change and must not block. The returned func unregisters.
func (w *Workspace) OnChange(fn func(Change)) func() {
	w.listenerMu.Lock()
	defer w.listenerMu.Unlock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	return func() {
		w.listenerMu.Lock()
		defer w.listenerMu.Unlock()
		delete(w.listeners, id)
	}
}

// SwitchKey makes key the active project key: the choice is persisted, the
// local cache for key is loaded immediately and the remote subscription is
// replaced.
func (w *Workspace) SwitchKey(ctx context.Context, key string) error {
	key, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	return w.switchKey(ctx, key)
}

func (w *Workspace) switchKey(ctx context.Context, key string) error {
	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	if err := w.checkOpen(); err != nil {
		return err
	}
	if err := w.local.Set(ctx, local.ProjectKeyPointer, key); err != nil {
		return fmt.Errorf("failed to persist project key: %w", err)
	}

	w.stopSubscription()
	if err := w.load(ctx, key); err != nil {
		return err
	}
	w.waitFirstSync(ctx, w.subscribe())

	w.logger.Printf("Switched to project key %s", key)
	w.emit(ChangeKey)
	return nil
}

// ReloadLocal re-reads the key pointer and the cached snapshot from the
// local store, picking up writes made by another process.
func (w *Workspace) ReloadLocal(ctx context.Context) error {
	stored, ok, err := w.local.Get(ctx, local.ProjectKeyPointer)
	if err != nil {
		return fmt.Errorf("failed to read project key: %w", err)
	}
	if ok && stored != w.Key() {
		if key, err := checkKey(stored); err == nil {
			return w.switchKey(ctx, key)
		}
	}

	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	changed, err := w.reloadCache(ctx)
	if err != nil || !changed {
		return err
	}
	w.emit(ChangeReload)
	return nil
}

// reloadCache replaces the store with the cached snapshot of the active key
// and reports whether anything changed.
func (w *Workspace) reloadCache(ctx context.Context) (bool, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	key := w.Key()
	snap, err := w.gw.LoadInitial(ctx, key)
	if err != nil {
		return false, err
	}
	if reflect.DeepEqual(snap, w.store.Snapshot()) {
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key != key || w.closed {
		return false, nil
	}
	w.store.Replace(snap)
	w.fixActiveProjectLocked(ctx)
	return true, nil
}

// Resubscribe replaces the remote subscription for the current key. Use it
// to retry after a subscription failure.
func (w *Workspace) Resubscribe() error {
	w.switchMu.Lock()
	defer w.switchMu.Unlock()
	if err := w.checkOpen(); err != nil {
		return err
	}
	w.stopSubscription()
	w.subscribe()
	return nil
}

// Flush waits for in-flight remote writes.
func (w *Workspace) Flush(ctx context.Context) error {
	return w.gw.Wait(ctx)
}

// Close stops the subscription and waits for in-flight remote writes.
func (w *Workspace) Close(ctx context.Context) error {
	w.switchMu.Lock()
	defer w.switchMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.stopSubscription()
	w.cancel()
	return w.gw.Wait(ctx)
}

// Snapshot returns a copy of the whole dataset.
func (w *Workspace) Snapshot() schema.Snapshot {
	return w.store.Snapshot()
}

// Export encodes the dataset with the active key as metadata.
func (w *Workspace) Export() ([]byte, error) {
	return codec.ExportWithMeta(w.store.Snapshot(), codec.Meta{ProjectKey: w.Key()})
}

// Import replaces the whole dataset with an exported document and saves it
// under the active key. Unparseable input wraps codec.ErrImportParse and
// leaves the store untouched.
func (w *Workspace) Import(ctx context.Context, data []byte) error {
	snap, err := codec.Import(data)
	if err != nil {
		return err
	}
	if err := w.checkOpen(); err != nil {
		return err
	}

	err = w.commit(ctx, func() error {
		w.store.Replace(snap)
		w.mu.Lock()
		w.fixActiveProjectLocked(ctx)
		w.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	w.logger.Printf("Imported %d projects into %s", len(snap), w.Key())
	w.emit(ChangeImport)
	return nil
}

// load replaces the store with the local snapshot for key.
func (w *Workspace) load(ctx context.Context, key string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	snap, err := w.gw.LoadInitial(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", key, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.key = key
	w.generation++
	w.store.Replace(snap)
	w.activeProject = 0
	w.fixActiveProjectLocked(ctx)
	return nil
}

// subscribe starts the remote subscription for the current key and returns
// its ready channel. Callbacks from a subscription belonging to an older
// generation are dropped.
func (w *Workspace) subscribe() <-chan struct{} {
	w.mu.Lock()
	key := w.key
	gen := w.generation
	w.mu.Unlock()

	unsubscribe, ready := w.gw.SubscribeRemote(w.ctx, key,
		func(snap schema.Snapshot) { w.applyRemote(gen, snap) },
		func(err error) { w.logger.Printf("Remote subscription for %s ended: %v", key, err) },
	)

	w.mu.Lock()
	w.unsubscribe = unsubscribe
	w.mu.Unlock()
	return ready
}

// waitFirstSync blocks until the subscription has handled the remote
// document once, so edits start from the remote state instead of a stale
// device cache. On timeout the workspace keeps the cached data.
func (w *Workspace) waitFirstSync(ctx context.Context, ready <-chan struct{}) {
	if w.firstSync < 0 {
		return
	}
	timer := time.NewTimer(w.firstSync)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
		w.logger.Printf("Warning: remote copy of %s not read after %s, working from the local cache", w.Key(), w.firstSync)
	case <-ctx.Done():
	}
}

// stopSubscription tears down the current subscription. It must not be
// called with writeMu or mu held: unsubscribing waits for callbacks that
// take both.
func (w *Workspace) stopSubscription() {
	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.generation++
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (w *Workspace) applyRemote(gen uint64, snap schema.Snapshot) {
	w.writeMu.Lock()
	w.mu.Lock()
	if gen != w.generation || w.closed {
		w.mu.Unlock()
		w.writeMu.Unlock()
		return
	}
	w.store.Replace(snap)
	w.fixActiveProjectLocked(w.ctx)
	w.mu.Unlock()
	w.writeMu.Unlock()

	w.emit(ChangeRemote)
}

// commit applies change to the store and saves the result as one step:
// no reload or remote snapshot can replace the store in between. When the
// local save fails the previous dataset is restored. The remote write
// continues in the background.
func (w *Workspace) commit(ctx context.Context, change func() error) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	prev := w.store.Snapshot()
	if err := change(); err != nil {
		return err
	}
	key := w.Key()
	if _, err := w.gw.Save(ctx, key, w.store.Snapshot()); err != nil {
		w.store.Replace(prev)
		w.mu.Lock()
		w.fixActiveProjectLocked(ctx)
		w.mu.Unlock()
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (w *Workspace) checkOpen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return nil
}

func (w *Workspace) emit(kind ChangeKind) {
	w.mu.Lock()
	change := Change{Kind: kind, Key: w.key, ActiveProject: w.activeProject}
	w.mu.Unlock()

	w.listenerMu.Lock()
	listeners := make([]func(Change), 0, len(w.listeners))
	for _, fn := range w.listeners {
		listeners = append(listeners, fn)
	}
	w.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}

// fixActiveProjectLocked points activeProject at an existing project,
// preferring the pointer persisted for the key. Must be called with mu held.
func (w *Workspace) fixActiveProjectLocked(ctx context.Context) {
	if w.activeProject != 0 && w.store.Has(w.activeProject) {
		return
	}
	if raw, ok, err := w.local.Get(ctx, local.ActiveProjectKey(w.key)); err == nil && ok {
		if id, err := schema.ParseID(raw); err == nil && w.store.Has(id) {
			w.activeProject = id
			return
		}
	}
	w.activeProject = w.store.First()
}

// ActiveProject returns the selected project id.
func (w *Workspace) ActiveProject() schema.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeProject
}

// SetActiveProject selects a project and persists the choice for the key.
func (w *Workspace) SetActiveProject(ctx context.Context, id schema.ID) error {
	if !w.store.Has(id) {
		return fmt.Errorf("project %d: %w", id, store.ErrProjectNotFound)
	}

	w.mu.Lock()
	key := w.key
	w.activeProject = id
	w.mu.Unlock()

	if err := w.local.Set(ctx, local.ActiveProjectKey(key), id.String()); err != nil {
		return fmt.Errorf("failed to persist active project: %w", err)
	}
	w.emit(ChangeLocal)
	return nil
}

// DarkMode returns the persisted display preference.
func (w *Workspace) DarkMode(ctx context.Context) (bool, error) {
	raw, ok, err := w.local.Get(ctx, local.DarkModeKey)
	if err != nil {
		return false, fmt.Errorf("failed to read display preference: %w", err)
	}
	if !ok {
		return false, nil
	}
	on, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return on, nil
}

// SetDarkMode persists the display preference.
func (w *Workspace) SetDarkMode(ctx context.Context, on bool) error {
	if err := w.local.Set(ctx, local.DarkModeKey, strconv.FormatBool(on)); err != nil {
		return fmt.Errorf("failed to persist display preference: %w", err)
	}
	return nil
}
