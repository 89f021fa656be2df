package daemon

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Touch reports a burst of writes to the local cache. Writes that land
// within one quiet period are merged into a single Touch.
type Touch struct {
	// Files holds the base names that changed, sorted.
	Files []string
	// Removed is set when one of the files was removed or renamed away.
	Removed bool
	// Last is when the latest write of the burst was seen.
	Last time.Time
}

// CacheWatcher follows the local database file and its -wal and -shm
// sidecars in one directory.
type CacheWatcher struct {
	fs     *fsnotify.Watcher
	dbName string
	quiet  time.Duration

	touches chan Touch
	errs    chan error
	stop    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	dir     string
	started bool
	stopped bool
}

const cacheOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// NewCacheWatcher returns a watcher for dbName. Nothing is watched until
// Start.
func NewCacheWatcher(dbName string, quiet time.Duration) (*CacheWatcher, error) {
	if dbName == "" {
		return nil, errors.New("database file name cannot be empty")
	}
	if quiet <= 0 {
		return nil, fmt.Errorf("quiet period must be positive, got %s", quiet)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &CacheWatcher{
		fs:      fs,
		dbName:  dbName,
		quiet:   quiet,
		touches: make(chan Touch, 8),
		errs:    make(chan error, 8),
		stop:    make(chan struct{}),
	}, nil
}

// Start watches dir. A watcher can be started once.
func (w *CacheWatcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return errors.New("watcher already started")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := w.fs.Add(abs); err != nil {
		return fmt.Errorf("failed to watch data directory %s: %w", abs, err)
	}
	w.dir = abs
	w.started = true

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop releases the fsnotify handle and closes Touches and Errors once the
// loop has exited. Safe to call more than once.
func (w *CacheWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	close(w.stop)
	err := w.fs.Close()
	if started {
		w.wg.Wait()
	}
	close(w.touches)
	close(w.errs)
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Touches delivers merged write bursts.
func (w *CacheWatcher) Touches() <-chan Touch { return w.touches }

// Errors delivers fsnotify errors. Errors are dropped while nobody reads.
func (w *CacheWatcher) Errors() <-chan error { return w.errs }

// Running reports whether the watcher has been started and not stopped.
func (w *CacheWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started && !w.stopped
}

func (w *CacheWatcher) loop() {
	defer w.wg.Done()

	var (
		batch   = map[string]bool{}
		removed bool
		last    time.Time
	)
	timer := time.NewTimer(w.quiet)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(cacheOps) || !w.owns(ev.Name) {
				continue
			}
			batch[filepath.Base(ev.Name)] = true
			if ev.Has(fsnotify.Remove | fsnotify.Rename) {
				removed = true
			}
			last = time.Now()
			timer.Reset(w.quiet)

		case <-timer.C:
			if len(batch) == 0 {
				continue
			}
			t := Touch{Files: slices.Sorted(maps.Keys(batch)), Removed: removed, Last: last}
			batch, removed = map[string]bool{}, false
			select {
			case w.touches <- t:
			case <-w.stop:
				return
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// owns matches the database file and its -wal/-shm siblings directly
// inside the watched directory.
func (w *CacheWatcher) owns(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil || filepath.Dir(abs) != w.dir {
		return false
	}
	base := filepath.Base(abs)
	return base == w.dbName || strings.HasPrefix(base, w.dbName+"-")
}
