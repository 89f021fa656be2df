// Package daemon runs the background work of `obra serve`.
//
// The daemon:
//  1. Watches the local database for writes made by other processes (for
//     example CLI commands run while the dashboard is open)
//  2. Reloads the workspace from the local cache after a quiet period
//  3. Writes periodic export backups
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Reloader re-reads workspace state from the local store.
type Reloader interface {
	ReloadLocal(ctx context.Context) error
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the database files must be quiet before
	// a reload. This batches the several writes of one transaction.
	DebounceInterval time.Duration

	// Backup writes periodic exports. Nil disables backups.
	Backup *BackupConfig

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon reloads the workspace when the local database changes on disk.
type Daemon struct {
	reloader Reloader
	dataDir  string
	config   *Config

	watcher *CacheWatcher
	backups *Backups

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a daemon with default configuration.
//
// The daemon requires:
//   - reloader: the workspace to refresh
//   - dataDir: directory holding the local database
//   - dbName: the database file name inside dataDir
//
// Use Start() to begin watching.
func New(reloader Reloader, dataDir, dbName string) (*Daemon, error) {
	return NewWithConfig(reloader, dataDir, dbName, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(reloader Reloader, dataDir, dbName string, config *Config) (*Daemon, error) {
	if reloader == nil {
		return nil, fmt.Errorf("reloader cannot be nil")
	}
	if dataDir == "" {
		return nil, fmt.Errorf("dataDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := NewCacheWatcher(dbName, config.DebounceInterval)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		reloader: reloader,
		dataDir:  dataDir,
		config:   config,
		watcher:  watcher,
	}
	if config.Backup != nil {
		if config.Backup.Logger == nil {
			config.Backup.Logger = config.Logger
		}
		d.backups, err = NewBackups(config.Backup)
		if err != nil {
			return nil, err
		}
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start begins watching and, when configured, the backup schedule.
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.watcher.Start(d.dataDir); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.dataDir)

	if d.backups != nil {
		if err := d.backups.Start(); err != nil {
			d.watcher.Stop()
			return err
		}
	}

	d.wg.Add(1)
	go d.follow()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if stopErr := d.watcher.Stop(); stopErr != nil {
			d.config.Logger.Printf("Error closing watcher: %v", stopErr)
		}
		if d.backups != nil {
			if stopErr := d.backups.Stop(); stopErr != nil {
				err = stopErr
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// follow reloads the workspace after every write burst.
func (d *Daemon) follow() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case t, ok := <-d.watcher.Touches():
			if !ok {
				return
			}
			d.config.Logger.Printf("Local cache changed: %s", strings.Join(t.Files, ", "))
			if t.Removed {
				d.config.Logger.Printf("Warning: database file removed or renamed, reloading anyway")
			}
			if err := d.reloader.ReloadLocal(d.ctx); err != nil {
				d.config.Logger.Printf("Error reloading workspace: %v", err)
			}

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}
