package daemon

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/mschirtzinger/obracontrol/internal/obra/codec"
)

// Exporter produces export documents for the active key.
type Exporter interface {
	Key() string
	Export() ([]byte, error)
}

// BackupConfig configures periodic exports.
type BackupConfig struct {
	// Exporter supplies the documents to write.
	Exporter Exporter

	// Dir receives the backup files.
	Dir string

	// Interval between backups.
	Interval time.Duration

	// Keep is how many backups to retain per key. Zero keeps all.
	Keep int

	// Logger for backup activity (default: the daemon logger)
	Logger *log.Logger

	now func() time.Time
}

// Backups writes export files on a schedule.
type Backups struct {
	config    *BackupConfig
	scheduler gocron.Scheduler
}

// NewBackups validates config and creates the scheduler.
func NewBackups(config *BackupConfig) (*Backups, error) {
	if config.Exporter == nil {
		return nil, fmt.Errorf("backup exporter cannot be nil")
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("backup directory cannot be empty")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("backup interval must be positive")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[backup] ", log.LstdFlags)
	}
	if config.now == nil {
		config.now = time.Now
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	b := &Backups{config: config, scheduler: scheduler}

	_, err = scheduler.NewJob(
		gocron.DurationJob(config.Interval),
		gocron.NewTask(func() {
			if _, err := b.RunOnce(); err != nil {
				config.Logger.Printf("Backup failed: %v", err)
			}
		}),
		gocron.WithName("export-backup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule backups: %w", err)
	}
	return b, nil
}

// Start runs the schedule.
func (b *Backups) Start() error {
	if err := os.MkdirAll(b.config.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	b.scheduler.Start()
	b.config.Logger.Printf("Backing up to %s every %s", b.config.Dir, b.config.Interval)
	return nil
}

// Stop shuts the scheduler down and waits for a running backup.
func (b *Backups) Stop() error {
	if err := b.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

// RunOnce writes one backup and prunes old ones. It returns the file path.
func (b *Backups) RunOnce() (string, error) {
	data, err := b.config.Exporter.Export()
	if err != nil {
		return "", fmt.Errorf("failed to export: %w", err)
	}
	if err := os.MkdirAll(b.config.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	key := b.config.Exporter.Key()
	path := filepath.Join(b.config.Dir, codec.FileName(key, b.config.now().UTC()))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to finalize backup: %w", err)
	}
	b.config.Logger.Printf("Wrote backup %s", path)

	if err := b.prune(key); err != nil {
		b.config.Logger.Printf("Warning: failed to prune backups: %v", err)
	}
	return path, nil
}

// prune removes the oldest backups of key beyond Keep. File names sort by
// timestamp.
func (b *Backups) prune(key string) error {
	if b.config.Keep <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(b.config.Dir, "obracontrol-"+key+"-*.json"))
	if err != nil {
		return err
	}
	if len(matches) <= b.config.Keep {
		return nil
	}
	slices.Sort(matches)
	for _, path := range matches[:len(matches)-b.config.Keep] {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
