package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var quiet = log.New(io.Discard, "", 0)

type countingReloader struct {
	calls atomic.Int32
}

func (r *countingReloader) ReloadLocal(context.Context) error {
	r.calls.Add(1)
	return nil
}

type staticExporter struct {
	key  string
	data []byte
	err  error
}

func (e staticExporter) Key() string             { return e.key }
func (e staticExporter) Export() ([]byte, error) { return e.data, e.err }

func testConfig() *Config {
	return &Config{DebounceInterval: 40 * time.Millisecond, Logger: quiet}
}

func TestNewWithConfig_Validation(t *testing.T) {
	r := &countingReloader{}
	tests := []struct {
		name     string
		reloader Reloader
		dir      string
		db       string
	}{
		{"nil reloader", nil, t.TempDir(), testDB},
		{"empty dir", r, "", testDB},
		{"empty db", r, t.TempDir(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWithConfig(tt.reloader, tt.dir, tt.db, testConfig()); err == nil {
				t.Error("NewWithConfig() expected error")
			}
		})
	}
}

// TestDaemon_ReloadsAfterWrites verifies that a burst of writes to the
// database files triggers a single debounced reload.
func TestDaemon_ReloadsAfterWrites(t *testing.T) {
	dir := t.TempDir()
	r := &countingReloader{}
	d, err := NewWithConfig(r, dir, testDB, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, testDB+"-wal")
	for i := range 5 {
		if err := os.WriteFile(path, []byte(strings.Repeat("x", i+1)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for r.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.calls.Load() != 1 {
		t.Errorf("reloads = %d, want 1", r.calls.Load())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	d, err := NewWithConfig(&countingReloader{}, t.TempDir(), testDB, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestBackups_RunOnceAndPrune(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	config := &BackupConfig{
		Exporter: staticExporter{key: "OBRA-1234", data: []byte(`{"fullData":{}}`)},
		Dir:      dir,
		Interval: time.Hour,
		Keep:     2,
		Logger:   quiet,
		now: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
	}
	b, err := NewBackups(config)
	if err != nil {
		t.Fatalf("NewBackups() error = %v", err)
	}
	defer b.Stop()

	var paths []string
	for range 4 {
		path, err := b.RunOnce()
		if err != nil {
			t.Fatalf("RunOnce() error = %v", err)
		}
		paths = append(paths, path)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "obracontrol-OBRA-1234-*.json"))
	if len(matches) != 2 {
		t.Fatalf("kept %d backups, want 2: %v", len(matches), matches)
	}
	for _, kept := range paths[2:] {
		if _, err := os.Stat(kept); err != nil {
			t.Errorf("newest backup %s missing: %v", kept, err)
		}
	}
	data, _ := os.ReadFile(paths[3])
	if string(data) != `{"fullData":{}}` {
		t.Errorf("backup content = %s", data)
	}
}

func TestBackups_ExportError(t *testing.T) {
	b, err := NewBackups(&BackupConfig{
		Exporter: staticExporter{key: "OBRA-1234", err: errors.New("boom")},
		Dir:      t.TempDir(),
		Interval: time.Hour,
		Logger:   quiet,
	})
	if err != nil {
		t.Fatalf("NewBackups() error = %v", err)
	}
	defer b.Stop()

	if _, err := b.RunOnce(); err == nil {
		t.Error("RunOnce() expected error")
	}
}

func TestNewBackups_Validation(t *testing.T) {
	exp := staticExporter{key: "OBRA-1234"}
	tests := []struct {
		name   string
		config *BackupConfig
	}{
		{"no exporter", &BackupConfig{Dir: t.TempDir(), Interval: time.Hour}},
		{"no dir", &BackupConfig{Exporter: exp, Interval: time.Hour}},
		{"no interval", &BackupConfig{Exporter: exp, Dir: t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBackups(tt.config); err == nil {
				t.Error("NewBackups() expected error")
			}
		})
	}
}

func TestDaemon_ScheduledBackup(t *testing.T) {
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	config := testConfig()
	config.Backup = &BackupConfig{
		Exporter: staticExporter{key: "OBRA-1234", data: []byte("{}")},
		Dir:      backupDir,
		Interval: 50 * time.Millisecond,
	}

	d, err := NewWithConfig(&countingReloader{}, dir, testDB, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if matches, _ := filepath.Glob(filepath.Join(backupDir, "*.json")); len(matches) > 0 {
			d.Stop()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	d.Stop()
	t.Fatal("no scheduled backup written")
}
