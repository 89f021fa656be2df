package daemon

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

const testDB = "obra.db"

func newTestWatcher(t *testing.T) *CacheWatcher {
	t.Helper()
	w, err := NewCacheWatcher(testDB, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("NewCacheWatcher() failed: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func TestNewCacheWatcher_Validation(t *testing.T) {
	if _, err := NewCacheWatcher("", time.Second); err == nil {
		t.Error("empty database name should fail")
	}
	if _, err := NewCacheWatcher(testDB, 0); err == nil {
		t.Error("zero quiet period should fail")
	}
}

func TestCacheWatcher_Lifecycle(t *testing.T) {
	w := newTestWatcher(t)
	if w.Running() {
		t.Error("new watcher should not be running")
	}

	if err := w.Start(t.TempDir()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !w.Running() {
		t.Error("watcher should be running after Start()")
	}
	if err := w.Start(t.TempDir()); err == nil {
		t.Error("second Start() should fail")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
	if w.Running() {
		t.Error("watcher should not be running after Stop()")
	}
	if _, ok := <-w.Touches(); ok {
		t.Error("Touches() should be closed")
	}
}

func TestCacheWatcher_MissingDir(t *testing.T) {
	w := newTestWatcher(t)
	if err := w.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() should fail for a missing directory")
	}
}

// A burst of writes to the cache files arrives as one Touch, and unrelated
// files in the same directory are ignored.
func TestCacheWatcher_MergesBurst(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t)
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	write := func(name string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("notes.txt")
	write(testDB)
	write(testDB + "-wal")
	write(testDB + "-wal")

	select {
	case touch := <-w.Touches():
		want := []string{testDB, testDB + "-wal"}
		if !slices.Equal(touch.Files, want) {
			t.Errorf("Files = %v, want %v", touch.Files, want)
		}
		if touch.Removed {
			t.Error("Removed should be false for writes")
		}
		if touch.Last.IsZero() {
			t.Error("Last should be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a touch")
	}

	select {
	case touch := <-w.Touches():
		t.Errorf("unexpected second touch: %+v", touch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCacheWatcher_Removal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, testDB+"-shm")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(t)
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	select {
	case touch := <-w.Touches():
		if !touch.Removed {
			t.Errorf("Removed = false for %v", touch.Files)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a touch")
	}
}

func TestCacheWatcher_Owns(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t)
	w.dir = dir

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(dir, "obra.db"), true},
		{filepath.Join(dir, "obra.db-wal"), true},
		{filepath.Join(dir, "obra.db-shm"), true},
		{filepath.Join(dir, "obra.dbx"), false},
		{filepath.Join(dir, "other.db"), false},
		{filepath.Join(dir, "sub", "obra.db"), false},
	}
	for _, tt := range tests {
		if got := w.owns(tt.path); got != tt.want {
			t.Errorf("owns(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
