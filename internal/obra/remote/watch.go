package remote

import (
	"context"
	"errors"
	"log"
	"os"
	"time"
)

// DefaultPollInterval is used when WatchConfig.PollInterval is zero.
const DefaultPollInterval = 2 * time.Second

// WatchConfig configures Watch.
type WatchConfig struct {
	// PollInterval is how often the document is re-read.
	PollInterval time.Duration

	// Notifier, when set, wakes the watcher as soon as a write is announced.
	Notifier Notifier

	// Logger for watcher activity (default: stderr logger)
	Logger *log.Logger
}

// Event reports the observed state of a watched document.
// Doc is nil when the document does not exist.
type Event struct {
	Doc *Document
}

// Exists reports whether the document was present.
func (e Event) Exists() bool {
	return e.Doc != nil
}

type watchState int

const (
	stateUnknown watchState = iota
	stateMissing
	statePresent
)

// Watch reads the document at path and calls onEvent with its initial
// state and after every change: a new version, or the document appearing or
// disappearing. Callbacks run on the calling goroutine.
//
// Watch blocks until ctx is cancelled, returning ctx.Err(), or until a read
// fails, returning that error. It never retries a failed read.
//
// Example:
//
//	err := remote.Watch(ctx, store, remote.DocPath("obra-control-prod", "OBRA-1234"),
//	    remote.WatchConfig{PollInterval: time.Second},
//	    func(ev remote.Event) {
//	        if !ev.Exists() {
//	            // seed the document
//	        }
//	    })
func Watch(ctx context.Context, store DocumentStore, path string, config WatchConfig, onEvent func(Event)) error {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	var wake <-chan struct{}
	if config.Notifier != nil {
		ch, cancel, err := config.Notifier.Listen(ctx, path)
		if err != nil {
			config.Logger.Printf("Warning: change notifications unavailable for %s: %v", path, err)
		} else {
			defer cancel()
			wake = ch
		}
	}

	state := stateUnknown
	var lastVersion int64

	check := func() error {
		doc, err := store.Get(ctx, path)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrNotFound) {
			if state != stateMissing {
				state = stateMissing
				onEvent(Event{})
			}
			return nil
		}
		if err != nil {
			return err
		}
		if state != statePresent || doc.Version != lastVersion {
			state = statePresent
			lastVersion = doc.Version
			onEvent(Event{Doc: doc})
		}
		return nil
	}

	if err := check(); err != nil {
		return err
	}

	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
		if err := check(); err != nil {
			return err
		}
	}
}
