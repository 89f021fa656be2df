// Package session establishes the identity used for remote access.
//
// An identity is obtained once per process: with a pre-provided token when
// one is configured, otherwise anonymously. When no provider is available
// the session reports ErrAuthUnavailable and the application keeps working
// against local storage only.
package session

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"
)

// ErrAuthUnavailable is returned when no identity can be established.
var ErrAuthUnavailable = errors.New("authentication unavailable")

// Identity is an authenticated principal.
type Identity struct {
	UID       string    `json:"uid"`
	Anonymous bool      `json:"anonymous"`
	Token     string    `json:"-"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// Provider signs a principal in.
type Provider interface {
	SignInAnonymously(ctx context.Context) (*Identity, error)
	SignInWithToken(ctx context.Context, token string) (*Identity, error)
}

// Disabled is a Provider that never yields an identity.
type Disabled struct{}

// SignInAnonymously implements Provider.
func (Disabled) SignInAnonymously(context.Context) (*Identity, error) {
	return nil, ErrAuthUnavailable
}

// SignInWithToken implements Provider.
func (Disabled) SignInWithToken(context.Context, string) (*Identity, error) {
	return nil, ErrAuthUnavailable
}

// Config holds session configuration.
type Config struct {
	// Provider signs the process in. Nil behaves like Disabled.
	Provider Provider

	// Token is a pre-provided credential. When set, it is exchanged
	// instead of signing in anonymously.
	Token string

	// Logger for session activity (default: stderr logger)
	Logger *log.Logger
}

// Session holds the process identity.
type Session struct {
	config *Config

	once     sync.Once
	mu       sync.RWMutex
	identity *Identity
	err      error
	resolved bool

	listeners map[int]func(*Identity)
	nextID    int
}

// New creates a session. Call Ensure to sign in.
func New(config *Config) *Session {
	if config == nil {
		config = &Config{}
	}
	if config.Provider == nil {
		config.Provider = Disabled{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &Session{
		config:    config,
		listeners: make(map[int]func(*Identity)),
	}
}

// Ensure signs in on first use and returns the cached result afterwards,
// including a cached failure.
func (s *Session) Ensure(ctx context.Context) (*Identity, error) {
	s.once.Do(func() {
		var (
			id  *Identity
			err error
		)
		if s.config.Token != "" {
			id, err = s.config.Provider.SignInWithToken(ctx, s.config.Token)
		} else {
			id, err = s.config.Provider.SignInAnonymously(ctx)
		}
		if err != nil && !errors.Is(err, ErrAuthUnavailable) {
			err = errors.Join(ErrAuthUnavailable, err)
		}

		s.mu.Lock()
		s.identity, s.err, s.resolved = id, err, true
		listeners := s.snapshotListeners()
		s.mu.Unlock()

		if err != nil {
			s.config.Logger.Printf("Working offline: %v", err)
		} else {
			s.config.Logger.Printf("Signed in as %s (anonymous=%v)", id.UID, id.Anonymous)
		}
		for _, fn := range listeners {
			fn(id)
		}
	})

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.err
}

// Current returns the identity, or nil before sign-in or after a failure.
func (s *Session) Current() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// OnChange registers fn to be called when the identity changes. If the
// session is already resolved, fn is called immediately with the current
// identity. The returned func unregisters fn.
func (s *Session) OnChange(fn func(*Identity)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	resolved, current := s.resolved, s.identity
	s.mu.Unlock()

	if resolved {
		fn(current)
	}
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// snapshotListeners must be called with mu held.
func (s *Session) snapshotListeners() []func(*Identity) {
	out := make([]func(*Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}
