package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var quiet = log.New(io.Discard, "", 0)

type countingProvider struct {
	anon   atomic.Int32
	tokens atomic.Int32
	err    error
}

func (p *countingProvider) SignInAnonymously(context.Context) (*Identity, error) {
	p.anon.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &Identity{UID: "anon-1", Anonymous: true}, nil
}

func (p *countingProvider) SignInWithToken(_ context.Context, token string) (*Identity, error) {
	p.tokens.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &Identity{UID: "user-" + token}, nil
}

func TestEnsure_OncePerProcess(t *testing.T) {
	provider := &countingProvider{}
	s := New(&Config{Provider: provider, Logger: quiet})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Ensure(context.Background()); err != nil {
				t.Errorf("Ensure() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := provider.anon.Load(); n != 1 {
		t.Errorf("SignInAnonymously called %d times, want 1", n)
	}
	if s.Current() == nil || s.Current().UID != "anon-1" {
		t.Errorf("Current() = %+v", s.Current())
	}
}

func TestEnsure_PrefersToken(t *testing.T) {
	provider := &countingProvider{}
	s := New(&Config{Provider: provider, Token: "abc", Logger: quiet})

	id, err := s.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if id.UID != "user-abc" {
		t.Errorf("UID = %q, want user-abc", id.UID)
	}
	if provider.anon.Load() != 0 || provider.tokens.Load() != 1 {
		t.Errorf("anon=%d tokens=%d", provider.anon.Load(), provider.tokens.Load())
	}
}

func TestEnsure_FailureIsCachedAndWrapped(t *testing.T) {
	provider := &countingProvider{err: errors.New("network down")}
	s := New(&Config{Provider: provider, Logger: quiet})

	for i := 0; i < 3; i++ {
		_, err := s.Ensure(context.Background())
		if !errors.Is(err, ErrAuthUnavailable) {
			t.Fatalf("Ensure() error = %v, want ErrAuthUnavailable", err)
		}
	}
	if provider.anon.Load() != 1 {
		t.Errorf("provider called %d times, want 1", provider.anon.Load())
	}
	if s.Current() != nil {
		t.Error("Current() should be nil after failure")
	}
}

func TestEnsure_NilProvider(t *testing.T) {
	s := New(&Config{Logger: quiet})
	if _, err := s.Ensure(context.Background()); !errors.Is(err, ErrAuthUnavailable) {
		t.Errorf("Ensure() error = %v, want ErrAuthUnavailable", err)
	}
}

func TestOnChange(t *testing.T) {
	s := New(&Config{Provider: &countingProvider{}, Logger: quiet})

	var calls atomic.Int32
	cancel := s.OnChange(func(id *Identity) {
		if id == nil || id.UID != "anon-1" {
			t.Errorf("OnChange identity = %+v", id)
		}
		calls.Add(1)
	})
	defer cancel()

	if _, err := s.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("listener called %d times, want 1", calls.Load())
	}

	// Late subscribers get the resolved identity immediately.
	var late atomic.Int32
	s.OnChange(func(*Identity) { late.Add(1) })()
	if late.Load() != 1 {
		t.Errorf("late listener called %d times, want 1", late.Load())
	}
}

func TestJWTProvider_RoundTrip(t *testing.T) {
	p, err := NewJWTProvider("s3cret", "obra-test", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTProvider() error = %v", err)
	}

	anon, err := p.SignInAnonymously(context.Background())
	if err != nil {
		t.Fatalf("SignInAnonymously() error = %v", err)
	}
	if anon.UID == "" || !anon.Anonymous || anon.Token == "" {
		t.Fatalf("anonymous identity = %+v", anon)
	}

	again, err := p.SignInWithToken(context.Background(), anon.Token)
	if err != nil {
		t.Fatalf("SignInWithToken() error = %v", err)
	}
	if again.UID != anon.UID || !again.Anonymous {
		t.Errorf("SignInWithToken() = %+v, want uid %s", again, anon.UID)
	}

	shared, err := p.IssueFor("capataz")
	if err != nil {
		t.Fatalf("IssueFor() error = %v", err)
	}
	id, err := p.SignInWithToken(context.Background(), shared)
	if err != nil || id.UID != "capataz" || id.Anonymous {
		t.Errorf("SignInWithToken(shared) = %+v, %v", id, err)
	}
}

func TestJWTProvider_Rejects(t *testing.T) {
	p, _ := NewJWTProvider("s3cret", "obra-test", time.Hour)
	other, _ := NewJWTProvider("other", "obra-test", time.Hour)
	wrongIssuer, _ := NewJWTProvider("s3cret", "someone-else", time.Hour)
	expired, _ := NewJWTProvider("s3cret", "obra-test", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	foreign, _ := other.IssueFor("x")
	badIssuer, _ := wrongIssuer.IssueFor("x")
	stale, _ := expired.IssueFor("x")

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"wrong issuer", badIssuer},
		{"expired", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.SignInWithToken(context.Background(), tt.token); !errors.Is(err, ErrAuthUnavailable) {
				t.Errorf("SignInWithToken() error = %v, want ErrAuthUnavailable", err)
			}
		})
	}
}

func TestNewJWTProvider_NoSecret(t *testing.T) {
	if _, err := NewJWTProvider("", "", 0); !errors.Is(err, ErrAuthUnavailable) {
		t.Errorf("NewJWTProvider() error = %v, want ErrAuthUnavailable", err)
	}
}
