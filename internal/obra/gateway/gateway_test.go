package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/obracontrol/internal/obra/local"
	"github.com/mschirtzinger/obracontrol/internal/obra/remote"
	"github.com/mschirtzinger/obracontrol/internal/obra/schema"
	"github.com/mschirtzinger/obracontrol/internal/obra/session"
)

var quiet = log.New(io.Discard, "", 0)

type fixture struct {
	local  *local.Memory
	remote *remote.Memory
	gw     *Gateway
}

func signedInSession(t *testing.T) *session.Session {
	t.Helper()
	provider, err := session.NewJWTProvider("test-secret", "obra-test", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTProvider() error = %v", err)
	}
	return session.New(&session.Config{Provider: provider, Logger: quiet})
}

func setupGateway(t *testing.T, withRemote bool, sess *session.Session) *fixture {
	t.Helper()
	f := &fixture{local: local.NewMemory()}

	config := DefaultConfig()
	config.Logger = quiet
	config.PollInterval = 10 * time.Millisecond

	var rs remote.DocumentStore
	if withRemote {
		f.remote = remote.NewMemory()
		rs = f.remote
		config.Notifier = f.remote
	}
	gw, err := NewWithConfig(f.local, rs, sess, config)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	f.gw = gw
	return f
}

func sampleSnapshot(name string) schema.Snapshot {
	snap := schema.Seed()
	snap[1].Name = name
	return snap
}

func waitResult(t *testing.T, ch <-chan SaveResult) SaveResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for save result")
		return SaveResult{}
	}
}

func waitStatus(t *testing.T, gw *Gateway, want Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if gw.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", gw.Status(), want)
}

func TestNewWithConfig_NilLocal(t *testing.T) {
	if _, err := NewWithConfig(nil, nil, nil, nil); err == nil {
		t.Error("NewWithConfig() expected error for nil local store")
	}
}

func TestLoadInitial_FreshKeyReturnsSeed(t *testing.T) {
	f := setupGateway(t, false, nil)

	got, err := f.gw.LoadInitial(context.Background(), "OBRA-0001")
	if err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}
	if !reflect.DeepEqual(got, schema.Seed()) {
		t.Errorf("LoadInitial() = %+v, want seed", got)
	}
	p := got[1]
	if p.Name != schema.DefaultProjectName || len(p.Logs) != 0 || len(p.Materials) != 0 ||
		len(p.Tasks) != 0 || len(p.Stages) != 1 || len(p.Labor) != 1 {
		t.Errorf("seed project = %+v", p)
	}
}

func TestLoadInitial_CorruptCacheFallsBackToSeed(t *testing.T) {
	f := setupGateway(t, false, nil)
	ctx := context.Background()
	_ = f.local.Set(ctx, local.DataKey("OBRA-0002"), "{not json")

	got, err := f.gw.LoadInitial(ctx, "OBRA-0002")
	if err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}
	if got[1] == nil || got[1].Name != schema.DefaultProjectName {
		t.Errorf("LoadInitial() = %+v, want seed", got)
	}
}

func TestSave_LocalFirstEvenWhenRemoteFails(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	f.remote.FailSets(errors.New("unavailable"))
	ctx := context.Background()
	snap := sampleSnapshot("Casa X")

	ch, err := f.gw.Save(ctx, "OBRA-1000", snap)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// The local write is visible before the remote outcome is known.
	got, err := f.gw.LoadInitial(ctx, "OBRA-1000")
	if err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("LoadInitial() after Save() = %+v, want %+v", got[1], snap[1])
	}

	res := waitResult(t, ch)
	if !errors.Is(res.Err, ErrRemoteWrite) {
		t.Errorf("SaveResult.Err = %v, want ErrRemoteWrite", res.Err)
	}
	if f.gw.Status() != StatusError {
		t.Errorf("Status() = %s, want %s", f.gw.Status(), StatusError)
	}

	got, _ = f.gw.LoadInitial(ctx, "OBRA-1000")
	if got[1].Name != "Casa X" {
		t.Errorf("remote failure rolled back local data: %q", got[1].Name)
	}
}

func TestSave_WritesRemote(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	ctx := context.Background()
	snap := sampleSnapshot("Casa Y")

	ch, err := f.gw.Save(ctx, "OBRA-2000", snap)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	res := waitResult(t, ch)
	if !res.Remote || res.Err != nil {
		t.Fatalf("SaveResult = %+v", res)
	}
	if f.gw.Status() != StatusSynced {
		t.Errorf("Status() = %s, want %s", f.gw.Status(), StatusSynced)
	}

	doc, err := f.remote.Get(ctx, remote.DocPath(DefaultAppID, "OBRA-2000"))
	if err != nil {
		t.Fatalf("remote Get() error = %v", err)
	}
	var remoteSnap schema.Snapshot
	if err := json.Unmarshal(doc.FullData, &remoteSnap); err != nil {
		t.Fatalf("remote payload unreadable: %v", err)
	}
	if !reflect.DeepEqual(remoteSnap, snap) {
		t.Errorf("remote payload = %+v", remoteSnap[1])
	}
}

func TestSave_WithoutIdentityIsOffline(t *testing.T) {
	f := setupGateway(t, true, session.New(&session.Config{Logger: quiet}))

	ch, err := f.gw.Save(context.Background(), "OBRA-3000", sampleSnapshot("Casa Z"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	res := waitResult(t, ch)
	if !res.Skipped {
		t.Errorf("SaveResult = %+v, want Skipped", res)
	}
	if f.gw.Status() != StatusOffline {
		t.Errorf("Status() = %s, want offline", f.gw.Status())
	}
	if f.remote.Writes() != 0 {
		t.Errorf("remote received %d writes without identity", f.remote.Writes())
	}
}

func TestSave_LocalOnly(t *testing.T) {
	f := setupGateway(t, false, nil)

	ch, err := f.gw.Save(context.Background(), "OBRA-3001", sampleSnapshot("Casa Z"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if res := waitResult(t, ch); !res.Skipped {
		t.Errorf("SaveResult = %+v, want Skipped", res)
	}
}

func TestSave_LocalFailure(t *testing.T) {
	f := setupGateway(t, false, nil)
	f.local.FailWrites = errors.New("disk full")

	if _, err := f.gw.Save(context.Background(), "OBRA-3002", sampleSnapshot("x")); err == nil {
		t.Error("Save() expected local write error")
	}
}

func TestStaleWriteGuard(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	ctx := context.Background()
	key := "OBRA-4000"

	if _, err := f.gw.session.Ensure(ctx); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	older := f.gw.nextSeq(key)
	newer := f.gw.nextSeq(key)

	res := f.gw.writeRemote(ctx, key, newer, []byte(`{"1":{"name":"new"}}`))
	if !res.Remote {
		t.Fatalf("newer write = %+v", res)
	}
	res = f.gw.writeRemote(ctx, key, older, []byte(`{"1":{"name":"old"}}`))
	if !res.Superseded {
		t.Fatalf("older write = %+v, want Superseded", res)
	}

	doc, _ := f.remote.Get(ctx, remote.DocPath(DefaultAppID, key))
	if string(doc.FullData) != `{"1":{"name":"new"}}` {
		t.Errorf("remote holds %s, want the newer payload", doc.FullData)
	}

	// Without the guard the late write lands.
	f.gw.config.StaleWriteGuard = false
	res = f.gw.writeRemote(ctx, key, older, []byte(`{"1":{"name":"old"}}`))
	if !res.Remote {
		t.Errorf("unguarded older write = %+v", res)
	}
}

func TestSubscribeRemote_SeedsMissingDocument(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	ctx := context.Background()
	key := "OBRA-5000"
	snap := sampleSnapshot("Casa Local")
	data, _ := json.Marshal(snap)
	_ = f.local.Set(ctx, local.DataKey(key), string(data))

	unsubscribe, _ := f.gw.SubscribeRemote(ctx, key, nil, func(err error) {
		t.Errorf("unexpected onError: %v", err)
	})
	defer unsubscribe()

	waitStatus(t, f.gw, StatusSynced)
	doc, err := f.remote.Get(ctx, remote.DocPath(DefaultAppID, key))
	if err != nil {
		t.Fatalf("remote document was not seeded: %v", err)
	}
	if string(doc.FullData) != string(data) {
		t.Errorf("seeded payload = %s, want local snapshot", doc.FullData)
	}
}

func TestSubscribeRemote_LastRemoteWins(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	ctx := context.Background()
	key := "OBRA-6000"

	ch, _ := f.gw.Save(ctx, key, sampleSnapshot("Local S"))
	waitResult(t, ch)

	var (
		mu       sync.Mutex
		received []schema.Snapshot
	)
	unsubscribe, _ := f.gw.SubscribeRemote(ctx, key, func(s schema.Snapshot) {
		mu.Lock()
		received = append(received, s)
		mu.Unlock()
	}, nil)
	defer unsubscribe()

	// Another device writes R.
	r := sampleSnapshot("Remote R")
	payload, _ := json.Marshal(r)
	if _, err := f.remote.SetMerge(ctx, remote.DocPath(DefaultAppID, key), payload); err != nil {
		t.Fatalf("SetMerge() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received %d snapshots, want 1", len(received))
	}
	if !reflect.DeepEqual(received[0], r) {
		t.Errorf("onSnapshot got %+v, want remote R", received[0][1])
	}
	cached, _ := f.gw.LoadInitial(ctx, key)
	if cached[1].Name != "Remote R" {
		t.Errorf("local cache = %q, want Remote R", cached[1].Name)
	}
}

func TestSubscribeRemote_ReadFailure(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	f.remote.FailGets(remote.ErrPermission)

	errs := make(chan error, 1)
	unsubscribe, _ := f.gw.SubscribeRemote(context.Background(), "OBRA-7000", nil, func(err error) {
		errs <- err
	})
	defer unsubscribe()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrRemoteRead) || !errors.Is(err, remote.ErrPermission) {
			t.Errorf("onError(%v), want ErrRemoteRead wrapping ErrPermission", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("onError was not called")
	}
	if f.gw.Status() != StatusError {
		t.Errorf("Status() = %s, want error", f.gw.Status())
	}
}

func TestSubscribeRemote_NoRemote(t *testing.T) {
	f := setupGateway(t, false, nil)
	unsubscribe, ready := f.gw.SubscribeRemote(context.Background(), "OBRA-8000", nil, nil)
	unsubscribe()
	select {
	case <-ready:
	default:
		t.Error("ready channel should be closed without a remote store")
	}
	if f.gw.Status() != StatusOffline {
		t.Errorf("Status() = %s, want offline", f.gw.Status())
	}
}

func TestStatusTracker_Listeners(t *testing.T) {
	tracker := NewStatusTracker(nil)
	var seen []Status
	cancel := tracker.OnStatus(func(s Status) { seen = append(seen, s) })

	tracker.Set(StatusSyncing)
	tracker.Set(StatusSyncing)
	tracker.Set(StatusSynced)
	cancel()
	tracker.Set(StatusError)

	want := []Status{StatusSyncing, StatusSynced}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("listener saw %v, want %v", seen, want)
	}
}

func TestWait(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	for i := 0; i < 5; i++ {
		if _, err := f.gw.Save(context.Background(), "OBRA-9000", sampleSnapshot("x")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.gw.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if f.remote.Writes() == 0 {
		t.Error("no remote writes after Wait()")
	}
}

// The ready channel closes only after the existing remote document has been
// delivered, so callers can act on the remote state rather than the cache.
func TestSubscribeRemote_ReadyAfterFirstSnapshot(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	ctx := context.Background()
	key := "OBRA-5100"

	cached, _ := json.Marshal(sampleSnapshot("Cache viejo"))
	_ = f.local.Set(ctx, local.DataKey(key), string(cached))
	newer, _ := json.Marshal(sampleSnapshot("Otro dispositivo"))
	if _, err := f.remote.SetMerge(ctx, remote.DocPath(DefaultAppID, key), newer); err != nil {
		t.Fatalf("SetMerge() error = %v", err)
	}

	var (
		mu  sync.Mutex
		got string
	)
	unsubscribe, ready := f.gw.SubscribeRemote(ctx, key, func(s schema.Snapshot) {
		mu.Lock()
		got = s[1].Name
		mu.Unlock()
	}, nil)
	defer unsubscribe()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("ready was not closed")
	}
	mu.Lock()
	defer mu.Unlock()
	if got != "Otro dispositivo" {
		t.Errorf("snapshot before ready = %q, want the remote one", got)
	}
}

func TestSubscribeRemote_ReadyOnFailure(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	f.remote.FailGets(remote.ErrPermission)

	unsubscribe, ready := f.gw.SubscribeRemote(context.Background(), "OBRA-5200", nil, nil)
	defer unsubscribe()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("ready was not closed after a failed read")
	}
}

// A remote document carrying one of our own earlier saves must not roll the
// local cache back to it.
func TestHandleRemote_IgnoresOwnStaleEcho(t *testing.T) {
	f := setupGateway(t, true, signedInSession(t))
	ctx := context.Background()
	key := "OBRA-5300"

	first := sampleSnapshot("Primero")
	if r := waitResult(t, mustSave(t, f.gw, key, first)); !r.Remote {
		t.Fatalf("first save = %+v", r)
	}
	if r := waitResult(t, mustSave(t, f.gw, key, sampleSnapshot("Segundo"))); !r.Remote {
		t.Fatalf("second save = %+v", r)
	}

	echo, _ := json.Marshal(first)
	path := remote.DocPath(DefaultAppID, key)
	f.gw.handleRemote(ctx, key, path, remote.Event{Doc: &remote.Document{Path: path, FullData: echo, Version: 99}},
		func(schema.Snapshot) { t.Error("own stale echo was applied") })

	cached, _ := f.gw.LoadInitial(ctx, key)
	if cached[1].Name != "Segundo" {
		t.Errorf("local cache = %q, want Segundo", cached[1].Name)
	}

	// The same payload from another writer is applied once the guard is off.
	f.gw.config.StaleWriteGuard = false
	applied := false
	f.gw.handleRemote(ctx, key, path, remote.Event{Doc: &remote.Document{Path: path, FullData: echo, Version: 100}},
		func(schema.Snapshot) { applied = true })
	if !applied {
		t.Error("unguarded remote snapshot was not applied")
	}
}

func mustSave(t *testing.T, gw *Gateway, key string, snap schema.Snapshot) <-chan SaveResult {
	t.Helper()
	ch, err := gw.Save(context.Background(), key, snap)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return ch
}
