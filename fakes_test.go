package authstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vhorizon/authstate/session"
	"github.com/vhorizon/authstate/tokenstore"
)

const testStorageKey = "sb-testproj-auth-token"

type fakeAuth struct {
	mu         sync.Mutex
	getSession func(ctx context.Context) (*session.Session, error)
	signOut    func(ctx context.Context) error
	listeners  map[int]func(session.Event, *session.Session)
	nextID     int
	getCalls   int
	signOuts   int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{listeners: make(map[int]func(session.Event, *session.Session))}
}

func (f *fakeAuth) GetSession(ctx context.Context) (*session.Session, error) {
	f.mu.Lock()
	f.getCalls++
	fn := f.getSession
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOuts++
	fn := f.signOut
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (f *fakeAuth) OnAuthStateChange(fn func(session.Event, *session.Session)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeAuth) emit(event session.Event, s *session.Session) {
	f.mu.Lock()
	fns := make([]func(session.Event, *session.Session), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event, s)
	}
}

func (f *fakeAuth) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeAuth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

// hangUntilCancelled blocks GetSession until its context ends.
func hangUntilCancelled(ctx context.Context) (*session.Session, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeRoles struct {
	mu      sync.Mutex
	admins  map[string]bool
	err     error
	block   chan struct{}
	started chan string
	calls   atomic.Int64
}

func newFakeRoles(admins ...string) *fakeRoles {
	f := &fakeRoles{admins: make(map[string]bool)}
	for _, id := range admins {
		f.admins[id] = true
	}
	return f
}

func (f *fakeRoles) HasRole(ctx context.Context, userID, role string) (bool, error) {
	f.calls.Add(1)
	f.mu.Lock()
	block, started, err, admin := f.block, f.started, f.err, f.admins[userID]
	f.mu.Unlock()

	if started != nil {
		started <- userID
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if err != nil {
		return false, err
	}
	return admin && role == "admin", nil
}

type fakeCache struct {
	invalidations atomic.Int64
	clears        atomic.Int64
}

func (c *fakeCache) InvalidateAll() { c.invalidations.Add(1) }
func (c *fakeCache) Clear()         { c.clears.Add(1) }

// hangingTokens blocks every call until its context ends.
type hangingTokens struct{}

func (hangingTokens) Load(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingTokens) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func testSession(userID, token string) *session.Session {
	return &session.Session{
		AccessToken:  token,
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		RefreshToken: "refresh-" + userID,
		User: &session.User{
			ID:    userID,
			Email: userID + "@example.com",
		},
	}
}

func storeBlob(t *testing.T, store *tokenstore.MemoryStore, s *session.Session) {
	t.Helper()
	blob, err := session.Encode(s)
	if err != nil {
		t.Fatalf("encode session: %v", err)
	}
	if err := store.Save(context.Background(), testStorageKey, blob); err != nil {
		t.Fatalf("save blob: %v", err)
	}
}

type harness struct {
	resolver *Resolver
	auth     *fakeAuth
	roles    *fakeRoles
	tokens   *tokenstore.MemoryStore
	cache    *fakeCache
	clock    *clockwork.FakeClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Init.LateRefine = false
	cfg.Init.Retry = RetryConfig{MaxAttempts: 1}
	cfg.Storage.Key = testStorageKey
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		auth:   newFakeAuth(),
		roles:  newFakeRoles(),
		tokens: tokenstore.NewMemoryStore(),
		cache:  &fakeCache{},
		clock:  clockwork.NewFakeClock(),
	}
	r, err := New().
		WithConfig(cfg).
		WithAuthClient(h.auth).
		WithRoleStore(h.roles).
		WithTokenStore(h.tokens).
		WithQueryCache(h.cache).
		WithClock(h.clock).
		Build()
	if err != nil {
		t.Fatalf("build resolver: %v", err)
	}
	t.Cleanup(r.Close)
	h.resolver = r
	return h
}

// initializeAsync runs Initialize in the background and returns a channel for its result.
func (h *harness) initializeAsync(ctx context.Context) <-chan InitResult {
	out := make(chan InitResult, 1)
	go func() { out <- h.resolver.Initialize(ctx) }()
	return out
}

// advanceWhenBlocked waits for n timers on the fake clock and then moves it forward by d.
func (h *harness) advanceWhenBlocked(t *testing.T, n int, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
	h.clock.Advance(d)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatal("timed out waiting for result")
		return zero
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// advanceUntil keeps moving the fake clock forward by step until ch yields.
func advanceUntil[T any](t *testing.T, clock *clockwork.FakeClock, ch <-chan T, step time.Duration) T {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case v := <-ch:
			return v
		default:
		}
		clock.Advance(step)
		time.Sleep(time.Millisecond)
	}
	var zero T
	t.Fatal("timed out advancing the clock")
	return zero
}
