package authstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vhorizon/authstate/session"
	"github.com/vhorizon/authstate/tokenstore"
)

type keyedAuth struct {
	*fakeAuth
	key string
}

func (k keyedAuth) StorageKey() string { return k.key }

func TestBuildRequiresCollaborators(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
		want  error
	}{
		{
			name: "auth client",
			build: func() *Builder {
				return New().WithConfig(testConfig()).WithRoleStore(newFakeRoles()).WithTokenStore(tokenstore.NewMemoryStore())
			},
			want: ErrMissingAuthClient,
		},
		{
			name: "role store",
			build: func() *Builder {
				return New().WithConfig(testConfig()).WithAuthClient(newFakeAuth()).WithTokenStore(tokenstore.NewMemoryStore())
			},
			want: ErrMissingRoleStore,
		},
		{
			name: "token store",
			build: func() *Builder {
				return New().WithConfig(testConfig()).WithAuthClient(newFakeAuth()).WithRoleStore(newFakeRoles())
			},
			want: ErrMissingTokenStore,
		},
		{
			name: "storage key",
			build: func() *Builder {
				return New().WithAuthClient(newFakeAuth()).WithRoleStore(newFakeRoles()).WithTokenStore(tokenstore.NewMemoryStore())
			},
			want: ErrMissingStorageKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Init.Timeout = 0
	_, err := New().WithConfig(cfg).
		WithAuthClient(newFakeAuth()).
		WithRoleStore(newFakeRoles()).
		WithTokenStore(tokenstore.NewMemoryStore()).
		Build()
	if err == nil {
		t.Fatal("expected config error")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).
		WithAuthClient(newFakeAuth()).
		WithRoleStore(newFakeRoles()).
		WithTokenStore(tokenstore.NewMemoryStore())

	r, err := b.Build()
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	defer r.Close()

	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestStorageKeyResolution(t *testing.T) {
	base := func() *Builder {
		return New().WithRoleStore(newFakeRoles()).WithTokenStore(tokenstore.NewMemoryStore())
	}

	cfg := DefaultConfig()
	cfg.Storage.ProjectURL = "https://abcdefgh.supabase.co"
	r, err := base().WithConfig(cfg).WithAuthClient(newFakeAuth()).Build()
	if err != nil {
		t.Fatalf("build from project url: %v", err)
	}
	defer r.Close()
	if r.StorageKey() != "sb-abcdefgh-auth-token" {
		t.Fatalf("unexpected key %q", r.StorageKey())
	}

	r2, err := base().WithAuthClient(keyedAuth{fakeAuth: newFakeAuth(), key: "sb-fromclient-auth-token"}).Build()
	if err != nil {
		t.Fatalf("build from auth client: %v", err)
	}
	defer r2.Close()
	if r2.StorageKey() != "sb-fromclient-auth-token" {
		t.Fatalf("unexpected key %q", r2.StorageKey())
	}

	cfg.Storage.ProjectURL = "::not a url"
	if _, err := base().WithConfig(cfg).WithAuthClient(newFakeAuth()).Build(); !errors.Is(err, session.ErrInvalidProjectURL) {
		t.Fatalf("expected invalid project url, got %v", err)
	}
}

func TestAuditEventsEmitted(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(16)

	auth := newFakeAuth()
	auth.getSession = func(context.Context) (*session.Session, error) {
		return testSession("u1", "server-token"), nil
	}
	r, err := New().WithConfig(cfg).
		WithAuthClient(auth).
		WithRoleStore(newFakeRoles()).
		WithTokenStore(tokenstore.NewMemoryStore()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	r.Initialize(context.Background())
	if err := r.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	r.Close()

	want := []string{auditEventRoleResolved, auditEventSessionInitialized, auditEventSignOut}
	for _, eventType := range want {
		select {
		case ev := <-sink.Events():
			if ev.EventType != eventType {
				t.Fatalf("expected %s, got %s", eventType, ev.EventType)
			}
			if ev.Timestamp.IsZero() {
				t.Fatalf("%s has no timestamp", ev.EventType)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing audit event %s", eventType)
		}
	}
}

func TestSnapshotContextRoundTrip(t *testing.T) {
	if _, ok := SnapshotFromContext(context.Background()); ok {
		t.Fatal("empty context must not carry a snapshot")
	}
	in := Snapshot{State: StateAuthenticated, User: &session.User{ID: "u1"}, Version: 4}
	out, ok := SnapshotFromContext(WithSnapshot(context.Background(), in))
	if !ok || out.UserID() != "u1" || out.Version != 4 {
		t.Fatalf("unexpected snapshot %+v", out)
	}
}
