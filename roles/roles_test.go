package roles

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct{ err error }

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int)) = 1
	return nil
}

type fakeDB struct {
	rowErr  error
	execErr error
	tag     pgconn.CommandTag
	sql     []string
	args    [][]any
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return fakeRow{err: f.rowErr}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return f.tag, f.execErr
}

func TestPostgresStoreHasRole(t *testing.T) {
	ctx := context.Background()

	db := &fakeDB{}
	ok, err := NewPostgresStore(db).HasRole(ctx, "u-1", "admin")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, db.sql[0], "FROM user_roles WHERE user_id = $1 AND role = $2 LIMIT 1")
	assert.Equal(t, []any{"u-1", "admin"}, db.args[0])

	ok, err = NewPostgresStore(&fakeDB{rowErr: pgx.ErrNoRows}).HasRole(ctx, "u-1", "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("connection reset")
	ok, err = NewPostgresStore(&fakeDB{rowErr: boom}).HasRole(ctx, "u-1", "admin")
	require.ErrorIs(t, err, boom)
	assert.False(t, ok)

	db = &fakeDB{}
	_, err = NewPostgresStore(db).HasRole(ctx, " ", "admin")
	require.ErrorIs(t, err, ErrEmptyUserID)
	assert.Empty(t, db.sql, "no query for an empty id")
}

func TestPostgresStoreGrantRevoke(t *testing.T) {
	ctx := context.Background()

	db := &fakeDB{}
	require.NoError(t, NewPostgresStore(db).Grant(ctx, "u-1", "admin"))
	assert.Contains(t, db.sql[0], "ON CONFLICT (user_id, role) DO NOTHING")

	db = &fakeDB{tag: pgconn.NewCommandTag("DELETE 1")}
	removed, err := NewPostgresStore(db).Revoke(ctx, "u-1", "admin")
	require.NoError(t, err)
	assert.True(t, removed)

	db = &fakeDB{tag: pgconn.NewCommandTag("DELETE 0")}
	removed, err = NewPostgresStore(db).Revoke(ctx, "u-1", "admin")
	require.NoError(t, err)
	assert.False(t, removed)

	db = &fakeDB{execErr: errors.New("read-only")}
	require.Error(t, NewPostgresStore(db).Grant(ctx, "u-1", "admin"))
}

type seenRequest struct {
	query, auth, apiKey string
}

func TestRESTStoreHasRole(t *testing.T) {
	seen := make(chan seenRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- seenRequest{query: r.URL.RawQuery, auth: r.Header.Get("Authorization"), apiKey: r.Header.Get("apikey")}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/rest/v1/user_roles" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("user_id") == "eq.u-1" {
			_, _ = w.Write([]byte(`[{"role":"admin"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	ts := func(context.Context) (string, error) { return "user-access-token", nil }
	s := NewRESTStore(srv.URL+"/", "anon-key", WithTokenSource(ts), WithHTTPClient(srv.Client()))

	ok, err := s.HasRole(context.Background(), "u-1", "admin")
	require.NoError(t, err)
	assert.True(t, ok)
	got := <-seen
	assert.Contains(t, got.query, "user_id=eq.u-1")
	assert.Contains(t, got.query, "role=eq.admin")
	assert.Contains(t, got.query, "limit=1")
	assert.Equal(t, "Bearer user-access-token", got.auth)
	assert.Equal(t, "anon-key", got.apiKey)

	ok, err = s.HasRole(context.Background(), "u-2", "admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRESTStoreFallsBackToAPIKey(t *testing.T) {
	seen := make(chan seenRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- seenRequest{auth: r.Header.Get("Authorization")}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := NewRESTStore(srv.URL, "anon-key").HasRole(context.Background(), "u", "admin")
	require.NoError(t, err)
	assert.Equal(t, "Bearer anon-key", (<-seen).auth)
}

func TestRESTStoreErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("user_id") {
		case "eq.garbled":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"boom"}`))
		}
	}))
	defer srv.Close()
	s := NewRESTStore(srv.URL, "k")

	_, err := s.HasRole(context.Background(), "u", "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	_, err = s.HasRole(context.Background(), "garbled", "admin")
	require.Error(t, err)

	failing := NewRESTStore(srv.URL, "k", WithTokenSource(func(context.Context) (string, error) {
		return "", errors.New("no session")
	}))
	_, err = failing.HasRole(context.Background(), "u", "admin")
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	ok, err := m.HasRole(ctx, "u", "admin")
	require.NoError(t, err)
	assert.False(t, ok)

	m.Grant("u", "admin")
	ok, _ = m.HasRole(ctx, "u", "admin")
	assert.True(t, ok)
	ok, _ = m.HasRole(ctx, "u", "agent")
	assert.False(t, ok)

	m.Revoke("u", "admin")
	ok, _ = m.HasRole(ctx, "u", "admin")
	assert.False(t, ok)

	_, err = m.HasRole(ctx, "", "admin")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}
