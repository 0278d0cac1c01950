package authclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vhorizon/authstate/internal/retry"
	"github.com/vhorizon/authstate/session"
	"github.com/vhorizon/authstate/tokenstore"
)

// fakeGoTrue is an in-process stand-in for the auth backend.
type fakeGoTrue struct {
	srv *httptest.Server

	mu             sync.Mutex
	users          map[string]string // email -> password
	validTokens    map[string]string // access token -> user id
	refreshTokens  map[string]string // refresh token -> user id
	pkceChallenges map[string]string // auth code -> expected verifier
	userStatus     int               // forced status for GET /user
	loggedOut      []string

	passwordCalls atomic.Int32
	userCalls     atomic.Int32
	failNext      atomic.Int32 // respond 503 this many times
	seq           atomic.Int32
}

func newFakeGoTrue(t *testing.T) *fakeGoTrue {
	t.Helper()
	f := &fakeGoTrue{
		users:          map[string]string{"agent@realty.co": "correct-horse"},
		validTokens:    map[string]string{},
		refreshTokens:  map[string]string{},
		pkceChallenges: map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", f.token)
	mux.HandleFunc("/auth/v1/user", f.user)
	mux.HandleFunc("/auth/v1/logout", f.logout)
	mux.HandleFunc("/auth/v1/signup", f.signup)
	f.srv = httptest.NewServer(f.gate(mux))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGoTrue) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon-key" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "No API key found in request"})
			return
		}
		if f.failNext.Load() > 0 {
			f.failNext.Add(-1)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "upstream unavailable"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGoTrue) issue(userID, email string) map[string]any {
	n := f.seq.Add(1)
	access := "access-" + userID + "-" + string(rune('a'+n))
	refresh := "refresh-" + userID + "-" + string(rune('a'+n))
	f.validTokens[access] = userID
	f.refreshTokens[refresh] = userID
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": refresh,
		"user":          map[string]any{"id": userID, "email": email},
	}
}

func (f *fakeGoTrue) token(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		f.passwordCalls.Add(1)
		if pw, ok := f.users[body["email"]]; !ok || pw != body["password"] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "invalid_credentials", "msg": "Invalid login credentials"})
			return
		}
		writeJSON(w, http.StatusOK, f.issue("user-"+strings.Split(body["email"], "@")[0], body["email"]))
	case "refresh_token":
		uid, ok := f.refreshTokens[body["refresh_token"]]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token"})
			return
		}
		delete(f.refreshTokens, body["refresh_token"])
		writeJSON(w, http.StatusOK, f.issue(uid, ""))
	case "pkce":
		want, ok := f.pkceChallenges[body["auth_code"]]
		if !ok || want != codeChallenge(body["code_verifier"]) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "bad_code_verifier", "msg": "code challenge does not match"})
			return
		}
		writeJSON(w, http.StatusOK, f.issue("user-oauth", "oauth@realty.co"))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (f *fakeGoTrue) user(w http.ResponseWriter, r *http.Request) {
	f.userCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userStatus != 0 {
		writeJSON(w, f.userStatus, map[string]string{"msg": "forced"})
		return
	}
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	uid, ok := f.validTokens[tok]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": uid, "email": "verified@realty.co", "user_metadata": map[string]any{"full_name": "Verified Agent"}})
}

func (f *fakeGoTrue) logout(w http.ResponseWriter, r *http.Request) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.validTokens[tok]; !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
		return
	}
	delete(f.validTokens, tok)
	f.loggedOut = append(f.loggedOut, tok)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeGoTrue) signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[body.Email]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error_code": "user_already_exists", "msg": "User already registered"})
		return
	}
	f.users[body.Email] = body.Password
	if strings.HasPrefix(body.Email, "confirm") {
		writeJSON(w, http.StatusOK, map[string]any{"id": "user-pending", "email": body.Email})
		return
	}
	writeJSON(w, http.StatusOK, f.issue("user-new", body.Email))
}

func (f *fakeGoTrue) setUserStatus(status int) {
	f.mu.Lock()
	f.userStatus = status
	f.mu.Unlock()
}

func (f *fakeGoTrue) registerPKCE(code, challenge string) {
	f.mu.Lock()
	f.pkceChallenges[code] = challenge
	f.mu.Unlock()
}

func newTestClient(t *testing.T, f *fakeGoTrue, store tokenstore.Store) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ProjectURL = f.srv.URL
	cfg.APIKey = "anon-key"
	cfg.Retry = retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, RateLimitBackoff: time.Millisecond}
	c, err := New(cfg, store)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

type recordedEvent struct {
	event  session.Event
	userID string
}

func record(c *Client) <-chan recordedEvent {
	ch := make(chan recordedEvent, 16)
	c.OnAuthStateChange(func(e session.Event, s *session.Session) {
		ch <- recordedEvent{event: e, userID: s.UserID()}
	})
	return ch
}

func nextEvent(t *testing.T, ch <-chan recordedEvent) recordedEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth event")
		return recordedEvent{}
	}
}
