package authstate

import (
	"context"
	"time"

	"github.com/vhorizon/authstate/session"
)

// Session and User are re-exported so callers of the root package rarely need to
// import session directly.
type (
	Session = session.Session
	User    = session.User
	Event   = session.Event
)

// AuthClient is the auth collaborator. *authclient.Client satisfies it.
//
// GetSession returns (nil, nil) when the server confirms nobody is signed in and an
// error for anything that prevented it from answering.
type AuthClient interface {
	GetSession(ctx context.Context) (*session.Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn func(event session.Event, s *session.Session)) (unsubscribe func())
}

// RoleStore is the role-assignment collaborator. The roles package satisfies it.
type RoleStore interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// TokenStore is the local persistent store the auth client writes the session blob to.
// Load must report a missing key as tokenstore.ErrNotFound.
type TokenStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// QueryCache is the application's identity-scoped data cache.
type QueryCache interface {
	InvalidateAll()
	Clear()
}

type noopQueryCache struct{}

func (noopQueryCache) InvalidateAll() {}
func (noopQueryCache) Clear()         {}

// State is the resolver's lifecycle position.
type State uint8

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Source records where the current identity came from.
type Source uint8

const (
	SourceNone Source = iota
	SourceServer
	SourceLocalCache
	SourceEvent
)

func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceServer:
		return "server"
	case SourceLocalCache:
		return "local_cache"
	case SourceEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Outcome tags how initialization resolved.
type Outcome uint8

const (
	// OutcomeConfirmed means the server confirmed a signed-in user.
	OutcomeConfirmed Outcome = iota
	// OutcomeDegraded means a user was adopted from the local token store because the
	// server did not answer in time.
	OutcomeDegraded
	// OutcomeAbsent means no user: the server said so, or neither path produced one.
	OutcomeAbsent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// InitResult is the tagged result of Initialize.
//
// PrimaryErr is the primary fetch's error, or ErrInitTimeout, or the caller's context
// error. It is informational; Initialize always resolves.
type InitResult struct {
	Outcome    Outcome
	Source     Source
	TimedOut   bool
	PrimaryErr error
	Elapsed    time.Duration
	Snapshot   Snapshot
}

// Snapshot is an immutable view of the resolver state. User and Session must be
// treated as read-only.
type Snapshot struct {
	State   State
	User    *session.User
	Session *session.Session
	Loading bool
	IsAdmin bool
	Source  Source
	Version uint64
}

// UserID returns the current user's id or "".
func (s Snapshot) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// Authenticated reports whether the gate is open with a user present.
func (s Snapshot) Authenticated() bool {
	return !s.Loading && s.User != nil
}
