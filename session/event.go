package session

// Event names an auth state change pushed by the auth collaborator.
type Event string

const (
	EventInitialSession   Event = "INITIAL_SESSION"
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventTokenRefreshed   Event = "TOKEN_REFRESHED"
	EventUserUpdated      Event = "USER_UPDATED"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

func (e Event) String() string { return string(e) }

// Known reports whether e is one of the events the backend emits.
func (e Event) Known() bool {
	switch e {
	case EventInitialSession, EventSignedIn, EventSignedOut,
		EventTokenRefreshed, EventUserUpdated, EventPasswordRecovery:
		return true
	}
	return false
}
