package authstate

import "errors"

var (
	// ErrRemoteSignOut wraps the cause when the auth backend's sign-out failed or timed
	// out. Local state is cleared regardless.
	ErrRemoteSignOut = errors.New("remote sign-out failed")
	// ErrSignOutTimeout is the cause when the remote sign-out exceeded its budget.
	ErrSignOutTimeout = errors.New("sign-out timed out")
	// ErrInitTimeout is recorded in InitResult.PrimaryErr when the primary fetch lost
	// the race against Init.Timeout.
	ErrInitTimeout = errors.New("session fetch timed out")
	// ErrBuilderUsed is returned by a second Build on the same Builder.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrMissingAuthClient is returned by Build without an auth client.
	ErrMissingAuthClient = errors.New("auth client required")
	// ErrMissingRoleStore is returned by Build without a role store.
	ErrMissingRoleStore = errors.New("role store required")
	// ErrMissingTokenStore is returned by Build without a token store.
	ErrMissingTokenStore = errors.New("token store required")
	// ErrMissingStorageKey is returned by Build when no storage key can be determined.
	ErrMissingStorageKey = errors.New("storage key required")
)
