package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no value is stored under the key.
var ErrNotFound = errors.New("tokenstore: key not found")

// ErrUnavailable wraps backend failures (I/O, network) so callers can tell them from
// a missing key.
var ErrUnavailable = errors.New("tokenstore: unavailable")

// Store is a string-keyed blob store. Delete of an absent key succeeds.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

func validKey(key string) error {
	if key == "" {
		return errors.New("tokenstore: empty key")
	}
	return nil
}
