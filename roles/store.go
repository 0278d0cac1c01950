package roles

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrEmptyUserID is returned when a lookup is attempted without a user id.
var ErrEmptyUserID = errors.New("roles: empty user id")

// Store looks up role assignments.
type Store interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

func checkArgs(userID, role string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(role) == "" {
		return errors.New("roles: empty role")
	}
	return nil
}

// MemoryStore is an in-process role table.
type MemoryStore struct {
	mu    sync.RWMutex
	roles map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{roles: make(map[string]map[string]struct{})}
}

func (m *MemoryStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if err := checkArgs(userID, role); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.roles[userID][role]
	return ok, nil
}

func (m *MemoryStore) Grant(userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.roles[userID]
	if !ok {
		set = make(map[string]struct{})
		m.roles[userID] = set
	}
	set[role] = struct{}{}
}

func (m *MemoryStore) Revoke(userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles[userID], role)
	if len(m.roles[userID]) == 0 {
		delete(m.roles, userID)
	}
}
