package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads user_roles(user_id, role) directly.
type PostgresStore struct {
	db Querier
}

func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if err := checkArgs(userID, role); err != nil {
		return false, err
	}
	const q = `SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2 LIMIT 1`

	var one int
	err := s.db.QueryRow(ctx, q, userID, role).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("roles: lookup: %w", err)
	}
	return true, nil
}

// Grant assigns role to userID. Granting an existing assignment is a no-op.
func (s *PostgresStore) Grant(ctx context.Context, userID, role string) error {
	if err := checkArgs(userID, role); err != nil {
		return err
	}
	const q = `
INSERT INTO user_roles (user_id, role)
VALUES ($1, $2)
ON CONFLICT (user_id, role) DO NOTHING;
`
	if _, err := s.db.Exec(ctx, q, userID, role); err != nil {
		return fmt.Errorf("roles: grant: %w", err)
	}
	return nil
}

// Revoke removes the assignment and reports whether one existed.
func (s *PostgresStore) Revoke(ctx context.Context, userID, role string) (bool, error) {
	if err := checkArgs(userID, role); err != nil {
		return false, err
	}
	const q = `DELETE FROM user_roles WHERE user_id = $1 AND role = $2`
	tag, err := s.db.Exec(ctx, q, userID, role)
	if err != nil {
		return false, fmt.Errorf("roles: revoke: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
