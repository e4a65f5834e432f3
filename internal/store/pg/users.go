package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"reviewhub.org/internal/auth"
)

var _ auth.Directory = (*Store)(nil)

// ResolveLogin finds an active user by login. Deactivated users resolve as
// not found so they can no longer be assigned records.
func (s *Store) ResolveLogin(ctx context.Context, login string) (auth.User, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return auth.User{}, fmt.Errorf("%w: login is required", auth.ErrInvalidInput)
	}
	var u auth.User
	err := s.db.QueryRowContext(ctx, `
		select uuid, login, name, active, created_at
		from users where login=$1 and active
	`, login).Scan(&u.UUID, &u.Login, &u.Name, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("%w: unknown user: %s", auth.ErrNotFound, login)
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

// CredentialsByLogin returns the stored password hash for token issuance.
func (s *Store) CredentialsByLogin(ctx context.Context, login string) (auth.User, string, error) {
	var u auth.User
	var hash string
	err := s.db.QueryRowContext(ctx, `
		select uuid, login, name, active, created_at, password_hash
		from users where login=$1 and active
	`, login).Scan(&u.UUID, &u.Login, &u.Name, &u.Active, &u.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, "", fmt.Errorf("%w: unknown user: %s", auth.ErrNotFound, login)
	}
	if err != nil {
		return auth.User{}, "", err
	}
	return u, hash, nil
}
