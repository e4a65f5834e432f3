package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// User is a directory entry. Assignees are referenced by UUID from records; a
// dangling reference is tolerated (the user may have been deleted).
type User struct {
	UUID      string
	Login     string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// Directory resolves logins to users.
type Directory interface {
	ResolveLogin(ctx context.Context, login string) (User, error)
}

// MemDirectory is an in-process Directory for tests and bootstrap wiring.
type MemDirectory struct {
	mu    sync.RWMutex
	users map[string]User // login -> user
}

// NewMemDirectory creates an empty directory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{users: make(map[string]User)}
}

// Add registers a user.
func (d *MemDirectory) Add(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.Login] = u
}

func (d *MemDirectory) ResolveLogin(ctx context.Context, login string) (User, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return User{}, fmt.Errorf("%w: login is required", ErrInvalidInput)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[login]
	if !ok || !u.Active {
		return User{}, fmt.Errorf("%w: unknown user: %s", ErrNotFound, login)
	}
	return u, nil
}

var _ Directory = (*MemDirectory)(nil)
