package repositories

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRepository checks login credentials.
type UserRepository interface {
	Authenticate(ctx context.Context, username, password string) (int, error)
}

type userRow struct {
	id       int
	password string
}

// StaticUsers is a fixed user list for development.
type StaticUsers struct {
	mu    sync.RWMutex
	users map[string]userRow
}

// NewStaticUsers parses "name:password" pairs. Ids are assigned in order starting at 1.
func NewStaticUsers(pairs []string) *StaticUsers {
	s := &StaticUsers{users: make(map[string]userRow)}
	for _, p := range pairs {
		name, pass, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok || name == "" {
			continue
		}
		s.users[name] = userRow{id: len(s.users) + 1, password: pass}
	}
	return s
}

// Authenticate returns the user id for valid credentials.
func (s *StaticUsers) Authenticate(_ context.Context, username, password string) (int, error) {
	s.mu.RLock()
	row, ok := s.users[username]
	s.mu.RUnlock()
	if !ok || subtle.ConstantTimeCompare([]byte(row.password), []byte(password)) != 1 {
		return 0, ErrInvalidCredentials
	}
	return row.id, nil
}
