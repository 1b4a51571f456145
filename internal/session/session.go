// Package session resolves the signed-in user's token and remembered choices from storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"meetsync/internal/storage"
)

// ErrNoToken is returned when no token is stored under any known key.
var ErrNoToken = errors.New("not logged in")

// TokenKeys are checked in order; older builds stored the token under different names.
var TokenKeys = []string{"access_token", "accessToken", "token", "authToken", "jwt"}

// PeerKeys hold the last direct-message peer, newest name first.
var PeerKeys = []string{"last_dm_peer", "lastDirectPeer", "dm_last_user"}

// Session reads local (persistent) storage before session (process) storage.
type Session struct {
	local   storage.Store
	session storage.Store
}

// New builds a Session. Either store may be nil.
func New(local, session storage.Store) *Session {
	if local == nil {
		local = storage.NewMemory()
	}
	if session == nil {
		session = storage.NewMemory()
	}
	return &Session{local: local, session: session}
}

// Local returns the persistent store.
func (s *Session) Local() storage.Store { return s.local }

func (s *Session) lookup(ctx context.Context, keys []string) (string, error) {
	for _, k := range keys {
		for _, st := range []storage.Store{s.local, s.session} {
			v, ok, err := st.Get(ctx, k)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", k, err)
			}
			if ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), nil
			}
		}
	}
	return "", nil
}

// Token returns the first stored token.
func (s *Session) Token(ctx context.Context) (string, error) {
	tok, err := s.lookup(ctx, TokenKeys)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// BearerToken returns the token or "" and never fails; used as the transport's TokenSource.
func (s *Session) BearerToken() string {
	tok, _ := s.Token(context.Background())
	return tok
}

// SaveToken stores tok under the canonical key. remember selects local storage.
func (s *Session) SaveToken(ctx context.Context, tok string, remember bool) error {
	if err := s.Logout(ctx); err != nil {
		return err
	}
	st := s.session
	if remember {
		st = s.local
	}
	return st.Set(ctx, TokenKeys[0], tok)
}

// Logout clears every token key from both stores.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.local.Delete(ctx, TokenKeys...); err != nil {
		return err
	}
	return s.session.Delete(ctx, TokenKeys...)
}

// Me returns the user id from the stored token's claims. The signature is not checked;
// the backend verifies it on every request.
func (s *Session) Me(ctx context.Context) (string, error) {
	tok, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	return UserIDFromToken(tok)
}

// UserIDFromToken reads user_id, falling back to sub.
func UserIDFromToken(tok string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	switch v := claims["user_id"].(type) {
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case string:
		if v != "" {
			return v, nil
		}
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token carries no user id")
	}
	return sub, nil
}

// RememberPeer stores the last direct-message peer in local storage.
func (s *Session) RememberPeer(ctx context.Context, peer string) error {
	return s.local.Set(ctx, PeerKeys[0], peer)
}

// LastPeer returns the remembered peer, or "".
func (s *Session) LastPeer(ctx context.Context) (string, error) {
	return s.lookup(ctx, PeerKeys)
}
