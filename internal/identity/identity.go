// Package identity resolves bearer tokens to users. Token issuance belongs to
// the external identity service; this package only performs the
// getUser(token) lookup the server needs to authenticate sockets and pushes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"wealthflow/internal/core"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Provider looks up the user a bearer token belongs to
type Provider interface {
	GetUser(ctx context.Context, token string) (core.User, error)
}

// ProviderType selects a Provider implementation
type ProviderType string

const (
	ProviderJWT    ProviderType = "jwt"
	ProviderGoogle ProviderType = "google"
	ProviderStatic ProviderType = "static"
)

func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderJWT, ProviderGoogle, ProviderStatic:
		return true
	}
	return false
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// StaticProvider maps fixed tokens to users. Intended for local development and tests.
type StaticProvider struct {
	mu    sync.RWMutex
	users map[string]core.User
}

func NewStaticProvider(users map[string]core.User) *StaticProvider {
	p := &StaticProvider{users: make(map[string]core.User, len(users))}
	for tok, u := range users {
		p.users[tok] = u
	}
	return p
}

// ParseStaticTokens reads "token=userID:email,token2=userID2:email2"
func ParseStaticTokens(spec string) (map[string]core.User, error) {
	users := make(map[string]core.User)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tok, rest, ok := strings.Cut(entry, "=")
		if !ok || tok == "" || rest == "" {
			return nil, fmt.Errorf("invalid static token entry %q: want token=userID[:email]", entry)
		}
		id, email, _ := strings.Cut(rest, ":")
		users[tok] = core.User{ID: id, Email: email}
	}
	if len(users) == 0 {
		return nil, errors.New("no static tokens configured")
	}
	return users, nil
}

func (p *StaticProvider) Add(token string, user core.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[token] = user
}

func (p *StaticProvider) GetUser(_ context.Context, token string) (core.User, error) {
	if token == "" {
		return core.User{}, ErrMissingToken
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[token]
	if !ok {
		return core.User{}, ErrInvalidToken
	}
	return u, nil
}
