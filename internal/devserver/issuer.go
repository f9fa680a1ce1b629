package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenState classifies a presented access token.
type TokenState int

const (
	// TokenValid is a known, unexpired access token.
	TokenValid TokenState = iota
	// TokenExpired is a known access token past its lifetime.
	TokenExpired
	// TokenUnknown was never issued or has been revoked.
	TokenUnknown
)

type grant struct {
	user    string
	expires time.Time
}

// Issuer hands out opaque uuid tokens. Refresh tokens are single use.
type Issuer struct {
	accessTTL time.Duration
	now       func() time.Time

	mu      sync.Mutex
	access  map[string]grant
	refresh map[string]string
}

// NewIssuer returns an issuer whose access tokens live for accessTTL.
func NewIssuer(accessTTL time.Duration) *Issuer {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &Issuer{
		accessTTL: accessTTL,
		now:       time.Now,
		access:    make(map[string]grant),
		refresh:   make(map[string]string),
	}
}

// Issue creates a new token pair for user.
func (i *Issuer) Issue(user string) (access, refresh string) {
	access, refresh = uuid.NewString(), uuid.NewString()
	i.mu.Lock()
	i.access[access] = grant{user: user, expires: i.now().Add(i.accessTTL)}
	i.refresh[refresh] = user
	i.mu.Unlock()
	return access, refresh
}

// Check classifies access and returns its owner.
func (i *Issuer) Check(access string) (string, TokenState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	g, ok := i.access[access]
	if !ok {
		return "", TokenUnknown
	}
	if !i.now().Before(g.expires) {
		return g.user, TokenExpired
	}
	return g.user, TokenValid
}

// Rotate consumes refresh and issues a new pair for its owner.
func (i *Issuer) Rotate(refresh string) (user, access, newRefresh string, ok bool) {
	i.mu.Lock()
	user, ok = i.refresh[refresh]
	if ok {
		delete(i.refresh, refresh)
	}
	i.mu.Unlock()
	if !ok {
		return "", "", "", false
	}
	access, newRefresh = i.Issue(user)
	return user, access, newRefresh, true
}

// Revoke drops every token of user.
func (i *Issuer) Revoke(user string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for k, g := range i.access {
		if g.user == user {
			delete(i.access, k)
		}
	}
	for k, u := range i.refresh {
		if u == user {
			delete(i.refresh, k)
		}
	}
}
