// Package tokens holds the access/refresh token pair attached to outgoing requests
// and the sources that supply and rotate it.
//
// A Source is passed explicitly to the request executor and to the refresh
// coordinator; there is no process-wide token state.
package tokens

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

const (
	// HeaderAuthorization carries "Bearer <access>".
	HeaderAuthorization = "Authorization"
	// HeaderAccessToken carries the raw access token on requests and rotates it on responses.
	HeaderAccessToken = "X-Access-Token"
	// HeaderRefreshToken carries the raw refresh token on requests and rotates it on responses.
	HeaderRefreshToken = "X-Refresh-Token"
)

// Pair is the current credential pair. An empty string means the token is absent.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// IsZero reports whether neither token is set.
func (p Pair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Header derives the credential headers for p.
// Nothing is attached when there is no access token.
func (p Pair) Header() http.Header {
	h := http.Header{}
	if p.AccessToken == "" {
		return h
	}
	h.Set(HeaderAuthorization, "Bearer "+p.AccessToken)
	h.Set(HeaderAccessToken, p.AccessToken)
	if p.RefreshToken != "" {
		h.Set(HeaderRefreshToken, p.RefreshToken)
	}
	return h
}

// Apply returns p with u applied.
func (p Pair) Apply(u Update) Pair {
	if u.AccessToken != nil {
		p.AccessToken = *u.AccessToken
	}
	if u.RefreshToken != nil {
		p.RefreshToken = *u.RefreshToken
	}
	return p
}

// Update is a partial rotation. A nil field leaves the stored value untouched;
// a pointer to "" clears it.
type Update struct {
	AccessToken  *string
	RefreshToken *string
}

// IsEmpty reports whether u changes nothing.
func (u Update) IsEmpty() bool {
	return u.AccessToken == nil && u.RefreshToken == nil
}

// Set builds an Update replacing both fields.
func Set(access, refresh string) Update {
	return Update{AccessToken: &access, RefreshToken: &refresh}
}

// FromHeader extracts the rotation headers x-access-token / x-refresh-token.
// Headers that are absent produce nil fields.
func FromHeader(h http.Header) Update {
	var u Update
	if h == nil {
		return u
	}
	if values := h.Values(HeaderAccessToken); len(values) > 0 {
		v := strings.TrimSpace(values[0])
		u.AccessToken = &v
	}
	if values := h.Values(HeaderRefreshToken); len(values) > 0 {
		v := strings.TrimSpace(values[0])
		u.RefreshToken = &v
	}
	return u
}

// Source supplies the credentials for the next request and accepts rotations.
type Source interface {
	// Tokens returns the pair to attach to the next request.
	Tokens(ctx context.Context) Pair
	// Rotate applies a rotation received from the backend.
	Rotate(ctx context.Context, u Update)
}

// MemoryStore is a Source kept in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
}

// NewMemoryStore returns a store seeded with initial.
func NewMemoryStore(initial Pair) *MemoryStore {
	return &MemoryStore{pair: initial}
}

// Tokens implements Source.
func (s *MemoryStore) Tokens(context.Context) Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// Rotate implements Source.
func (s *MemoryStore) Rotate(_ context.Context, u Update) {
	if u.IsEmpty() {
		return
	}
	s.mu.Lock()
	s.pair = s.pair.Apply(u)
	s.mu.Unlock()
}

// Clear drops both tokens.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.pair = Pair{}
	s.mu.Unlock()
}
