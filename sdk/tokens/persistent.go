package tokens

import (
	"context"
	"sync"

	"github.com/router-for-me/AuthBridge/sdk/kv"
	log "github.com/sirupsen/logrus"
)

const (
	// AccessTokenKey is the persistence key of the access token.
	AccessTokenKey = "auth_tokens.access"
	// RefreshTokenKey is the persistence key of the refresh token.
	RefreshTokenKey = "auth_tokens.refresh"
)

// PersistentStore is a single-identity Source backed by a key/value store.
// It is hydrated lazily on first use and writes every rotation through.
type PersistentStore struct {
	store kv.Store

	mu       sync.Mutex
	pair     Pair
	hydrated bool
}

// NewPersistentStore wraps store.
func NewPersistentStore(store kv.Store) *PersistentStore {
	return &PersistentStore{store: store}
}

// Tokens implements Source.
func (s *PersistentStore) Tokens(ctx context.Context) Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrateLocked(ctx)
	return s.pair
}

// Rotate implements Source.
func (s *PersistentStore) Rotate(ctx context.Context, u Update) {
	if u.IsEmpty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrateLocked(ctx)
	s.pair = s.pair.Apply(u)
	if u.AccessToken != nil {
		s.writeLocked(ctx, AccessTokenKey, *u.AccessToken)
	}
	if u.RefreshToken != nil {
		s.writeLocked(ctx, RefreshTokenKey, *u.RefreshToken)
	}
}

// Clear drops both tokens from memory and from the backing store.
func (s *PersistentStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = Pair{}
	s.hydrated = true
	s.writeLocked(ctx, AccessTokenKey, "")
	s.writeLocked(ctx, RefreshTokenKey, "")
}

func (s *PersistentStore) hydrateLocked(ctx context.Context) {
	if s.hydrated || s.store == nil {
		return
	}
	if s.pair.AccessToken != "" && s.pair.RefreshToken != "" {
		s.hydrated = true
		return
	}
	access, okAccess, errAccess := s.store.Get(ctx, AccessTokenKey)
	refresh, okRefresh, errRefresh := s.store.Get(ctx, RefreshTokenKey)
	if errAccess != nil || errRefresh != nil {
		log.WithField("store", "tokens").Warnf("token hydration failed: access=%v refresh=%v", errAccess, errRefresh)
		return
	}
	s.hydrated = true
	if okAccess {
		s.pair.AccessToken = string(access)
	}
	if okRefresh {
		s.pair.RefreshToken = string(refresh)
	}
}

func (s *PersistentStore) writeLocked(ctx context.Context, key, value string) {
	if s.store == nil {
		return
	}
	var err error
	if value == "" {
		err = s.store.Delete(ctx, key)
	} else {
		err = s.store.Set(ctx, key, []byte(value))
	}
	if err != nil {
		log.WithFields(log.Fields{"store": "tokens", "key": key}).Warnf("token write-through failed: %v", err)
	}
}
