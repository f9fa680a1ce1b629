package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/router-for-me/AuthBridge/sdk/state"
	"github.com/router-for-me/AuthBridge/sdk/tokens"
	log "github.com/sirupsen/logrus"
)

// Options configures a Store.
type Options struct {
	Duplicate DuplicatePolicy
	Missing   MissingPolicy
}

// Store owns the session list. Every mutation replaces the State wholesale and
// notifies subscribers. Store implements tokens.Source over the active session.
type Store[T Identity] struct {
	value *state.Value[State[T]]
	opts  Options
}

// NewStore returns a store holding NewState.
func NewStore[T Identity](opts Options) *Store[T] {
	return &Store[T]{value: state.New(NewState[T]()), opts: opts}
}

// Options returns the policies of the store.
func (s *Store[T]) Options() Options { return s.opts }

// State returns a copy of the current state.
func (s *Store[T]) State() State[T] {
	return s.value.Get().Clone()
}

// Active returns the active session.
func (s *Store[T]) Active() (Session[T], bool) {
	return s.value.Get().Active()
}

// Subscribe registers fn for every state change.
func (s *Store[T]) Subscribe(fn func(old, current State[T])) func() {
	return s.value.Subscribe(fn)
}

// Replace installs st wholesale, e.g. after hydration.
func (s *Store[T]) Replace(st State[T]) {
	st = st.Clone()
	for i := range st.Sessions {
		if st.Sessions[i].ID == "" {
			st.Sessions[i].ID = uuid.NewString()
		}
	}
	s.value.Set(st)
}

// AddResult reports what Add did.
type AddResult int

const (
	// Added appended a new session and activated it.
	Added AddResult = iota
	// KeptExisting left an existing session with the same identity untouched.
	KeptExisting
	// Refreshed overwrote an existing session and activated it.
	Refreshed
)

// Add stores a freshly logged-in session. A session whose identity already exists is
// handled according to the duplicate policy. It returns the index of the session.
func (s *Store[T]) Add(sess Session[T]) (int, AddResult) {
	var (
		index  int
		result AddResult
	)
	_ = s.value.Update(func(cur State[T]) (State[T], error) {
		next := cur.Clone()
		if existing := next.IndexOf(sess.User()); existing >= 0 {
			index = existing
			if s.opts.Duplicate != DuplicateRefresh {
				result = KeptExisting
				return cur, errSkip
			}
			sess.ID = next.Sessions[existing].ID
			next.Sessions[existing] = sess
			next.ActiveIndex = existing
			result = Refreshed
			return next, nil
		}
		if sess.ID == "" {
			sess.ID = uuid.NewString()
		}
		next.Sessions = append(next.Sessions, sess)
		next.ActiveIndex = len(next.Sessions) - 1
		index = next.ActiveIndex
		result = Added
		return next, nil
	})
	return index, result
}

// Switch activates the session at index.
func (s *Store[T]) Switch(index int) error {
	return s.value.Update(func(cur State[T]) (State[T], error) {
		if index < 0 || index >= len(cur.Sessions) {
			return cur, fmt.Errorf("%w: index %d of %d", ErrSessionNotFound, index, len(cur.Sessions))
		}
		next := cur.Clone()
		next.ActiveIndex = index
		return next, nil
	})
}

// LogoutCurrent removes the active session and leaves no session selected. Without
// an active session the list is left intact.
func (s *Store[T]) LogoutCurrent() (Session[T], bool) {
	var (
		removed Session[T]
		ok      bool
	)
	_ = s.value.Update(func(cur State[T]) (State[T], error) {
		next := cur.Clone()
		if active, found := cur.Active(); found {
			removed, ok = active, true
			next.Sessions = append(next.Sessions[:cur.ActiveIndex], next.Sessions[cur.ActiveIndex+1:]...)
		}
		next.ActiveIndex = NoActiveIndex
		return next, nil
	})
	return removed, ok
}

// LogoutAll drops every session.
func (s *Store[T]) LogoutAll() State[T] {
	empty := State[T]{ActiveIndex: NoActiveIndex, Sessions: []Session[T]{}}
	s.value.Set(empty)
	return empty.Clone()
}

var errSkip = errors.New("session: skip")

// updateActive applies fn to the active session following the missing-session policy.
func (s *Store[T]) updateActive(fn func(*Session[T])) error {
	err := s.value.Update(func(cur State[T]) (State[T], error) {
		if _, ok := cur.Active(); !ok {
			if s.opts.Missing == MissingSessionIgnore {
				return cur, errSkip
			}
			return cur, ErrNoActiveSession
		}
		next := cur.Clone()
		fn(&next.Sessions[next.ActiveIndex])
		return next, nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}
	return err
}

// UpdateTokens applies u to the active session. Nil fields are untouched and
// pointers to "" clear the token.
func (s *Store[T]) UpdateTokens(u tokens.Update) error {
	if u.IsEmpty() {
		return nil
	}
	return s.updateActive(func(sess *Session[T]) {
		pair := sess.Tokens().Apply(u)
		sess.AccessToken, sess.RefreshToken = pair.AccessToken, pair.RefreshToken
	})
}

// UpdateProfile replaces the active session's profile with fn(current).
func (s *Store[T]) UpdateProfile(fn func(T) T) error {
	if fn == nil {
		return nil
	}
	return s.updateActive(func(sess *Session[T]) {
		sess.Auth = fn(sess.Auth)
	})
}

// Tokens implements tokens.Source.
func (s *Store[T]) Tokens(context.Context) tokens.Pair {
	active, ok := s.Active()
	if !ok {
		return tokens.Pair{}
	}
	return active.Tokens()
}

// Rotate implements tokens.Source. Rotations without an active session are dropped.
func (s *Store[T]) Rotate(_ context.Context, u tokens.Update) {
	if u.IsEmpty() {
		return
	}
	err := s.value.Update(func(cur State[T]) (State[T], error) {
		if _, ok := cur.Active(); !ok {
			return cur, ErrNoActiveSession
		}
		next := cur.Clone()
		sess := &next.Sessions[next.ActiveIndex]
		pair := sess.Tokens().Apply(u)
		sess.AccessToken, sess.RefreshToken = pair.AccessToken, pair.RefreshToken
		return next, nil
	})
	if err != nil {
		log.Debug("session: token rotation dropped, no active session")
	}
}

var _ tokens.Source = (*Store[Profile])(nil)
