// Package session keeps the ordered list of authenticated sessions and the index of
// the active one. The active session's tokens are what outgoing requests carry.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/AuthBridge/sdk/tokens"
)

var (
	// ErrSessionNotFound is returned when switching to an index outside the session list.
	ErrSessionNotFound = errors.New("session: no such session exists")
	// ErrNoActiveSession is returned by updates when no session is active.
	ErrNoActiveSession = errors.New("session: current user does not exist")
)

// Identity is implemented by profile types. The identity is the stable "user" field
// used to detect duplicate logins.
type Identity interface {
	Identity() string
}

// Profile is a schemaless user profile keyed like the backend's user_data object.
type Profile map[string]any

// Identity returns the "user" field.
func (p Profile) Identity() string {
	if p == nil {
		return ""
	}
	switch v := p["user"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Merge returns a new profile with other's keys layered over p.
func (p Profile) Merge(other Profile) Profile {
	out := make(Profile, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Session is one authenticated user. Empty tokens mean absent.
type Session[T Identity] struct {
	// ID is a local identifier used in logs; it never participates in identity checks.
	ID           string `json:"id,omitempty"`
	Auth         T      `json:"auth"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Tokens returns the session's credential pair.
func (s Session[T]) Tokens() tokens.Pair {
	return tokens.Pair{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

// User returns the identity of the session's profile.
func (s Session[T]) User() string { return s.Auth.Identity() }

// NoActiveIndex marks that no session is selected.
const NoActiveIndex = -1

// State is the persisted auth state. ActiveIndex outside [0, len(Sessions)) means no
// session is active.
type State[T Identity] struct {
	ActiveIndex int          `json:"_activeUserIndex"`
	Sessions    []Session[T] `json:"_users"`
}

// NewState returns the initial state: index 0 over an empty list.
func NewState[T Identity]() State[T] {
	return State[T]{ActiveIndex: 0, Sessions: []Session[T]{}}
}

// Active returns the active session.
func (s State[T]) Active() (Session[T], bool) {
	if s.ActiveIndex < 0 || s.ActiveIndex >= len(s.Sessions) {
		var zero Session[T]
		return zero, false
	}
	return s.Sessions[s.ActiveIndex], true
}

// IndexOf returns the index of the session whose identity equals user, or -1.
func (s State[T]) IndexOf(user string) int {
	for i, sess := range s.Sessions {
		if sess.User() == user {
			return i
		}
	}
	return -1
}

// Clone returns a state whose session slice can be modified independently.
func (s State[T]) Clone() State[T] {
	out := State[T]{ActiveIndex: s.ActiveIndex, Sessions: make([]Session[T], len(s.Sessions))}
	copy(out.Sessions, s.Sessions)
	return out
}

// UnmarshalJSON accepts persisted states with missing members. A missing index means
// no session is active, a null document yields the initial state.
func (s *State[T]) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		*s = NewState[T]()
		return nil
	}
	var raw struct {
		ActiveIndex *int         `json:"_activeUserIndex"`
		Sessions    []Session[T] `json:"_users"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ActiveIndex = NoActiveIndex
	if raw.ActiveIndex != nil {
		s.ActiveIndex = *raw.ActiveIndex
	}
	s.Sessions = raw.Sessions
	if s.Sessions == nil {
		s.Sessions = []Session[T]{}
	}
	return nil
}

// DuplicatePolicy decides what a login for an already stored identity does.
type DuplicatePolicy int

const (
	// DuplicateKeepExisting leaves the stored session untouched.
	DuplicateKeepExisting DuplicatePolicy = iota
	// DuplicateRefresh overwrites the stored session's profile and tokens and activates it.
	DuplicateRefresh
)

// MissingPolicy decides what updates do when no session is active.
type MissingPolicy int

const (
	// MissingSessionError fails with ErrNoActiveSession.
	MissingSessionError MissingPolicy = iota
	// MissingSessionIgnore makes the update a silent no-op.
	MissingSessionIgnore
)

// ParseDuplicatePolicy maps the configuration values "keep-existing" and "refresh".
func ParseDuplicatePolicy(v string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "keep-existing":
		return DuplicateKeepExisting, nil
	case "refresh":
		return DuplicateRefresh, nil
	default:
		return DuplicateKeepExisting, fmt.Errorf("session: unknown duplicate-login policy %q", v)
	}
}

// ParseMissingPolicy maps the configuration values "error" and "ignore".
func ParseMissingPolicy(v string) (MissingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "error":
		return MissingSessionError, nil
	case "ignore":
		return MissingSessionIgnore, nil
	default:
		return MissingSessionError, fmt.Errorf("session: unknown missing-session policy %q", v)
	}
}
