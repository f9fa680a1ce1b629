// Package bridge is the facade applications use: it owns the session store, builds
// the credentialed HTTP clients, mirrors state to a kv.Store and exposes the login,
// switch, logout and sync operations.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/router-for-me/AuthBridge/sdk/httpclient"
	"github.com/router-for-me/AuthBridge/sdk/kv"
	"github.com/router-for-me/AuthBridge/sdk/session"
	"github.com/router-for-me/AuthBridge/sdk/tokens"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultStateKey is the kv key of the persisted auth state.
const DefaultStateKey = "authbridge::auth_state"

// Status is the hydration state of a Bridge.
type Status string

const (
	// StatusWait is reported while the persisted state is being loaded.
	StatusWait Status = "WAIT"
	// StatusReady is reported once hydration finished. It is terminal.
	StatusReady Status = "READY"
)

// Routes are the backend endpoints used by the bridge.
type Routes struct {
	Login            string
	RefreshToken     string
	InitialAuthCheck string
}

// Config wires a Bridge.
type Config struct {
	// Transport performs HTTP round trips. Without it every network operation fails
	// with ErrNoTransport.
	Transport httpclient.Transport
	Routes    Routes
	// Store persists the auth state. Nil keeps it in memory only.
	Store kv.Store
	// StateKey defaults to DefaultStateKey.
	StateKey string
	Policies session.Options

	BreakerThreshold int
	BreakerCooldown  time.Duration
	Metrics          *httpclient.Metrics
}

// Bridge composes the session store, the refresh-aware client and persistence.
type Bridge[T session.Identity] struct {
	cfg      Config
	sessions *session.Store[T]

	status  atomic.Value
	ready   chan struct{}
	persist *persister
	unsub   func()
	closers []func() error

	mu           sync.Mutex
	routes       Routes
	client       *httpclient.Client
	anonymous    *httpclient.Client
	onLogout     func(session.State[T])
	onUserSwitch func(session.Session[T])
}

// New builds a bridge and starts hydrating it from cfg.Store. The bridge starts in
// StatusWait when a store is configured and StatusReady otherwise.
func New[T session.Identity](cfg Config) *Bridge[T] {
	if cfg.StateKey == "" {
		cfg.StateKey = DefaultStateKey
	}
	b := &Bridge[T]{
		cfg:      cfg,
		sessions: session.NewStore[T](cfg.Policies),
		ready:    make(chan struct{}),
		routes:   cfg.Routes,
	}
	b.status.Store(StatusWait)
	if cfg.Store == nil {
		b.markReady()
		return b
	}
	b.persist = newPersister(cfg.Store, cfg.StateKey)
	b.unsub = b.sessions.Subscribe(func(_, current session.State[T]) {
		if b.Status() != StatusReady {
			return
		}
		b.persist.enqueue(current)
	})
	go b.hydrate()
	return b
}

func (b *Bridge[T]) markReady() {
	b.status.Store(StatusReady)
	close(b.ready)
}

// hydrate reads the persisted state once. The loaded state is not written back.
func (b *Bridge[T]) hydrate() {
	defer b.markReady()
	ctx := context.Background()
	raw, ok, err := b.cfg.Store.Get(ctx, b.cfg.StateKey)
	if err != nil {
		log.WithError(err).WithField("key", b.cfg.StateKey).Warn("bridge: load auth state")
		return
	}
	if !ok {
		if len(b.sessions.State().Sessions) > 0 {
			b.persist.enqueue(b.sessions.State())
		}
		return
	}
	var st session.State[T]
	if err = json.Unmarshal(raw, &st); err != nil {
		log.WithError(err).WithField("key", b.cfg.StateKey).Warn("bridge: decode auth state")
		return
	}
	if dropped := len(b.sessions.State().Sessions); dropped > 0 {
		log.WithField("key", b.cfg.StateKey).Warnf("bridge: persisted state replaces %d session(s) added while loading", dropped)
	}
	b.sessions.Replace(st)
	log.WithField("key", b.cfg.StateKey).Debugf("bridge: hydrated %d session(s)", len(st.Sessions))
}

// Status reports WAIT or READY.
func (b *Bridge[T]) Status() Status {
	return b.status.Load().(Status)
}

// WaitReady blocks until hydration finished or ctx is done.
func (b *Bridge[T]) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending writes and releases resources opened by FromConfig.
func (b *Bridge[T]) Close(ctx context.Context) error {
	if b.unsub != nil {
		b.unsub()
	}
	var errs []error
	if b.persist != nil {
		if err := b.persist.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bridge: flush auth state: %w", err))
		}
	}
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetRoutes replaces the routes. Cached clients are rebuilt on next use.
func (b *Bridge[T]) SetRoutes(r Routes) {
	b.mu.Lock()
	b.routes = r
	b.client = nil
	b.mu.Unlock()
}

// Routes returns the configured routes.
func (b *Bridge[T]) Routes() Routes {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routes
}

// OnLogout registers the callback invoked by LogoutAllSessions and by re-auth signals.
func (b *Bridge[T]) OnLogout(fn func(session.State[T])) {
	b.mu.Lock()
	b.onLogout = fn
	b.mu.Unlock()
}

// OnUserSwitch registers the callback invoked when a different session becomes active.
func (b *Bridge[T]) OnUserSwitch(fn func(session.Session[T])) {
	b.mu.Lock()
	b.onUserSwitch = fn
	b.mu.Unlock()
}

// Sessions exposes the underlying store.
func (b *Bridge[T]) Sessions() *session.Store[T] { return b.sessions }

// State returns a copy of the current auth state.
func (b *Bridge[T]) State() session.State[T] { return b.sessions.State() }

// Subscribe observes every state change.
func (b *Bridge[T]) Subscribe(fn func(old, current session.State[T])) func() {
	return b.sessions.Subscribe(fn)
}

// ActiveSession returns the active session.
func (b *Bridge[T]) ActiveSession() (session.Session[T], bool) { return b.sessions.Active() }

// CurrentUser returns the active session's profile.
func (b *Bridge[T]) CurrentUser() (T, bool) {
	active, ok := b.sessions.Active()
	return active.Auth, ok
}

// IsLoggedIn reports whether the active session has a user identity.
func (b *Bridge[T]) IsLoggedIn() bool {
	active, ok := b.sessions.Active()
	return ok && active.User() != ""
}

// AuthenticationHeaders derives the credential headers of the active session.
func (b *Bridge[T]) AuthenticationHeaders() http.Header {
	return b.sessions.Tokens(context.Background()).Header()
}

// Client returns the refresh-aware client carrying the active session's credentials.
func (b *Bridge[T]) Client() (*httpclient.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	if b.cfg.Transport == nil {
		return nil, configError("client", ErrNoTransport)
	}
	if b.routes.RefreshToken == "" {
		return nil, configError("client", ErrNoRefreshRoute)
	}
	b.client = httpclient.NewClient(b.cfg.Transport, b.sessions,
		httpclient.WithMetrics(b.cfg.Metrics),
		httpclient.WithMiddleware(httpclient.Refresh(httpclient.RefreshOptions{
			Route:            b.routes.RefreshToken,
			Source:           b.sessions,
			OnReauth:         b.handleReauth,
			BreakerThreshold: b.cfg.BreakerThreshold,
			BreakerCooldown:  b.cfg.BreakerCooldown,
			Metrics:          b.cfg.Metrics,
		})),
	)
	return b.client, nil
}

// AnonymousClient returns a client without credentials or refresh handling.
func (b *Bridge[T]) AnonymousClient() (*httpclient.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.anonymous != nil {
		return b.anonymous, nil
	}
	if b.cfg.Transport == nil {
		return nil, configError("anonymous client", ErrNoTransport)
	}
	b.anonymous = httpclient.NewClient(b.cfg.Transport, nil, httpclient.WithMetrics(b.cfg.Metrics))
	return b.anonymous, nil
}

func (b *Bridge[T]) handleReauth(context.Context) httpclient.Outcome {
	log.Info("bridge: backend requested re-authentication, signing out")
	b.LogoutAllSessions()
	return httpclient.Outcome{Status: httpclient.StatusSignedOut, Message: "re-authentication required"}
}

// Login posts {"user","password"} to the login route without credentials. When the
// response carries a profile under user_data, the session is stored according to
// the duplicate policy once hydration finished. The returned Call resolves after the
// state was updated.
func (b *Bridge[T]) Login(ctx context.Context, user, password string) (*httpclient.Call, error) {
	if b.cfg.Transport == nil {
		return nil, configError("login", ErrNoTransport)
	}
	route := b.Routes().Login
	if route == "" {
		return nil, configError("login", ErrNoLoginRoute)
	}
	client, err := b.AnonymousClient()
	if err != nil {
		return nil, err
	}
	body, _ := sjson.SetBytes([]byte(`{}`), "user", user)
	body, _ = sjson.SetBytes(body, "password", password)

	return client.PostJSON(ctx, route, body).Then(func(out httpclient.Outcome) httpclient.Outcome {
		if !out.OK() {
			return out
		}
		// A session stored during WAIT would be replaced by the hydrated state.
		if err := b.WaitReady(ctx); err != nil {
			return httpclient.Cancelled()
		}
		b.storeLogin(out)
		return out
	}), nil
}

func (b *Bridge[T]) storeLogin(out httpclient.Outcome) {
	profile := gjson.GetBytes(out.Body, "user_data")
	if !profile.Exists() || profile.Type == gjson.Null {
		profile = out.Get("user_data")
	}
	if !profile.Exists() || profile.Type == gjson.Null {
		log.Debug("bridge: login response carried no user_data")
		return
	}
	var auth T
	if err := json.Unmarshal([]byte(profile.Raw), &auth); err != nil {
		log.WithError(err).Warn("bridge: decode login profile")
		return
	}
	pair := tokens.Pair{}.Apply(tokens.FromHeader(out.Header))
	index, result := b.sessions.Add(session.Session[T]{
		Auth:         auth,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
	entry := log.WithFields(log.Fields{"user": auth.Identity(), "session": index})
	switch result {
	case session.KeptExisting:
		entry.Info("bridge: session for user already exists, keeping it")
	default:
		entry.Info("bridge: logged in")
		b.notifySwitch()
	}
}

func (b *Bridge[T]) notifySwitch() {
	b.mu.Lock()
	fn := b.onUserSwitch
	b.mu.Unlock()
	if fn == nil {
		return
	}
	if active, ok := b.sessions.Active(); ok {
		fn(active)
	}
}

// SwitchActiveSession activates the session at index or fails with
// session.ErrSessionNotFound, leaving the state unchanged.
func (b *Bridge[T]) SwitchActiveSession(index int) error {
	if err := b.sessions.Switch(index); err != nil {
		return err
	}
	b.notifySwitch()
	return nil
}

// LogoutCurrentSession removes the active session. No session is selected afterwards.
func (b *Bridge[T]) LogoutCurrentSession() {
	if removed, ok := b.sessions.LogoutCurrent(); ok {
		log.WithField("user", removed.User()).Info("bridge: logged out current session")
	}
}

// LogoutAllSessions drops every session and invokes the logout callback.
func (b *Bridge[T]) LogoutAllSessions() {
	st := b.sessions.LogoutAll()
	b.mu.Lock()
	fn := b.onLogout
	b.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// UpdateActiveSessionTokens replaces the active session's tokens. A nil argument
// leaves that token untouched; a pointer to "" clears it.
func (b *Bridge[T]) UpdateActiveSessionTokens(access, refresh *string) error {
	return b.sessions.UpdateTokens(tokens.Update{AccessToken: access, RefreshToken: refresh})
}

// UpdateActiveSessionProfile replaces the active session's profile with fn(current).
func (b *Bridge[T]) UpdateActiveSessionProfile(fn func(T) T) error {
	return b.sessions.UpdateProfile(fn)
}

// SyncWithServer re-validates the active session against the initial check route
// once hydration finished. Without credentials it returns without a network call.
// The returned profile, from data.user_data or data, is merged into the active
// session. Errors report configuration problems, a cancelled ctx or a failed merge;
// network outcomes are reported through the Outcome.
func (b *Bridge[T]) SyncWithServer(ctx context.Context) (httpclient.Outcome, error) {
	route := b.Routes().InitialAuthCheck
	if route == "" {
		return httpclient.Outcome{}, configError("sync", ErrNoAuthCheckRoute)
	}
	if err := b.WaitReady(ctx); err != nil {
		return httpclient.Cancelled(), err
	}
	if b.AuthenticationHeaders().Get(tokens.HeaderAuthorization) == "" {
		return httpclient.Outcome{}, nil
	}
	client, err := b.Client()
	if err != nil {
		return httpclient.Outcome{}, err
	}
	out := client.Get(ctx, route).Wait()
	if !out.OK() {
		return out, nil
	}
	profile := out.Get("user_data")
	if !profile.Exists() || profile.Type == gjson.Null {
		profile = gjson.ParseBytes(out.Data)
	}
	if !profile.IsObject() {
		return out, nil
	}
	var mergeErr error
	err = b.sessions.UpdateProfile(func(current T) T {
		merged, errMerge := mergeProfile(current, []byte(profile.Raw))
		if errMerge != nil {
			mergeErr = errMerge
			return current
		}
		return merged
	})
	if err != nil {
		return out, fmt.Errorf("bridge: sync: %w", err)
	}
	if mergeErr != nil {
		return out, fmt.Errorf("bridge: sync: %w", mergeErr)
	}
	return out, nil
}

// mergeProfile overlays patch onto a deep copy of current.
func mergeProfile[T any](current T, patch []byte) (T, error) {
	var merged T
	base, err := json.Marshal(current)
	if err != nil {
		return current, fmt.Errorf("encode profile: %w", err)
	}
	if err = json.Unmarshal(base, &merged); err != nil {
		return current, fmt.Errorf("copy profile: %w", err)
	}
	if err = json.Unmarshal(patch, &merged); err != nil {
		return current, fmt.Errorf("merge profile: %w", err)
	}
	return merged, nil
}
