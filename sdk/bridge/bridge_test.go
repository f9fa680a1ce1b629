package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/router-for-me/AuthBridge/sdk/config"
	"github.com/router-for-me/AuthBridge/sdk/httpclient"
	"github.com/router-for-me/AuthBridge/sdk/kv"
	"github.com/router-for-me/AuthBridge/sdk/session"
	"github.com/router-for-me/AuthBridge/sdk/tokens"
	"github.com/tidwall/gjson"
)

type backend struct {
	*httptest.Server
	mu         sync.Mutex
	logins     []string
	loginAuth  []string
	checkCalls atomic.Int32
	dataCalls  atomic.Int32
	check      http.HandlerFunc
	data       http.HandlerFunc
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		user := gjson.GetBytes(raw, "user").String()
		b.mu.Lock()
		b.logins = append(b.logins, string(raw))
		b.loginAuth = append(b.loginAuth, r.Header.Get("Authorization"))
		b.mu.Unlock()
		if gjson.GetBytes(raw, "password").String() != "secret" {
			writeJSON(w, `{"error":"invalid credentials"}`)
			return
		}
		w.Header().Set("X-Access-Token", "a-"+user)
		w.Header().Set("X-Refresh-Token", "r-"+user)
		writeJSON(w, `{"data":{"user_data":{"user":"`+user+`","role":"member"}}}`)
	})
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Access-Token", "rotated")
		writeJSON(w, `{"data":null}`)
	})
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		b.checkCalls.Add(1)
		if b.check != nil {
			b.check(w, r)
			return
		}
		writeJSON(w, `{"data":{"user_data":{"role":"admin"}}}`)
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		b.dataCalls.Add(1)
		b.data(w, r)
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func (b *backend) config(store kv.Store) Config {
	return Config{
		Transport: httpclient.NewHTTPTransportWithClient(b.Client()),
		Routes: Routes{
			Login:            b.URL + "/login",
			RefreshToken:     b.URL + "/refresh",
			InitialAuthCheck: b.URL + "/check",
		},
		Store: store,
	}
}

func newReadyBridge(t *testing.T, cfg Config) *Bridge[session.Profile] {
	t.Helper()
	b := New[session.Profile](cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func login(t *testing.T, b *Bridge[session.Profile], user string) httpclient.Outcome {
	t.Helper()
	call, err := b.Login(context.Background(), user, "secret")
	if err != nil {
		t.Fatalf("Login(%s): %v", user, err)
	}
	return call.Wait()
}

func TestLoginStoresSessionFromResponse(t *testing.T) {
	srv := newBackend(t)
	b := newReadyBridge(t, srv.config(nil))

	var switched []string
	b.OnUserSwitch(func(s session.Session[session.Profile]) { switched = append(switched, s.User()) })

	if out := login(t, b, "alice"); !out.OK() {
		t.Fatalf("login outcome = %+v", out)
	}
	st := b.State()
	if st.ActiveIndex != 0 || len(st.Sessions) != 1 {
		t.Fatalf("state = %+v", st)
	}
	got := st.Sessions[0]
	if got.User() != "alice" || got.AccessToken != "a-alice" || got.RefreshToken != "r-alice" {
		t.Fatalf("session = %+v", got)
	}
	if got.Auth["role"] != "member" {
		t.Fatalf("profile = %+v", got.Auth)
	}
	if !b.IsLoggedIn() {
		t.Fatal("IsLoggedIn = false")
	}
	if b.AuthenticationHeaders().Get("Authorization") != "Bearer a-alice" {
		t.Fatalf("headers = %v", b.AuthenticationHeaders())
	}
	if len(switched) != 1 || switched[0] != "alice" {
		t.Fatalf("switch callback = %v", switched)
	}
	srv.mu.Lock()
	body := srv.logins[0]
	srv.mu.Unlock()
	if gjson.Get(body, "user").String() != "alice" || gjson.Get(body, "password").String() != "secret" {
		t.Fatalf("login body = %s", body)
	}
}

func TestLoginSendsNoCredentials(t *testing.T) {
	srv := newBackend(t)
	b := newReadyBridge(t, srv.config(nil))
	login(t, b, "alice")
	login(t, b, "bob")
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.loginAuth) != 2 {
		t.Fatalf("login calls = %d", len(srv.loginAuth))
	}
	for i, h := range srv.loginAuth {
		if h != "" {
			t.Fatalf("login %d carried Authorization %q", i, h)
		}
	}
}

func TestLoginFailureLeavesStateUntouched(t *testing.T) {
	srv := newBackend(t)
	b := newReadyBridge(t, srv.config(nil))
	call, err := b.Login(context.Background(), "alice", "wrong")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	out := call.Wait()
	if out.Status != httpclient.StatusFailed || out.Message != "invalid credentials" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(b.State().Sessions) != 0 {
		t.Fatalf("state = %+v", b.State())
	}
}

func TestDuplicateLoginPolicies(t *testing.T) {
	tests := []struct {
		name       string
		policy     session.DuplicatePolicy
		wantAccess string
		wantActive int
	}{
		{name: "keep existing", policy: session.DuplicateKeepExisting, wantAccess: "stale", wantActive: 1},
		{name: "refresh", policy: session.DuplicateRefresh, wantAccess: "a-alice", wantActive: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newBackend(t)
			cfg := srv.config(nil)
			cfg.Policies.Duplicate = tt.policy
			b := newReadyBridge(t, cfg)
			login(t, b, "alice")
			login(t, b, "bob")
			access := "stale"
			if err := b.SwitchActiveSession(0); err != nil {
				t.Fatal(err)
			}
			if err := b.UpdateActiveSessionTokens(&access, nil); err != nil {
				t.Fatal(err)
			}
			if err := b.SwitchActiveSession(1); err != nil {
				t.Fatal(err)
			}

			login(t, b, "alice")
			st := b.State()
			if len(st.Sessions) != 2 {
				t.Fatalf("sessions = %d, want 2", len(st.Sessions))
			}
			if st.Sessions[0].AccessToken != tt.wantAccess {
				t.Fatalf("alice access = %q, want %q", st.Sessions[0].AccessToken, tt.wantAccess)
			}
			if st.ActiveIndex != tt.wantActive {
				t.Fatalf("active = %d, want %d", st.ActiveIndex, tt.wantActive)
			}
		})
	}
}

func TestSwitchAndLogout(t *testing.T) {
	srv := newBackend(t)
	b := newReadyBridge(t, srv.config(nil))
	for _, u := range []string{"alice", "bob", "carol"} {
		login(t, b, u)
	}

	if err := b.SwitchActiveSession(3); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Switch(3) = %v", err)
	}
	if err := b.SwitchActiveSession(-1); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("Switch(-1) = %v", err)
	}
	if st := b.State(); st.ActiveIndex != 2 || len(st.Sessions) != 3 {
		t.Fatalf("state after failed switch = %+v", st)
	}

	if err := b.SwitchActiveSession(1); err != nil {
		t.Fatal(err)
	}
	b.LogoutCurrentSession()
	st := b.State()
	if st.ActiveIndex != session.NoActiveIndex || len(st.Sessions) != 2 {
		t.Fatalf("state = %+v", st)
	}
	if st.Sessions[0].User() != "alice" || st.Sessions[1].User() != "carol" {
		t.Fatalf("remaining = %s, %s", st.Sessions[0].User(), st.Sessions[1].User())
	}
	if b.IsLoggedIn() {
		t.Fatal("IsLoggedIn after logout")
	}

	b.LogoutCurrentSession()
	if got := len(b.State().Sessions); got != 2 {
		t.Fatalf("logout without active session removed one: %d left", got)
	}

	var loggedOut []session.State[session.Profile]
	b.OnLogout(func(st session.State[session.Profile]) { loggedOut = append(loggedOut, st) })
	b.LogoutAllSessions()
	if len(loggedOut) != 1 || len(loggedOut[0].Sessions) != 0 || loggedOut[0].ActiveIndex != session.NoActiveIndex {
		t.Fatalf("logout callback = %+v", loggedOut)
	}
}

func TestUpdatesWithoutActiveSession(t *testing.T) {
	tests := []struct {
		name    string
		policy  session.MissingPolicy
		wantErr bool
	}{
		{name: "error", policy: session.MissingSessionError, wantErr: true},
		{name: "ignore", policy: session.MissingSessionIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Policies: session.Options{Missing: tt.policy}}
			b := newReadyBridge(t, cfg)
			token := "x"
			err := b.UpdateActiveSessionTokens(&token, nil)
			if got := errors.Is(err, session.ErrNoActiveSession); got != tt.wantErr {
				t.Fatalf("UpdateActiveSessionTokens = %v", err)
			}
			err = b.UpdateActiveSessionProfile(func(p session.Profile) session.Profile { return p })
			if got := errors.Is(err, session.ErrNoActiveSession); got != tt.wantErr {
				t.Fatalf("UpdateActiveSessionProfile = %v", err)
			}
		})
	}
}

func TestConfigurationErrors(t *testing.T) {
	srv := newBackend(t)
	tests := []struct {
		name string
		cfg  Config
		run  func(*Bridge[session.Profile]) error
		want error
	}{
		{
			name: "login without transport",
			cfg:  Config{Routes: Routes{Login: "/login"}},
			run: func(b *Bridge[session.Profile]) error {
				_, err := b.Login(context.Background(), "u", "p")
				return err
			},
			want: ErrNoTransport,
		},
		{
			name: "login without route",
			cfg:  Config{Transport: httpclient.NewHTTPTransportWithClient(srv.Client())},
			run: func(b *Bridge[session.Profile]) error {
				_, err := b.Login(context.Background(), "u", "p")
				return err
			},
			want: ErrNoLoginRoute,
		},
		{
			name: "client without refresh route",
			cfg:  Config{Transport: httpclient.NewHTTPTransportWithClient(srv.Client())},
			run: func(b *Bridge[session.Profile]) error {
				_, err := b.Client()
				return err
			},
			want: ErrNoRefreshRoute,
		},
		{
			name: "sync without check route",
			cfg:  Config{Transport: httpclient.NewHTTPTransportWithClient(srv.Client())},
			run: func(b *Bridge[session.Profile]) error {
				_, err := b.SyncWithServer(context.Background())
				return err
			},
			want: ErrNoAuthCheckRoute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(newReadyBridge(t, tt.cfg))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err %T is not a ConfigError", err)
			}
		})
	}
}

func TestSyncWithServer(t *testing.T) {
	t.Run("no credentials skips network", func(t *testing.T) {
		srv := newBackend(t)
		b := newReadyBridge(t, srv.config(nil))
		out, err := b.SyncWithServer(context.Background())
		if err != nil || out.Status != httpclient.StatusOK {
			t.Fatalf("sync = %+v, %v", out, err)
		}
		if srv.checkCalls.Load() != 0 {
			t.Fatalf("check calls = %d", srv.checkCalls.Load())
		}
	})
	t.Run("merges profile", func(t *testing.T) {
		srv := newBackend(t)
		b := newReadyBridge(t, srv.config(nil))
		login(t, b, "alice")
		out, err := b.SyncWithServer(context.Background())
		if err != nil || !out.OK() {
			t.Fatalf("sync = %+v, %v", out, err)
		}
		user, _ := b.CurrentUser()
		if user["role"] != "admin" || user["user"] != "alice" {
			t.Fatalf("profile = %+v", user)
		}
	})
	t.Run("reauth signs out", func(t *testing.T) {
		srv := newBackend(t)
		srv.check = func(w http.ResponseWriter, r *http.Request) { writeJSON(w, `{"error":"re-auth"}`) }
		b := newReadyBridge(t, srv.config(nil))
		var logouts atomic.Int32
		b.OnLogout(func(session.State[session.Profile]) { logouts.Add(1) })
		login(t, b, "alice")
		out, err := b.SyncWithServer(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if out.Status != httpclient.StatusSignedOut {
			t.Fatalf("status = %s", out.Status)
		}
		if logouts.Load() != 1 || len(b.State().Sessions) != 0 {
			t.Fatalf("logouts = %d, state = %+v", logouts.Load(), b.State())
		}
		if srv.checkCalls.Load() != 1 {
			t.Fatalf("check calls = %d", srv.checkCalls.Load())
		}
	})
}

func TestClientRefreshRotatesActiveSession(t *testing.T) {
	srv := newBackend(t)
	srv.data = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Access-Token") == "rotated" {
			writeJSON(w, `{"data":"ok"}`)
			return
		}
		writeJSON(w, `{"error":"refresh"}`)
	}
	b := newReadyBridge(t, srv.config(nil))
	login(t, b, "alice")
	client, err := b.Client()
	if err != nil {
		t.Fatal(err)
	}
	out := client.Get(context.Background(), srv.URL+"/data").Wait()
	if !out.OK() || string(out.Data) != `"ok"` {
		t.Fatalf("outcome = %+v", out)
	}
	if srv.dataCalls.Load() != 2 {
		t.Fatalf("data calls = %d", srv.dataCalls.Load())
	}
	active, _ := b.ActiveSession()
	if active.AccessToken != "rotated" || active.RefreshToken != "r-alice" {
		t.Fatalf("active tokens = %q / %q", active.AccessToken, active.RefreshToken)
	}
}

// gatedStore blocks Get until release is closed and counts writes.
type gatedStore struct {
	*kv.MemoryStore
	release chan struct{}
	mu      sync.Mutex
	writes  [][]byte
}

func newGatedStore() *gatedStore {
	return &gatedStore{MemoryStore: kv.NewMemoryStore(), release: make(chan struct{})}
}

func (s *gatedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	<-s.release
	return s.MemoryStore.Get(ctx, key)
}

func (s *gatedStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.writes = append(s.writes, append([]byte(nil), value...))
	s.mu.Unlock()
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *gatedStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func TestHydrationWaitThenReady(t *testing.T) {
	store := newGatedStore()
	persisted := session.State[session.Profile]{
		ActiveIndex: 0,
		Sessions: []session.Session[session.Profile]{
			{Auth: session.Profile{"user": "alice"}, AccessToken: "a1", RefreshToken: "r1"},
		},
	}
	raw, _ := json.Marshal(persisted)
	_ = store.MemoryStore.Set(context.Background(), DefaultStateKey, raw)

	b := New[session.Profile](Config{Store: store})
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	if b.Status() != StatusWait {
		t.Fatalf("status = %s, want WAIT", b.Status())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	if err := b.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitReady before hydration = %v", err)
	}
	cancel()

	close(store.release)
	if err := b.WaitReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.Status() != StatusReady {
		t.Fatalf("status = %s", b.Status())
	}
	active, ok := b.ActiveSession()
	if !ok || active.User() != "alice" || active.AccessToken != "a1" {
		t.Fatalf("hydrated active = %+v, %v", active, ok)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.writeCount() != 0 {
		t.Fatalf("hydration wrote state back %d time(s)", store.writeCount())
	}
}

func TestLoginDuringHydrationKeepsPersistedSessions(t *testing.T) {
	srv := newBackend(t)
	store := newGatedStore()
	raw, _ := json.Marshal(session.State[session.Profile]{
		Sessions: []session.Session[session.Profile]{{Auth: session.Profile{"user": "alice"}, AccessToken: "a1"}},
	})
	_ = store.MemoryStore.Set(context.Background(), DefaultStateKey, raw)
	b := New[session.Profile](srv.config(store))
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	call, err := b.Login(context.Background(), "bob", "secret")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-call.Done():
		t.Fatal("login resolved before hydration")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	if out := call.Wait(); !out.OK() {
		t.Fatalf("login = %+v", out)
	}
	st := b.State()
	if len(st.Sessions) != 2 || st.Sessions[0].User() != "alice" || st.Sessions[1].User() != "bob" {
		t.Fatalf("state = %+v", st)
	}
	if active, _ := b.ActiveSession(); active.User() != "bob" {
		t.Fatalf("active = %+v", active)
	}
}

func TestHydrationPersistsLoadingStateWhenNothingStored(t *testing.T) {
	store := newGatedStore()
	b := New[session.Profile](Config{Store: store})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	b.Sessions().Add(session.Session[session.Profile]{Auth: session.Profile{"user": "carol"}, AccessToken: "a-carol"})
	close(store.release)
	if err := b.WaitReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.writeCount() != 1 {
		t.Fatalf("writes = %d, want 1", store.writeCount())
	}
	raw, _, _ := store.MemoryStore.Get(context.Background(), DefaultStateKey)
	if gjson.GetBytes(raw, "_users.0.auth.user").String() != "carol" || gjson.GetBytes(raw, "_activeUserIndex").Int() != 0 {
		t.Fatalf("persisted = %s", raw)
	}
}

func TestSyncWaitsForHydration(t *testing.T) {
	srv := newBackend(t)
	store := newGatedStore()
	raw, _ := json.Marshal(session.State[session.Profile]{
		Sessions: []session.Session[session.Profile]{{Auth: session.Profile{"user": "alice"}, AccessToken: "a1"}},
	})
	_ = store.MemoryStore.Set(context.Background(), DefaultStateKey, raw)
	b := New[session.Profile](srv.config(store))
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	done := make(chan httpclient.Outcome, 1)
	go func() {
		out, _ := b.SyncWithServer(context.Background())
		done <- out
	}()
	select {
	case <-done:
		t.Fatal("sync finished before hydration")
	case <-time.After(20 * time.Millisecond):
	}
	close(store.release)
	select {
	case out := <-done:
		if !out.OK() {
			t.Fatalf("sync outcome = %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sync did not finish")
	}
	if srv.checkCalls.Load() != 1 {
		t.Fatalf("check calls = %d", srv.checkCalls.Load())
	}
}

func TestMutationsPersistLatestState(t *testing.T) {
	srv := newBackend(t)
	store := kv.NewMemoryStore()
	b := newReadyBridge(t, srv.config(store))
	login(t, b, "alice")
	login(t, b, "bob")
	if err := b.SwitchActiveSession(0); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	raw, ok, err := store.Get(context.Background(), DefaultStateKey)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	var st session.State[session.Profile]
	if err = json.Unmarshal(raw, &st); err != nil {
		t.Fatal(err)
	}
	if st.ActiveIndex != 0 || len(st.Sessions) != 2 || st.Sessions[1].User() != "bob" {
		t.Fatalf("persisted = %s", raw)
	}
	if gjson.GetBytes(raw, "_users.0.accessToken").String() != "a-alice" {
		t.Fatalf("persisted = %s", raw)
	}

	reopened := newReadyBridge(t, Config{Store: store})
	if active, _ := reopened.ActiveSession(); active.User() != "alice" {
		t.Fatalf("reopened active = %+v", active)
	}
}

func TestLogoutAllPersistsEmptyState(t *testing.T) {
	srv := newBackend(t)
	store := kv.NewMemoryStore()
	b := newReadyBridge(t, srv.config(store))
	login(t, b, "alice")
	b.LogoutAllSessions()
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	raw, _, _ := store.Get(context.Background(), DefaultStateKey)
	if got := string(raw); got != `{"_activeUserIndex":-1,"_users":[]}` {
		t.Fatalf("persisted = %s", got)
	}
}

func TestCancelledLoginResolvesCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	b := newReadyBridge(t, Config{
		Transport: httpclient.NewHTTPTransportWithClient(srv.Client()),
		Routes:    Routes{Login: srv.URL},
	})
	call, err := b.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatal(err)
	}
	call.Cancel()
	out := call.Wait()
	if out.Status != httpclient.StatusCancelled || len(out.Data) != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(b.State().Sessions) != 0 {
		t.Fatalf("state = %+v", b.State())
	}
}

func TestFromConfigPersistsToFileStorage(t *testing.T) {
	srv := newBackend(t)
	cfg := config.Default()
	cfg.Routes = config.RoutesConfig{
		Login:            srv.URL + "/login",
		RefreshToken:     srv.URL + "/refresh",
		InitialAuthCheck: srv.URL + "/check",
	}
	cfg.Storage = config.StorageConfig{Type: config.StorageFile, Dir: t.TempDir()}
	cfg.Sessions.DuplicateLogin = config.DuplicateLoginRefresh

	ctx := context.Background()
	b, err := FromConfig[session.Profile](ctx, cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if err = b.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	if b.Sessions().Options().Duplicate != session.DuplicateRefresh {
		t.Fatalf("policies = %+v", b.Sessions().Options())
	}
	login(t, b, "alice")
	if err = b.Close(ctx); err != nil {
		t.Fatal(err)
	}

	reopened, err := FromConfig[session.Profile](ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close(ctx) }()
	if err = reopened.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	if active, ok := reopened.ActiveSession(); !ok || active.User() != "alice" {
		t.Fatalf("reopened active = %+v, %v", active, ok)
	}
}

func TestFromConfigRejectsUnknownPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Sessions.MissingSession = "explode"
	if _, err := FromConfig[session.Profile](context.Background(), cfg); err == nil {
		t.Fatal("expected an error for an unknown policy")
	}
}

func TestTokenSourceFollowsActiveSession(t *testing.T) {
	srv := newBackend(t)
	b := newReadyBridge(t, srv.config(nil))
	ts := b.TokenSource(context.Background())
	if _, err := ts.Token(); !errors.Is(err, tokens.ErrNoAccessToken) {
		t.Fatalf("Token before login = %v", err)
	}
	login(t, b, "alice")
	tok, err := ts.Token()
	if err != nil || tok.AccessToken != "a-alice" || tok.RefreshToken != "r-alice" {
		t.Fatalf("Token = %+v, %v", tok, err)
	}
}

func TestNewTokenClient(t *testing.T) {
	tests := []struct {
		name       string
		data       http.HandlerFunc
		wantStatus httpclient.Status
		wantAccess string
	}{
		{
			name: "refresh persists rotation",
			data: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("X-Access-Token") == "rotated" {
					writeJSON(w, `{"data":"ok"}`)
					return
				}
				writeJSON(w, `{"error":"refresh"}`)
			},
			wantStatus: httpclient.StatusOK,
			wantAccess: "rotated",
		},
		{
			name:       "re-auth clears the pair",
			data:       func(w http.ResponseWriter, r *http.Request) { writeJSON(w, `{"error":"re-auth"}`) },
			wantStatus: httpclient.StatusSignedOut,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newBackend(t)
			srv.data = tt.data
			store := kv.NewMemoryStore()
			_ = store.Set(context.Background(), tokens.AccessTokenKey, []byte("old"))
			_ = store.Set(context.Background(), tokens.RefreshTokenKey, []byte("r-old"))

			client, source, err := NewTokenClient(srv.config(store))
			if err != nil {
				t.Fatal(err)
			}
			out := client.Get(context.Background(), srv.URL+"/data").Wait()
			if out.Status != tt.wantStatus {
				t.Fatalf("outcome = %+v", out)
			}
			if got := source.Tokens(context.Background()).AccessToken; got != tt.wantAccess {
				t.Fatalf("access token = %q, want %q", got, tt.wantAccess)
			}
			raw, ok, _ := store.Get(context.Background(), tokens.AccessTokenKey)
			if string(raw) != tt.wantAccess || ok != (tt.wantAccess != "") {
				t.Fatalf("stored access token = %q, %v", raw, ok)
			}
		})
	}
}

func TestNewTokenClientConfigErrors(t *testing.T) {
	if _, _, err := NewTokenClient(Config{}); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("err = %v", err)
	}
	srv := newBackend(t)
	cfg := srv.config(nil)
	cfg.Routes.RefreshToken = ""
	if _, _, err := NewTokenClient(cfg); !errors.Is(err, ErrNoRefreshRoute) {
		t.Fatalf("err = %v", err)
	}
}
