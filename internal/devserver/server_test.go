package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AuthBridge/sdk/bridge"
	"github.com/router-for-me/AuthBridge/sdk/httpclient"
	"github.com/router-for-me/AuthBridge/sdk/session"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testUser(t *testing.T, name, password string) User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return User{Name: name, PasswordHash: string(hash), Profile: map[string]any{"role": "tester"}}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T, filesDir string) (*Server, *clock) {
	t.Helper()
	s, err := New(Options{
		Users:     NewDirectory(testUser(t, "alice", "secret"), testUser(t, "bob", "hunter2")),
		FilesDir:  filesDir,
		AccessTTL: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	s.issuer.now = c.Now
	return s, c
}

func serve(s *Server, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLoginRoute(t *testing.T) {
	s, _ := newTestServer(t, "")
	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantError string
	}{
		{name: "valid", body: `{"user":"alice","password":"secret"}`, wantCode: http.StatusOK},
		{name: "wrong password", body: `{"user":"alice","password":"nope"}`, wantCode: http.StatusUnauthorized, wantError: "invalid credentials"},
		{name: "unknown user", body: `{"user":"carol","password":"secret"}`, wantCode: http.StatusUnauthorized, wantError: "invalid credentials"},
		{name: "malformed", body: `{`, wantCode: http.StatusBadRequest, wantError: "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, http.MethodPost, "/api/login", tt.body, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			body := rec.Body.Bytes()
			if got := gjson.GetBytes(body, "error").String(); got != tt.wantError {
				t.Fatalf("error = %q, want %q", got, tt.wantError)
			}
			if tt.wantError != "" {
				return
			}
			if gjson.GetBytes(body, "data.user_data.user").String() != "alice" || gjson.GetBytes(body, "data.user_data.role").String() != "tester" {
				t.Fatalf("body = %s", body)
			}
			if rec.Header().Get(headerAccessToken) == "" || rec.Header().Get(headerRefreshToken) == "" {
				t.Fatalf("token headers missing: %v", rec.Header())
			}
		})
	}
}

func TestProtectedRouteSentinels(t *testing.T) {
	s, c := newTestServer(t, "")
	access, refresh := s.issuer.Issue("alice")

	check := func(token string) string {
		h := http.Header{}
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
		return gjson.Get(serve(s, http.MethodGet, "/api/check", "", h).Body.String(), "error").String()
	}

	if got := check(access); got != "" {
		t.Fatalf("valid token error = %q", got)
	}
	if rec := serve(s, http.MethodHead, "/api/check", "", http.Header{headerAccessToken: {access}}); rec.Code != http.StatusNoContent {
		t.Fatalf("HEAD check code = %d", rec.Code)
	}
	if got := check(""); got != "missing credentials" {
		t.Fatalf("missing token error = %q", got)
	}
	if got := check("bogus"); got != sentinelReauth {
		t.Fatalf("unknown token error = %q", got)
	}
	c.Advance(2 * time.Minute)
	if got := check(access); got != sentinelRefresh {
		t.Fatalf("expired token error = %q", got)
	}

	rec := serve(s, http.MethodGet, "/api/refresh", "", http.Header{headerRefreshToken: {refresh}})
	rotated := rec.Header().Get(headerAccessToken)
	if rotated == "" || rotated == access {
		t.Fatalf("refresh did not rotate: %v %s", rec.Header(), rec.Body.String())
	}
	if got := check(rotated); got != "" {
		t.Fatalf("rotated token error = %q", got)
	}
	reused := serve(s, http.MethodGet, "/api/refresh", "", http.Header{headerRefreshToken: {refresh}})
	if got := gjson.Get(reused.Body.String(), "error").String(); got != sentinelReauth {
		t.Fatalf("reused refresh token error = %q", got)
	}
}

func TestLogoutRevokesTokens(t *testing.T) {
	s, _ := newTestServer(t, "")
	access, _ := s.issuer.Issue("alice")
	h := http.Header{headerAccessToken: {access}}
	if rec := serve(s, http.MethodPost, "/api/logout", "", h); rec.Code != http.StatusOK {
		t.Fatalf("logout code = %d", rec.Code)
	}
	if _, state := s.issuer.Check(access); state != TokenUnknown {
		t.Fatalf("token state after logout = %v", state)
	}
}

func TestEchoAndFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "report.bin"), []byte{1, 2, 3, 4}, 0o600); err != nil {
		t.Fatal(err)
	}
	s, _ := newTestServer(t, dir)
	access, _ := s.issuer.Issue("bob")
	h := http.Header{headerAccessToken: {access}}

	rec := serve(s, http.MethodPatch, "/api/echo", `{"x":1}`, h)
	if got := gjson.Get(rec.Body.String(), "data.x").Int(); got != 1 {
		t.Fatalf("echo body = %s", rec.Body.String())
	}
	rec = serve(s, http.MethodGet, "/api/files/report.bin", "", h)
	if rec.Code != http.StatusOK || rec.Body.Len() != 4 {
		t.Fatalf("file = %d %q", rec.Code, rec.Body.Bytes())
	}
	for _, name := range []string{"missing.bin", "..%2Fsecret", ".hidden"} {
		rec = serve(s, http.MethodGet, "/api/files/"+name, "", h)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s code = %d", name, rec.Code)
		}
	}
	rec = serve(s, http.MethodPost, "/api/files/upload.bin", "payload", h)
	if gjson.Get(rec.Body.String(), "data.size").Int() != 7 {
		t.Fatalf("upload body = %s", rec.Body.String())
	}
	if data, err := os.ReadFile(filepath.Join(dir, "upload.bin")); err != nil || string(data) != "payload" {
		t.Fatalf("uploaded = %q, %v", data, err)
	}
}

func TestMetricsRoute(t *testing.T) {
	s, c := newTestServer(t, "")
	serve(s, http.MethodPost, "/api/login", `{"user":"alice","password":"nope"}`, nil)
	access, _ := s.issuer.Issue("alice")
	c.Advance(2 * time.Minute)
	serve(s, http.MethodGet, "/api/check", "", http.Header{headerAccessToken: {access}})

	rec := serve(s, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics code = %d", rec.Code)
	}
	for _, want := range []string{
		`authbridge_devserver_logins_total{result="rejected"} 1`,
		`authbridge_devserver_rejected_requests_total{reason="refresh"} 1`,
	} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("metrics missing %q:\n%s", want, rec.Body.String())
		}
	}
}

func TestBridgeAgainstDevServer(t *testing.T) {
	s, c := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	b := bridge.New[session.Profile](bridge.Config{
		Transport: httpclient.NewHTTPTransportWithClient(srv.Client()),
		Routes: bridge.Routes{
			Login:            srv.URL + "/api/login",
			RefreshToken:     srv.URL + "/api/refresh",
			InitialAuthCheck: srv.URL + "/api/check",
		},
	})
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	ctx := context.Background()

	call, err := b.Login(ctx, "alice", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if out := call.Wait(); !out.OK() {
		t.Fatalf("login = %+v", out)
	}
	before, _ := b.ActiveSession()

	c.Advance(2 * time.Minute)
	out, err := b.SyncWithServer(ctx)
	if err != nil || !out.OK() {
		t.Fatalf("sync = %+v, %v", out, err)
	}
	after, _ := b.ActiveSession()
	if after.AccessToken == before.AccessToken || after.RefreshToken == before.RefreshToken {
		t.Fatal("tokens were not rotated by the refresh")
	}
	if after.Auth["role"] != "tester" {
		t.Fatalf("profile = %+v", after.Auth)
	}

	s.issuer.Revoke("alice")
	c.Advance(2 * time.Minute)
	out, _ = b.SyncWithServer(ctx)
	if out.Status != httpclient.StatusSignedOut || b.IsLoggedIn() {
		t.Fatalf("sync after revoke = %+v, logged in %v", out, b.IsLoggedIn())
	}
}
