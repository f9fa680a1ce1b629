package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AuthBridge/internal/devserver"
)

type cli struct {
	t      *testing.T
	config string
	srv    *httptest.Server
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	gin.SetMode(gin.TestMode)
	for _, key := range []string{"HTTPS_PROXY", "https_proxy", "AUTHBRIDGE_PROXY_URL", "AUTHBRIDGE_PASSWORD", "AUTHBRIDGE_STORAGE", "AUTHBRIDGE_STORAGE_DIR"} {
		t.Setenv(key, "")
	}

	files := t.TempDir()
	if err := os.WriteFile(filepath.Join(files, "report.bin"), bytes.Repeat([]byte("x"), 100_000), 0o600); err != nil {
		t.Fatal(err)
	}
	alice, err := devserver.HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	bob, err := devserver.HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	s, err := devserver.New(devserver.Options{
		Users: devserver.NewDirectory(
			devserver.User{Name: "alice", PasswordHash: alice},
			devserver.User{Name: "bob", PasswordHash: bob, Profile: map[string]any{"team": "ops"}},
		),
		FilesDir: files,
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`routes:
  login-route: %[1]s/api/login
  refresh-token-route: %[1]s/api/refresh
  initial-auth-check-route: %[1]s/api/check
storage:
  type: file
  dir: %[2]s
`, srv.URL, filepath.Join(dir, "state"))
	if err = os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return &cli{t: t, config: path, srv: srv}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"-config", c.config}, args...), strings.NewReader(""), &out)
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	c := newCLI(t)

	if out := c.mustRun("-password", "secret", "login", "alice"); !strings.Contains(out, "logged in as alice") {
		t.Fatalf("login output = %q", out)
	}
	c.mustRun("-password", "hunter2", "login", "bob")
	if _, err := c.run("-password", "wrong", "login", "carol"); err == nil {
		t.Fatal("login with bad credentials succeeded")
	}

	out := c.mustRun("sessions")
	if !strings.Contains(out, "alice") || !strings.Contains(out, "bob") {
		t.Fatalf("sessions = %q", out)
	}

	if out = c.mustRun("switch", "0"); !strings.Contains(out, "(alice)") {
		t.Fatalf("switch = %q", out)
	}
	if _, err := c.run("switch", "7"); err == nil {
		t.Fatal("switch to a missing index succeeded")
	}

	if out = c.mustRun("sync"); !strings.Contains(out, "session of alice is valid") {
		t.Fatalf("sync = %q", out)
	}
	if out = c.mustRun("get", c.srv.URL+"/api/check"); !strings.Contains(out, `"user": "alice"`) {
		t.Fatalf("get = %q", out)
	}

	token := strings.TrimSpace(c.mustRun("token"))
	if token == "" {
		t.Fatal("empty token")
	}
	var copied string
	original := copyToClipboard
	copyToClipboard = func(s string) error { copied = s; return nil }
	t.Cleanup(func() { copyToClipboard = original })
	c.mustRun("token", "-copy")
	if copied != token {
		t.Fatalf("copied %q, want %q", copied, token)
	}

	if out = c.mustRun("logout"); !strings.Contains(out, "logged out alice") {
		t.Fatalf("logout = %q", out)
	}
	if out = c.mustRun("logout"); !strings.Contains(out, "no active session") {
		t.Fatalf("second logout = %q", out)
	}
	c.mustRun("logout", "-all")
	if out = c.mustRun("sessions"); !strings.Contains(out, "No stored sessions") {
		t.Fatalf("sessions after logout -all = %q", out)
	}
	if _, err := c.run("token"); err == nil || !strings.Contains(err.Error(), "no active session") {
		t.Fatalf("token after logout -all = %v", err)
	}
}

func TestDownloadWritesFile(t *testing.T) {
	c := newCLI(t)
	c.mustRun("-password", "secret", "login", "alice")
	dest := filepath.Join(t.TempDir(), "report.bin")
	c.mustRun("download", c.srv.URL+"/api/files/report.bin", dest)
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 100_000 {
		t.Fatalf("downloaded %d bytes", len(data))
	}

	missing := filepath.Join(t.TempDir(), "missing.bin")
	if _, err = c.run("download", c.srv.URL+"/api/files/missing.bin", missing); err == nil {
		t.Fatal("download of a missing file succeeded")
	}
	if _, err = os.Stat(missing); !os.IsNotExist(err) {
		t.Fatalf("partial file left behind: %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	c := newCLI(t)
	if _, err := c.run("frobnicate"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("err = %v", err)
	}
}
