package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AuthBridge/internal/logging"
	"github.com/router-for-me/AuthBridge/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	headerAccessToken  = "X-Access-Token"
	headerRefreshToken = "X-Refresh-Token"

	sentinelRefresh = "refresh"
	sentinelReauth  = "re-auth"

	userKey = "devserver.user"
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:8787".
	Addr string
	// UsersFile is a YAML users file. It is watched and reloaded on change.
	UsersFile string
	// Users overrides UsersFile, mainly for tests.
	Users *Directory
	// FilesDir is served under /api/files.
	FilesDir string
	// AccessTTL is the access token lifetime.
	AccessTTL time.Duration
}

// Server is the development backend.
type Server struct {
	opts   Options
	users  *Directory
	issuer  *Issuer
	metrics *serverMetrics
	engine  *gin.Engine
}

// New builds the server and its routes.
func New(opts Options) (*Server, error) {
	users := opts.Users
	if users == nil {
		if strings.TrimSpace(opts.UsersFile) == "" {
			return nil, errors.New("devserver: a users file is required")
		}
		loaded, err := LoadDirectory(opts.UsersFile)
		if err != nil {
			return nil, err
		}
		users = loaded
	}
	s := &Server{opts: opts, users: users, issuer: NewIssuer(opts.AccessTTL), metrics: newServerMetrics()}
	s.engine = gin.New()
	s.engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/metrics", s.metrics.handler())

	api := s.engine.Group("/api")
	api.POST("/login", s.login)
	api.GET("/refresh", s.refresh)

	authed := api.Group("", s.requireAccess)
	authed.GET("/check", s.check)
	authed.HEAD("/check", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.Status(http.StatusNoContent)
	})
	authed.POST("/logout", s.logout)
	authed.GET("/files/:name", s.file)
	authed.POST("/files/:name", s.upload)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		authed.Handle(method, "/echo", s.echo)
	}
}

// Handler exposes the routes.
func (s *Server) Handler() http.Handler { return s.engine }

// Issuer exposes the token issuer.
func (s *Server) Issuer() *Issuer { return s.issuer }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.opts.UsersFile != "" && s.opts.Users == nil {
		stop, err := WatchUsers(ctx, s.opts.UsersFile, s.users)
		if err != nil {
			return err
		}
		defer stop()
	}
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("devserver: listening on %s", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("devserver: listen: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("devserver: shutdown: %w", err)
	}
	return nil
}

func writeData(c *gin.Context, status int, data any) {
	body, err := sjson.SetBytes([]byte(`{}`), "data", data)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(status, "application/json", body)
}

func writeRawData(c *gin.Context, status int, raw []byte) {
	body, err := sjson.SetRawBytes([]byte(`{}`), "data", raw)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(status, "application/json", body)
}

func writeError(c *gin.Context, status int, msg string) {
	body, _ := sjson.SetBytes([]byte(`{}`), "error", msg)
	c.Data(status, "application/json", body)
}

func setTokens(c *gin.Context, access, refresh string) {
	c.Header(headerAccessToken, access)
	c.Header(headerRefreshToken, refresh)
}

func (s *Server) login(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(raw) {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	name := gjson.GetBytes(raw, "user").String()
	u, err := s.users.Authenticate(name, gjson.GetBytes(raw, "password").String())
	if err != nil {
		s.metrics.logins.WithLabelValues("rejected").Inc()
		log.WithField("user", name).Info("devserver: login rejected")
		writeError(c, http.StatusUnauthorized, err.Error())
		return
	}
	access, refresh := s.issuer.Issue(u.Name)
	setTokens(c, access, refresh)
	s.metrics.logins.WithLabelValues("ok").Inc()
	log.WithField("user", u.Name).Info("devserver: login")
	writeData(c, http.StatusOK, map[string]any{"user_data": u.UserData()})
}

func (s *Server) refresh(c *gin.Context) {
	user, access, refresh, ok := s.issuer.Rotate(c.GetHeader(headerRefreshToken))
	if !ok {
		s.metrics.refresh.WithLabelValues("rejected").Inc()
		writeError(c, http.StatusUnauthorized, sentinelReauth)
		return
	}
	s.metrics.refresh.WithLabelValues("ok").Inc()
	setTokens(c, access, refresh)
	log.WithFields(log.Fields{"user": user, "key": util.HideToken(access)}).Debug("devserver: rotated tokens")
	writeData(c, http.StatusOK, nil)
}

func accessToken(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader(headerAccessToken)); v != "" {
		return v
	}
	v := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// requireAccess answers "refresh" for an expired token and "re-auth" for an unknown one.
func (s *Server) requireAccess(c *gin.Context) {
	token := accessToken(c)
	if token == "" {
		s.reject(c, "missing credentials")
		return
	}
	user, state := s.issuer.Check(token)
	switch state {
	case TokenExpired:
		s.reject(c, sentinelRefresh)
		return
	case TokenUnknown:
		s.reject(c, sentinelReauth)
		return
	}
	u, ok := s.users.Lookup(user)
	if !ok {
		s.issuer.Revoke(user)
		s.reject(c, sentinelReauth)
		return
	}
	c.Set(userKey, u)
	c.Next()
}

func (s *Server) reject(c *gin.Context, reason string) {
	s.metrics.rejected.WithLabelValues(reason).Inc()
	writeError(c, http.StatusUnauthorized, reason)
	c.Abort()
}

func currentUser(c *gin.Context) User {
	u, _ := c.Get(userKey)
	user, _ := u.(User)
	return user
}

func (s *Server) check(c *gin.Context) {
	writeData(c, http.StatusOK, map[string]any{"user_data": currentUser(c).UserData()})
}

func (s *Server) logout(c *gin.Context) {
	u := currentUser(c)
	s.issuer.Revoke(u.Name)
	log.WithField("user", u.Name).Info("devserver: logout")
	writeData(c, http.StatusOK, nil)
}

func (s *Server) echo(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(raw) == 0 {
		writeData(c, http.StatusOK, map[string]any{"method": c.Request.Method})
		return
	}
	if !gjson.ValidBytes(raw) {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	writeRawData(c, http.StatusOK, raw)
}

// filePath resolves name inside FilesDir, rejecting path traversal.
func (s *Server) filePath(name string) (string, bool) {
	if s.opts.FilesDir == "" || name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return filepath.Join(s.opts.FilesDir, name), true
}

func (s *Server) file(c *gin.Context) {
	path, ok := s.filePath(c.Param("name"))
	if !ok {
		writeError(c, http.StatusNotFound, "file not found")
		return
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		writeError(c, http.StatusNotFound, "file not found")
		return
	}
	c.File(path)
}

func (s *Server) upload(c *gin.Context) {
	path, ok := s.filePath(c.Param("name"))
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid file name")
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err = os.WriteFile(path, raw, 0o600); err != nil {
		log.WithError(err).Warn("devserver: store upload")
		writeError(c, http.StatusInternalServerError, "could not store file")
		return
	}
	writeData(c, http.StatusOK, map[string]any{"name": filepath.Base(path), "size": len(raw)})
}
