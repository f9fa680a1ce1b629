package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	recorder := httptest.NewRecorder()

	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatalf("expected panic, got nil")
		}
		err, ok := recovered.(error)
		if !ok {
			t.Fatalf("expected error panic, got %T", recovered)
		}
		if !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler, got %v", err)
		}
		if err != http.ErrAbortHandler {
			t.Fatalf("expected exact ErrAbortHandler sentinel, got %v", err)
		}
	}()

	engine.ServeHTTP(recorder, req)
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	recorder := httptest.NewRecorder()

	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestGinLogrusLoggerPropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	var seen string
	engine.GET("/api/me", func(c *gin.Context) {
		seen = GetRequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(RequestIDHeader, "deadbeef")
	engine.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "deadbeef" {
		t.Fatalf("request id = %q, want deadbeef", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	engine.ServeHTTP(httptest.NewRecorder(), req)
	if len(seen) != 8 {
		t.Fatalf("expected generated 8-char request id, got %q", seen)
	}
}

func TestGinLogrusLoggerFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := test.NewGlobal()
	defer hook.Reset()

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/api/items", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	engine.HEAD("/api/items", func(c *gin.Context) {
		SkipGinRequestLogging(c)
		c.Status(http.StatusNoContent)
	})

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/items?refresh_token=secret&page=2", nil))
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/api/items", nil))

	entries := hook.AllEntries()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != log.WarnLevel {
		t.Fatalf("level = %s, want warning", e.Level)
	}
	if e.Data["status"] != http.StatusNotFound || e.Data["method"] != http.MethodGet {
		t.Fatalf("fields = %v", e.Data)
	}
	if url, _ := e.Data["url"].(string); strings.Contains(url, "secret") {
		t.Fatalf("url leaked refresh token: %q", url)
	}
}
