// Package logging configures the shared logrus logger and provides Gin middleware
// for HTTP request logging and panic recovery used by the development backend.
package logging

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AuthBridge/internal/util"
	log "github.com/sirupsen/logrus"
)

// apiPrefix marks the routes that receive request id tracking.
const apiPrefix = "/api/"

const skipGinLogKey = "__gin_skip_request_logging__"

// GinLogrusLogger logs one line per request with method, url and status fields.
// Routes under /api/ get a request id, reusing X-Request-Id when the client sent one,
// so backend lines can be matched with the client's.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		fields := log.Fields{"method": c.Request.Method, "url": requestURL(c)}

		if strings.HasPrefix(c.Request.URL.Path, apiPrefix) {
			requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
			if requestID == "" {
				requestID = GenerateRequestID()
			}
			c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
			fields["request_id"] = requestID
		}

		c.Next()

		if skip, _ := c.Get(skipGinLogKey); skip == true {
			return
		}

		status := c.Writer.Status()
		fields["status"] = status
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			fields["error"] = strings.TrimSpace(msg)
		}
		line := fmt.Sprintf("%13v | %s", roundLatency(time.Since(start)), c.ClientIP())

		entry := log.WithFields(fields)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

func requestURL(c *gin.Context) string {
	path := c.Request.URL.Path
	if raw := util.MaskSensitiveQuery(c.Request.URL.RawQuery); raw != "" {
		return path + "?" + raw
	}
	return path
}

func roundLatency(d time.Duration) time.Duration {
	if d > time.Minute {
		return d.Truncate(time.Second)
	}
	return d.Truncate(time.Millisecond)
}

// GinLogrusRecovery returns a Gin middleware handler that recovers from panics and logs
// them using logrus, answering 500 to the client.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			// Let net/http abort the connection without stack noise.
			panic(http.ErrAbortHandler)
		}

		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipGinRequestLogging marks the provided Gin context so that GinLogrusLogger
// will skip emitting a log line for the associated request.
func SkipGinRequestLogging(c *gin.Context) {
	if c == nil {
		return
	}
	c.Set(skipGinLogKey, true)
}
