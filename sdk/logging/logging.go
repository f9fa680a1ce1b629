// Package logging re-exports the logger setup and request id helpers for
// applications embedding AuthBridge.
package logging

import (
	"context"

	internallogging "github.com/router-for-me/AuthBridge/internal/logging"
	"github.com/router-for-me/AuthBridge/sdk/config"
)

// RequestIDHeader is sent with every request issued by the HTTP client.
const RequestIDHeader = internallogging.RequestIDHeader

// LogFormatter renders "[time] [request id] [level] [file:line] message fields".
type LogFormatter = internallogging.LogFormatter

// Setup installs the shared formatter on the standard logrus logger.
func Setup() { internallogging.SetupBaseLogger() }

// ConfigureOutput applies the debug, logging-to-file and log size settings of cfg.
func ConfigureOutput(cfg *config.Config) error { return internallogging.ConfigureLogOutput(cfg) }

// WithRequestID attaches id to ctx; the HTTP client reuses it instead of generating one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return internallogging.WithRequestID(ctx, id)
}

// RequestID returns the request id carried by ctx.
func RequestID(ctx context.Context) string { return internallogging.GetRequestID(ctx) }
