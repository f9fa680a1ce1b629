package httpclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/router-for-me/AuthBridge/internal/logging"
	"github.com/router-for-me/AuthBridge/internal/util"
	"github.com/router-for-me/AuthBridge/sdk/tokens"
	log "github.com/sirupsen/logrus"
)

// Executor is the innermost Handler. It attaches credentials from its token source,
// performs the round trip and decodes the response. A nil source makes it an
// unauthenticated executor, used for login and similar calls.
type Executor struct {
	transport Transport
	source    tokens.Source
	metrics   *Metrics
}

// NewExecutor returns an executor. source may be nil.
func NewExecutor(transport Transport, source tokens.Source, metrics *Metrics) *Executor {
	return &Executor{transport: transport, source: source, metrics: metrics}
}

// Authenticated reports whether the executor attaches credentials.
func (e *Executor) Authenticated() bool { return e.source != nil }

// prepare clones req and adds the credential and request id headers.
func (e *Executor) prepare(ctx context.Context, req *Request) (context.Context, *Request, string) {
	ctx, requestID := logging.EnsureRequestID(ctx)
	out := req.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if e.source != nil {
		for key, values := range e.source.Tokens(ctx).Header() {
			out.Header[key] = values
		}
	}
	out.Header.Set(logging.RequestIDHeader, requestID)
	return ctx, out, requestID
}

// Handle implements Handler.
func (e *Executor) Handle(ctx context.Context, req *Request) Outcome {
	if err := ctx.Err(); err != nil {
		return Cancelled()
	}
	ctx, prepared, requestID := e.prepare(ctx, req)
	entry := log.WithFields(log.Fields{
		"request_id": requestID,
		"method":     prepared.Method,
		"url":        util.MaskURL(prepared.URL),
	})

	start := time.Now()
	resp, err := e.transport.Send(ctx, prepared)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			entry.Debug("request cancelled")
			e.metrics.observeRequest(prepared.Method, StatusCancelled, elapsed)
			return Cancelled()
		}
		entry.WithError(err).Warn("request failed")
		e.metrics.observeRequest(prepared.Method, StatusFailed, elapsed)
		return Failed(NetworkErrorMessage)
	}
	notifyHeader(ctx, resp.Header)

	var out Outcome
	if prepared.Kind == ResponseBinary {
		out = decodeBinary(resp)
	} else {
		out = decodeEnvelope(resp)
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		entry.WithFields(log.Fields{
			"status":  resp.StatusCode,
			"outcome": out.Status.String(),
		}).Debugf("request completed in %s", elapsed)
	}
	e.metrics.observeRequest(prepared.Method, out.Status, elapsed)
	return out
}
