// Package httpclient issues credentialed requests against an AuthBridge backend.
//
// Every request runs through a chain of Handlers. The innermost Handler is the
// Executor, which attaches credential headers, talks to a Transport and decodes the
// response envelope into a tagged Outcome. Middleware such as Refresh wraps it to
// implement the refresh-then-retry protocol. Public methods return a *Call that
// resolves lazily and can be cancelled.
package httpclient

import (
	"context"
	"io"
	"net/http"
)

// ResponseKind tells the executor how to interpret a response body.
type ResponseKind int

const (
	// ResponseJSON decodes the body as a {data,error} envelope.
	ResponseJSON ResponseKind = iota
	// ResponseBinary keeps the raw body unless the server answered with JSON.
	ResponseBinary
)

// Request is one backend operation.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Kind   ResponseKind
}

// Clone returns a copy that can be replayed independently.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return &out
}

// Response is a fully read transport response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StreamResponse is a transport response whose body is consumed incrementally.
type StreamResponse struct {
	StatusCode int
	Header     http.Header
	// ContentLength is -1 when unknown.
	ContentLength int64
	Body          io.ReadCloser
}

// Transport performs a single round trip. Implementations must honour ctx cancellation.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// StreamTransport is implemented by transports able to hand out the body as a stream.
type StreamTransport interface {
	Transport
	Open(ctx context.Context, req *Request) (*StreamResponse, error)
}

// Handler resolves a request into an Outcome. Handlers never return Go errors for
// network or protocol conditions; those are encoded in the Outcome.
type Handler interface {
	Handle(ctx context.Context, req *Request) Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) Outcome

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) Outcome { return f(ctx, req) }

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

// Chain wraps h with mws. The first middleware is the outermost one.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
