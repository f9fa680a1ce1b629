package httpclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/router-for-me/AuthBridge/sdk/tokens"
)

// Client exposes the request surface. Calls return immediately with a *Call.
type Client struct {
	executor *Executor
	handler  Handler
	stream   StreamTransport
}

// Option customises a Client.
type Option func(*clientOptions)

type clientOptions struct {
	middleware []Middleware
	metrics    *Metrics
}

// WithMiddleware appends middleware. The first one added is the outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(o *clientOptions) { o.middleware = append(o.middleware, mws...) }
}

// WithMetrics records executor activity on m.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// NewClient builds a client over transport. A nil source yields an unauthenticated
// client; middleware is still applied when given.
func NewClient(transport Transport, source tokens.Source, opts ...Option) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	exec := NewExecutor(transport, source, o.metrics)
	c := &Client{executor: exec, handler: Chain(exec, o.middleware...)}
	if st, ok := transport.(StreamTransport); ok {
		c.stream = st
	}
	return c
}

// Executor returns the innermost handler.
func (c *Client) Executor() *Executor { return c.executor }

// RequestOption customises a single request.
type RequestOption func(*Request)

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Set(key, value)
	}
}

// WithHeaders merges extra request headers.
func WithHeaders(h http.Header) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		for key, values := range h {
			r.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	}
}

// WithContentType overrides the Content-Type of the request body.
func WithContentType(ct string) RequestOption {
	return WithHeader("Content-Type", ct)
}

func newRequest(method, url string, body []byte, kind ResponseKind, opts []RequestOption) *Request {
	req := &Request{Method: method, URL: url, Body: body, Kind: kind, Header: http.Header{}}
	for _, opt := range opts {
		if opt != nil {
			opt(req)
		}
	}
	return req
}

// Do runs req through the handler chain.
func (c *Client) Do(ctx context.Context, req *Request) *Call {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	call := newCall(cancel)
	ctx = withHeaderHook(ctx, call.resolveHeader)
	go func() {
		defer cancel()
		out := c.handler.Handle(ctx, req)
		if ctx.Err() != nil && out.Status != StatusOK {
			out = Cancelled()
		}
		call.finish(out)
	}()
	return call
}

// Get issues a GET and decodes the JSON envelope.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) *Call {
	return c.Do(ctx, newRequest(http.MethodGet, url, nil, ResponseJSON, opts))
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, url string, opts ...RequestOption) *Call {
	return c.Do(ctx, newRequest(http.MethodHead, url, nil, ResponseJSON, opts))
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) *Call {
	return c.Do(ctx, newRequest(http.MethodDelete, url, nil, ResponseJSON, opts))
}

// PostJSON sends body encoded as JSON with POST.
func (c *Client) PostJSON(ctx context.Context, url string, body any, opts ...RequestOption) *Call {
	return c.sendJSON(ctx, http.MethodPost, url, body, opts)
}

// PatchJSON sends body encoded as JSON with PATCH.
func (c *Client) PatchJSON(ctx context.Context, url string, body any, opts ...RequestOption) *Call {
	return c.sendJSON(ctx, http.MethodPatch, url, body, opts)
}

// PutJSON sends body encoded as JSON with PUT.
func (c *Client) PutJSON(ctx context.Context, url string, body any, opts ...RequestOption) *Call {
	return c.sendJSON(ctx, http.MethodPut, url, body, opts)
}

func (c *Client) sendJSON(ctx context.Context, method, url string, body any, opts []RequestOption) *Call {
	var payload []byte
	switch v := body.(type) {
	case []byte:
		payload = v
	case json.RawMessage:
		payload = v
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return resolved(Failed("httpclient: encode body: " + err.Error()))
		}
		payload = encoded
	}
	opts = append([]RequestOption{WithContentType("application/json")}, opts...)
	return c.Do(ctx, newRequest(method, url, payload, ResponseJSON, opts))
}

// PostBinary uploads raw bytes. The content type defaults to application/octet-stream.
func (c *Client) PostBinary(ctx context.Context, url string, body []byte, opts ...RequestOption) *Call {
	opts = append([]RequestOption{WithContentType("application/octet-stream")}, opts...)
	if body == nil {
		body = []byte{}
	}
	return c.Do(ctx, newRequest(http.MethodPost, url, body, ResponseJSON, opts))
}

// GetBinary downloads a body into memory. Its Outcome.Body holds the payload.
func (c *Client) GetBinary(ctx context.Context, url string, opts ...RequestOption) *Call {
	return c.Do(ctx, newRequest(http.MethodGet, url, nil, ResponseBinary, opts))
}
