package httpclient

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/router-for-me/AuthBridge/internal/config"
	"github.com/router-for-me/AuthBridge/internal/util"
	log "github.com/sirupsen/logrus"
)

const acceptEncoding = "gzip, deflate, br, zstd"

// HTTPTransport implements StreamTransport over net/http. Compressed bodies are
// decoded transparently.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a transport honouring the proxy and timeout settings of cfg.
func NewHTTPTransport(cfg *config.SDKConfig) *HTTPTransport {
	return &HTTPTransport{client: util.NewHTTPClient(cfg)}
}

// NewHTTPTransportWithClient wraps an existing client.
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) do(ctx context.Context, req *Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("response body close error: %v", errClose)
		}
	}()
	reader, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Open implements StreamTransport. The caller closes the returned body.
func (t *HTTPTransport) Open(ctx context.Context, req *Request) (*StreamResponse, error) {
	resp, err := t.do(ctx, req)
	if err != nil {
		return nil, err
	}
	encoding := resp.Header.Get("Content-Encoding")
	reader, err := decodeBody(resp.Body, encoding)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	length := resp.ContentLength
	if isEncoded(encoding) {
		// Content-Length counts compressed bytes.
		length = -1
	}
	return &StreamResponse{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: length,
		Body:          &stackedCloser{Reader: reader, closers: []io.Closer{reader, resp.Body}},
	}, nil
}

func isEncoded(encoding string) bool {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return false
	}
	return true
}

// decodeBody wraps r with the decoder for the given Content-Encoding.
func decodeBody(r io.Reader, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip":
		reader, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("httpclient: failed to create gzip reader: %w", err)
		}
		return reader, nil
	case "deflate":
		return newDeflateReader(r)
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	case "zstd":
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("httpclient: failed to create zstd reader: %w", err)
		}
		return decoder.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("httpclient: unsupported content encoding %q", encoding)
	}
}

// newDeflateReader reads zlib-wrapped deflate and falls back to raw deflate
// for servers that omit the zlib header.
func newDeflateReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(2)
	if err == nil && isZlibHeader(header[0], header[1]) {
		reader, errZlib := zlib.NewReader(br)
		if errZlib != nil {
			return nil, fmt.Errorf("httpclient: failed to create zlib reader: %w", errZlib)
		}
		return reader, nil
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
