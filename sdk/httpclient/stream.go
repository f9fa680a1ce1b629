package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/router-for-me/AuthBridge/internal/util"
	log "github.com/sirupsen/logrus"
)

const streamChunkSize = 32 * 1024

// Progress reports one received chunk of a streamed download.
type Progress struct {
	// Chunk is only valid for the duration of the callback.
	Chunk []byte
	// Received counts bytes delivered so far, including Chunk.
	Received int64
	// Total is the expected size from Content-Length, or -1 when unknown.
	Total int64
}

// ProgressFunc receives streamed chunks in order.
type ProgressFunc func(Progress)

// GetBinaryStream downloads url and hands every chunk to progress. It does not pass
// through middleware: a refresh or re-auth signal is returned as the outcome status
// and the caller decides how to recover. On success Outcome.Body is nil.
func (c *Client) GetBinaryStream(ctx context.Context, url string, progress ProgressFunc, opts ...RequestOption) *Call {
	if ctx == nil {
		ctx = context.Background()
	}
	req := newRequest(http.MethodGet, url, nil, ResponseBinary, opts)
	ctx, cancel := context.WithCancel(ctx)
	call := newCall(cancel)
	ctx = withHeaderHook(ctx, call.resolveHeader)
	go func() {
		defer cancel()
		call.finish(c.executor.stream(ctx, c.stream, req, progress))
	}()
	return call
}

func (e *Executor) stream(ctx context.Context, st StreamTransport, req *Request, progress ProgressFunc) Outcome {
	if st == nil {
		// Buffered fallback for transports that cannot stream.
		out := e.Handle(ctx, req)
		if out.Status == StatusOK && progress != nil && len(out.Body) > 0 {
			n := int64(len(out.Body))
			progress(Progress{Chunk: out.Body, Received: n, Total: n})
			out.Body = nil
		}
		return out
	}
	if ctx.Err() != nil {
		return Cancelled()
	}
	ctx, prepared, requestID := e.prepare(ctx, req)
	entry := log.WithFields(log.Fields{
		"request_id": requestID,
		"method":     prepared.Method,
		"url":        util.MaskURL(prepared.URL),
	})
	start := time.Now()
	resp, err := st.Open(ctx, prepared)
	if err != nil {
		if ctx.Err() != nil {
			e.metrics.observeRequest(prepared.Method, StatusCancelled, time.Since(start))
			return Cancelled()
		}
		entry.WithError(err).Warn("stream request failed")
		e.metrics.observeRequest(prepared.Method, StatusFailed, time.Since(start))
		return Failed(NetworkErrorMessage)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			entry.WithError(errClose).Debug("stream body close error")
		}
	}()
	notifyHeader(ctx, resp.Header)

	if isJSONContentType(resp.Header.Get("Content-Type")) {
		body, errRead := io.ReadAll(resp.Body)
		if errRead != nil {
			if ctx.Err() != nil {
				return Cancelled()
			}
			return networkFailure(&Response{StatusCode: resp.StatusCode, Header: resp.Header})
		}
		out := decodeEnvelope(&Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body})
		e.metrics.observeRequest(prepared.Method, out.Status, time.Since(start))
		return out
	}

	total := resp.ContentLength
	if total < 0 {
		total = -1
	}
	buf := make([]byte, streamChunkSize)
	var received int64
	for {
		n, errRead := resp.Body.Read(buf)
		if n > 0 {
			received += int64(n)
			if progress != nil {
				progress(Progress{Chunk: buf[:n], Received: received, Total: total})
			}
		}
		if errRead != nil {
			if errors.Is(errRead, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				e.metrics.observeRequest(prepared.Method, StatusCancelled, time.Since(start))
				return Cancelled()
			}
			entry.WithError(errRead).Warn("stream read failed")
			e.metrics.observeRequest(prepared.Method, StatusFailed, time.Since(start))
			return networkFailure(&Response{StatusCode: resp.StatusCode, Header: resp.Header})
		}
	}
	entry.WithField("status", resp.StatusCode).Debugf("stream completed, %d bytes in %s", received, time.Since(start))
	e.metrics.observeRequest(prepared.Method, StatusOK, time.Since(start))
	return Outcome{Status: StatusOK, StatusCode: resp.StatusCode, Header: resp.Header}
}
