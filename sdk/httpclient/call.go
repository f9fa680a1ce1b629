package httpclient

import (
	"context"
	"net/http"
	"sync"
)

// Call is an in-flight request. The outcome and the response header resolve
// independently; the header of the first response arrives before the outcome
// when middleware issues follow-up requests.
type Call struct {
	cancel context.CancelFunc

	done    chan struct{}
	outcome Outcome

	headerOnce  sync.Once
	headerReady chan struct{}
	header      http.Header
}

func newCall(cancel context.CancelFunc) *Call {
	return &Call{
		cancel:      cancel,
		done:        make(chan struct{}),
		headerReady: make(chan struct{}),
	}
}

// Wait blocks until the outcome is known.
func (c *Call) Wait() Outcome {
	<-c.done
	return c.outcome
}

// Done is closed once the outcome is known.
func (c *Call) Done() <-chan struct{} { return c.done }

// Header blocks until the first response header is received. It returns nil when
// the request finished without a response.
func (c *Call) Header() http.Header {
	<-c.headerReady
	return c.header
}

// Cancel aborts the request. The outcome becomes StatusCancelled unless it was
// already resolved. Cancel is safe to call more than once.
func (c *Call) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Call) resolveHeader(h http.Header) {
	c.headerOnce.Do(func() {
		c.header = h
		close(c.headerReady)
	})
}

func (c *Call) finish(out Outcome) {
	c.outcome = out
	c.resolveHeader(nil)
	close(c.done)
}

// Then returns a Call resolving to fn applied to c's outcome. It shares c's header
// and cancellation.
func (c *Call) Then(fn func(Outcome) Outcome) *Call {
	next := newCall(c.cancel)
	go func() {
		<-c.headerReady
		next.resolveHeader(c.header)
		out := c.Wait()
		if fn != nil {
			out = fn(out)
		}
		next.finish(out)
	}()
	return next
}

// resolved returns a Call that is already complete.
func resolved(out Outcome) *Call {
	c := newCall(nil)
	c.resolveHeader(out.Header)
	c.finish(out)
	return c
}

type headerHookKey struct{}

// withHeaderHook registers fn to receive every response header seen under ctx.
func withHeaderHook(ctx context.Context, fn func(http.Header)) context.Context {
	return context.WithValue(ctx, headerHookKey{}, fn)
}

func notifyHeader(ctx context.Context, h http.Header) {
	if fn, ok := ctx.Value(headerHookKey{}).(func(http.Header)); ok && fn != nil {
		fn(h)
	}
}
