package httpclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/router-for-me/AuthBridge/sdk/tokens"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ReauthFunc handles a re-auth signal. Its outcome is returned to the caller.
type ReauthFunc func(ctx context.Context) Outcome

// RefreshOptions configures the Refresh middleware.
type RefreshOptions struct {
	// Route is requested with GET whenever a response asks for a refresh.
	Route string
	// Source receives the rotation headers of every non-sentinel response.
	Source tokens.Source
	// OnReauth is invoked on a re-auth signal. Nil returns a failed outcome.
	OnReauth ReauthFunc
	// BreakerThreshold is the number of consecutive replays still asking for a
	// refresh after which refreshing is suspended. <= 0 disables the breaker.
	BreakerThreshold int
	// BreakerCooldown is how long refreshing stays suspended.
	BreakerCooldown time.Duration
	Metrics         *Metrics
	// Now is used by tests.
	Now func() time.Time
}

type refresher struct {
	opts  RefreshOptions
	group singleflight.Group

	mu        sync.Mutex
	strikes   int
	openUntil time.Time
}

// Refresh returns the middleware implementing refresh-then-retry:
//
//   - a refresh signal triggers one GET on the refresh route, shared by every caller
//     waiting at the same time, followed by exactly one replay of the request;
//   - a re-auth signal invokes OnReauth without retrying;
//   - any other outcome rotates tokens from the x-access-token and x-refresh-token
//     response headers and is returned unchanged.
//
// The refresh call runs through the wrapped handler, so it carries the current credentials.
func Refresh(opts RefreshOptions) Middleware {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &refresher{opts: opts}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) Outcome {
			return r.handle(ctx, next, req)
		})
	}
}

func (r *refresher) handle(ctx context.Context, next Handler, req *Request) Outcome {
	out := next.Handle(ctx, req)
	switch out.Status {
	case StatusNeedsRefresh:
		return r.refreshAndReplay(ctx, next, req, out)
	case StatusNeedsReauth:
		return r.reauth(ctx)
	case StatusCancelled:
		return out
	default:
		r.rotate(ctx, out.Header)
		return out
	}
}

func (r *refresher) refreshAndReplay(ctx context.Context, next Handler, req *Request, original Outcome) Outcome {
	if r.breakerOpen() {
		log.WithField("route", r.opts.Route).Debug("refresh breaker open, returning refresh signal")
		r.opts.Metrics.observeRefresh(refreshResultSkipped)
		return original
	}
	refreshed := r.refresh(ctx, next)
	switch refreshed.Status {
	case StatusOK:
	case StatusNeedsReauth:
		return r.reauth(ctx)
	default:
		return refreshed
	}

	replay := next.Handle(ctx, req)
	switch replay.Status {
	case StatusNeedsRefresh:
		r.strike()
	case StatusNeedsReauth:
		return r.reauth(ctx)
	case StatusCancelled:
	default:
		r.clearStrikes()
		r.rotate(ctx, replay.Header)
	}
	return replay
}

// refresh issues the refresh call once for all concurrent callers. The shared call is
// detached from the cancellation of any single caller; a cancelled caller stops waiting.
func (r *refresher) refresh(ctx context.Context, next Handler) Outcome {
	if r.opts.Route == "" {
		return Failed("httpclient: refresh route not configured")
	}
	shared := withHeaderHook(context.WithoutCancel(ctx), nil)
	ch := r.group.DoChan(r.opts.Route, func() (any, error) {
		out := next.Handle(shared, &Request{Method: http.MethodGet, URL: r.opts.Route, Kind: ResponseJSON})
		if out.Status == StatusOK {
			r.rotate(shared, out.Header)
			r.opts.Metrics.observeRefresh(refreshResultOK)
		} else {
			log.WithFields(log.Fields{"route": r.opts.Route, "outcome": out.Status.String()}).Warn("refresh call did not succeed")
			r.opts.Metrics.observeRefresh(refreshResultFailed)
		}
		return out, nil
	})
	select {
	case <-ctx.Done():
		return Cancelled()
	case res := <-ch:
		return res.Val.(Outcome)
	}
}

func (r *refresher) reauth(ctx context.Context) Outcome {
	r.opts.Metrics.observeReauth()
	if r.opts.OnReauth == nil {
		return Failed("httpclient: re-authentication required")
	}
	return r.opts.OnReauth(ctx)
}

func (r *refresher) rotate(ctx context.Context, h http.Header) {
	if r.opts.Source == nil {
		return
	}
	if u := tokens.FromHeader(h); !u.IsEmpty() {
		r.opts.Source.Rotate(ctx, u)
	}
}

func (r *refresher) breakerOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.Now().Before(r.openUntil)
}

func (r *refresher) strike() {
	if r.opts.BreakerThreshold <= 0 {
		return
	}
	r.mu.Lock()
	r.strikes++
	tripped := r.strikes >= r.opts.BreakerThreshold
	if tripped {
		r.strikes = 0
		r.openUntil = r.opts.Now().Add(r.opts.BreakerCooldown)
	}
	r.mu.Unlock()
	if tripped {
		log.WithField("route", r.opts.Route).Warnf("refresh breaker opened for %s", r.opts.BreakerCooldown)
		r.opts.Metrics.observeBreakerTrip()
	}
}

func (r *refresher) clearStrikes() {
	r.mu.Lock()
	r.strikes = 0
	r.mu.Unlock()
}
