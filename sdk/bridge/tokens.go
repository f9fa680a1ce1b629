package bridge

import (
	"context"

	"github.com/router-for-me/AuthBridge/sdk/httpclient"
	"github.com/router-for-me/AuthBridge/sdk/kv"
	"github.com/router-for-me/AuthBridge/sdk/tokens"
	"golang.org/x/oauth2"
)

// TokenSource exposes the active session's access token to oauth2-based code.
// Token fails with tokens.ErrNoAccessToken while nobody is logged in.
func (b *Bridge[T]) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokens.OAuth2TokenSource(ctx, b.sessions)
}

// NewTokenClient builds a refresh-aware client for a single identity without the
// session list. The token pair lives in cfg.Store under the tokens.AccessTokenKey and
// tokens.RefreshTokenKey keys, in memory when cfg.Store is nil. A re-auth signal
// clears the pair and resolves to StatusSignedOut.
func NewTokenClient(cfg Config) (*httpclient.Client, *tokens.PersistentStore, error) {
	if cfg.Transport == nil {
		return nil, nil, configError("token client", ErrNoTransport)
	}
	if cfg.Routes.RefreshToken == "" {
		return nil, nil, configError("token client", ErrNoRefreshRoute)
	}
	store := cfg.Store
	if store == nil {
		store = kv.NewMemoryStore()
	}
	source := tokens.NewPersistentStore(store)
	client := httpclient.NewClient(cfg.Transport, source,
		httpclient.WithMetrics(cfg.Metrics),
		httpclient.WithMiddleware(httpclient.Refresh(httpclient.RefreshOptions{
			Route:  cfg.Routes.RefreshToken,
			Source: source,
			OnReauth: func(ctx context.Context) httpclient.Outcome {
				source.Clear(ctx)
				return httpclient.Outcome{Status: httpclient.StatusSignedOut, Message: "re-authentication required"}
			},
			BreakerThreshold: cfg.BreakerThreshold,
			BreakerCooldown:  cfg.BreakerCooldown,
			Metrics:          cfg.Metrics,
		})),
	)
	return client, source, nil
}
