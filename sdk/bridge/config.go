package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/AuthBridge/sdk/config"
	"github.com/router-for-me/AuthBridge/sdk/httpclient"
	"github.com/router-for-me/AuthBridge/sdk/kv"
	"github.com/router-for-me/AuthBridge/sdk/session"
)

// FromConfig opens the configured storage backend and builds a bridge over an
// HTTPTransport honouring the proxy and timeout settings. Each modifier may adjust
// the derived Config before the bridge starts, e.g. to attach metrics.
// The bridge owns the opened store and closes it in Close.
func FromConfig[T session.Identity](ctx context.Context, cfg *config.Config, modifiers ...func(*Config)) (*Bridge[T], error) {
	if cfg == nil {
		cfg = config.Default()
	}
	duplicate, err := session.ParseDuplicatePolicy(cfg.Sessions.DuplicateLogin)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	missing, err := session.ParseMissingPolicy(cfg.Sessions.MissingSession)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	store, err := kv.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("bridge: open storage: %w", err)
	}

	bcfg := Config{
		Transport: httpclient.NewHTTPTransport(&cfg.SDKConfig),
		Routes: Routes{
			Login:            cfg.Routes.Login,
			RefreshToken:     cfg.Routes.RefreshToken,
			InitialAuthCheck: cfg.Routes.InitialAuthCheck,
		},
		Store:            store,
		StateKey:         cfg.Storage.Key,
		Policies:         session.Options{Duplicate: duplicate, Missing: missing},
		BreakerThreshold: cfg.Refresh.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Refresh.BreakerCooldownSeconds) * time.Second,
	}
	for _, modify := range modifiers {
		if modify != nil {
			modify(&bcfg)
		}
	}
	b := New[T](bcfg)
	b.closers = append(b.closers, func() error { return kv.Close(store) })
	return b, nil
}
