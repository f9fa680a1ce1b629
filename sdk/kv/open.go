package kv

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/router-for-me/AuthBridge/internal/config"
	"github.com/router-for-me/AuthBridge/internal/util"
	log "github.com/sirupsen/logrus"
)

// Open builds the backend selected by cfg.Type. Backends needing schema or bucket
// setup are prepared before returning. With cfg.Fallback the result is wrapped in
// a FallbackStore, and a backend that cannot be reached at startup degrades to memory.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	store, err := open(ctx, cfg)
	if err != nil {
		if !cfg.Fallback {
			return nil, err
		}
		log.WithError(err).WithField("store", cfg.Type).Warn("kv: backend unavailable, using in-memory storage")
		return NewMemoryStore(), nil
	}
	if cfg.Fallback {
		if _, isMemory := store.(*MemoryStore); !isMemory {
			return NewFallbackStore(store), nil
		}
	}
	return store, nil
}

func open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case config.StorageMemory:
		return NewMemoryStore(), nil
	case "", config.StorageFile:
		dir, err := util.ResolveDir(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("kv: %w", err)
		}
		return NewFileStore(dir)
	case config.StorageRedis:
		return DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	case config.StoragePostgres:
		store, err := NewPostgresStore(ctx, PostgresConfig{
			DSN:    cfg.Postgres.DSN,
			Schema: cfg.Postgres.Schema,
			Table:  cfg.Postgres.Table,
		})
		if err != nil {
			return nil, err
		}
		if err = store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case config.StorageObject:
		store, err := NewObjectStore(ObjectConfig{
			Endpoint:  cfg.Object.Endpoint,
			Bucket:    cfg.Object.Bucket,
			AccessKey: cfg.Object.AccessKey,
			SecretKey: cfg.Object.SecretKey,
			Region:    cfg.Object.Region,
			Prefix:    cfg.Object.Prefix,
			UseSSL:    cfg.Object.UseSSL,
			PathStyle: cfg.Object.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		if err = store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageGit:
		dir, err := util.ResolveDir(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("kv: %w", err)
		}
		return NewGitStore(GitConfig{
			Dir:       filepath.Join(dir, "repo"),
			RemoteURL: cfg.Git.RemoteURL,
			Username:  cfg.Git.Username,
			Password:  cfg.Git.Password,
		})
	default:
		return nil, fmt.Errorf("kv: unknown storage type %q", cfg.Type)
	}
}
