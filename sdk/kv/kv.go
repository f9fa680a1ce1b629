// Package kv defines the durable key/value persistence used by AuthBridge and
// ships several backends for it: memory, files, Redis, PostgreSQL, S3-compatible
// object storage and git.
package kv

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrQuotaExceeded reports that a backend ran out of space. FallbackStore returns it
// unchanged instead of switching to memory, so callers see the real condition.
var ErrQuotaExceeded = errors.New("kv: quota exceeded")

// Store abstracts persistence of auth state across restarts.
type Store interface {
	// Get returns the value stored under key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes every key owned by the store.
	Clear(ctx context.Context) error
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}

// Close releases store resources when the backend supports it.
func Close(store Store) error {
	if c, ok := store.(Closer); ok {
		return c.Close()
	}
	return nil
}

// fileNameFor maps a key onto a single path element.
func fileNameFor(key string) string {
	return url.PathEscape(strings.TrimSpace(key)) + ".json"
}

// keyForFileName reverses fileNameFor; ok is false for foreign files.
func keyForFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
	if err != nil {
		return "", false
	}
	return key, true
}
