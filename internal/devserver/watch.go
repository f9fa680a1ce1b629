package devserver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const reloadDebounce = 150 * time.Millisecond

// WatchUsers reloads d whenever path changes. The parent directory is watched so
// editors that replace the file atomically are noticed. The returned function stops
// the watcher.
func WatchUsers(ctx context.Context, path string, d *Directory) (func(), error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("devserver: watch users: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("devserver: watch users: %w", err)
	}
	if err = w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("devserver: watch %s: %w", filepath.Dir(abs), err)
	}

	r := &reloader{path: abs, dir: d}
	r.lastHash, _ = fileHash(abs)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) == abs && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					r.schedule()
				}
			case errWatch, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(errWatch).Warn("devserver: users watcher")
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = w.Close()
			<-done
			r.stop()
		})
	}, nil
}

type reloader struct {
	path string
	dir  *Directory

	mu       sync.Mutex
	timer    *time.Timer
	lastHash []byte
}

func (r *reloader) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(reloadDebounce, r.reload)
}

func (r *reloader) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

func (r *reloader) reload() {
	sum, err := fileHash(r.path)
	if err != nil {
		log.WithError(err).Debug("devserver: users file not readable yet")
		return
	}
	r.mu.Lock()
	unchanged := bytes.Equal(sum, r.lastHash)
	r.mu.Unlock()
	if unchanged {
		return
	}
	if err = r.dir.Reload(r.path); err != nil {
		log.WithError(err).Warn("devserver: reload users, keeping previous list")
		return
	}
	r.mu.Lock()
	r.lastHash = sum
	r.mu.Unlock()
	log.Infof("devserver: reloaded %d user(s)", r.dir.Len())
}

func fileHash(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}
