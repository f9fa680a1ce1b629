package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/router-for-me/AuthBridge/sdk/kv"
	log "github.com/sirupsen/logrus"
)

// persister writes the latest state from a single goroutine. Intermediate states
// queued while a write is in progress are coalesced; only the newest is written.
type persister struct {
	store kv.Store
	key   string

	mu      sync.Mutex
	pending []byte
	dirty   bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newPersister(store kv.Store, key string) *persister {
	p := &persister{
		store: store,
		key:   key,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// enqueue schedules v for writing. Encoding failures are logged and dropped.
func (p *persister) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).WithField("key", p.key).Error("bridge: encode auth state")
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = data
	p.dirty = true
	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.mu.Unlock()
}

func (p *persister) run() {
	defer close(p.done)
	for range p.wake {
		p.flush()
	}
	p.flush()
}

func (p *persister) flush() {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	data := p.pending
	p.dirty = false
	p.mu.Unlock()

	if err := p.store.Set(context.Background(), p.key, data); err != nil {
		log.WithError(err).WithField("key", p.key).Warn("bridge: persist auth state")
	}
}

// close writes any pending state and stops the goroutine.
func (p *persister) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.wake)
	}
	p.mu.Unlock()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
