// Package state provides a minimal observable value: Get, Set, Update and Subscribe.
// UI bindings or persistence layers wrap it; it knows nothing about either.
package state

import (
	"sync"
)

// Listener observes a change. It runs synchronously after the mutation, outside the lock,
// and must not mutate the Value it observes.
type Listener[T any] func(old, current T)

// Value holds a T guarded by a mutex and notifies listeners on every mutation.
type Value[T any] struct {
	mu        sync.RWMutex
	value     T
	nextID    uint64
	listeners map[uint64]Listener[T]
	// notify serialises listener calls so they observe mutations in order.
	notify sync.Mutex
}

// New returns a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{value: initial, listeners: make(map[uint64]Listener[T])}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set replaces the value.
func (v *Value[T]) Set(next T) {
	v.Update(func(T) (T, error) { return next, nil })
}

// Update applies fn atomically. When fn returns an error the value is unchanged,
// no listener runs and the error is returned.
func (v *Value[T]) Update(fn func(current T) (T, error)) error {
	v.notify.Lock()
	defer v.notify.Unlock()

	v.mu.Lock()
	old := v.value
	next, err := fn(old)
	if err != nil {
		v.mu.Unlock()
		return err
	}
	v.value = next
	listeners := make([]Listener[T], 0, len(v.listeners))
	for _, l := range v.listeners {
		listeners = append(listeners, l)
	}
	v.mu.Unlock()

	for _, l := range listeners {
		l(old, next)
	}
	return nil
}

// Subscribe registers l and returns a function removing it.
func (v *Value[T]) Subscribe(l Listener[T]) (unsubscribe func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = l
	v.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.listeners, id)
			v.mu.Unlock()
		})
	}
}
