package ratelimit

import (
	"context"
	"sync"
)

// KeyedMutex serializes holders per key and forgets keys nobody holds.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*refMutex)}
}

func (k *KeyedMutex) Lock(key string) func() {
	unlock, _ := k.LockContext(context.Background(), key)
	return unlock
}

// LockContext waits for key until ctx ends. The returned func must be called once.
func (k *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{ch: make(chan struct{}, 1)}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		k.forget(key, m)
		return nil, ctx.Err()
	}

	return func() {
		<-m.ch
		k.forget(key, m)
	}, nil
}

func (k *KeyedMutex) forget(key string, m *refMutex) {
	k.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Held reports how many callers hold or wait on key.
func (k *KeyedMutex) Held(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.locks[key]; ok {
		return m.refs
	}
	return 0
}
