// Package infra provides small shared concurrency primitives.
package infra

import (
	"sync"
)

// Group executes units of work with duplicate suppression: at most one call
// per key is in flight at a time, and concurrent callers for the same key
// wait for the original and receive its result. The engine uses a Group as
// the OAuth token refresh gate.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

type call[V any] struct {
	wg     sync.WaitGroup
	val    V
	err    error
	shared bool
}

// Do executes and returns the results of the given function, making sure
// that only one execution is in flight for a given key at a time. The third
// return value reports whether the result was shared with another caller.
func (g *Group[K, V]) Do(key K, fn func() (V, error)) (V, error, bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}

	if c, ok := g.calls[key]; ok {
		c.shared = true
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}

	c := new(call[V])
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		c.wg.Done()
	}()

	c.val, c.err = fn()
	return c.val, c.err, c.shared
}

// Forget tells the group to forget about a key. Future Do calls for the key
// will execute the function rather than waiting for an earlier call.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
}
