package cache

import (
	"context"
	"log"
	"strings"
	"time"
)

// Namespaced is a view of a Cache that prefixes every key with a platform id,
// so adapters sharing one process cannot collide.
type Namespaced struct {
	store     *Cache
	namespace string
	disabled  bool
	debug     bool
}

// NewNamespaced creates a view over store for namespace
func NewNamespaced(store *Cache, namespace string) *Namespaced {
	return &Namespaced{store: store, namespace: namespace}
}

// Disable turns GetOrSet into a pass-through to the producer
func (n *Namespaced) Disable(disabled bool) *Namespaced {
	n.disabled = disabled
	return n
}

// Debug enables hit/miss logging
func (n *Namespaced) Debug(enabled bool) *Namespaced {
	n.debug = enabled
	return n
}

// Key returns the namespaced form of key
func (n *Namespaced) Key(key string) string {
	return n.namespace + ":" + key
}

// Get reads a namespaced key
func (n *Namespaced) Get(key string) (any, bool) {
	return n.store.Get(n.Key(key))
}

// Set writes a namespaced key
func (n *Namespaced) Set(key string, value any, ttl time.Duration) {
	n.store.Set(n.Key(key), value, ttl)
}

// Delete removes a namespaced key
func (n *Namespaced) Delete(key string) {
	n.store.Delete(n.Key(key))
}

// Clear removes every key in this namespace
func (n *Namespaced) Clear() {
	prefix := n.namespace + ":"
	for _, e := range n.store.Entries() {
		if strings.HasPrefix(e.Key, prefix) {
			n.store.Delete(e.Key)
		}
	}
}

// GetOrSet returns the cached value for key or calls fn and stores its
// result. Errors are never cached.
func GetOrSet[T any](ctx context.Context, n *Namespaced, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if n == nil || n.disabled {
		return fn(ctx)
	}

	if v, ok := n.Get(key); ok {
		if typed, ok := v.(T); ok {
			if n.debug {
				log.Printf("Cache hit: %s", n.Key(key))
			}
			return typed, nil
		}
	}
	if n.debug {
		log.Printf("Cache miss: %s", n.Key(key))
	}

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}
	n.Set(key, value, ttl)
	return value, nil
}
