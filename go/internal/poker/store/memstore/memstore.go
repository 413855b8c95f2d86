// Package memstore is an in-process session store. Every Store handed out by
// the same Hub shares one tree, which makes it the reference backend for
// tests and single-instance deployments.
package memstore

import (
	"context"
	"sync"

	"github.com/mcdev12/planningpoker/go/internal/poker/store"
)

// Hub owns the shared leaves.
type Hub struct {
	mu       sync.RWMutex
	leaves   store.Leaves
	watchers map[*watcher]struct{}
}

type watcher struct {
	path   string
	signal *store.Signal
}

// NewHub creates an empty tree.
func NewHub() *Hub {
	return &Hub{
		leaves:   store.Leaves{},
		watchers: make(map[*watcher]struct{}),
	}
}

// New returns a store over a fresh hub.
func New() *store.Tree {
	return NewHub().Store()
}

// Store returns a new client of the hub. Closing it does not affect other
// clients.
func (h *Hub) Store() *store.Tree {
	return store.NewTree(&backend{hub: h})
}

type backend struct {
	hub *Hub
}

func (b *backend) Load(_ context.Context, path string) (store.Leaves, error) {
	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()

	out := store.Leaves{}
	for p, v := range b.hub.leaves {
		if store.Within(p, path) {
			out[p] = v
		}
	}
	return out, nil
}

func (b *backend) Apply(ctx context.Context, ops []store.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.hub.mu.Lock()
	changed := store.ApplyOps(b.hub.leaves, ops)
	var notify []*store.Signal
	for w := range b.hub.watchers {
		for _, p := range changed {
			if store.Related(p, w.path) {
				notify = append(notify, w.signal)
				break
			}
		}
	}
	b.hub.mu.Unlock()

	for _, s := range notify {
		s.Notify()
	}
	return nil
}

func (b *backend) Watch(ctx context.Context, path string) (<-chan struct{}, error) {
	w := &watcher{path: path, signal: store.NewSignal()}
	b.hub.mu.Lock()
	b.hub.watchers[w] = struct{}{}
	b.hub.mu.Unlock()

	context.AfterFunc(ctx, func() {
		b.hub.mu.Lock()
		delete(b.hub.watchers, w)
		b.hub.mu.Unlock()
	})
	return w.signal.C(), nil
}

func (b *backend) Close() error { return nil }
