package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Backend persists leaves and reports changes. Backends only deal with
// flattened leaves; Tree handles the JSON tree semantics on top.
type Backend interface {
	// Load returns the leaves at path or below it.
	Load(ctx context.Context, path string) (Leaves, error)
	// Apply runs ops in order.
	Apply(ctx context.Context, ops []Op) error
	// Watch signals whenever a leaf related to path may have changed. The
	// channel should coalesce signals; watching stops when ctx is done.
	Watch(ctx context.Context, path string) (<-chan struct{}, error)
	Close() error
}

// Tree implements Store on top of a Backend.
type Tree struct {
	backend Backend

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

var _ Store = (*Tree)(nil)

// NewTree wraps backend.
func NewTree(backend Backend) *Tree {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tree{backend: backend, ctx: ctx, cancel: cancel}
}

func (t *Tree) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tree) Read(ctx context.Context, path string) (json.RawMessage, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	p, err := Clean(path)
	if err != nil {
		return nil, err
	}
	leaves, err := t.backend.Load(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return Assemble(p, leaves)
}

func (t *Tree) Write(ctx context.Context, path string, value any) error {
	if t.isClosed() {
		return ErrClosed
	}
	p, err := Clean(path)
	if err != nil {
		return err
	}
	op, err := replaceOp(p, value)
	if err != nil {
		return err
	}
	if err := t.backend.Apply(ctx, []Op{op}); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (t *Tree) Merge(ctx context.Context, path string, fields map[string]any) error {
	if t.isClosed() {
		return ErrClosed
	}
	p, err := Clean(path)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	ops := make([]Op, 0, len(fields))
	for k, v := range fields {
		if k == "" {
			return fmt.Errorf("merge %s: empty field name", p)
		}
		op, err := replaceOp(Child(p, k), v)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	if err := t.backend.Apply(ctx, ops); err != nil {
		return fmt.Errorf("merge %s: %w", p, err)
	}
	return nil
}

func (t *Tree) Append(ctx context.Context, path string, value any) (string, error) {
	p, err := Clean(path)
	if err != nil {
		return "", err
	}
	id, err := NewPushID()
	if err != nil {
		return "", err
	}
	if err := t.Write(ctx, Child(p, id), value); err != nil {
		return "", err
	}
	return id, nil
}

func (t *Tree) Delete(ctx context.Context, path string) error {
	return t.Write(ctx, path, nil)
}

// Subscribe streams the value at path until ctx is done, the subscription
// is closed or the store is closed.
func (t *Tree) Subscribe(ctx context.Context, path string) (Subscription, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	p, err := Clean(path)
	if err != nil {
		t.wg.Done()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)
	signal, err := t.backend.Watch(subCtx, p)
	if err != nil {
		stop()
		cancel()
		t.wg.Done()
		return nil, fmt.Errorf("subscribe %s: %w", p, err)
	}

	sub := &subscription{
		events: make(chan Snapshot, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer t.wg.Done()
		defer stop()
		t.follow(subCtx, p, signal, sub)
	}()
	return sub, nil
}

func (t *Tree) follow(ctx context.Context, path string, signal <-chan struct{}, sub *subscription) {
	defer close(sub.done)
	defer close(sub.events)

	var last json.RawMessage
	delivered := false
	emit := func() {
		leaves, err := t.backend.Load(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to load subscribed path")
			}
			return
		}
		v, err := Assemble(path, leaves)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to assemble subscribed path")
			return
		}
		if delivered && bytes.Equal(v, last) {
			return
		}
		delivered = true
		last = v
		sub.deliver(Snapshot{Path: path, Value: v})
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-signal:
			emit()
		}
	}
}

// Close stops every subscription and closes the backend.
func (t *Tree) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	return t.backend.Close()
}

func replaceOp(path string, value any) (Op, error) {
	raw, err := encode(value)
	if err != nil {
		return Op{}, fmt.Errorf("encode %s: %w", path, err)
	}
	leaves, err := Flatten(path, raw)
	if err != nil {
		return Op{}, err
	}
	return Op{Path: path, Leaves: leaves}, nil
}

type subscription struct {
	events chan Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) Events() <-chan Snapshot { return s.events }

func (s *subscription) Close() {
	s.cancel()
	<-s.done
}

// deliver replaces any snapshot the consumer has not taken yet.
func (s *subscription) deliver(snap Snapshot) {
	select {
	case s.events <- snap:
		return
	default:
	}
	select {
	case <-s.events:
	default:
	}
	s.events <- snap
}

// Signal is a coalescing change notification helper for backends.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a ready Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// C is the channel handed back from Backend.Watch.
func (s *Signal) C() <-chan struct{} { return s.ch }

// Notify marks the watched path dirty without blocking.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}
