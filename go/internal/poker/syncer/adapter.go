// Package syncer bridges a session's in-memory projection and the shared
// store: state machine writes go out through an ordered queue, and store
// snapshots come back in through one subscription per path.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/poker/state"
	"github.com/mcdev12/planningpoker/go/internal/poker/store"
	"github.com/mcdev12/planningpoker/go/internal/poker/voting"
)

// ErrorHandler is told about every failed write once. Failed writes are not
// retried.
type ErrorHandler func(err error)

type Option func(*Adapter)

func WithErrorHandler(fn ErrorHandler) Option {
	return func(a *Adapter) { a.onError = fn }
}

type write struct {
	seq  uint64
	desc string
	fn   func(ctx context.Context) error

	// flush marker when done is set
	done chan error
	from uint64
}

type failure struct {
	seq uint64
	err error
}

// maxFailures bounds the failures kept for Flush to report.
const maxFailures = 256

// Adapter implements voting.Writer for one session.
type Adapter struct {
	store store.Store
	state *state.State
	paths Paths

	onError  ErrorHandler
	failures atomic.Int64
	written  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	seq     uint64
	flushed uint64
	failed  []failure
	pending []write
	wake    chan struct{}
	subs    []store.Subscription
	started bool
	closed  bool
}

var _ voting.Writer = (*Adapter)(nil)

func New(s store.Store, st *state.State, opts ...Option) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		store:  s,
		state:  st,
		paths:  SessionPaths(st.SessionID()),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.wg.Add(1)
	go a.runWrites()
	return a
}

type binding struct {
	path  string
	apply func(raw json.RawMessage)
}

func (a *Adapter) bindings() []binding {
	st := a.state
	return []binding{
		{a.paths.Meta(), func(raw json.RawMessage) { st.ApplyMeta(decodeMeta(raw)) }},
		{a.paths.Participants(), func(raw json.RawMessage) { st.ApplyParticipants(decodeParticipants(raw)) }},
		{a.paths.Items(), func(raw json.RawMessage) { st.ApplyItems(decodeItems(raw)) }},
		{a.paths.Votes(), func(raw json.RawMessage) { st.ApplyVotes(decodeVotes(raw)) }},
		{a.paths.CurrentItem(), func(raw json.RawMessage) { st.ApplyCurrentItem(decodeCurrentItem(raw)) }},
		{a.paths.VotesRevealed(), func(raw json.RawMessage) { st.ApplyRevealed(decodeRevealed(raw)) }},
	}
}

// Start reads every path once, applies the results and only then installs
// the live subscriptions. If any read fails the state is left untouched.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return store.ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return errors.New("syncer already started")
	}
	a.started = true
	a.mu.Unlock()

	bs := a.bindings()
	initial := make([]json.RawMessage, len(bs))
	for i, b := range bs {
		raw, err := a.store.Read(ctx, b.path)
		if err != nil {
			return fmt.Errorf("initial read: %w", err)
		}
		initial[i] = raw
	}
	for i, b := range bs {
		b.apply(initial[i])
	}

	for _, b := range bs {
		sub, err := a.store.Subscribe(a.ctx, b.path)
		if err != nil {
			a.closeSubscriptions()
			return fmt.Errorf("subscribe: %w", err)
		}
		a.mu.Lock()
		a.subs = append(a.subs, sub)
		a.mu.Unlock()

		a.wg.Add(1)
		go func(b binding) {
			defer a.wg.Done()
			for snap := range sub.Events() {
				b.apply(snap.Value)
			}
		}(b)
	}

	log.Info().Str("session_id", a.state.SessionID()).Msg("session sync started")
	return nil
}

func (a *Adapter) enqueue(desc string, fn func(ctx context.Context) error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		log.Warn().Str("session_id", a.state.SessionID()).Str("op", desc).Msg("dropping write on closed syncer")
		return
	}
	a.seq++
	a.pending = append(a.pending, write{seq: a.seq, desc: desc, fn: fn})
	a.mu.Unlock()
	a.signal()
}

// Mark returns a position in the write queue. Pass it to FlushFrom to wait
// for the writes queued after it.
func (a *Adapter) Mark() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq
}

func (a *Adapter) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Adapter) next() (write, bool) {
	for {
		a.mu.Lock()
		if len(a.pending) > 0 {
			w := a.pending[0]
			a.pending[0] = write{}
			a.pending = a.pending[1:]
			a.mu.Unlock()
			return w, true
		}
		a.mu.Unlock()

		select {
		case <-a.ctx.Done():
			return write{}, false
		case <-a.wake:
		}
	}
}

// runWrites issues queued writes one at a time in submission order.
func (a *Adapter) runWrites() {
	defer a.wg.Done()
	for {
		w, ok := a.next()
		if !ok {
			return
		}
		if w.done != nil {
			w.done <- a.failedBetween(w.from, w.seq)
			continue
		}
		if err := w.fn(a.ctx); err != nil {
			if a.ctx.Err() != nil {
				return
			}
			a.fail(w.seq, w.desc, err)
			continue
		}
		a.written.Add(1)
	}
}

func (a *Adapter) fail(seq uint64, desc string, err error) {
	a.failures.Add(1)
	err = fmt.Errorf("%s: %w", desc, err)

	a.mu.Lock()
	if len(a.failed) == maxFailures {
		copy(a.failed, a.failed[1:])
		a.failed = a.failed[:maxFailures-1]
	}
	a.failed = append(a.failed, failure{seq: seq, err: err})
	a.mu.Unlock()

	log.Error().Err(err).Str("session_id", a.state.SessionID()).Msg("store write failed")
	if a.onError != nil {
		a.onError(err)
	}
}

// failedBetween joins the errors of writes with from < seq <= to.
func (a *Adapter) failedBetween(from, to uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, f := range a.failed {
		if f.seq > from && f.seq <= to {
			errs = append(errs, f.err)
		}
	}
	return errors.Join(errs...)
}

// Flush waits until every write queued before the call has been attempted
// and returns the errors of those queued since the previous Flush.
func (a *Adapter) Flush(ctx context.Context) error {
	a.mu.Lock()
	from := a.flushed
	a.flushed = a.seq
	a.mu.Unlock()
	return a.FlushFrom(ctx, from)
}

// FlushFrom waits until every write queued before the call has been
// attempted and returns the errors of those queued after mark.
func (a *Adapter) FlushFrom(ctx context.Context, mark uint64) error {
	done := make(chan error, 1)
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return store.ErrClosed
	}
	a.pending = append(a.pending, write{seq: a.seq, desc: "flush", done: done, from: mark})
	a.mu.Unlock()
	a.signal()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures counts writes that could not be applied.
func (a *Adapter) Failures() int64 { return a.failures.Load() }

// Written counts successful writes.
func (a *Adapter) Written() int64 { return a.written.Load() }

func (a *Adapter) closeSubscriptions() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

// Close unsubscribes from every path and stops the write queue. Writes still
// queued are dropped; call Flush first to keep them.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	dropped := len(a.pending)
	a.mu.Unlock()

	a.closeSubscriptions()
	a.cancel()
	a.wg.Wait()

	if dropped > 0 {
		log.Warn().Str("session_id", a.state.SessionID()).Int("dropped", dropped).Msg("closed syncer with pending writes")
	}
	log.Info().Str("session_id", a.state.SessionID()).Msg("session sync stopped")
}

// voting.Writer

func (a *Adapter) AddItem(item models.Item) {
	value := map[string]any{"description": item.Description, "status": item.Status}
	a.enqueue("add item", func(ctx context.Context) error {
		_, err := a.store.Append(ctx, a.paths.Items(), value)
		return err
	})
}

func (a *Adapter) UpdateItem(id string, fields map[string]any) {
	a.enqueue("update item "+id, func(ctx context.Context) error {
		return a.store.Merge(ctx, a.paths.Item(id), fields)
	})
}

func (a *Adapter) SetCurrentItem(item *models.Item) {
	var value any
	if item != nil {
		cp := *item
		value = cp
	}
	a.enqueue("set current item", func(ctx context.Context) error {
		return a.store.Write(ctx, a.paths.CurrentItem(), value)
	})
}

func (a *Adapter) SetRevealed(revealed bool) {
	a.enqueue("set revealed", func(ctx context.Context) error {
		return a.store.Write(ctx, a.paths.VotesRevealed(), revealed)
	})
}

func (a *Adapter) SetVote(name, value string) {
	a.enqueue("set vote", func(ctx context.Context) error {
		return a.store.Write(ctx, a.paths.Vote(name), value)
	})
}

func (a *Adapter) ClearVotes() {
	a.enqueue("clear votes", func(ctx context.Context) error {
		return a.store.Delete(ctx, a.paths.Votes())
	})
}

func (a *Adapter) UpdateParticipant(name string, fields map[string]any) {
	a.enqueue("update participant", func(ctx context.Context) error {
		return a.store.Merge(ctx, a.paths.Participant(name), fields)
	})
}
