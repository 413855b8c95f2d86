// Package badgerstore keeps the session tree in an embedded Badger
// database. Every Tree opened over the same *badger.DB observes the others'
// writes through the database's key subscriptions.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/poker/store"
)

type Config struct {
	// FallbackInterval re-checks watched paths in case a subscription
	// missed a write while it was being registered.
	FallbackInterval time.Duration
	Clock            clockwork.Clock
	// OwnsDB closes the database together with the store.
	OwnsDB bool
}

func DefaultConfig() Config {
	return Config{
		FallbackInterval: 5 * time.Second,
		Clock:            clockwork.NewRealClock(),
	}
}

// Open opens (or creates) a database in dir. An empty dir keeps everything
// in memory.
func Open(dir string, cfg Config) (*store.Tree, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	cfg.OwnsDB = true
	return New(db, cfg), nil
}

// New wraps an already open database.
func New(db *badger.DB, cfg Config) *store.Tree {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = DefaultConfig().FallbackInterval
	}
	return store.NewTree(&backend{db: db, cfg: cfg, watchers: make(map[*store.Signal]string)})
}

type backend struct {
	db  *badger.DB
	cfg Config

	mu       sync.Mutex
	watchers map[*store.Signal]string
	wg       sync.WaitGroup
}

func (b *backend) Load(_ context.Context, path string) (store.Leaves, error) {
	leaves := store.Leaves{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(path), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !store.Within(key, path) {
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			leaves[key] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leaves, nil
}

func (b *backend) Apply(_ context.Context, ops []store.Op) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			if err := replace(txn, op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for s, p := range b.watchers {
		for _, op := range ops {
			if store.Related(op.Path, p) {
				s.Notify()
				break
			}
		}
	}
	return nil
}

func replace(txn *badger.Txn, op store.Op) error {
	for _, a := range store.Ancestors(op.Path) {
		if err := txn.Delete([]byte(a)); err != nil {
			return fmt.Errorf("delete ancestor %s: %w", a, err)
		}
	}

	var stale [][]byte
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(op.Path)})
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if store.Within(string(key), op.Path) {
			stale = append(stale, key)
		}
	}
	it.Close()

	for _, key := range stale {
		if _, ok := op.Leaves[string(key)]; ok {
			continue
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	for p, v := range op.Leaves {
		if err := txn.Set([]byte(p), v); err != nil {
			return fmt.Errorf("set %s: %w", p, err)
		}
	}
	return nil
}

func (b *backend) Watch(ctx context.Context, path string) (<-chan struct{}, error) {
	signal := store.NewSignal()
	b.mu.Lock()
	b.watchers[signal] = path
	b.mu.Unlock()

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		err := b.db.Subscribe(ctx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				if store.Related(string(kv.Key), path) {
					signal.Notify()
					return nil
				}
			}
			return nil
		}, []pb.Match{{Prefix: []byte(path)}})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("path", path).Msg("badger subscription ended")
		}
	}()
	go func() {
		defer b.wg.Done()
		ticker := b.cfg.Clock.NewTicker(b.cfg.FallbackInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				b.mu.Lock()
				delete(b.watchers, signal)
				b.mu.Unlock()
				return
			case <-ticker.Chan():
				signal.Notify()
			}
		}
	}()
	return signal.C(), nil
}

func (b *backend) Close() error {
	// Tree cancels every watch before closing the backend.
	b.wg.Wait()
	if b.cfg.OwnsDB {
		return b.db.Close()
	}
	return nil
}
