// Package natsstore keeps the session tree in a JetStream key-value bucket,
// one key per leaf. Path segments are base64url encoded and joined with dots
// so arbitrary participant names stay valid subjects.
//
// A multi-leaf write is not atomic: watchers on other processes may see the
// intermediate states.
package natsstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/poker/store"
)

type Config struct {
	URL      string
	Bucket   string
	History  uint8
	Replicas int
	// TTL expires leaves that have not been written for this long. Zero
	// keeps them forever.
	TTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:      nats.DefaultURL,
		Bucket:   "planning_poker",
		History:  1,
		Replicas: 1,
	}
}

type backend struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// Open connects to NATS and creates the bucket if needed.
func Open(ctx context.Context, cfg Config) (*store.Tree, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("planning-poker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "planning poker sessions",
		History:     cfg.History,
		Replicas:    cfg.Replicas,
		TTL:         cfg.TTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create key-value bucket %s: %w", cfg.Bucket, err)
	}

	log.Info().Str("bucket", cfg.Bucket).Str("url", cfg.URL).Msg("nats store opened")
	return store.NewTree(&backend{nc: nc, kv: kv}), nil
}

// encodeKey maps a store path to a bucket key.
func encodeKey(path string) string {
	segs := strings.Split(path, store.Separator)
	for i, s := range segs {
		segs[i] = base64.RawURLEncoding.EncodeToString([]byte(s))
	}
	return strings.Join(segs, ".")
}

func decodeKey(key string) (string, error) {
	segs := strings.Split(key, ".")
	for i, s := range segs {
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("invalid key %q: %w", key, err)
		}
		segs[i] = string(b)
	}
	return strings.Join(segs, store.Separator), nil
}

func filters(path string) []string {
	k := encodeKey(path)
	return []string{k, k + ".>"}
}

func (b *backend) Load(ctx context.Context, path string) (store.Leaves, error) {
	w, err := b.kv.WatchFiltered(ctx, filters(path), jetstream.IgnoreDeletes())
	if err != nil {
		return nil, err
	}
	defer w.Stop()

	leaves := store.Leaves{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok || entry == nil {
				return leaves, nil
			}
			p, err := decodeKey(entry.Key())
			if err != nil {
				log.Warn().Err(err).Msg("skipping foreign key")
				continue
			}
			leaves[p] = entry.Value()
		}
	}
}

func (b *backend) keys(ctx context.Context, path string) ([]string, error) {
	lister, err := b.kv.ListKeysFiltered(ctx, filters(path)...)
	if err != nil {
		return nil, err
	}
	defer lister.Stop()

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *backend) Apply(ctx context.Context, ops []store.Op) error {
	for _, op := range ops {
		for _, a := range store.Ancestors(op.Path) {
			key := encodeKey(a)
			if _, err := b.kv.Get(ctx, key); err != nil {
				if errors.Is(err, jetstream.ErrKeyNotFound) {
					continue
				}
				return fmt.Errorf("get %s: %w", a, err)
			}
			if err := b.kv.Delete(ctx, key); err != nil {
				return fmt.Errorf("delete ancestor %s: %w", a, err)
			}
		}

		existing, err := b.keys(ctx, op.Path)
		if err != nil {
			return fmt.Errorf("list %s: %w", op.Path, err)
		}
		keep := make(map[string]struct{}, len(op.Leaves))
		for p := range op.Leaves {
			keep[encodeKey(p)] = struct{}{}
		}
		for _, k := range existing {
			if _, ok := keep[k]; ok {
				continue
			}
			if err := b.kv.Delete(ctx, k); err != nil {
				return fmt.Errorf("delete %s: %w", op.Path, err)
			}
		}
		for p, v := range op.Leaves {
			if _, err := b.kv.Put(ctx, encodeKey(p), v); err != nil {
				return fmt.Errorf("put %s: %w", p, err)
			}
		}
	}
	return nil
}

func (b *backend) Watch(ctx context.Context, path string) (<-chan struct{}, error) {
	w, err := b.kv.WatchFiltered(ctx, filters(path), jetstream.UpdatesOnly())
	if err != nil {
		return nil, err
	}
	signal := store.NewSignal()
	go func() {
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry != nil {
					signal.Notify()
				}
			}
		}
	}()
	return signal.C(), nil
}

func (b *backend) Close() error {
	return b.nc.Drain()
}
