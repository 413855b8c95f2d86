// Package sqlstore keeps the session tree in a SQL table, one row per leaf.
//
// SQLite deployments notice writes from other processes by polling. Postgres
// deployments additionally LISTEN for notifications raised by every write
// and keep the poll as a fallback for missed notifications.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mcdev12/planningpoker/go/internal/poker/store"
	"github.com/mcdev12/planningpoker/go/internal/sqlutil"
)

// Dialect selects the SQL flavour.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driver() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	}
	return "", fmt.Errorf("unsupported sql dialect %q", d)
}

type Config struct {
	Dialect       Dialect
	DSN           string
	PollInterval  time.Duration // how often watchers re-read when no notification arrives
	NotifyChannel string        // Postgres channel for change notifications
	PingInterval  time.Duration
	Clock         clockwork.Clock
}

func DefaultConfig() Config {
	return Config{
		Dialect:       DialectSQLite,
		PollInterval:  time.Second,
		NotifyChannel: "poker_nodes",
		PingInterval:  90 * time.Second,
		Clock:         clockwork.NewRealClock(),
	}
}

type backend struct {
	db       *sql.DB
	cfg      Config
	listener *pq.Listener

	mu       sync.Mutex
	watchers map[*watcher]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

type watcher struct {
	path   string
	signal *store.Signal
}

// Open connects, creates the table if needed and starts change detection.
func Open(ctx context.Context, cfg Config) (*store.Tree, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	driver, err := cfg.Dialect.driver()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect, err)
	}
	if cfg.Dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Dialect, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	b := &backend{
		db:       db,
		cfg:      cfg,
		watchers: make(map[*watcher]struct{}),
		done:     make(chan struct{}),
	}
	if cfg.Dialect == DialectPostgres {
		if err := b.listen(); err != nil {
			db.Close()
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.run(runCtx)

	log.Info().
		Str("dialect", string(cfg.Dialect)).
		Dur("poll_interval", cfg.PollInterval).
		Msg("sql store opened")
	return store.NewTree(b), nil
}

func (b *backend) listen() error {
	l := pq.NewListener(
		b.cfg.DSN,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(b.cfg.NotifyChannel); err != nil {
		l.Close()
		return fmt.Errorf("failed to listen to channel: %w", err)
	}
	log.Info().Str("channel", b.cfg.NotifyChannel).Msg("listening for notifications")
	b.listener = l
	return nil
}

// run wakes watchers on notifications and on every poll tick.
func (b *backend) run(ctx context.Context) {
	defer close(b.done)

	pollTicker := b.cfg.Clock.NewTicker(b.cfg.PollInterval)
	defer pollTicker.Stop()

	var notify <-chan *pq.Notification
	var ping <-chan time.Time
	if b.listener != nil {
		notify = b.listener.Notify
		pingInterval := b.cfg.PingInterval
		if pingInterval <= 0 {
			pingInterval = 90 * time.Second
		}
		pingTicker := b.cfg.Clock.NewTicker(pingInterval)
		defer pingTicker.Stop()
		ping = pingTicker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case note := <-notify:
			if note == nil {
				// connection was re-established, anything may have changed
				b.wakeAll()
				continue
			}
			b.wake([]string{note.Extra})
		case <-pollTicker.Chan():
			b.wakeAll()
		case <-ping:
			if err := b.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (b *backend) wake(paths []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.watchers {
		for _, p := range paths {
			if store.Related(p, w.path) {
				w.signal.Notify()
				break
			}
		}
	}
}

func (b *backend) wakeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.watchers {
		w.signal.Notify()
	}
}

func (b *backend) Load(ctx context.Context, path string) (store.Leaves, error) {
	rows, err := b.db.QueryContext(ctx, b.bind(loadQuery), path, sqlutil.EscapeLike(path)+"/%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leaves := store.Leaves{}
	for rows.Next() {
		var p, v string
		if err := rows.Scan(&p, &v); err != nil {
			return nil, err
		}
		leaves[p] = []byte(v)
	}
	return leaves, rows.Err()
}

func (b *backend) Apply(ctx context.Context, ops []store.Op) error {
	err := sqlutil.Run(ctx, b.db, b.newQueries, func(q *queries) error {
		for _, op := range ops {
			if err := q.replace(ctx, op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	paths := make([]string, len(ops))
	for i, op := range ops {
		paths[i] = op.Path
	}
	b.wake(paths)
	return nil
}

func (b *backend) Watch(ctx context.Context, path string) (<-chan struct{}, error) {
	w := &watcher{path: path, signal: store.NewSignal()}
	b.mu.Lock()
	b.watchers[w] = struct{}{}
	b.mu.Unlock()

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		delete(b.watchers, w)
		b.mu.Unlock()
	})
	return w.signal.C(), nil
}

func (b *backend) Close() error {
	b.cancel()
	<-b.done
	if b.listener != nil {
		if err := b.listener.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close listener")
		}
	}
	return b.db.Close()
}

func (b *backend) bind(query string) string {
	if b.cfg.Dialect == DialectPostgres {
		return sqlutil.Rebind(query)
	}
	return query
}
