package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/dbconfig"
	"github.com/mcdev12/planningpoker/go/internal/poker/store"
	"github.com/mcdev12/planningpoker/go/internal/poker/store/badgerstore"
	"github.com/mcdev12/planningpoker/go/internal/poker/store/memstore"
	"github.com/mcdev12/planningpoker/go/internal/poker/store/natsstore"
	"github.com/mcdev12/planningpoker/go/internal/poker/store/sqlstore"
)

func setupStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Driver {
	case "memory":
		s = memstore.New()

	case "sqlite":
		sc := sqlstore.DefaultConfig()
		sc.Dialect = sqlstore.DialectSQLite
		sc.DSN = "file:" + cfg.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		sc.PollInterval = cfg.PollInterval
		s, err = sqlstore.Open(ctx, sc)

	case "postgres":
		sc := sqlstore.DefaultConfig()
		sc.Dialect = sqlstore.DialectPostgres
		sc.DSN = cfg.PostgresDSN
		if sc.DSN == "" {
			dbCfg := dbconfig.NewConfigFromEnv()
			sc.DSN = dbCfg.DSN()
			log.Info().
				Str("dsn", dbCfg.Redacted()).
				Msg("using database settings from environment")
		}
		sc.PollInterval = cfg.PollInterval
		s, err = sqlstore.Open(ctx, sc)

	case "badger":
		bc := badgerstore.DefaultConfig()
		s, err = badgerstore.Open(cfg.BadgerDir, bc)

	case "nats":
		nc := natsstore.DefaultConfig()
		if cfg.NATSURL != "" {
			nc.URL = cfg.NATSURL
		}
		nc.Bucket = cfg.NATSBucket
		s, err = natsstore.Open(ctx, nc)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}

	log.Info().Str("driver", cfg.Driver).Msg("session store ready")
	return s, nil
}
