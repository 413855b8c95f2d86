package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mcdev12/planningpoker/go/internal/poker/store"
	"github.com/mcdev12/planningpoker/go/internal/sqlutil"
)

const schema = `CREATE TABLE IF NOT EXISTS poker_nodes (
	path  TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

const (
	loadQuery = `SELECT path, value FROM poker_nodes
WHERE path = ? OR path LIKE ? ESCAPE '\'`

	deleteSubtreeQuery = `DELETE FROM poker_nodes
WHERE path = ? OR path LIKE ? ESCAPE '\'`

	deleteLeafQuery = `DELETE FROM poker_nodes WHERE path = ?`

	upsertQuery = `INSERT INTO poker_nodes (path, value) VALUES (?, ?)
ON CONFLICT (path) DO UPDATE SET value = excluded.value`

	notifyQuery = `SELECT pg_notify(?, ?)`
)

// queries is bound to one transaction.
type queries struct {
	tx      *sql.Tx
	dialect Dialect
	channel string
}

func (b *backend) newQueries(tx *sql.Tx) *queries {
	return &queries{tx: tx, dialect: b.cfg.Dialect, channel: b.cfg.NotifyChannel}
}

func (q *queries) exec(ctx context.Context, query string, args ...any) error {
	if q.dialect == DialectPostgres {
		query = sqlutil.Rebind(query)
	}
	_, err := q.tx.ExecContext(ctx, query, args...)
	return err
}

// replace removes the subtree and ancestor leaves of op.Path, then inserts
// the new leaves.
func (q *queries) replace(ctx context.Context, op store.Op) error {
	for _, a := range store.Ancestors(op.Path) {
		if err := q.exec(ctx, deleteLeafQuery, a); err != nil {
			return fmt.Errorf("delete ancestor %s: %w", a, err)
		}
	}
	if err := q.exec(ctx, deleteSubtreeQuery, op.Path, sqlutil.EscapeLike(op.Path)+"/%"); err != nil {
		return fmt.Errorf("delete %s: %w", op.Path, err)
	}
	for p, v := range op.Leaves {
		if err := q.exec(ctx, upsertQuery, p, string(v)); err != nil {
			return fmt.Errorf("insert %s: %w", p, err)
		}
	}
	if q.dialect == DialectPostgres {
		// delivered to listeners on commit
		if err := q.exec(ctx, notifyQuery, q.channel, op.Path); err != nil {
			return fmt.Errorf("notify %s: %w", op.Path, err)
		}
	}
	return nil
}
