package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

type leafQueries struct{ tx *sql.Tx }

func (q *leafQueries) put(ctx context.Context, path, value string) error {
	_, err := q.tx.ExecContext(ctx, `INSERT INTO leaves (path, value) VALUES (?, ?)`, path, value)
	return err
}

func openLeaves(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE leaves (path TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	return db
}

func countLeaves(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM leaves`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func bindLeaves(tx *sql.Tx) *leafQueries { return &leafQueries{tx: tx} }

func TestRunCommitsBatch(t *testing.T) {
	db := openLeaves(t)
	ctx := context.Background()
	err := Run(ctx, db, bindLeaves, func(q *leafQueries) error {
		if err := q.put(ctx, "sessions/AB12CD/votes/Alice", `"3"`); err != nil {
			return err
		}
		return q.put(ctx, "sessions/AB12CD/votes/Bob", `"5"`)
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := countLeaves(t, db); n != 2 {
		t.Errorf("leaves = %d, want 2", n)
	}
}

func TestRunRollsBackBatch(t *testing.T) {
	db := openLeaves(t)
	ctx := context.Background()
	errStop := errors.New("stop")
	err := Run(ctx, db, bindLeaves, func(q *leafQueries) error {
		if err := q.put(ctx, "sessions/AB12CD/votes/Alice", `"3"`); err != nil {
			return err
		}
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("Run = %v, want errStop", err)
	}
	if n := countLeaves(t, db); n != 0 {
		t.Errorf("leaves = %d after rollback, want 0", n)
	}
}
