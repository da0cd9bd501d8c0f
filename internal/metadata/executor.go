package metadata

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor is the minimal query surface the metadata store depends on.
// Both pgx.Tx and *pgxpool.Pool satisfy it, so every function below
// takes an Executor rather than a concrete pool or transaction type —
// the five write primitives run inside a transaction (a pgx.Tx), the
// schema bootstrap and read-only resolution can run directly against
// the pool. internal/metadata/metadatatest substitutes a hand-rolled
// in-memory Executor for tests, so none of this package's tests need a
// real Postgres.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is the transaction surface the selector-resolution and write
// primitives are written against: Executor plus SendBatch, the one
// additional method ResolveSelectors needs to stage N selectors in a
// single round trip. It is a strict subset of pgx.Tx (which satisfies
// it without change), chosen so internal/metadata/metadatatest can
// supply a hand-rolled fake without reproducing pgx.Tx's full surface
// (Begin, Commit, Rollback, Conn, LargeObjects, Prepare, CopyFrom, ...).
type Tx interface {
	Executor
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// BeginTx is the minimal transaction-opening surface, satisfied by
// *pgxpool.Pool.
type BeginTx interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
