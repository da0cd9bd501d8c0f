// Package metadata implements the batch-oriented relational access layer
// (C4) over the seven persistent relations: tenant, object_id,
// object_definition, tag, tag_attr, config_entry, and the key_mapping
// scratch relation used for selector resolution. It replaces the
// source's changefeed-apply transactions with TRAC's five save
// primitives and batch selector resolution, keeping the teacher's
// pgx.Pool-and-stopper wiring style.
package metadata

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tracdap/trac-core/internal/util/stopper"
)

// OpenOption customizes Open.
type OpenOption func(*openOptions)

type openOptions struct {
	waitForStartup bool
	maxConns       int32
}

// WaitForStartup retries the initial ping while the backend is still
// coming up, rather than failing immediately.
func WaitForStartup() OpenOption {
	return func(o *openOptions) { o.waitForStartup = true }
}

// MaxConns bounds the pool's concurrent connection count.
func MaxConns(n int32) OpenOption {
	return func(o *openOptions) { o.maxConns = n }
}

// Open creates a pgxpool.Pool for connString, pings it (retrying under
// WaitForStartup), and registers a stopper.Context goroutine that closes
// the pool on shutdown.
func Open(ctx *stopper.Context, connString string, opts ...OpenOption) (*pgxpool.Pool, error) {
	options := &openOptions{maxConns: 16}
	for _, opt := range opts {
		opt(options)
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parsing metadata store connection string")
	}
	cfg.MaxConns = options.maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "opening metadata store pool")
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		pool.Close()
		return nil
	})

ping:
	if err := pool.Ping(ctx); err != nil {
		if options.waitForStartup {
			log.WithError(err).Info("waiting for metadata store to become ready")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				goto ping
			}
		}
		return nil, errors.Wrap(err, "could not ping metadata store")
	}

	return pool, nil
}
