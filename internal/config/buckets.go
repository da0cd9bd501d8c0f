package config

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/storage"
)

// Buckets resolves a bucket key to a storage.Store, implementing
// internal/dataplane.Buckets. Stores are constructed lazily and cached,
// since §6 configures buckets by key up front but there is no reason to
// touch a bucket's root directory before something actually reads or
// writes through it.
type Buckets struct {
	cfg *SystemConfig

	mu     sync.Mutex
	stores map[string]storage.Store
}

// NewBuckets wraps cfg (already validated via cfg.Preflight) as a
// dataplane.Buckets implementation.
func NewBuckets(cfg *SystemConfig) *Buckets {
	return &Buckets{cfg: cfg, stores: make(map[string]storage.Store)}
}

// Store returns the storage.Store for bucketKey, constructing it on
// first use.
func (b *Buckets) Store(bucketKey string) (storage.Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stores[bucketKey]; ok {
		return s, nil
	}
	bucket, ok := b.cfg.Buckets[bucketKey]
	if !ok {
		return nil, errors.New(errors.EInputValidation, "unknown bucket %q", bucketKey)
	}
	// Preflight already rejected any non-LOCAL protocol, so this is the
	// only backend construction branch until a future store is added.
	store := storage.NewLocalStore(bucket.RootPath)
	b.stores[bucketKey] = store
	return store, nil
}

// DefaultBucket returns the configured default bucket key.
func (b *Buckets) DefaultBucket() string {
	return b.cfg.DefaultBucket
}

// WarmAll constructs and readies every bucket named in cfg up front,
// fanning the per-bucket Store.Ready() checks out concurrently with
// errgroup (each bucket root is an independent directory check, so
// there is nothing to serialise) so a missing or unwritable bucket root
// is reported once at startup rather than on whichever request happens
// to touch it first.
func (b *Buckets) WarmAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for key := range b.cfg.Buckets {
		key := key
		g.Go(func() error {
			store, err := b.Store(key)
			if err != nil {
				return err
			}
			return store.Ready()
		})
	}
	return g.Wait()
}
