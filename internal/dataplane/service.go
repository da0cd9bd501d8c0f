// Package dataplane implements the data-plane service (C5): dataset and
// file lifecycle (create/update/read), tying C4's metadata operations
// to C3's storage I/O through C2's codec pipeline, and the tag update
// rules applied to every save. Grounded on the teacher's
// internal/source/logical orchestration (a Dialect/Events-style split
// between "what a save needs" and "how it is carried out") and on
// sink.go's per-row transaction loop, generalized here to TRAC's
// object/version/tag save primitives.
package dataplane

import (
	"context"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/metadata"
	"github.com/tracdap/trac-core/internal/storage"
	"github.com/tracdap/trac-core/internal/types"
)

const (
	// DefaultMaxAllocator is the per-request child allocator's 128 MiB
	// maximum (§5 resource policy). DefaultInitialAllocator (16 MiB) is
	// declared but not used: an Allocator has only a maximum, with no
	// initial reservation.
	DefaultInitialAllocator = 16 << 20
	DefaultMaxAllocator     = 128 << 20
)

// Buckets resolves a bucket key to its Store, per §6's storage
// descriptor (buckets are always referenced by key, never an absolute
// path).
type Buckets interface {
	Store(bucketKey string) (storage.Store, error)
	DefaultBucket() string
}

// Service is the data-plane service: the receiver for every create/
// update/read operation named in §4.5.
type Service struct {
	Tenants *metadata.TenantCache
	Pool    metadata.BeginTx
	Buckets Buckets
}

// NewService constructs a Service wired to its collaborators.
func NewService(tenants *metadata.TenantCache, pool metadata.BeginTx, buckets Buckets) *Service {
	return &Service{Tenants: tenants, Pool: pool, Buckets: buckets}
}

// newAllocator constructs a fresh per-request Allocator named
// "REQ-{seq}" per §5, bounded at DefaultMaxAllocator.
func newAllocator() *buffer.Allocator {
	return buffer.NewAllocator(storage.NextRequestAllocatorName(), DefaultMaxAllocator)
}

// reportLeak logs a non-zero retained-byte count at request completion,
// the design-level memory leak §5 requires be reported (never silently
// ignored, never itself a fatal error — the request has already either
// succeeded or failed by the time this runs).
func reportLeak(alloc *buffer.Allocator) {
	if retained := alloc.Retained(); retained != 0 {
		log.WithField("allocator", alloc.Name()).
			WithField("retainedBytes", retained).
			WithField("peakBytes", alloc.Peak()).
			Error("dataplane: allocator leak detected at request completion")
	}
}

// withTx runs fn inside a freshly begun transaction, committing on a
// nil return and rolling back otherwise (including on panic, which is
// re-panicked after rollback) — the structured-concurrency replacement
// for the source's callback-based commit/rollback (§9 design notes).
func (s *Service) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(errors.ETracInternal, err, "opening metadata transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(errors.ETracInternal, err, "committing metadata transaction")
	}
	committed = true
	return nil
}

// resolveOne runs ResolveSelectors for a single selector and unwraps its
// one result, the common case every update/read path needs.
func resolveOne(ctx context.Context, tx metadata.Tx, tenantID int64, sel types.TagSelector) (metadata.Resolved, error) {
	resolved, err := metadata.ResolveSelectors(ctx, tx, tenantID, []types.TagSelector{sel})
	if err != nil {
		return metadata.Resolved{}, err
	}
	return resolved[0], nil
}

// headerOf builds the TagHeader returned to callers from a definition
// and tag pair just written or resolved.
func headerOf(def types.ObjectDefinition, tag types.Tag) types.TagHeader {
	return types.TagHeader{
		ObjectType:     def.ObjectType,
		ObjectID:       def.ObjectID,
		ObjectVersion:  def.ObjectVersion,
		TagVersion:     tag.TagVersion,
		IsLatestObject: def.IsLatest,
		IsLatestTag:    tag.IsLatest,
	}
}
