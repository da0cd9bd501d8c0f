package dataplane

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/codec/streamcodec"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/metadata"
	"github.com/tracdap/trac-core/internal/storage"
	"github.com/tracdap/trac-core/internal/types"
)

// DataWriteRequest carries everything a createDataset/updateDataset call
// needs before the content stream itself starts arriving, mirroring
// §6's DataWriteRequest first message (tenant, priorVersion?, schema?,
// format, tagUpdates[]).
type DataWriteRequest struct {
	Tenant       string
	Bucket       string // empty selects the configured default bucket
	PriorVersion *types.TagSelector
	Schema       *types.SchemaDefinition
	SchemaID     *types.TagSelector
	Format       streamcodec.Format
	TagUpdates   []types.TagUpdate
}

// DataReadRequest carries a readDataset call's selector and the output
// codec the caller wants the stored Arrow content re-encoded to.
type DataReadRequest struct {
	Tenant   string
	Bucket   string
	Selector types.TagSelector
	Format   streamcodec.Format
}

// CreateDataset implements createDataset (§4.5): resolve or infer the
// schema, preallocate an object id, derive its storage path, and pipe
// content through the declared input codec into Arrow storage before
// saving the DATA object and its tag in one transaction.
func (s *Service) CreateDataset(ctx context.Context, req DataWriteRequest, content buffer.ChunkStream) (header types.TagHeader, err error) {
	start := time.Now()
	defer func() { observeOp(req.Tenant, string(types.ObjectTypeData), "create", start, err) }()

	tenantID, err := s.Tenants.Resolve(ctx, req.Tenant)
	if err != nil {
		return types.TagHeader{}, err
	}

	store, err := s.bucketFor(req.Bucket)
	if err != nil {
		return types.TagHeader{}, err
	}

	var def types.ObjectDefinition
	var tag types.Tag
	var writtenPath string

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		objectID, err := metadata.PreallocateObjectID(ctx, tx, tenantID, types.ObjectTypeData)
		if err != nil {
			return err
		}

		declared, err := s.resolveSchema(ctx, tx, tenantID, req.Schema, req.SchemaID)
		if err != nil {
			return err
		}

		path := dataPath(objectID, 1)
		writtenPath = path
		alloc := newAllocator()
		defer reportLeak(alloc)

		outSchema, rowCount, _, err := transcode(ctx, alloc, store, path, req.Format, declared, codec.DefaultOptions(), content, streamcodec.FormatArrow)
		if err != nil {
			return err
		}

		tag = types.Tag{}
		stampServiceAttrs(&tag, true)
		if err := ApplyTagUpdates(&tag, req.TagUpdates); err != nil {
			_ = store.Delete(path)
			return err
		}

		def = types.ObjectDefinition{
			ObjectID:   objectID,
			ObjectType: types.ObjectTypeData,
			Data: &types.DataDefinition{
				SchemaID: schemaIDOf(req.SchemaID),
				Schema:   outSchema,
				Storage:  storageLocator(req.Bucket, path),
				RowCount: rowCount,
			},
		}
		return metadata.SavePreallocatedObject(ctx, tx, tenantID, &def, &tag)
	})
	if err != nil {
		if writtenPath != "" {
			_ = store.Delete(writtenPath)
		}
		return types.TagHeader{}, err
	}
	return headerOf(def, tag), nil
}

// UpdateDataset implements updateDataset: like CreateDataset, but
// resolves prior_version through C4 first, enforces non-narrowing
// schema compatibility against the prior version's schema, and saves
// version N+1.
func (s *Service) UpdateDataset(ctx context.Context, req DataWriteRequest, content buffer.ChunkStream) (header types.TagHeader, err error) {
	start := time.Now()
	defer func() { observeOp(req.Tenant, string(types.ObjectTypeData), "update", start, err) }()

	if req.PriorVersion == nil {
		return types.TagHeader{}, errors.New(errors.EInputValidation, "updateDataset requires priorVersion")
	}

	tenantID, err := s.Tenants.Resolve(ctx, req.Tenant)
	if err != nil {
		return types.TagHeader{}, err
	}

	store, err := s.bucketFor(req.Bucket)
	if err != nil {
		return types.TagHeader{}, err
	}

	var def types.ObjectDefinition
	var tag types.Tag
	var writtenPath string

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		prior, err := resolveOne(ctx, tx, tenantID, *req.PriorVersion)
		if err != nil {
			return err
		}
		if prior.Definition.ObjectType != types.ObjectTypeData || prior.Definition.Data == nil {
			return errors.New(errors.EWrongItemType, "object %s is of type %s, not DATA",
				prior.Definition.ObjectID, prior.Definition.ObjectType)
		}

		declared, err := s.resolveSchema(ctx, tx, tenantID, req.Schema, req.SchemaID)
		if err != nil {
			return err
		}
		if declared == nil {
			declared = prior.Definition.Data.Schema
		}

		path := dataPath(prior.Definition.ObjectID, prior.Definition.ObjectVersion+1)
		writtenPath = path
		alloc := newAllocator()
		defer reportLeak(alloc)

		outSchema, rowCount, _, err := transcode(ctx, alloc, store, path, req.Format, declared, codec.DefaultOptions(), content, streamcodec.FormatArrow)
		if err != nil {
			return err
		}

		if err := codec.CheckSchemaCompatible(prior.Definition.Data.Schema, outSchema); err != nil {
			_ = store.Delete(path)
			return err
		}

		tag = prior.Tag
		tag.Attrs = cloneAttrs(prior.Tag.Attrs)
		tag.AttrOrder = append([]string(nil), prior.Tag.AttrOrder...)
		stampServiceAttrs(&tag, false)
		if err := ApplyTagUpdates(&tag, req.TagUpdates); err != nil {
			_ = store.Delete(path)
			return err
		}

		def = types.ObjectDefinition{
			ObjectID:   prior.Definition.ObjectID,
			ObjectType: types.ObjectTypeData,
			Data: &types.DataDefinition{
				SchemaID: schemaIDOf(req.SchemaID),
				Schema:   outSchema,
				Storage:  storageLocator(req.Bucket, path),
				RowCount: rowCount,
			},
		}
		return metadata.SaveNewVersion(ctx, tx, tenantID, prior.Definition, &def, &tag)
	})
	if err != nil {
		if writtenPath != "" {
			_ = store.Delete(writtenPath)
		}
		return types.TagHeader{}, err
	}
	return headerOf(def, tag), nil
}

// ReadDataset implements readDataset: resolve the selector, open the
// stored Arrow file, and re-encode it to the requested output codec.
// The returned schema is reported in the caller's first response
// message; the returned ChunkStream carries the re-encoded content.
func (s *Service) ReadDataset(ctx context.Context, req DataReadRequest) (schema *types.SchemaDefinition, stream buffer.ChunkStream, err error) {
	start := time.Now()
	defer func() { observeOp(req.Tenant, string(types.ObjectTypeData), "read", start, err) }()

	tenantID, err := s.Tenants.Resolve(ctx, req.Tenant)
	if err != nil {
		return nil, nil, err
	}

	var resolved metadata.Resolved
	if err := s.withTx(ctx, func(tx pgx.Tx) error {
		r, err := resolveOne(ctx, tx, tenantID, req.Selector)
		resolved = r
		return err
	}); err != nil {
		return nil, nil, err
	}
	if resolved.Definition.ObjectType != types.ObjectTypeData || resolved.Definition.Data == nil {
		return nil, nil, errors.New(errors.EWrongItemType, "object %s is of type %s, not DATA",
			resolved.Definition.ObjectID, resolved.Definition.ObjectType)
	}

	store, err := s.bucketFor(resolved.Definition.Data.Storage.BucketKey)
	if err != nil {
		return nil, nil, err
	}

	alloc := newAllocator()
	stream, err = readAndRetranscode(ctx, alloc, store, resolved.Definition.Data.Storage.RelativePath,
		resolved.Definition.Data.Schema, req.Format, 0)
	if err != nil {
		reportLeak(alloc)
		return nil, nil, err
	}
	return resolved.Definition.Data.Schema, stream, nil
}

// createSmallDataset and readSmallDataset are the unary conveniences of
// §4.5.1: the server emulates them by invoking the streaming form once,
// with the whole payload folded into a single ChunkBuffer (AGGREGATED
// mode, driven by the rpc layer's DownloadSink for the read side).
func (s *Service) CreateSmallDataset(ctx context.Context, req DataWriteRequest, content []byte) (types.TagHeader, error) {
	alloc := newAllocator()
	defer reportLeak(alloc)
	stream, err := singleChunkStream(alloc, content)
	if err != nil {
		return types.TagHeader{}, err
	}
	return s.CreateDataset(ctx, req, stream)
}

// UpdateSmallDataset is updateDataset's unary convenience, emulated (per
// §6) by invoking the streaming form once with a single-chunk stream.
func (s *Service) UpdateSmallDataset(ctx context.Context, req DataWriteRequest, content []byte) (types.TagHeader, error) {
	alloc := newAllocator()
	defer reportLeak(alloc)
	stream, err := singleChunkStream(alloc, content)
	if err != nil {
		return types.TagHeader{}, err
	}
	return s.UpdateDataset(ctx, req, stream)
}

func (s *Service) ReadSmallDataset(ctx context.Context, req DataReadRequest, maxBytes int) (*types.SchemaDefinition, []byte, error) {
	schema, stream, err := s.ReadDataset(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	content, err := aggregate(stream, maxBytes)
	if err != nil {
		return nil, nil, err
	}
	return schema, content, nil
}

// resolveSchema picks the declared schema for a write: an inline
// schema wins if present, otherwise a schema_id selector is resolved
// through C4 (§4.5.1's "concrete use of the SCHEMA object type"), and
// a request with neither leaves declared nil so the decoder may infer
// one (JSON only; CSV requires one of the two).
func (s *Service) resolveSchema(ctx context.Context, tx metadata.Tx, tenantID int64, schema *types.SchemaDefinition, schemaID *types.TagSelector) (*types.SchemaDefinition, error) {
	if schema != nil {
		return schema, nil
	}
	if schemaID == nil {
		return nil, nil
	}
	resolved, err := resolveOne(ctx, tx, tenantID, *schemaID)
	if err != nil {
		return nil, err
	}
	if resolved.Definition.ObjectType != types.ObjectTypeSchema || resolved.Definition.Schema == nil {
		return nil, errors.New(errors.EWrongItemType, "object %s is of type %s, not SCHEMA",
			resolved.Definition.ObjectID, resolved.Definition.ObjectType)
	}
	return resolved.Definition.Schema, nil
}

func schemaIDOf(sel *types.TagSelector) *types.ObjectID {
	if sel == nil {
		return nil
	}
	id := sel.ObjectID
	return &id
}

func dataPath(id types.ObjectID, version int) string {
	return fmt.Sprintf("data/%s/%d/data.%s", id, version, streamcodec.ArrowExtension)
}

// storageLocator records the at-rest Arrow locator; the wire format a
// write/read request declared belongs on the request, not the stored
// definition, since internal storage is always Arrow (§6 on-disk
// layout).
func storageLocator(bucketKey, path string) types.StorageLocator {
	return types.StorageLocator{
		BucketKey:    bucketKey,
		RelativePath: path,
		Codec:        streamcodec.FormatArrow.String(),
		Extension:    streamcodec.ArrowExtension,
	}
}

func (s *Service) bucketFor(bucketKey string) (storage.Store, error) {
	if bucketKey == "" {
		bucketKey = s.Buckets.DefaultBucket()
	}
	return s.Buckets.Store(bucketKey)
}

func stampServiceAttrs(tag *types.Tag, create bool) {
	now := time.Now().UTC()
	if create {
		tag.SetAttr(types.AttrCreateTime, types.DatetimeValue(now))
	} else {
		tag.SetAttr(types.AttrUpdateTime, types.DatetimeValue(now))
	}
}

func cloneAttrs(in map[string]types.Value) map[string]types.Value {
	out := make(map[string]types.Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
