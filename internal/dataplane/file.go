package dataplane

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/metadata"
	"github.com/tracdap/trac-core/internal/storage"
	"github.com/tracdap/trac-core/internal/types"
)

// FileWriteRequest carries a createFile/updateFile call's metadata: the
// opaque equivalent of DataWriteRequest, with no codec translation
// (§4.5 "opaque equivalent; no codec translation, size and mime type
// stored in the FILE definition").
type FileWriteRequest struct {
	Tenant       string
	Bucket       string
	PriorVersion *types.TagSelector
	Name         string
	MimeType     string
	// DeclaredSize, when non-zero, must equal the byte count actually
	// written; a mismatch raises an EDataSize error.
	DeclaredSize int64
	TagUpdates   []types.TagUpdate
}

// FileReadRequest carries a readFile call's selector.
type FileReadRequest struct {
	Tenant   string
	Bucket   string
	Selector types.TagSelector
}

// CreateFile implements createFile: preallocate an object id, derive
// its storage path from the id and the file's original name, and
// write content through verbatim (no codec pass).
func (s *Service) CreateFile(ctx context.Context, req FileWriteRequest, content buffer.ChunkStream) (header types.TagHeader, err error) {
	start := time.Now()
	defer func() { observeOp(req.Tenant, string(types.ObjectTypeFile), "create", start, err) }()

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
		objectID, err := metadata.PreallocateObjectID(ctx, tx, tenantID, types.ObjectTypeFile)
		if err != nil {
			return err
		}

		path := filePath(objectID, 1, req.Name)
		writtenPath = path

		size, err := store.Write(ctx, path, content)
		if err != nil {
			return err
		}
		if req.DeclaredSize != 0 && size != req.DeclaredSize {
			_ = store.Delete(path)
			return errors.New(errors.EDataSize,
				"declared size %d does not match %d bytes written", req.DeclaredSize, size)
		}

		tag = types.Tag{}
		stampServiceAttrs(&tag, true)
		if err := ApplyTagUpdates(&tag, req.TagUpdates); err != nil {
			_ = store.Delete(path)
			return err
		}

		def = types.ObjectDefinition{
			ObjectID:   objectID,
			ObjectType: types.ObjectTypeFile,
			File: &types.FileDefinition{
				Name:     req.Name,
				MimeType: req.MimeType,
				Size:     size,
				Storage:  storageLocator(req.Bucket, path),
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

// UpdateFile implements updateFile: resolve prior_version, reject a
// type mismatch, and save version N+1 at the new version's own path.
func (s *Service) UpdateFile(ctx context.Context, req FileWriteRequest, content buffer.ChunkStream) (header types.TagHeader, err error) {
	start := time.Now()
	defer func() { observeOp(req.Tenant, string(types.ObjectTypeFile), "update", start, err) }()

	if req.PriorVersion == nil {
		return types.TagHeader{}, errors.New(errors.EInputValidation, "updateFile requires priorVersion")
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
		if prior.Definition.ObjectType != types.ObjectTypeFile || prior.Definition.File == nil {
			return errors.New(errors.EWrongItemType, "object %s is of type %s, not FILE",
				prior.Definition.ObjectID, prior.Definition.ObjectType)
		}

		name := req.Name
		if name == "" {
			name = prior.Definition.File.Name
		}
		path := filePath(prior.Definition.ObjectID, prior.Definition.ObjectVersion+1, name)
		writtenPath = path

		size, err := store.Write(ctx, path, content)
		if err != nil {
			return err
		}
		if req.DeclaredSize != 0 && size != req.DeclaredSize {
			_ = store.Delete(path)
			return errors.New(errors.EDataSize,
				"declared size %d does not match %d bytes written", req.DeclaredSize, size)
		}

		tag = prior.Tag
		tag.Attrs = cloneAttrs(prior.Tag.Attrs)
		tag.AttrOrder = append([]string(nil), prior.Tag.AttrOrder...)
		stampServiceAttrs(&tag, false)
		if err := ApplyTagUpdates(&tag, req.TagUpdates); err != nil {
			_ = store.Delete(path)
			return err
		}

		mimeType := req.MimeType
		if mimeType == "" {
			mimeType = prior.Definition.File.MimeType
		}

		def = types.ObjectDefinition{
			ObjectID:   prior.Definition.ObjectID,
			ObjectType: types.ObjectTypeFile,
			File: &types.FileDefinition{
				Name:     name,
				MimeType: mimeType,
				Size:     size,
				Storage:  storageLocator(req.Bucket, path),
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

// ReadFile implements readFile: resolve the selector and open the
// stored content verbatim, with no decode/re-encode step.
func (s *Service) ReadFile(ctx context.Context, req FileReadRequest) (def *types.FileDefinition, stream buffer.ChunkStream, err error) {
	start := time.Now()
	defer func() { observeOp(req.Tenant, string(types.ObjectTypeFile), "read", start, err) }()

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
	if resolved.Definition.ObjectType != types.ObjectTypeFile || resolved.Definition.File == nil {
		return nil, nil, errors.New(errors.EWrongItemType, "object %s is of type %s, not FILE",
			resolved.Definition.ObjectID, resolved.Definition.ObjectType)
	}

	store, err := s.bucketFor(resolved.Definition.File.Storage.BucketKey)
	if err != nil {
		return nil, nil, err
	}

	alloc := newAllocator()
	raw, err := store.OpenRead(ctx, resolved.Definition.File.Storage.RelativePath, 0, alloc)
	if err != nil {
		reportLeak(alloc)
		return nil, nil, err
	}

	monitored := buffer.NewChunkStream(storage.QueueCapacity)
	go func() {
		defer close(monitored)
		defer reportLeak(alloc)
		for chunk := range raw {
			select {
			case monitored <- chunk:
			case <-ctx.Done():
				chunk.Release()
			}
		}
	}()
	return resolved.Definition.File, monitored, nil
}

// CreateSmallFile and ReadSmallFile are the unary conveniences of
// §4.5.1, mirroring CreateSmallDataset/ReadSmallDataset.
func (s *Service) CreateSmallFile(ctx context.Context, req FileWriteRequest, content []byte) (types.TagHeader, error) {
	alloc := newAllocator()
	defer reportLeak(alloc)
	stream, err := singleChunkStream(alloc, content)
	if err != nil {
		return types.TagHeader{}, err
	}
	return s.CreateFile(ctx, req, stream)
}

// UpdateSmallFile is updateFile's unary convenience, emulated by
// invoking the streaming form once with a single-chunk stream.
func (s *Service) UpdateSmallFile(ctx context.Context, req FileWriteRequest, content []byte) (types.TagHeader, error) {
	alloc := newAllocator()
	defer reportLeak(alloc)
	stream, err := singleChunkStream(alloc, content)
	if err != nil {
		return types.TagHeader{}, err
	}
	return s.UpdateFile(ctx, req, stream)
}

func (s *Service) ReadSmallFile(ctx context.Context, req FileReadRequest, maxBytes int) (*types.FileDefinition, []byte, error) {
	def, stream, err := s.ReadFile(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	content, err := aggregate(stream, maxBytes)
	if err != nil {
		return nil, nil, err
	}
	return def, content, nil
}

func filePath(id types.ObjectID, version int, name string) string {
	return fmt.Sprintf("file/%s/%d/%s", id, version, name)
}
