package metadata

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	trcerr "github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// classifyWriteError maps a pgx error to the failure taxonomy of
// SPEC_FULL.md §4.4: duplicate PK -> EDuplicateItem, missing FK ->
// EMissingItem, anything else -> ETracInternal. Type mismatches are
// caught by the caller before the statement runs (see saveNewVersion)
// since they are an application-level check, not something the backend
// reports as a distinct SQLSTATE.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return trcerr.Wrap(trcerr.EDuplicateItem, err, "duplicate key")
		case "23503": // foreign_key_violation
			return trcerr.Wrap(trcerr.EMissingItem, err, "missing referenced row")
		}
	}
	return trcerr.Wrap(trcerr.ETracInternal, err, "metadata write failed")
}

// SaveNewObject implements the saveNewObject primitive: issue an object
// id, insert definition version 1 and tag version 1 with is_latest set
// on both.
func SaveNewObject(ctx context.Context, tx Tx, tenantID int64, def *types.ObjectDefinition, tag *types.Tag) error {
	def.ObjectVersion = 1
	def.IsLatest = true
	tag.ObjectVersion = 1
	tag.TagVersion = 1
	tag.IsLatest = true

	if _, err := tx.Exec(ctx,
		`INSERT INTO object_id (tenant_id, object_id, object_type) VALUES ($1, $2, $3)`,
		tenantID, uuidOf(def.ObjectID), int(def.ObjectType)); err != nil {
		return classifyWriteError(err)
	}
	return insertDefinitionAndTag(ctx, tx, tenantID, def, tag)
}

// SaveNewVersion implements the saveNewVersion primitive: the caller
// supplies the prior definition (already resolved via ResolveSelectors)
// so its type can be asserted before the new version is written, and
// the prior object_definition row is flipped to object_is_latest = false
// in the same transaction.
func SaveNewVersion(ctx context.Context, tx Tx, tenantID int64, prior types.ObjectDefinition, def *types.ObjectDefinition, tag *types.Tag) error {
	if prior.ObjectType != def.ObjectType {
		return trcerr.New(trcerr.EWrongItemType, "object %s is of type %s, not %s",
			def.ObjectID, prior.ObjectType, def.ObjectType)
	}

	if def.Timestamp.IsZero() {
		def.Timestamp = time.Now().UTC()
	}
	def.ObjectID = prior.ObjectID
	def.ObjectVersion = prior.ObjectVersion + 1
	def.IsLatest = true
	tag.ObjectID = def.ObjectID
	tag.ObjectVersion = def.ObjectVersion
	tag.TagVersion = 1
	tag.IsLatest = true

	if _, err := tx.Exec(ctx,
		`UPDATE object_definition SET object_is_latest = false, object_superseded = $4
		 WHERE tenant_id = $1 AND object_id = $2 AND object_version = $3`,
		tenantID, uuidOf(prior.ObjectID), prior.ObjectVersion, def.Timestamp); err != nil {
		return classifyWriteError(err)
	}
	return insertDefinitionAndTag(ctx, tx, tenantID, def, tag)
}

// SaveNewTag implements the saveNewTag primitive: insert tag version
// prior.TagVersion+1 against an existing definition, flipping the prior
// tag_is_latest row to false.
func SaveNewTag(ctx context.Context, tx Tx, tenantID int64, objectID types.ObjectID, objectVersion int, prior types.Tag, tag *types.Tag) error {
	tag.ObjectID = objectID
	tag.ObjectVersion = objectVersion
	tag.TagVersion = prior.TagVersion + 1
	tag.IsLatest = true

	if _, err := tx.Exec(ctx,
		`UPDATE tag SET tag_is_latest = false
		 WHERE tenant_id = $1 AND object_id = $2 AND object_version = $3 AND tag_version = $4`,
		tenantID, uuidOf(objectID), objectVersion, prior.TagVersion); err != nil {
		return classifyWriteError(err)
	}
	return insertTag(ctx, tx, tenantID, objectID, objectVersion, tag)
}

// PreallocateObjectID reserves an object id of the declared type without
// yet writing a definition, the first half of the two-phase create used
// by createDataset (C5) so the storage path can be derived from the id
// before the payload has finished streaming.
func PreallocateObjectID(ctx context.Context, tx Tx, tenantID int64, objectType types.ObjectType) (types.ObjectID, error) {
	id := types.NewObjectID()
	if _, err := tx.Exec(ctx,
		`INSERT INTO object_id (tenant_id, object_id, object_type) VALUES ($1, $2, $3)`,
		tenantID, uuidOf(id), int(objectType)); err != nil {
		return types.ObjectID{}, classifyWriteError(err)
	}
	return id, nil
}

// SavePreallocatedObject completes the two-phase create: def.ObjectID
// must already equal the id returned from PreallocateObjectID.
func SavePreallocatedObject(ctx context.Context, tx Tx, tenantID int64, def *types.ObjectDefinition, tag *types.Tag) error {
	def.ObjectVersion = 1
	def.IsLatest = true
	tag.ObjectID = def.ObjectID
	tag.ObjectVersion = 1
	tag.TagVersion = 1
	tag.IsLatest = true
	return insertDefinitionAndTag(ctx, tx, tenantID, def, tag)
}

func insertDefinitionAndTag(ctx context.Context, tx Tx, tenantID int64, def *types.ObjectDefinition, tag *types.Tag) error {
	body, err := encodeDefinitionBody(def)
	if err != nil {
		return err
	}
	if def.Timestamp.IsZero() {
		def.Timestamp = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO object_definition
		   (tenant_id, object_id, object_version, object_timestamp, object_is_latest, definition)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tenantID, uuidOf(def.ObjectID), def.ObjectVersion, def.Timestamp, def.IsLatest, body); err != nil {
		return classifyWriteError(err)
	}
	return insertTag(ctx, tx, tenantID, def.ObjectID, def.ObjectVersion, tag)
}

func insertTag(ctx context.Context, tx Tx, tenantID int64, objectID types.ObjectID, objectVersion int, tag *types.Tag) error {
	if tag.Timestamp.IsZero() {
		tag.Timestamp = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO tag (tenant_id, object_id, object_version, tag_version, tag_timestamp, tag_is_latest)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tenantID, uuidOf(objectID), objectVersion, tag.TagVersion, tag.Timestamp, tag.IsLatest); err != nil {
		return classifyWriteError(err)
	}

	for _, name := range tag.AttrOrder {
		v := tag.Attrs[name]
		if !v.Array {
			raw, err := encodeAttrValue(v)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO tag_attr (tenant_id, object_id, object_version, tag_version, attr_name, attr_index, attr_value)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				tenantID, uuidOf(objectID), objectVersion, tag.TagVersion, name, -1, raw); err != nil {
				return classifyWriteError(err)
			}
			continue
		}
		for i, item := range v.Items {
			raw, err := encodeAttrValue(item)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO tag_attr (tenant_id, object_id, object_version, tag_version, attr_name, attr_index, attr_value)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				tenantID, uuidOf(objectID), objectVersion, tag.TagVersion, name, i, raw); err != nil {
				return classifyWriteError(err)
			}
		}
	}
	return nil
}
