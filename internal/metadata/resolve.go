package metadata

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	trcerr "github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// Resolved is one selector's resolution result: the matched definition,
// tag, and its reconstructed attribute set.
type Resolved struct {
	Definition types.ObjectDefinition
	Tag        types.Tag
}

// nextMappingStage draws a random positive 63-bit value to scope one
// batch's key_mapping rows, per SPEC_FULL.md §4.4.1 (a real crypto/rand
// draw rather than a per-connection atomic counter, since mapping_stage
// must stay unique across however many pooled connections are handling
// concurrent resolutions, not just within one session).
func nextMappingStage() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, trcerr.Wrap(trcerr.ETracInternal, err, "drawing mapping_stage")
	}
	v := int64(binary.BigEndian.Uint64(buf[:]) & math.MaxInt64)
	if v == 0 {
		v = 1
	}
	return v, nil
}

// ResolveSelectors implements the five-step batch resolution algorithm
// of SPEC_FULL.md §4.4: stage N selectors into key_mapping, join twice to
// pin down the matched object_definition and tag row, then read back
// definitions, tags and attributes in input order. It must run inside a
// transaction so the staged rows are visible to every step; cleanupStage
// removes them with an explicit DELETE when ResolveSelectors returns.
func ResolveSelectors(ctx context.Context, tx Tx, tenantID int64, selectors []types.TagSelector) ([]Resolved, error) {
	if len(selectors) == 0 {
		return nil, nil
	}

	stage, err := nextMappingStage()
	if err != nil {
		return nil, err
	}
	defer cleanupStage(ctx, tx, stage)

	if err := stageSelectors(ctx, tx, stage, selectors); err != nil {
		return nil, err
	}
	if err := fillObjectType(ctx, tx, tenantID, stage); err != nil {
		return nil, err
	}
	if err := fillMatchedVersion(ctx, tx, tenantID, stage); err != nil {
		return nil, err
	}
	if err := fillMatchedTag(ctx, tx, tenantID, stage); err != nil {
		return nil, err
	}
	return readBack(ctx, tx, tenantID, stage, len(selectors))
}

func cleanupStage(ctx context.Context, tx Tx, stage int64) {
	_, _ = tx.Exec(ctx, `DELETE FROM key_mapping WHERE mapping_stage = $1`, stage)
}

const insertKeyMappingSQL = `
INSERT INTO key_mapping
  (mapping_stage, ordering, object_id,
   version_criterion, object_version, object_as_of,
   tag_criterion, tag_version, tag_as_of)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

func stageSelectors(ctx context.Context, tx Tx, stage int64, selectors []types.TagSelector) error {
	batch := &pgx.Batch{}
	for i, sel := range selectors {
		var objectAsOf, tagAsOf *time.Time
		if sel.ObjectCriterion == types.CriterionAsOf {
			t := sel.ObjectAsOf
			objectAsOf = &t
		}
		if sel.TagCriterion == types.CriterionAsOf {
			t := sel.TagAsOf
			tagAsOf = &t
		}
		batch.Queue(insertKeyMappingSQL,
			stage, i, uuidOf(sel.ObjectID),
			int(sel.ObjectCriterion), nullableVersion(sel.ObjectCriterion, sel.ObjectVersion), objectAsOf,
			int(sel.TagCriterion), nullableVersion(sel.TagCriterion, sel.TagVersion), tagAsOf,
		)
	}
	res := tx.SendBatch(ctx, batch)
	defer res.Close()
	for range selectors {
		if _, err := res.Exec(); err != nil {
			return trcerr.Wrap(trcerr.ETracInternal, err, "staging selectors")
		}
	}
	return nil
}

func nullableVersion(criterion types.VersionCriterion, v int) *int {
	if criterion != types.CriterionExplicit {
		return nil
	}
	return &v
}

// Step 2: join key_mapping to object_id, confirming the object exists
// for this tenant and recording its declared type.
const fillObjectTypeSQL = `
UPDATE key_mapping km
SET found_object_type = oid.object_type
FROM object_id oid
WHERE km.mapping_stage = $1
  AND oid.tenant_id = $2
  AND oid.object_id = km.object_id
`

func fillObjectType(ctx context.Context, tx Tx, tenantID, stage int64) error {
	_, err := tx.Exec(ctx, fillObjectTypeSQL, stage, tenantID)
	if err != nil {
		return trcerr.Wrap(trcerr.ETracInternal, err, "resolving object ids")
	}
	return nil
}

// Step 3: join to object_definition on the populated criterion columns.
// The predicate is a disjunction over exactly one of three shapes,
// selected per row by version_criterion.
const fillMatchedVersionSQL = `
UPDATE key_mapping km
SET matched_version = def.object_version
FROM object_definition def
WHERE km.mapping_stage = $1
  AND def.tenant_id = $2
  AND def.object_id = km.object_id
  AND (
    (km.version_criterion = 1 AND def.object_version = km.object_version) OR
    (km.version_criterion = 2 AND def.object_timestamp <= km.object_as_of
       AND (def.object_superseded IS NULL OR def.object_superseded > km.object_as_of)) OR
    (km.version_criterion = 0 AND def.object_is_latest)
  )
`

func fillMatchedVersion(ctx context.Context, tx Tx, tenantID, stage int64) error {
	_, err := tx.Exec(ctx, fillMatchedVersionSQL, stage, tenantID)
	if err != nil {
		return trcerr.Wrap(trcerr.ETracInternal, err, "resolving object versions")
	}
	return nil
}

// Step 4: symmetric join to tag, now keyed by the object_version just
// resolved.
const fillMatchedTagSQL = `
UPDATE key_mapping km
SET matched_tag = t.tag_version
FROM tag t
WHERE km.mapping_stage = $1
  AND t.tenant_id = $2
  AND t.object_id = km.object_id
  AND t.object_version = km.matched_version
  AND (
    (km.tag_criterion = 1 AND t.tag_version = km.tag_version) OR
    (km.tag_criterion = 2 AND t.tag_timestamp <= km.tag_as_of) OR
    (km.tag_criterion = 0 AND t.tag_is_latest)
  )
`

func fillMatchedTag(ctx context.Context, tx Tx, tenantID, stage int64) error {
	_, err := tx.Exec(ctx, fillMatchedTagSQL, stage, tenantID)
	if err != nil {
		return trcerr.Wrap(trcerr.ETracInternal, err, "resolving tag versions")
	}
	return nil
}

// Step 5: three SELECTs joining key_mapping ORDER BY ordering, so result
// rows line up with the caller's input order regardless of backend scan
// order.
const selectDefinitionsSQL = `
SELECT km.ordering, def.object_id, def.object_version, def.object_timestamp,
       def.object_is_latest, km.found_object_type, def.definition
FROM key_mapping km
JOIN object_definition def
  ON def.tenant_id = $2 AND def.object_id = km.object_id AND def.object_version = km.matched_version
WHERE km.mapping_stage = $1
ORDER BY km.ordering
`

const selectTagsSQL = `
SELECT km.ordering, t.tag_version, t.tag_timestamp, t.tag_is_latest
FROM key_mapping km
JOIN tag t
  ON t.tenant_id = $2 AND t.object_id = km.object_id
     AND t.object_version = km.matched_version AND t.tag_version = km.matched_tag
WHERE km.mapping_stage = $1
ORDER BY km.ordering
`

const selectAttrsSQL = `
SELECT km.ordering, ta.attr_name, ta.attr_index, ta.attr_value
FROM key_mapping km
JOIN tag_attr ta
  ON ta.tenant_id = $2 AND ta.object_id = km.object_id
     AND ta.object_version = km.matched_version AND ta.tag_version = km.matched_tag
WHERE km.mapping_stage = $1
ORDER BY km.ordering, ta.attr_name, ta.attr_index
`

func readBack(ctx context.Context, tx Tx, tenantID, stage int64, n int) ([]Resolved, error) {
	matched := make([]bool, n)
	out := make([]Resolved, n)

	defRows, err := tx.Query(ctx, selectDefinitionsSQL, stage, tenantID)
	if err != nil {
		return nil, trcerr.Wrap(trcerr.ETracInternal, err, "reading back definitions")
	}
	for defRows.Next() {
		var ordering int
		var objID [16]byte
		var def types.ObjectDefinition
		var objectType int
		var blob []byte
		if err := defRows.Scan(&ordering, &objID, &def.ObjectVersion, &def.Timestamp, &def.IsLatest, &objectType, &blob); err != nil {
			defRows.Close()
			return nil, trcerr.Wrap(trcerr.ETracInternal, err, "scanning definition row")
		}
		if matched[ordering] {
			defRows.Close()
			return nil, trcerr.New(trcerr.ETracInternal, "selector %d matched more than one object_definition row", ordering)
		}
		def.ObjectID = types.ObjectID(objID)
		def.ObjectType = types.ObjectType(objectType)
		if err := decodeDefinitionBody(&def, blob); err != nil {
			defRows.Close()
			return nil, err
		}
		out[ordering].Definition = def
		matched[ordering] = true
	}
	defRows.Close()
	if err := defRows.Err(); err != nil {
		return nil, trcerr.Wrap(trcerr.ETracInternal, err, "reading definition rows")
	}
	for i, ok := range matched {
		if !ok {
			return nil, trcerr.New(trcerr.EMissingItem, "selector %d matched no object_definition row", i)
		}
	}

	tagRows, err := tx.Query(ctx, selectTagsSQL, stage, tenantID)
	if err != nil {
		return nil, trcerr.Wrap(trcerr.ETracInternal, err, "reading back tags")
	}
	tagMatched := make([]bool, n)
	for tagRows.Next() {
		var ordering int
		var tag types.Tag
		if err := tagRows.Scan(&ordering, &tag.TagVersion, &tag.Timestamp, &tag.IsLatest); err != nil {
			tagRows.Close()
			return nil, trcerr.Wrap(trcerr.ETracInternal, err, "scanning tag row")
		}
		if tagMatched[ordering] {
			tagRows.Close()
			return nil, trcerr.New(trcerr.ETracInternal, "selector %d matched more than one tag row", ordering)
		}
		tag.ObjectID = out[ordering].Definition.ObjectID
		tag.ObjectVersion = out[ordering].Definition.ObjectVersion
		out[ordering].Tag = tag
		tagMatched[ordering] = true
	}
	tagRows.Close()
	if err := tagRows.Err(); err != nil {
		return nil, trcerr.Wrap(trcerr.ETracInternal, err, "reading tag rows")
	}
	for i, ok := range tagMatched {
		if !ok {
			return nil, trcerr.New(trcerr.EMissingItem, "selector %d matched no tag row", i)
		}
	}

	if err := readBackAttrs(ctx, tx, stage, tenantID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// readBackAttrs reconstructs each tag's attribute map from the flat
// attr scan: consecutive rows sharing (ordering, attr_name) with
// non-negative attr_index form an array value; attr_index == -1 marks a
// scalar.
func readBackAttrs(ctx context.Context, tx Tx, stage, tenantID int64, out []Resolved) error {
	rows, err := tx.Query(ctx, selectAttrsSQL, stage, tenantID)
	if err != nil {
		return trcerr.Wrap(trcerr.ETracInternal, err, "reading back tag attributes")
	}
	defer rows.Close()

	var curOrdering = -1
	var curName string
	var haveCurrent bool
	var arrayItems []types.Value
	var isScalar bool

	flush := func() {
		if !haveCurrent {
			return
		}
		if isScalar {
			out[curOrdering].Tag.SetAttr(curName, arrayItems[0])
		} else if arr, ok := types.ArrayValue(arrayItems); ok {
			out[curOrdering].Tag.SetAttr(curName, arr)
		}
		arrayItems = nil
	}

	for rows.Next() {
		var ordering, attrIndex int
		var name string
		var raw []byte
		if err := rows.Scan(&ordering, &name, &attrIndex, &raw); err != nil {
			return trcerr.Wrap(trcerr.ETracInternal, err, "scanning tag attribute row")
		}
		val, err := decodeAttrValue(raw)
		if err != nil {
			return err
		}
		if !haveCurrent || ordering != curOrdering || name != curName {
			flush()
			curOrdering, curName = ordering, name
			haveCurrent = true
			isScalar = attrIndex == -1
		}
		arrayItems = append(arrayItems, val)
	}
	flush()
	return rows.Err()
}

func uuidOf(id types.ObjectID) [16]byte {
	return [16]byte(id)
}
