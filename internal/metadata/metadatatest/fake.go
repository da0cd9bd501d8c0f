// Package metadatatest provides a hand-rolled, in-memory stand-in for
// the metadata store's transaction surface (internal/metadata.Tx), so
// the selector-resolution algorithm and the five write primitives can
// be exercised by package tests without a real Postgres. The teacher's
// own sinktest/base fixture is a real-database integration harness
// (it provisions an actual target schema and runs migrations against
// it); that approach needs a live backend this exercise cannot stand
// up, so the harness here instead recognizes the small, fixed set of
// SQL statements internal/metadata actually issues and interprets each
// against plain Go slices — a fake keyed to one package's own queries,
// not a general SQL engine.
package metadatatest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tracdap/trac-core/internal/errors"
)

type tenantRow struct {
	id   int64
	code string
}

type objectIDRow struct {
	tenantID   int64
	objectID   [16]byte
	objectType int
}

type definitionRow struct {
	tenantID   int64
	objectID   [16]byte
	version    int
	timestamp  time.Time
	superseded *time.Time
	isLatest   bool
	definition []byte
}

type tagRow struct {
	tenantID  int64
	objectID  [16]byte
	version   int
	tagVer    int
	timestamp time.Time
	isLatest  bool
}

type attrRow struct {
	tenantID  int64
	objectID  [16]byte
	version   int
	tagVer    int
	name      string
	index     int
	value     []byte
}

type mappingRow struct {
	stage         int64
	ordering      int
	objectID      [16]byte
	verCriterion  int
	objectVersion *int
	objectAsOf    *time.Time
	tagCriterion  int
	tagVersion    *int
	tagAsOf       *time.Time

	foundType *int
	matchedVersion *int
	matchedTag     *int
}

// Fake implements internal/metadata.Tx (Exec/Query/QueryRow/SendBatch)
// against in-memory tables. The zero value is ready to use; AddTenant
// seeds a tenant row before tests exercise anything that resolves one.
type Fake struct {
	mu sync.Mutex

	tenants     []tenantRow
	objectIDs   []objectIDRow
	definitions []definitionRow
	tags        []tagRow
	attrs       []attrRow
	mappings    []mappingRow

	nextTenantID int64
}

// NewFake constructs an empty Fake.
func NewFake() *Fake {
	return &Fake{nextTenantID: 1}
}

// AddTenant registers a tenant_code -> tenant_id mapping directly,
// bypassing Exec, since tests typically want a known tenant id to
// address the rest of the fixtures by.
func (f *Fake) AddTenant(code string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextTenantID
	f.nextTenantID++
	f.tenants = append(f.tenants, tenantRow{id: id, code: code})
	return id
}

func (f *Fake) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.dispatch(sql, args)
	return pgconn.CommandTag{}, err
}

func (f *Fake) dispatch(sql string, args []any) error {
	switch {
	case strings.Contains(sql, "CREATE TABLE"):
		return nil // schema bootstrap is a no-op against the fake
	case strings.Contains(sql, "INSERT INTO object_id"):
		return f.insertObjectID(args)
	case strings.Contains(sql, "INSERT INTO object_definition"):
		return f.insertDefinition(args)
	case strings.Contains(sql, "UPDATE object_definition"):
		return f.supersedeDefinition(args)
	case strings.Contains(sql, "INSERT INTO tag_attr"):
		return f.insertAttr(args)
	case strings.Contains(sql, "INSERT INTO tag"):
		return f.insertTag(args)
	case strings.Contains(sql, "UPDATE tag"):
		return f.retireTag(args)
	case strings.Contains(sql, "UPDATE key_mapping km\nSET found_object_type"):
		return f.fillObjectType(args)
	case strings.Contains(sql, "UPDATE key_mapping km\nSET matched_version"):
		return f.fillMatchedVersion(args)
	case strings.Contains(sql, "UPDATE key_mapping km\nSET matched_tag"):
		return f.fillMatchedTag(args)
	case strings.Contains(sql, "DELETE FROM key_mapping"):
		return f.deleteMapping(args)
	case strings.Contains(sql, "INSERT INTO key_mapping"):
		return f.insertMapping(args)
	default:
		return errors.New(errors.ETracInternal, "metadatatest: unrecognized statement: %s", sql)
	}
}

func (f *Fake) insertObjectID(args []any) error {
	tenantID := args[0].(int64)
	id := args[1].([16]byte)
	for _, row := range f.objectIDs {
		if row.tenantID == tenantID && row.objectID == id {
			return errors.New(errors.EDuplicateItem, "duplicate object id")
		}
	}
	f.objectIDs = append(f.objectIDs, objectIDRow{tenantID: tenantID, objectID: id, objectType: args[2].(int)})
	return nil
}

func (f *Fake) insertDefinition(args []any) error {
	row := definitionRow{
		tenantID:   args[0].(int64),
		objectID:   args[1].([16]byte),
		version:    args[2].(int),
		timestamp:  args[3].(time.Time),
		isLatest:   args[4].(bool),
		definition: args[5].([]byte),
	}
	for _, d := range f.definitions {
		if d.tenantID == row.tenantID && d.objectID == row.objectID && d.version == row.version {
			return errors.New(errors.EDuplicateItem, "duplicate object_definition")
		}
	}
	f.definitions = append(f.definitions, row)
	return nil
}

func (f *Fake) supersedeDefinition(args []any) error {
	tenantID, objectID, version, supersede := args[0].(int64), args[1].([16]byte), args[2].(int), args[3].(time.Time)
	for i := range f.definitions {
		d := &f.definitions[i]
		if d.tenantID == tenantID && d.objectID == objectID && d.version == version {
			d.isLatest = false
			t := supersede
			d.superseded = &t
			return nil
		}
	}
	return errors.New(errors.EMissingItem, "object_definition not found for supersede")
}

func (f *Fake) insertTag(args []any) error {
	row := tagRow{
		tenantID:  args[0].(int64),
		objectID:  args[1].([16]byte),
		version:   args[2].(int),
		tagVer:    args[3].(int),
		timestamp: args[4].(time.Time),
		isLatest:  args[5].(bool),
	}
	f.tags = append(f.tags, row)
	return nil
}

func (f *Fake) retireTag(args []any) error {
	tenantID, objectID, version, tagVer := args[0].(int64), args[1].([16]byte), args[2].(int), args[3].(int)
	for i := range f.tags {
		t := &f.tags[i]
		if t.tenantID == tenantID && t.objectID == objectID && t.version == version && t.tagVer == tagVer {
			t.isLatest = false
			return nil
		}
	}
	return errors.New(errors.EMissingItem, "tag not found to retire")
}

func (f *Fake) insertAttr(args []any) error {
	f.attrs = append(f.attrs, attrRow{
		tenantID: args[0].(int64),
		objectID: args[1].([16]byte),
		version:  args[2].(int),
		tagVer:   args[3].(int),
		name:     args[4].(string),
		index:    args[5].(int),
		value:    args[6].([]byte),
	})
	return nil
}

func (f *Fake) insertMapping(args []any) error {
	row := mappingRow{
		stage:        args[0].(int64),
		ordering:     args[1].(int),
		objectID:     args[2].([16]byte),
		verCriterion: args[3].(int),
		tagCriterion: args[6].(int),
	}
	if v, ok := args[4].(*int); ok {
		row.objectVersion = v
	}
	if t, ok := args[5].(*time.Time); ok {
		row.objectAsOf = t
	}
	if v, ok := args[7].(*int); ok {
		row.tagVersion = v
	}
	if t, ok := args[8].(*time.Time); ok {
		row.tagAsOf = t
	}
	f.mappings = append(f.mappings, row)
	return nil
}

func (f *Fake) deleteMapping(args []any) error {
	stage := args[0].(int64)
	var kept []mappingRow
	for _, m := range f.mappings {
		if m.stage != stage {
			kept = append(kept, m)
		}
	}
	f.mappings = kept
	return nil
}

func (f *Fake) fillObjectType(args []any) error {
	stage, tenantID := args[0].(int64), args[1].(int64)
	for i := range f.mappings {
		m := &f.mappings[i]
		if m.stage != stage {
			continue
		}
		for _, o := range f.objectIDs {
			if o.tenantID == tenantID && o.objectID == m.objectID {
				t := o.objectType
				m.foundType = &t
				break
			}
		}
	}
	return nil
}

func (f *Fake) fillMatchedVersion(args []any) error {
	stage, tenantID := args[0].(int64), args[1].(int64)
	for i := range f.mappings {
		m := &f.mappings[i]
		if m.stage != stage {
			continue
		}
		for _, d := range f.definitions {
			if d.tenantID != tenantID || d.objectID != m.objectID {
				continue
			}
			matched := false
			switch m.verCriterion {
			case 1: // explicit
				matched = m.objectVersion != nil && d.version == *m.objectVersion
			case 2: // as-of
				matched = m.objectAsOf != nil && !d.timestamp.After(*m.objectAsOf) &&
					(d.superseded == nil || d.superseded.After(*m.objectAsOf))
			default: // latest
				matched = d.isLatest
			}
			if matched {
				v := d.version
				m.matchedVersion = &v
			}
		}
	}
	return nil
}

func (f *Fake) fillMatchedTag(args []any) error {
	stage, tenantID := args[0].(int64), args[1].(int64)
	for i := range f.mappings {
		m := &f.mappings[i]
		if m.stage != stage || m.matchedVersion == nil {
			continue
		}
		for _, t := range f.tags {
			if t.tenantID != tenantID || t.objectID != m.objectID || t.version != *m.matchedVersion {
				continue
			}
			matched := false
			switch m.tagCriterion {
			case 1:
				matched = m.tagVersion != nil && t.tagVer == *m.tagVersion
			case 2:
				matched = m.tagAsOf != nil && !t.timestamp.After(*m.tagAsOf)
			default:
				matched = t.isLatest
			}
			if matched {
				v := t.tagVer
				m.matchedTag = &v
			}
		}
	}
	return nil
}

func (f *Fake) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := f.Query(ctx, sql, args...)
	if err != nil {
		return errRow{err}
	}
	return rowsAsRow{rows.(*memRows)}
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type rowsAsRow struct{ rows *memRows }

func (r rowsAsRow) Scan(dest ...any) error {
	if !r.rows.Next() {
		return errors.New(errors.EMissingItem, "no rows")
	}
	return r.rows.Scan(dest...)
}

// SendBatch executes each queued statement in order against the fake,
// matching pgx's synchronous-compatible batch semantics closely enough
// for this package's tests (which only ever batch independent INSERTs).
func (f *Fake) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return &fakeBatchResults{fake: f, items: batchItems(b)}
}
