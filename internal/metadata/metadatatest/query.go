package metadatatest

import (
	"context"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tracdap/trac-core/internal/errors"
)

// memRows is a pgx.Rows implementation over an in-memory slice of
// already-materialized column tuples.
type memRows struct {
	cols [][]any
	pos  int
	err  error
}

func (r *memRows) Close()                                       {}
func (r *memRows) Err() error                                    { return r.err }
func (r *memRows) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (r *memRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *memRows) RawValues() [][]byte                           { return nil }
func (r *memRows) Conn() *pgx.Conn                               { return nil }

func (r *memRows) Next() bool {
	if r.pos >= len(r.cols) {
		return false
	}
	r.pos++
	return true
}

func (r *memRows) Values() ([]any, error) {
	if r.pos == 0 || r.pos > len(r.cols) {
		return nil, errors.New(errors.ETracInternal, "Values called before Next")
	}
	return r.cols[r.pos-1], nil
}

func (r *memRows) Scan(dest ...any) error {
	row, err := r.Values()
	if err != nil {
		return err
	}
	if len(dest) != len(row) {
		return errors.New(errors.ETracInternal, "metadatatest: scan arity mismatch: have %d, want %d", len(row), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(sql, "FROM tenant"):
		var cols [][]any
		for _, t := range f.tenants {
			cols = append(cols, []any{t.id, t.code})
		}
		return &memRows{cols: cols}, nil

	case strings.Contains(sql, "JOIN object_definition def"):
		return f.selectDefinitions(args)

	case strings.Contains(sql, "JOIN tag t"):
		return f.selectTags(args)

	case strings.Contains(sql, "JOIN tag_attr ta"):
		return f.selectAttrs(args)

	default:
		return nil, errors.New(errors.ETracInternal, "metadatatest: unrecognized query: %s", sql)
	}
}

func (f *Fake) selectDefinitions(args []any) (pgx.Rows, error) {
	stage, tenantID := args[0].(int64), args[1].(int64)
	type item struct {
		ordering int
		cols     []any
	}
	var items []item
	for _, m := range f.mappings {
		if m.stage != stage || m.matchedVersion == nil {
			continue
		}
		for _, d := range f.definitions {
			if d.tenantID == tenantID && d.objectID == m.objectID && d.version == *m.matchedVersion {
				foundType := 0
				if m.foundType != nil {
					foundType = *m.foundType
				}
				items = append(items, item{m.ordering, []any{
					m.ordering, d.objectID, d.version, d.timestamp, d.isLatest, foundType, d.definition,
				}})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ordering < items[j].ordering })
	cols := make([][]any, len(items))
	for i, it := range items {
		cols[i] = it.cols
	}
	return &memRows{cols: cols}, nil
}

func (f *Fake) selectTags(args []any) (pgx.Rows, error) {
	stage, tenantID := args[0].(int64), args[1].(int64)
	type item struct {
		ordering int
		cols     []any
	}
	var items []item
	for _, m := range f.mappings {
		if m.stage != stage || m.matchedVersion == nil || m.matchedTag == nil {
			continue
		}
		for _, t := range f.tags {
			if t.tenantID == tenantID && t.objectID == m.objectID && t.version == *m.matchedVersion && t.tagVer == *m.matchedTag {
				items = append(items, item{m.ordering, []any{m.ordering, t.tagVer, t.timestamp, t.isLatest}})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ordering < items[j].ordering })
	cols := make([][]any, len(items))
	for i, it := range items {
		cols[i] = it.cols
	}
	return &memRows{cols: cols}, nil
}

func (f *Fake) selectAttrs(args []any) (pgx.Rows, error) {
	stage, tenantID := args[0].(int64), args[1].(int64)
	type item struct {
		ordering, index int
		name            string
		cols            []any
	}
	var items []item
	for _, m := range f.mappings {
		if m.stage != stage || m.matchedVersion == nil || m.matchedTag == nil {
			continue
		}
		for _, a := range f.attrs {
			if a.tenantID == tenantID && a.objectID == m.objectID && a.version == *m.matchedVersion && a.tagVer == *m.matchedTag {
				items = append(items, item{m.ordering, a.index, a.name, []any{m.ordering, a.name, a.index, a.value}})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ordering != items[j].ordering {
			return items[i].ordering < items[j].ordering
		}
		if items[i].name != items[j].name {
			return items[i].name < items[j].name
		}
		return items[i].index < items[j].index
	})
	cols := make([][]any, len(items))
	for i, it := range items {
		cols[i] = it.cols
	}
	return &memRows{cols: cols}, nil
}

// fakeBatchResults replays a pgx.Batch's queued statements against the
// fake, one Exec() call per queued item, in order.
type fakeBatchResults struct {
	fake  *Fake
	items []batchItem
	pos   int
}

type batchItem struct {
	sql  string
	args []any
}

func batchItems(b *pgx.Batch) []batchItem {
	items := make([]batchItem, 0, len(b.QueuedQueries))
	for _, q := range b.QueuedQueries {
		items = append(items, batchItem{sql: q.SQL, args: q.Arguments})
	}
	return items
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if r.pos >= len(r.items) {
		return pgconn.CommandTag{}, errors.New(errors.ETracInternal, "metadatatest: no more batch items")
	}
	item := r.items[r.pos]
	r.pos++
	return r.fake.Exec(context.Background(), item.sql, item.args...)
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) {
	if r.pos >= len(r.items) {
		return nil, errors.New(errors.ETracInternal, "metadatatest: no more batch items")
	}
	item := r.items[r.pos]
	r.pos++
	return r.fake.Query(context.Background(), item.sql, item.args...)
}

func (r *fakeBatchResults) QueryRow() pgx.Row {
	rows, err := r.Query()
	if err != nil {
		return errRow{err}
	}
	return rowsAsRow{rows.(*memRows)}
}

func (r *fakeBatchResults) Close() error { return nil }
