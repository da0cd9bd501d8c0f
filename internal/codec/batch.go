// Package codec implements the schema-driven, streaming codec engine
// (§4.2): a shared in-memory Batch representation, the incremental
// batch-consumer state machine every row-oriented decoder (CSV, JSON)
// is built on top of, dictionary staging, and the field-reconciliation
// rules applied on write. The Arrow IPC codec lives in the arrowcodec
// subpackage since it is the one format with its own native, already
// incremental message framing (a RecordBatch message per batch) and so
// does not need the shared state machine.
package codec

import (
	"github.com/tracdap/trac-core/internal/codec/dictstage"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// Dictionary is re-exported so callers outside this package never need
// to import dictstage directly.
type Dictionary = dictstage.Dictionary

// Column is one vector of a Batch: a schema field's values plus a null
// bitmap (Valid[i] == false means the value at i is null; the
// corresponding Values[i] is the zero Value and must be ignored).
// Categorical columns additionally stage raw values in DictValues until
// BatchReady fills Dictionary and DictIndex at batch-ready time.
type Column struct {
	Field types.FieldDefinition
	Values []types.Value
	Valid  []bool

	// Populated only for Categorical fields.
	DictValues []string // raw staged values, one per row, parallel to Values
	Dictionary []string // finalized dictionary, extended or validated at batch-ready
	DictIndex  []int32  // finalized int index per row
}

// Batch is a bounded-row-count columnar record set: one Column per
// schema field, all of the same RowCount.
type Batch struct {
	Schema   *types.SchemaDefinition
	Columns  []Column
	RowCount int
}

// NewBatch allocates an empty Batch shaped by schema, ready to receive up
// to batchSize rows.
func NewBatch(schema *types.SchemaDefinition, batchSize int) *Batch {
	cols := make([]Column, len(schema.Fields))
	for i, f := range schema.Fields {
		cols[i] = Column{
			Field:  f,
			Values: make([]types.Value, 0, batchSize),
			Valid:  make([]bool, 0, batchSize),
		}
		if f.Categorical {
			cols[i].DictValues = make([]string, 0, batchSize)
		}
	}
	return &Batch{Schema: schema, Columns: cols}
}

// AppendRow appends one value per column, in schema field order. len(row)
// must equal len(b.Columns).
func (b *Batch) AppendRow(row []Cell) error {
	if len(row) != len(b.Columns) {
		return errors.New(errors.EUnexpected, "row width %d does not match schema width %d", len(row), len(b.Columns))
	}
	for i, cell := range row {
		col := &b.Columns[i]
		col.Valid = append(col.Valid, cell.Valid)
		if cell.Valid {
			col.Values = append(col.Values, cell.Value)
		} else {
			col.Values = append(col.Values, types.Value{})
		}
		if col.Field.Categorical {
			col.DictValues = append(col.DictValues, cell.RawString)
		}
	}
	b.RowCount++
	return nil
}

// Cell is one (possibly null) value destined for a Column, along with
// the original lexical form for categorical staging.
type Cell struct {
	Valid     bool
	Value     types.Value
	RawString string
}

// BatchReady finalizes a completed batch: dictionary staging columns are
// encoded into their final dictionary-indexed form (§4.2 dictionary
// staging), extending a dynamic dictionary or validating against a
// fixed one.
func (b *Batch) BatchReady(dicts map[string]*dictstage.Dictionary) error {
	for i := range b.Columns {
		col := &b.Columns[i]
		if !col.Field.Categorical {
			continue
		}
		dict := dicts[col.Field.Name]
		if dict == nil {
			dict = dictstage.NewDynamic()
			dicts[col.Field.Name] = dict
		}
		indices := make([]int32, len(col.DictValues))
		for j, raw := range col.DictValues {
			if !col.Valid[j] {
				indices[j] = -1
				continue
			}
			idx, err := dict.Resolve(raw)
			if err != nil {
				return err
			}
			indices[j] = idx
		}
		col.DictIndex = indices
		col.Dictionary = dict.Values()
	}
	return nil
}
