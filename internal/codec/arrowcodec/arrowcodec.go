// Package arrowcodec implements the Arrow IPC stream codec named in
// §4.2: a schema message, one RecordBatch message per Batch, then
// end-of-stream. Unlike the CSV and JSON codecs, Arrow IPC's own
// message framing already gives batch boundaries, so this package
// drives apache/arrow/go/v18's ipc.Writer/ipc.Reader directly instead
// of going through the shared codec.Consumer state machine — the one
// intentional asymmetry called out in SPEC_FULL.md §4.2.1.
package arrowcodec

import (
	"io"
	"math/big"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/decimal128"
	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/apache/arrow/go/v18/arrow/memory"

	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

const decimalScale = 12

// ToArrowSchema maps a TRAC SchemaDefinition to an arrow.Schema per the
// §4.2 schema mapping table.
func ToArrowSchema(schema *types.SchemaDefinition) *arrow.Schema {
	fields := make([]arrow.Field, len(schema.Fields))
	for i, f := range schema.Fields {
		fields[i] = arrow.Field{Name: f.Name, Type: arrowType(f), Nullable: !f.NotNull}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(f types.FieldDefinition) arrow.DataType {
	if f.Categorical {
		return &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.BinaryTypes.String}
	}
	switch f.Type {
	case types.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case types.TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case types.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case types.TypeDecimal:
		return &arrow.Decimal128Type{Precision: 38, Scale: decimalScale}
	case types.TypeString:
		return arrow.BinaryTypes.String
	case types.TypeDate:
		return arrow.FixedWidthTypes.Date32
	case types.TypeDatetime:
		return arrow.FixedWidthTypes.Timestamp_us
	default:
		return arrow.BinaryTypes.String
	}
}

// Encoder writes codec.Batches as an Arrow IPC stream: schema message
// first (written lazily on the first WriteBatch), then one RecordBatch
// message per Batch.
type Encoder struct {
	alloc  memory.Allocator
	schema *arrow.Schema
	writer *ipc.Writer
	out    io.Writer
}

// NewEncoder constructs an Arrow IPC encoder writing to out.
func NewEncoder(out io.Writer) *Encoder {
	return &Encoder{alloc: memory.NewGoAllocator(), out: out}
}

// WriteBatch encodes one Batch as a RecordBatch message, opening the
// stream (schema message) on first use.
func (e *Encoder) WriteBatch(b *codec.Batch) error {
	if e.writer == nil {
		e.schema = ToArrowSchema(b.Schema)
		e.writer = ipc.NewWriter(e.out, ipc.WithSchema(e.schema), ipc.WithAllocator(e.alloc))
	}
	rec, err := toArrowRecord(e.alloc, e.schema, b)
	if err != nil {
		return err
	}
	defer rec.Release()
	if err := e.writer.Write(rec); err != nil {
		return errors.Wrap(errors.EStorageIO, err, "writing arrow record batch")
	}
	return nil
}

// Close terminates the Arrow IPC stream (end-of-stream footer).
func (e *Encoder) Close() error {
	if e.writer == nil {
		return nil
	}
	return e.writer.Close()
}

func toArrowRecord(alloc memory.Allocator, schema *arrow.Schema, b *codec.Batch) (arrow.Record, error) {
	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()

	for i, col := range b.Columns {
		fb := builder.Field(i)
		if col.Field.Categorical {
			dbuilder := fb.(*array.BinaryDictionaryBuilder)
			for row := 0; row < b.RowCount; row++ {
				if !col.Valid[row] {
					dbuilder.AppendNull()
					continue
				}
				if err := dbuilder.AppendString(col.Dictionary[col.DictIndex[row]]); err != nil {
					return nil, errors.Wrap(errors.EUnexpected, err, "appending dictionary value")
				}
			}
			continue
		}
		if err := appendScalarColumn(fb, col, b.RowCount); err != nil {
			return nil, err
		}
	}

	return builder.NewRecord(), nil
}

func appendScalarColumn(fb array.Builder, col codec.Column, rowCount int) error {
	switch b := fb.(type) {
	case *array.BooleanBuilder:
		for row := 0; row < rowCount; row++ {
			if !col.Valid[row] {
				b.AppendNull()
				continue
			}
			b.Append(col.Values[row].Bool)
		}
	case *array.Int64Builder:
		for row := 0; row < rowCount; row++ {
			if !col.Valid[row] {
				b.AppendNull()
				continue
			}
			b.Append(col.Values[row].Int)
		}
	case *array.Float64Builder:
		for row := 0; row < rowCount; row++ {
			if !col.Valid[row] {
				b.AppendNull()
				continue
			}
			b.Append(col.Values[row].Float)
		}
	case *array.StringBuilder:
		for row := 0; row < rowCount; row++ {
			if !col.Valid[row] {
				b.AppendNull()
				continue
			}
			b.Append(col.Values[row].Str)
		}
	case *array.Date32Builder:
		for row := 0; row < rowCount; row++ {
			if !col.Valid[row] {
				b.AppendNull()
				continue
			}
			b.Append(arrow.Date32FromTime(col.Values[row].Date))
		}
	case *array.TimestampBuilder:
		for row := 0; row < rowCount; row++ {
			if !col.Valid[row] {
				b.AppendNull()
				continue
			}
			ts, err := arrow.TimestampFromTime(col.Values[row].Datetime, arrow.Microsecond)
			if err != nil {
				return errors.Wrap(errors.EDataCorruption, err, "converting timestamp")
			}
			b.Append(ts)
		}
	case *array.Decimal128Builder:
		for row := 0; row < rowCount; row++ {
			if !col.Valid[row] {
				b.AppendNull()
				continue
			}
			num, err := decimalToArrow(col.Values[row].Decimal)
			if err != nil {
				return err
			}
			b.Append(num)
		}
	default:
		return errors.New(errors.EUnexpected, "arrowcodec: unhandled builder type %T", fb)
	}
	return nil
}

func decimalToArrow(r *big.Rat) (decimal128.Num, error) {
	scaled := new(big.Int).Mul(r.Num(), big.NewInt(pow10(decimalScale)))
	scaled.Quo(scaled, r.Denom())
	return decimal128.FromBigInt(scaled), nil
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// Decoder reads an Arrow IPC stream and emits codec.Batches, one per
// RecordBatch message. It implements a batch source directly (not
// codec.RecordDecoder) since ipc.Reader already tracks message
// boundaries and incremental Arrow IPC decoding is driven by feeding
// the reader a io.Reader rather than discrete byte chunks.
type Decoder struct {
	reader *ipc.Reader
	schema *types.SchemaDefinition
	dicts  map[string]*codec.Dictionary
}

// NewDecoder constructs an Arrow IPC decoder reading from r. declared
// may be nil to infer the schema from the stream's own schema message.
func NewDecoder(r io.Reader, declared *types.SchemaDefinition) (*Decoder, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, errors.Wrap(errors.EDataCorruption, err, "opening arrow ipc stream")
	}
	schema := declared
	if schema == nil {
		schema = FromArrowSchema(reader.Schema())
	}
	return &Decoder{reader: reader, schema: schema, dicts: make(map[string]*codec.Dictionary)}, nil
}

// FromArrowSchema maps an arrow.Schema back to a TRAC SchemaDefinition,
// used when a dataset is read without an a priori declared schema.
func FromArrowSchema(schema *arrow.Schema) *types.SchemaDefinition {
	fields := make([]types.FieldDefinition, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		f := schema.Field(i)
		fields[i] = types.FieldDefinition{Name: f.Name, Type: fromArrowType(f.Type), NotNull: !f.Nullable, FieldOrder: i}
		if _, ok := f.Type.(*arrow.DictionaryType); ok {
			fields[i].Categorical = true
			fields[i].Type = types.TypeString
		}
	}
	return &types.SchemaDefinition{Fields: fields}
}

func fromArrowType(t arrow.DataType) types.BasicType {
	switch t.ID() {
	case arrow.BOOL:
		return types.TypeBoolean
	case arrow.INT64:
		return types.TypeInteger
	case arrow.FLOAT64:
		return types.TypeFloat
	case arrow.DECIMAL128:
		return types.TypeDecimal
	case arrow.STRING:
		return types.TypeString
	case arrow.DATE32:
		return types.TypeDate
	case arrow.TIMESTAMP:
		return types.TypeDatetime
	default:
		return types.TypeString
	}
}

// Next reads the next RecordBatch message and converts it to a
// codec.Batch, returning io.EOF once the stream is exhausted.
func (d *Decoder) Next() (*codec.Batch, error) {
	if !d.reader.Next() {
		if err := d.reader.Err(); err != nil && err != io.EOF {
			return nil, errors.Wrap(errors.EDataCorruption, err, "reading arrow record batch")
		}
		return nil, io.EOF
	}
	rec := d.reader.Record()
	return fromArrowRecord(d.schema, rec)
}

func fromArrowRecord(schema *types.SchemaDefinition, rec arrow.Record) (*codec.Batch, error) {
	rows := int(rec.NumRows())
	batch := codec.NewBatch(schema, rows)
	for i, f := range schema.Fields {
		col := rec.Column(i)
		for row := 0; row < rows; row++ {
			cell, err := cellFromArrow(col, row, f)
			if err != nil {
				return nil, err
			}
			batch.Columns[i].Valid = append(batch.Columns[i].Valid, cell.Valid)
			if cell.Valid {
				batch.Columns[i].Values = append(batch.Columns[i].Values, cell.Value)
			} else {
				batch.Columns[i].Values = append(batch.Columns[i].Values, types.Value{})
			}
			if f.Categorical {
				batch.Columns[i].DictValues = append(batch.Columns[i].DictValues, cell.RawString)
			}
		}
	}
	batch.RowCount = rows
	return batch, nil
}

func cellFromArrow(col arrow.Array, row int, f types.FieldDefinition) (codec.Cell, error) {
	if col.IsNull(row) {
		return codec.Cell{Valid: false}, nil
	}
	if f.Categorical {
		dc, ok := col.(*array.Dictionary)
		if !ok {
			return codec.Cell{}, errors.New(errors.EUnexpected, "field %s: expected dictionary array", f.Name)
		}
		s := dc.Dictionary().(*array.String).Value(dc.GetValueIndex(row))
		return codec.Cell{Valid: true, Value: types.StringValue(s), RawString: s}, nil
	}
	switch a := col.(type) {
	case *array.Boolean:
		return codec.Cell{Valid: true, Value: types.BoolValue(a.Value(row))}, nil
	case *array.Int64:
		return codec.Cell{Valid: true, Value: types.IntValue(a.Value(row))}, nil
	case *array.Float64:
		return codec.Cell{Valid: true, Value: types.FloatValue(a.Value(row))}, nil
	case *array.String:
		return codec.Cell{Valid: true, Value: types.StringValue(a.Value(row))}, nil
	case *array.Date32:
		return codec.Cell{Valid: true, Value: types.DateValue(a.Value(row).ToTime())}, nil
	case *array.Timestamp:
		t, err := a.Value(row).ToTime(arrow.Microsecond)
		if err != nil {
			return codec.Cell{}, errors.Wrap(errors.EDataCorruption, err, "field %s: converting timestamp", f.Name)
		}
		return codec.Cell{Valid: true, Value: types.DatetimeValue(t)}, nil
	case *array.Decimal128:
		r := decimalFromArrow(a.Value(row))
		return codec.Cell{Valid: true, Value: types.DecimalValue(r)}, nil
	default:
		return codec.Cell{}, errors.New(errors.EUnexpected, "field %s: unhandled arrow array type %T", f.Name, col)
	}
}

func decimalFromArrow(n decimal128.Num) *big.Rat {
	big128 := n.BigInt()
	return new(big.Rat).SetFrac(big128, big.NewInt(pow10(decimalScale)))
}
