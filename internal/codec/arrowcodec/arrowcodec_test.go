package arrowcodec_test

import (
	"bytes"
	"io"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/codec/arrowcodec"
	"github.com/tracdap/trac-core/internal/types"
)

func mixedSchema() *types.SchemaDefinition {
	return &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "id", Type: types.TypeInteger, NotNull: true},
		{Name: "amount", Type: types.TypeDecimal},
		{Name: "label", Type: types.TypeString},
		{Name: "active", Type: types.TypeBoolean},
		{Name: "category", Type: types.TypeString, Categorical: true},
	}}
}

func encodeOneBatch(t *testing.T, schema *types.SchemaDefinition, rows [][]codec.Cell) []byte {
	t.Helper()
	batch := codec.NewBatch(schema, len(rows))
	for _, r := range rows {
		require.NoError(t, batch.AppendRow(r))
	}
	require.NoError(t, batch.BatchReady(make(map[string]*codec.Dictionary)))

	var buf bytes.Buffer
	enc := arrowcodec.NewEncoder(&buf)
	require.NoError(t, enc.WriteBatch(batch))
	require.NoError(t, enc.Close())
	return buf.Bytes()
}

// TestArrowRoundTrip covers §8's Arrow IPC round-trip identity: every
// scalar type, a null value, and a categorical column all come back
// exactly as written.
func TestArrowRoundTrip(t *testing.T) {
	schema := mixedSchema()
	rows := [][]codec.Cell{
		{
			{Valid: true, Value: types.IntValue(1)},
			{Valid: true, Value: types.DecimalValue(big.NewRat(1050, 100))},
			{Valid: true, Value: types.StringValue("first")},
			{Valid: true, Value: types.BoolValue(true)},
			{Valid: true, RawString: "red"},
		},
		{
			{Valid: true, Value: types.IntValue(2)},
			{Valid: false},
			{Valid: true, Value: types.StringValue("second")},
			{Valid: true, Value: types.BoolValue(false)},
			{Valid: true, RawString: "blue"},
		},
		{
			{Valid: true, Value: types.IntValue(3)},
			{Valid: true, Value: types.DecimalValue(big.NewRat(-250, 100))},
			{Valid: false},
			{Valid: true, Value: types.BoolValue(true)},
			{Valid: true, RawString: "red"},
		},
	}
	wire := encodeOneBatch(t, schema, rows)

	dec, err := arrowcodec.NewDecoder(bytes.NewReader(wire), schema)
	require.NoError(t, err)

	batch, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, 3, batch.RowCount)

	require.EqualValues(t, 1, batch.Columns[0].Values[0].Int)
	require.EqualValues(t, 2, batch.Columns[0].Values[1].Int)
	require.EqualValues(t, 3, batch.Columns[0].Values[2].Int)

	require.True(t, batch.Columns[1].Valid[0])
	require.Equal(t, 0, batch.Columns[1].Values[0].Decimal.Cmp(big.NewRat(1050, 100)))
	require.False(t, batch.Columns[1].Valid[1], "null decimal must round-trip as null")
	require.Equal(t, 0, batch.Columns[1].Values[2].Decimal.Cmp(big.NewRat(-250, 100)))

	require.Equal(t, "first", batch.Columns[2].Values[0].Str)
	require.False(t, batch.Columns[2].Valid[2], "null string must round-trip as null")

	require.True(t, batch.Columns[3].Values[0].Bool)
	require.False(t, batch.Columns[3].Values[1].Bool)

	require.Equal(t, "red", batch.Columns[4].Values[0].Str)
	require.Equal(t, "blue", batch.Columns[4].Values[1].Str)
	require.Equal(t, "red", batch.Columns[4].Values[2].Str)

	_, err = dec.Next()
	require.Equal(t, io.EOF, err)
}

// TestArrowDecimalPrecision verifies the fixed-point decimal128 encoding
// does not lose precision within its declared scale.
func TestArrowDecimalPrecision(t *testing.T) {
	schema := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "amount", Type: types.TypeDecimal, NotNull: true},
	}}
	rat := new(big.Rat)
	rat.SetString("123456789.123456789012")
	wire := encodeOneBatch(t, schema, [][]codec.Cell{
		{{Valid: true, Value: types.DecimalValue(rat)}},
	})

	dec, err := arrowcodec.NewDecoder(bytes.NewReader(wire), schema)
	require.NoError(t, err)
	batch, err := dec.Next()
	require.NoError(t, err)

	got := batch.Columns[0].Values[0].Decimal
	want := new(big.Rat)
	want.SetString("123456789.123456789012")
	// The codec's DECIMAL(38,12) fixed scale truncates past 12 digits, so
	// compare at that scale rather than exact equality.
	scale := new(big.Rat).SetFrac64(1, 1_000_000_000_000)
	diff := new(big.Rat).Sub(got, want)
	diff.Abs(diff)
	require.True(t, diff.Cmp(scale) < 0, "decimal value drifted beyond DECIMAL(38,12) precision: got %s want %s", got.FloatString(12), want.FloatString(12))
}

// TestArrowMultipleBatches verifies successive WriteBatch calls become
// successive RecordBatch messages, each returned in order by Next.
func TestArrowMultipleBatches(t *testing.T) {
	schema := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "id", Type: types.TypeInteger, NotNull: true},
	}}

	var buf bytes.Buffer
	enc := arrowcodec.NewEncoder(&buf)
	for _, v := range []int64{1, 2} {
		b := codec.NewBatch(schema, 1)
		require.NoError(t, b.AppendRow([]codec.Cell{{Valid: true, Value: types.IntValue(v)}}))
		require.NoError(t, b.BatchReady(nil))
		require.NoError(t, enc.WriteBatch(b))
	}
	require.NoError(t, enc.Close())

	dec, err := arrowcodec.NewDecoder(bytes.NewReader(buf.Bytes()), schema)
	require.NoError(t, err)

	b1, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, 1, b1.RowCount)
	require.EqualValues(t, 1, b1.Columns[0].Values[0].Int)

	b2, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, 1, b2.RowCount)
	require.EqualValues(t, 2, b2.Columns[0].Values[0].Int)

	_, err = dec.Next()
	require.Equal(t, io.EOF, err)
}

// TestFromArrowSchemaInfersCategorical covers decoding without a
// declared schema: a dictionary-encoded column must be inferred back as
// Categorical with a string BasicType.
func TestFromArrowSchemaInfersCategorical(t *testing.T) {
	schema := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "category", Type: types.TypeString, Categorical: true, NotNull: true},
	}}
	wire := encodeOneBatch(t, schema, [][]codec.Cell{
		{{Valid: true, RawString: "a"}},
		{{Valid: true, RawString: "b"}},
	})

	dec, err := arrowcodec.NewDecoder(bytes.NewReader(wire), nil)
	require.NoError(t, err)
	batch, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, "a", batch.Columns[0].Values[0].Str)
	require.Equal(t, "b", batch.Columns[0].Values[1].Str)
}
