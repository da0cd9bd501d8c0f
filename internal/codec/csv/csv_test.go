package csv_test

import (
	"bytes"
	"io"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/codec/csv"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

func amountSchema() *types.SchemaDefinition {
	return &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "id", Type: types.TypeInteger, NotNull: true},
		{Name: "amount", Type: types.TypeDecimal, NotNull: true},
	}}
}

// decodeAll feeds the whole input in one shot, calls Close (as the
// stream-adapter layer does once its upstream channel is exhausted),
// and collects every row across however many batches result.
func decodeAll(t *testing.T, schema *types.SchemaDefinition, opts codec.Options, input string) []codec.Cell {
	t.Helper()
	dec := csv.NewDecoder(schema, opts)
	dec.Feed([]byte(input))
	dec.Close()
	consumer := codec.NewConsumer(schema, dec, opts.BatchSize, nil)

	var rows []codec.Cell
	for {
		batch, needMore, err := consumer.Poll()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if needMore {
			t.Fatalf("decoder asked for more input after Close with full input already fed")
		}
		if batch == nil {
			continue
		}
		for r := 0; r < batch.RowCount; r++ {
			for _, col := range batch.Columns {
				rows = append(rows, codec.Cell{Valid: col.Valid[r], Value: col.Values[r]})
			}
		}
	}
	return rows
}

// TestSmallCSVCreateAndRead exercises §8 scenario 1 directly: the two
// declared rows round-trip with their decimal amounts intact.
func TestSmallCSVCreateAndRead(t *testing.T) {
	schema := amountSchema()
	rows := decodeAll(t, schema, codec.DefaultOptions(), "id,amount\n1,10.50\n2,20.00\n")

	require.Len(t, rows, 4)
	require.EqualValues(t, 1, rows[0].Value.Int)
	require.Equal(t, 0, rows[1].Value.Decimal.Cmp(big.NewRat(1050, 100)))
	require.EqualValues(t, 2, rows[2].Value.Int)
	require.Equal(t, 0, rows[3].Value.Decimal.Cmp(big.NewRat(2000, 100)))
}

// TestCSVWithoutTrailingNewline is the common real-world shape: a file
// whose last row has no trailing newline must still decode, not be
// mistaken for a truncated mid-record stream.
func TestCSVWithoutTrailingNewline(t *testing.T) {
	schema := amountSchema()
	rows := decodeAll(t, schema, codec.DefaultOptions(), "id,amount\n1,10.50\n2,20.00")

	require.Len(t, rows, 4)
	require.EqualValues(t, 2, rows[2].Value.Int)
}

// TestCSVNullVsEmptyString distinguishes a zero-width unquoted field
// (null) from a quoted empty string, per §4.2 value handling.
func TestCSVNullVsEmptyString(t *testing.T) {
	schema := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "id", Type: types.TypeInteger, NotNull: true},
		{Name: "label", Type: types.TypeString},
	}}
	rows := decodeAll(t, schema, codec.DefaultOptions(), "id,label\n1,\n2,\"\"\n")

	require.Len(t, rows, 4)
	require.False(t, rows[1].Valid, "bare empty field must decode as null")
	require.True(t, rows[3].Valid, "quoted empty field must decode as empty string, not null")
	require.Equal(t, "", rows[3].Value.Str)
}

// TestCSVMissingNotNullColumn covers §8 scenario 4: a declared
// not-null field absent from a row is a data-constraint error.
func TestCSVMissingNotNullColumn(t *testing.T) {
	schema := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "id", Type: types.TypeInteger, NotNull: true},
		{Name: "amount", Type: types.TypeDecimal, NotNull: true},
	}}
	dec := csv.NewDecoder(schema, codec.DefaultOptions())
	dec.Feed([]byte("id,amount\n1,\n"))
	dec.Close()
	consumer := codec.NewConsumer(schema, dec, 1024, nil)

	_, _, err := consumer.Poll()
	require.Error(t, err)
	require.Equal(t, errors.EDataConstraint, errors.KindOf(err))
}

// TestCSVLenientDateParsing exercises the REDESIGN FLAG resolution: the
// Lenient option widens accepted date/datetime literals without
// changing any other behaviour, per codec.Options.
func TestCSVLenientDateParsing(t *testing.T) {
	schema := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "ts", Type: types.TypeDatetime},
	}}
	strict := codec.DefaultOptions()
	lenient := codec.Options{BatchSize: 1024, Lenient: true}

	dec := csv.NewDecoder(schema, strict)
	dec.Feed([]byte("ts\n2024-01-02 03:04:05\n"))
	dec.Close()
	consumer := codec.NewConsumer(schema, dec, 1024, nil)
	_, _, err := consumer.Poll()
	require.Error(t, err, "space-separated datetime should be rejected in strict mode")

	rows := decodeAll(t, schema, lenient, "ts\n2024-01-02 03:04:05\n")
	require.Len(t, rows, 1)
	require.True(t, rows[0].Valid)
}

// TestCSVBooleanAndFloatLiterals covers §4.2's accepted literal forms.
func TestCSVBooleanAndFloatLiterals(t *testing.T) {
	schema := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "flag", Type: types.TypeBoolean},
		{Name: "value", Type: types.TypeFloat},
	}}
	rows := decodeAll(t, schema, codec.DefaultOptions(),
		"flag,value\ntrue,nan\n0,inf\n1,-inf\nFALSE,3.5\n")

	require.Len(t, rows, 8)
	require.True(t, rows[0].Value.Bool)
	require.True(t, rows[1].Value.Float != rows[1].Value.Float, "nan")
	require.False(t, rows[2].Value.Bool)
	require.True(t, rows[3].Value.Float > 0 && rows[3].Value.Float*2 == rows[3].Value.Float, "+inf")
	require.True(t, rows[5].Value.Float < 0 && rows[5].Value.Float*2 == rows[5].Value.Float, "-inf")
	require.False(t, rows[6].Value.Bool)
}

// TestCSVEncodeQuotesEmptyStrings verifies ALWAYS_QUOTE_EMPTY_STRINGS:
// an empty string must round-trip distinctly from null.
func TestCSVEncodeQuotesEmptyStrings(t *testing.T) {
	schema := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "label", Type: types.TypeString},
	}}
	batch := codec.NewBatch(schema, 2)
	require.NoError(t, batch.AppendRow([]codec.Cell{{Valid: true, Value: types.StringValue("")}}))
	require.NoError(t, batch.AppendRow([]codec.Cell{{Valid: false}}))
	require.NoError(t, batch.BatchReady(nil))

	var buf bytes.Buffer
	enc := csv.NewEncoder(&buf)
	require.NoError(t, enc.WriteBatch(batch))

	require.Equal(t, "label\n\"\"\n\n", buf.String())
}

// TestCSVHeaderWidthMismatch surfaces a corrupt-data error when the
// header's column count does not match the declared schema.
func TestCSVHeaderWidthMismatch(t *testing.T) {
	schema := amountSchema()
	dec := csv.NewDecoder(schema, codec.DefaultOptions())
	dec.Feed([]byte("id\n1\n"))
	dec.Close()

	_, err := dec.Next()
	require.Error(t, err)
	require.Equal(t, errors.EDataCorruption, errors.KindOf(err))
}
