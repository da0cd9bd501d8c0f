package jsoncodec_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/codec/jsoncodec"
	"github.com/tracdap/trac-core/internal/types"
)

func abSchema() *types.SchemaDefinition {
	return &types.SchemaDefinition{Fields: []types.FieldDefinition{
		{Name: "a", Type: types.TypeInteger},
		{Name: "b", Type: types.TypeString},
	}}
}

// TestJSONMidRecordChunkBoundary is §8 scenario 2 verbatim: the input is
// split mid-record across two Feed calls, and the decoder must still
// emit exactly one batch of two rows with no spurious extra batch.
func TestJSONMidRecordChunkBoundary(t *testing.T) {
	schema := abSchema()
	dec := jsoncodec.NewDecoder(schema)
	consumer := codec.NewConsumer(schema, dec, 1024, nil)

	consumer.Feed([]byte(`[{"a":1,"b":"xy`))
	batch, needMore, err := consumer.Poll()
	require.NoError(t, err)
	require.Nil(t, batch)
	require.True(t, needMore)

	consumer.Feed([]byte(`"},{"a":2,"b":"z"}]`))

	// The closing ']' terminates the batch within this single Poll call
	// (Consumer drives the decoder internally until a row completes a
	// batch or the array closes); no further Poll is needed or valid
	// once the array's closing bracket has been consumed.
	batch, needMore, err = consumer.Poll()
	require.NoError(t, err)
	require.False(t, needMore)
	require.NotNil(t, batch)

	var rows [][2]codec.Cell
	for r := 0; r < batch.RowCount; r++ {
		rows = append(rows, [2]codec.Cell{
			{Valid: batch.Columns[0].Valid[r], Value: batch.Columns[0].Values[r]},
			{Valid: batch.Columns[1].Valid[r], Value: batch.Columns[1].Values[r]},
		})
	}

	require.Len(t, rows, 2, "exactly one batch of two rows, no extra batch")
	require.EqualValues(t, 1, rows[0][0].Value.Int)
	require.Equal(t, "xy", rows[0][1].Value.Str)
	require.EqualValues(t, 2, rows[1][0].Value.Int)
	require.Equal(t, "z", rows[1][1].Value.Str)
}

// TestJSONNullField covers §4.2's "null encodes as literal null" rule on
// decode, distinguishing it from a present empty string.
func TestJSONNullField(t *testing.T) {
	schema := abSchema()
	dec := jsoncodec.NewDecoder(schema)
	consumer := codec.NewConsumer(schema, dec, 1024, nil)
	consumer.Feed([]byte(`[{"a":1,"b":null},{"a":2,"b":""}]`))

	batch, _, err := consumer.Poll()
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Equal(t, 2, batch.RowCount)
	require.False(t, batch.Columns[1].Valid[0])
	require.True(t, batch.Columns[1].Valid[1])
	require.Equal(t, "", batch.Columns[1].Values[1].Str)
}

// TestJSONSchemaInference exercises decoding without a pre-declared
// schema, per §4.2's "JSON ... can decode with or without a priori
// schema": field order and basic types are taken from the first object.
func TestJSONSchemaInference(t *testing.T) {
	dec := jsoncodec.NewDecoder(nil)
	consumer := codec.NewConsumer(nil, dec, 1024, nil)
	consumer.Feed([]byte(`[{"x":1,"y":2.5,"z":"hi"},{"x":2,"y":3.5,"z":"lo"}]`))

	batch, _, err := consumer.Poll()
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.NotNil(t, consumer.Schema())
	require.Len(t, consumer.Schema().Fields, 3)
	require.Equal(t, types.TypeInteger, consumer.Schema().Fields[0].Type)
	require.Equal(t, types.TypeFloat, consumer.Schema().Fields[1].Type)
	require.Equal(t, types.TypeString, consumer.Schema().Fields[2].Type)
}

// TestJSONEncodeRoundTrip covers the encode path: an outer array of
// objects, per-row field order matching the schema, empty array
// encoding as "[]".
func TestJSONEncodeRoundTrip(t *testing.T) {
	schema := abSchema()
	batch := codec.NewBatch(schema, 2)
	require.NoError(t, batch.AppendRow([]codec.Cell{
		{Valid: true, Value: types.IntValue(1)},
		{Valid: true, Value: types.StringValue("xy")},
	}))
	require.NoError(t, batch.AppendRow([]codec.Cell{
		{Valid: true, Value: types.IntValue(2)},
		{Valid: false},
	}))
	require.NoError(t, batch.BatchReady(nil))

	var buf bytes.Buffer
	enc := jsoncodec.NewEncoder()
	require.NoError(t, enc.WriteBatch(&buf, batch))
	require.NoError(t, enc.Close(&buf))

	require.Equal(t, `[{"a":1,"b":"xy"},{"a":2,"b":null}]`, buf.String())
}

// TestJSONEncodeEmptyBatch covers the boundary behaviour of an array
// with zero rows ever written.
func TestJSONEncodeEmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	enc := jsoncodec.NewEncoder()
	require.NoError(t, enc.Close(&buf))
	require.Equal(t, "[]", buf.String())
}
