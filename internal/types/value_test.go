package types_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tracdap/trac-core/internal/types"
)

func roundTrip(t *testing.T, v types.Value) types.Value {
	t.Helper()
	data, err := msgpack.Marshal(&v)
	require.NoError(t, err)
	var out types.Value
	require.NoError(t, msgpack.Unmarshal(data, &out))
	return out
}

func TestValueMsgpackRoundTripScalars(t *testing.T) {
	require.Equal(t, types.BoolValue(true), roundTrip(t, types.BoolValue(true)))
	require.Equal(t, types.IntValue(42), roundTrip(t, types.IntValue(42)))
	require.Equal(t, types.StringValue("hello"), roundTrip(t, types.StringValue("hello")))
}

func TestValueMsgpackRoundTripDecimalPreservesPrecision(t *testing.T) {
	dec := types.DecimalValue(big.NewRat(12345, 100))
	out := roundTrip(t, dec)
	require.Equal(t, 0, dec.Decimal.Cmp(out.Decimal), "decimal precision must survive the wire round trip")
}

func TestValueMsgpackRoundTripDateAndDatetime(t *testing.T) {
	when := time.Date(2026, time.March, 5, 9, 30, 0, 0, time.UTC)

	date := types.DateValue(when)
	out := roundTrip(t, date)
	require.True(t, when.Equal(out.Date))

	datetime := types.DatetimeValue(when)
	out = roundTrip(t, datetime)
	require.True(t, when.Equal(out.Datetime))
}

func TestValueMsgpackRoundTripArray(t *testing.T) {
	arr, ok := types.ArrayValue([]types.Value{types.IntValue(1), types.IntValue(2), types.IntValue(3)})
	require.True(t, ok)

	out := roundTrip(t, arr)
	require.True(t, out.Array)
	require.Equal(t, arr.Items, out.Items)
}

func TestValueMsgpackRoundTripEmptyArray(t *testing.T) {
	arr, ok := types.ArrayValue(nil)
	require.True(t, ok)
	out := roundTrip(t, arr)
	require.True(t, out.Array)
	require.Empty(t, out.Items)
}
