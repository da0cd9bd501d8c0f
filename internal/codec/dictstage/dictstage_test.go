package dictstage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/codec/dictstage"
	"github.com/tracdap/trac-core/internal/errors"
)

func TestDynamicDictionaryGrowsAndDeduplicates(t *testing.T) {
	d := dictstage.NewDynamic()

	i0, err := d.Resolve("red")
	require.NoError(t, err)
	require.EqualValues(t, 0, i0)

	i1, err := d.Resolve("blue")
	require.NoError(t, err)
	require.EqualValues(t, 1, i1)

	again, err := d.Resolve("red")
	require.NoError(t, err)
	require.Equal(t, i0, again, "repeated value must resolve to the same index")

	require.Equal(t, []string{"red", "blue"}, d.Values())
}

func TestFixedDictionaryRejectsUnknownValue(t *testing.T) {
	d := dictstage.NewFixed([]string{"red", "blue"})

	i, err := d.Resolve("blue")
	require.NoError(t, err)
	require.EqualValues(t, 1, i)

	_, err = d.Resolve("green")
	require.Error(t, err)
	require.Equal(t, errors.EDataConstraint, errors.KindOf(err))
}

func TestFixedDictionaryPreservesInitialOrder(t *testing.T) {
	d := dictstage.NewFixed([]string{"c", "a", "b"})
	require.Equal(t, []string{"c", "a", "b"}, d.Values())

	i, err := d.Resolve("a")
	require.NoError(t, err)
	require.EqualValues(t, 1, i)
}
