package dataplane_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/dataplane"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// TestApplyTagUpdatesCreate covers CREATE: succeeds against a fresh
// attribute, fails if the attribute already exists.
func TestApplyTagUpdatesCreate(t *testing.T) {
	tag := &types.Tag{}
	err := dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpCreate, AttrName: "owner", Value: types.StringValue("alice")},
	})
	require.NoError(t, err)
	v, ok := tag.Attr("owner")
	require.True(t, ok)
	require.Equal(t, "alice", v.Str)

	err = dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpCreate, AttrName: "owner", Value: types.StringValue("bob")},
	})
	require.Error(t, err)
	require.Equal(t, errors.EDuplicateItem, errors.KindOf(err))
}

// TestApplyTagUpdatesReplace covers REPLACE: fails against a missing
// attribute, succeeds and overwrites an existing one.
func TestApplyTagUpdatesReplace(t *testing.T) {
	tag := &types.Tag{}
	err := dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpReplace, AttrName: "owner", Value: types.StringValue("alice")},
	})
	require.Error(t, err)
	require.Equal(t, errors.EMissingItem, errors.KindOf(err))

	tag.SetAttr("owner", types.StringValue("alice"))
	require.NoError(t, dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpReplace, AttrName: "owner", Value: types.StringValue("bob")},
	}))
	v, _ := tag.Attr("owner")
	require.Equal(t, "bob", v.Str)
}

// TestApplyTagUpdatesDelete covers DELETE: fails against a missing
// attribute, removes an existing one (including from AttrOrder).
func TestApplyTagUpdatesDelete(t *testing.T) {
	tag := &types.Tag{}
	tag.SetAttr("owner", types.StringValue("alice"))

	err := dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpDelete, AttrName: "missing"},
	})
	require.Error(t, err)
	require.Equal(t, errors.EMissingItem, errors.KindOf(err))

	require.NoError(t, dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpDelete, AttrName: "owner"},
	}))
	_, ok := tag.Attr("owner")
	require.False(t, ok)
	require.NotContains(t, tag.AttrOrder, "owner")
}

// TestApplyTagUpdatesCreateOrReplace covers the idempotent upsert
// operation: works whether or not the attribute already exists.
func TestApplyTagUpdatesCreateOrReplace(t *testing.T) {
	tag := &types.Tag{}
	require.NoError(t, dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpCreateOrReplace, AttrName: "owner", Value: types.StringValue("alice")},
	}))
	require.NoError(t, dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpCreateOrReplace, AttrName: "owner", Value: types.StringValue("bob")},
	}))
	v, _ := tag.Attr("owner")
	require.Equal(t, "bob", v.Str)
}

// TestApplyTagUpdatesAppend covers APPEND: fails against a missing
// attribute, fails against a non-array attribute, and extends an
// existing array attribute otherwise.
func TestApplyTagUpdatesAppend(t *testing.T) {
	tag := &types.Tag{}

	err := dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpAppend, AttrName: "tags", Value: types.StringValue("x")},
	})
	require.Error(t, err)
	require.Equal(t, errors.EMissingItem, errors.KindOf(err))

	tag.SetAttr("owner", types.StringValue("alice"))
	err = dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpAppend, AttrName: "owner", Value: types.StringValue("x")},
	})
	require.Error(t, err)
	require.Equal(t, errors.EWrongItemType, errors.KindOf(err))

	arr, ok := types.ArrayValue([]types.Value{types.StringValue("a")})
	require.True(t, ok)
	tag.SetAttr("tags", arr)
	require.NoError(t, dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpAppend, AttrName: "tags", Value: types.StringValue("b")},
	}))
	v, _ := tag.Attr("tags")
	require.Len(t, v.Items, 2)
	require.Equal(t, "a", v.Items[0].Str)
	require.Equal(t, "b", v.Items[1].Str)
}

// TestApplyTagUpdatesAppendRejectsMixedType covers invariant 6: an
// appended value whose type does not match the array's element type is
// rejected rather than silently coerced.
func TestApplyTagUpdatesAppendRejectsMixedType(t *testing.T) {
	tag := &types.Tag{}
	arr, ok := types.ArrayValue([]types.Value{types.StringValue("a")})
	require.True(t, ok)
	tag.SetAttr("tags", arr)

	err := dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpAppend, AttrName: "tags", Value: types.IntValue(1)},
	})
	require.Error(t, err)
	require.Equal(t, errors.EWrongItemType, errors.KindOf(err))
}

// TestApplyTagUpdatesCreateOrAppend covers the upsert-array operation:
// starts a new one-element array when absent, appends otherwise.
func TestApplyTagUpdatesCreateOrAppend(t *testing.T) {
	tag := &types.Tag{}
	require.NoError(t, dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpCreateOrAppend, AttrName: "tags", Value: types.StringValue("a")},
	}))
	v, _ := tag.Attr("tags")
	require.True(t, v.Array)
	require.Len(t, v.Items, 1)

	require.NoError(t, dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpCreateOrAppend, AttrName: "tags", Value: types.StringValue("b")},
	}))
	v, _ = tag.Attr("tags")
	require.Len(t, v.Items, 2)
}

// TestApplyTagUpdatesRejectsReservedPrefix covers the reserved-attribute
// guard: any update naming a trac_-prefixed attribute rejects the whole
// batch before applying any of it, even when it is preceded by
// otherwise-valid updates.
func TestApplyTagUpdatesRejectsReservedPrefix(t *testing.T) {
	tag := &types.Tag{}
	err := dataplane.ApplyTagUpdates(tag, []types.TagUpdate{
		{Op: types.OpCreate, AttrName: "owner", Value: types.StringValue("alice")},
		{Op: types.OpCreateOrReplace, AttrName: types.AttrCreateUser, Value: types.StringValue("eve")},
	})
	require.Error(t, err)
	require.Equal(t, errors.EInputValidation, errors.KindOf(err))

	_, ok := tag.Attr("owner")
	require.False(t, ok, "no update from the batch should apply once any one of them is rejected")
}
