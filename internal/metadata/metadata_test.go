package metadata_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/metadata"
	"github.com/tracdap/trac-core/internal/metadata/metadatatest"
	"github.com/tracdap/trac-core/internal/types"
)

func newTenant(t *testing.T) (*metadatatest.Fake, int64) {
	t.Helper()
	fake := metadatatest.NewFake()
	return fake, fake.AddTenant("ACME")
}

func latestSelector(objType types.ObjectType, id types.ObjectID) types.TagSelector {
	return types.TagSelector{ObjectType: objType, ObjectID: id}
}

func TestSaveNewObjectAndResolveLatest(t *testing.T) {
	fake, tenantID := newTenant(t)
	ctx := context.Background()

	def := &types.ObjectDefinition{
		ObjectID:   types.NewObjectID(),
		ObjectType: types.ObjectTypeData,
		Data:       &types.DataDefinition{RowCount: 10},
	}
	tag := &types.Tag{}
	tag.SetAttr("description", types.StringValue("first cut"))

	require.NoError(t, metadata.SaveNewObject(ctx, fake, tenantID, def, tag))
	require.Equal(t, 1, def.ObjectVersion)
	require.Equal(t, 1, tag.TagVersion)

	resolved, err := metadata.ResolveSelectors(ctx, fake, tenantID, []types.TagSelector{
		latestSelector(types.ObjectTypeData, def.ObjectID),
	})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, def.ObjectID, resolved[0].Definition.ObjectID)
	require.EqualValues(t, 10, resolved[0].Definition.Data.RowCount)

	v, ok := resolved[0].Tag.Attr("description")
	require.True(t, ok)
	require.Equal(t, "first cut", v.Str)
}

func TestSaveNewVersionFlipsIsLatestAndRejectsTypeMismatch(t *testing.T) {
	fake, tenantID := newTenant(t)
	ctx := context.Background()

	def := &types.ObjectDefinition{ObjectID: types.NewObjectID(), ObjectType: types.ObjectTypeData}
	require.NoError(t, metadata.SaveNewObject(ctx, fake, tenantID, def, &types.Tag{}))

	prior := *def
	v2 := &types.ObjectDefinition{ObjectID: def.ObjectID, ObjectType: types.ObjectTypeData}
	require.NoError(t, metadata.SaveNewVersion(ctx, fake, tenantID, prior, v2, &types.Tag{}))
	require.Equal(t, 2, v2.ObjectVersion)

	resolved, err := metadata.ResolveSelectors(ctx, fake, tenantID, []types.TagSelector{
		latestSelector(types.ObjectTypeData, def.ObjectID),
	})
	require.NoError(t, err)
	require.Equal(t, 2, resolved[0].Definition.ObjectVersion)

	wrongType := &types.ObjectDefinition{ObjectID: def.ObjectID, ObjectType: types.ObjectTypeFile}
	err = metadata.SaveNewVersion(ctx, fake, tenantID, prior, wrongType, &types.Tag{})
	require.Error(t, err)
	require.Equal(t, errors.EWrongItemType, errors.KindOf(err))
}

func TestSaveNewTagRetiresPriorTagVersion(t *testing.T) {
	fake, tenantID := newTenant(t)
	ctx := context.Background()

	def := &types.ObjectDefinition{ObjectID: types.NewObjectID(), ObjectType: types.ObjectTypeData}
	tag1 := &types.Tag{}
	tag1.SetAttr("status", types.StringValue("draft"))
	require.NoError(t, metadata.SaveNewObject(ctx, fake, tenantID, def, tag1))

	tag2 := &types.Tag{}
	tag2.SetAttr("status", types.StringValue("final"))
	require.NoError(t, metadata.SaveNewTag(ctx, fake, tenantID, def.ObjectID, def.ObjectVersion, *tag1, tag2))
	require.Equal(t, 2, tag2.TagVersion)

	resolved, err := metadata.ResolveSelectors(ctx, fake, tenantID, []types.TagSelector{
		latestSelector(types.ObjectTypeData, def.ObjectID),
	})
	require.NoError(t, err)
	require.Equal(t, 2, resolved[0].Tag.TagVersion)
	v, _ := resolved[0].Tag.Attr("status")
	require.Equal(t, "final", v.Str)
}

func TestResolveSelectorsArrayAttribute(t *testing.T) {
	fake, tenantID := newTenant(t)
	ctx := context.Background()

	def := &types.ObjectDefinition{ObjectID: types.NewObjectID(), ObjectType: types.ObjectTypeData}
	tag := &types.Tag{}
	arr, ok := types.ArrayValue([]types.Value{types.StringValue("a"), types.StringValue("b"), types.StringValue("c")})
	require.True(t, ok)
	tag.SetAttr("tags", arr)
	require.NoError(t, metadata.SaveNewObject(ctx, fake, tenantID, def, tag))

	resolved, err := metadata.ResolveSelectors(ctx, fake, tenantID, []types.TagSelector{
		latestSelector(types.ObjectTypeData, def.ObjectID),
	})
	require.NoError(t, err)
	v, ok := resolved[0].Tag.Attr("tags")
	require.True(t, ok)
	require.True(t, v.Array)
	require.Len(t, v.Items, 3)
	require.Equal(t, "b", v.Items[1].Str)
}

func TestResolveSelectorsMissingObjectIsMissingItem(t *testing.T) {
	fake, tenantID := newTenant(t)
	ctx := context.Background()

	_, err := metadata.ResolveSelectors(ctx, fake, tenantID, []types.TagSelector{
		latestSelector(types.ObjectTypeData, types.NewObjectID()),
	})
	require.Error(t, err)
	require.Equal(t, errors.EMissingItem, errors.KindOf(err))
}

func TestPreallocateAndSavePreallocatedObject(t *testing.T) {
	fake, tenantID := newTenant(t)
	ctx := context.Background()

	id, err := metadata.PreallocateObjectID(ctx, fake, tenantID, types.ObjectTypeFile)
	require.NoError(t, err)

	def := &types.ObjectDefinition{
		ObjectID:   id,
		ObjectType: types.ObjectTypeFile,
		File:       &types.FileDefinition{Name: "report.csv", MimeType: "text/csv", Size: 1024},
	}
	require.NoError(t, metadata.SavePreallocatedObject(ctx, fake, tenantID, def, &types.Tag{}))

	resolved, err := metadata.ResolveSelectors(ctx, fake, tenantID, []types.TagSelector{
		latestSelector(types.ObjectTypeFile, id),
	})
	require.NoError(t, err)
	require.Equal(t, "report.csv", resolved[0].Definition.File.Name)
}

func TestTenantCacheResolve(t *testing.T) {
	fake, tenantID := newTenant(t)
	cache := metadata.NewTenantCache(fake)

	got, err := cache.Resolve(context.Background(), "ACME")
	require.NoError(t, err)
	require.Equal(t, tenantID, got)

	_, err = cache.Resolve(context.Background(), "UNKNOWN")
	require.Error(t, err)
	require.Equal(t, errors.EUnknownTenant, errors.KindOf(err))
}

func TestResolveSelectorsBatchPreservesInputOrder(t *testing.T) {
	fake, tenantID := newTenant(t)
	ctx := context.Background()

	var ids []types.ObjectID
	for i := 0; i < 3; i++ {
		def := &types.ObjectDefinition{ObjectID: types.NewObjectID(), ObjectType: types.ObjectTypeData}
		tag := &types.Tag{}
		tag.SetAttr("seq", types.IntValue(int64(i)))
		require.NoError(t, metadata.SaveNewObject(ctx, fake, tenantID, def, tag))
		ids = append(ids, def.ObjectID)
	}

	// Request in reverse order; results must come back in that same order.
	selectors := []types.TagSelector{
		latestSelector(types.ObjectTypeData, ids[2]),
		latestSelector(types.ObjectTypeData, ids[0]),
		latestSelector(types.ObjectTypeData, ids[1]),
	}
	resolved, err := metadata.ResolveSelectors(ctx, fake, tenantID, selectors)
	require.NoError(t, err)
	require.Len(t, resolved, 3)
	require.Equal(t, ids[2], resolved[0].Definition.ObjectID)
	require.Equal(t, ids[0], resolved[1].Definition.ObjectID)
	require.Equal(t, ids[1], resolved[2].Definition.ObjectID)
}
