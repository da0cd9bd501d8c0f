// Package dataplane implements the data-plane service (C5): create,
// update and read orchestration for DATA and FILE objects, and the tag
// update rules applied to every save.
package dataplane

import (
	"strings"

	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// ApplyTagUpdates applies each TagUpdate to tag in order, per §4.5's six
// operations. It rejects any update naming a reserved (trac_-prefixed)
// attribute before applying anything else from the batch, so a request
// mixing one illegal update with otherwise-valid ones is rejected whole.
func ApplyTagUpdates(tag *types.Tag, updates []types.TagUpdate) error {
	for _, u := range updates {
		if strings.HasPrefix(u.AttrName, types.ReservedAttrPrefix) {
			return errors.New(errors.EInputValidation,
				"attribute %q uses the reserved prefix %q and cannot be set by the caller",
				u.AttrName, types.ReservedAttrPrefix)
		}
	}
	for _, u := range updates {
		if err := applyOne(tag, u); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(tag *types.Tag, u types.TagUpdate) error {
	existing, exists := tag.Attr(u.AttrName)

	switch u.Op {
	case types.OpCreate:
		if exists {
			return errors.New(errors.EDuplicateItem, "attribute %q already exists", u.AttrName)
		}
		tag.SetAttr(u.AttrName, u.Value)
		return nil

	case types.OpReplace:
		if !exists {
			return errors.New(errors.EMissingItem, "attribute %q does not exist", u.AttrName)
		}
		tag.SetAttr(u.AttrName, u.Value)
		return nil

	case types.OpAppend:
		if !exists {
			return errors.New(errors.EMissingItem, "attribute %q does not exist", u.AttrName)
		}
		return appendAttr(tag, u, existing)

	case types.OpDelete:
		if !exists {
			return errors.New(errors.EMissingItem, "attribute %q does not exist", u.AttrName)
		}
		tag.DeleteAttr(u.AttrName)
		return nil

	case types.OpCreateOrReplace:
		tag.SetAttr(u.AttrName, u.Value)
		return nil

	case types.OpCreateOrAppend:
		if !exists {
			arr, ok := types.ArrayValue([]types.Value{u.Value})
			if !ok {
				return errors.New(errors.EUnexpected, "attribute %q: cannot build array", u.AttrName)
			}
			tag.SetAttr(u.AttrName, arr)
			return nil
		}
		return appendAttr(tag, u, existing)

	default:
		return errors.New(errors.EInputValidation, "unknown tag update operation %d", u.Op)
	}
}

func appendAttr(tag *types.Tag, u types.TagUpdate, existing types.Value) error {
	if !existing.Array {
		return errors.New(errors.EWrongItemType, "attribute %q is not array-typed", u.AttrName)
	}
	items := append(append([]types.Value(nil), existing.Items...), u.Value)
	arr, ok := types.ArrayValue(items)
	if !ok {
		return errors.New(errors.EWrongItemType, "attribute %q: appended value type does not match array element type", u.AttrName)
	}
	tag.SetAttr(u.AttrName, arr)
	return nil
}
