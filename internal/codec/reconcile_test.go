package codec_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

func field(name string, t types.BasicType, notNull bool) types.FieldDefinition {
	return types.FieldDefinition{Name: name, Type: t, NotNull: notNull}
}

// TestReconcileFieldsReordersAndRecases covers §4.2 field reconciliation:
// an incoming batch whose columns are out of order and differently
// cased must map onto the declared schema's order.
func TestReconcileFieldsReordersAndRecases(t *testing.T) {
	target := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
		field("name", types.TypeString, false),
	}}
	incoming := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("Name", types.TypeString, false),
		field("ID", types.TypeInteger, true),
	}}

	mapping, err := codec.ReconcileFields(target, incoming)
	require.NoError(t, err)
	require.Equal(t, []int{1, 0}, mapping)
}

// TestReconcileFieldsDropsExtraIncomingColumn covers the "extra incoming
// fields are dropped with a warning" rule.
func TestReconcileFieldsDropsExtraIncomingColumn(t *testing.T) {
	target := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
	}}
	incoming := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
		field("extra", types.TypeString, false),
	}}

	mapping, err := codec.ReconcileFields(target, incoming)
	require.NoError(t, err)
	require.Equal(t, []int{0}, mapping)
}

// TestReconcileFieldsMissingNotNullColumn covers §8 scenario 4 at the
// schema level: a required target field absent from the incoming batch
// is a hard error, not a silently-null column.
func TestReconcileFieldsMissingNotNullColumn(t *testing.T) {
	target := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
		field("amount", types.TypeDecimal, true),
	}}
	incoming := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
	}}

	_, err := codec.ReconcileFields(target, incoming)
	require.Error(t, err)
	require.Equal(t, errors.EDataConstraint, errors.KindOf(err))
}

// TestReconcileFieldsMissingNullableColumn covers the companion case: a
// nullable target field absent from incoming maps to -1 rather than
// erroring.
func TestReconcileFieldsMissingNullableColumn(t *testing.T) {
	target := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
		field("label", types.TypeString, false),
	}}
	incoming := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
	}}

	mapping, err := codec.ReconcileFields(target, incoming)
	require.NoError(t, err)
	require.Equal(t, []int{0, -1}, mapping)
}

// TestReconcileFieldsRejectsLossyNarrowing covers the inverse of widening:
// a FLOAT column cannot be reconciled onto a declared INTEGER field.
func TestReconcileFieldsRejectsLossyNarrowing(t *testing.T) {
	target := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("value", types.TypeInteger, true),
	}}
	incoming := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("value", types.TypeFloat, true),
	}}

	_, err := codec.ReconcileFields(target, incoming)
	require.Error(t, err)
	require.Equal(t, errors.ESchemaIncompatible, errors.KindOf(err))
}

// TestCheckSchemaCompatibleAllowsWideningAndAddition covers §4.5's
// updateDataset schema-evolution rule: adding a column or widening an
// existing one (here INT -> FLOAT) is allowed.
func TestCheckSchemaCompatibleAllowsWideningAndAddition(t *testing.T) {
	prior := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
	}}
	next := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeFloat, true),
		field("label", types.TypeString, false),
	}}

	require.NoError(t, codec.CheckSchemaCompatible(prior, next))
}

// TestCheckSchemaCompatibleRejectsRemoval covers the inverse: removing a
// field that a prior version declared is not a valid evolution.
func TestCheckSchemaCompatibleRejectsRemoval(t *testing.T) {
	prior := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
		field("label", types.TypeString, false),
	}}
	next := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("id", types.TypeInteger, true),
	}}

	err := codec.CheckSchemaCompatible(prior, next)
	require.Error(t, err)
	require.Equal(t, errors.ESchemaIncompatible, errors.KindOf(err))
}

// TestCheckSchemaCompatibleRejectsNarrowing covers narrowing an existing
// field's type (FLOAT -> INTEGER), which is also disallowed.
func TestCheckSchemaCompatibleRejectsNarrowing(t *testing.T) {
	prior := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("value", types.TypeFloat, true),
	}}
	next := &types.SchemaDefinition{Fields: []types.FieldDefinition{
		field("value", types.TypeInteger, true),
	}}

	err := codec.CheckSchemaCompatible(prior, next)
	require.Error(t, err)
	require.Equal(t, errors.ESchemaIncompatible, errors.KindOf(err))
}

// TestWidenValueConvertsIntToFloat covers the value-level counterpart of
// the INT -> FLOAT widening rule.
func TestWidenValueConvertsIntToFloat(t *testing.T) {
	v := codec.WidenValue(types.IntValue(42), types.TypeFloat)
	require.Equal(t, types.TypeFloat, v.Type)
	require.Equal(t, float64(42), v.Float)
}

// TestWidenValueConvertsDateToDatetime covers the DATE -> DATETIME
// widening rule; WidenValue reads the source Date field even though the
// target type is Datetime.
func TestWidenValueConvertsDateToDatetime(t *testing.T) {
	d := types.DateValue(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	v := codec.WidenValue(d, types.TypeDatetime)
	require.Equal(t, types.TypeDatetime, v.Type)
	require.Equal(t, d.Date, v.Datetime)
}
