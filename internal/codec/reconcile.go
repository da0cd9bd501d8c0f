package codec

import (
	"github.com/sirupsen/logrus"

	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// ReconcileFields reorders and re-cases the fields of an incoming batch
// schema to match the declared target schema (§4.2 field reconciliation
// on write). It returns a permutation: result[i] is the index, in
// incoming.Fields, of the column that should be written into target
// field i, or -1 if no incoming column maps to that field (which is
// only valid when the target field is nullable — see below).
//
// Extra incoming fields not present in target are dropped with a
// logged warning; a target field with NotNull set and no incoming
// match is an error.
func ReconcileFields(target, incoming *types.SchemaDefinition) ([]int, error) {
	mapping := make([]int, len(target.Fields))
	matched := make([]bool, len(incoming.Fields))

	for i, tf := range target.Fields {
		mapping[i] = -1
		for j, inf := range incoming.Fields {
			if matched[j] {
				continue
			}
			if equalFold(tf.Name, inf.Name) {
				if !widensTo(inf.Type, tf.Type) {
					return nil, errors.New(errors.ESchemaIncompatible,
						"field %q: cannot convert %s to %s without loss", tf.Name, inf.Type, tf.Type)
				}
				mapping[i] = j
				matched[j] = true
				break
			}
		}
		if mapping[i] == -1 && tf.NotNull {
			return nil, errors.New(errors.EDataConstraint, "missing required field %q", tf.Name)
		}
	}

	for j, inf := range incoming.Fields {
		if !matched[j] {
			logrus.Warnf("dropping field %q not present in the declared schema", inf.Name)
		}
	}

	return mapping, nil
}

// widensTo reports whether a value of type from can be losslessly
// converted to type to: identity, int -> float, and a shorter timestamp
// precision -> a longer one (date -> datetime here, since DATE has no
// time-of-day component to lose).
func widensTo(from, to types.BasicType) bool {
	if from == to {
		return true
	}
	switch {
	case from == types.TypeInteger && to == types.TypeFloat:
		return true
	case from == types.TypeDate && to == types.TypeDatetime:
		return true
	default:
		return false
	}
}

// CheckSchemaCompatible enforces updateDataset's schema-evolution rule
// (§4.5): next must be a non-narrowing superset of prior — every field
// of prior must still be present in next, under the same or a wider
// type. Fields prior did not have are permitted; removing or narrowing
// one is not.
func CheckSchemaCompatible(prior, next *types.SchemaDefinition) error {
	for _, pf := range prior.Fields {
		nf, ok := next.FieldByName(pf.Name)
		if !ok {
			return errors.New(errors.ESchemaIncompatible, "field %q removed from schema", pf.Name)
		}
		if !widensTo(pf.Type, nf.Type) {
			return errors.New(errors.ESchemaIncompatible,
				"field %q narrowed from %s to %s", pf.Name, pf.Type, nf.Type)
		}
	}
	return nil
}

// WidenValue converts v (of type from) to type to, assuming widensTo
// already confirmed the conversion is lossless.
func WidenValue(v types.Value, to types.BasicType) types.Value {
	if v.Type == to {
		return v
	}
	switch to {
	case types.TypeFloat:
		return types.FloatValue(float64(v.Int))
	case types.TypeDatetime:
		return types.DatetimeValue(v.Date)
	default:
		return v
	}
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
