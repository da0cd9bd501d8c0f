// Package dictstage implements dictionary staging for categorical
// columns: raw values accumulate into a staging variable-width vector
// and are resolved into a final int-indexed dictionary vector at batch
// completion, either extending a dynamic dictionary or validating
// against a fixed one. Kept as its own small package (rather than
// folded into codec) because both the CSV/JSON row decoders and the
// Arrow IPC codec need the identical resolution rule, grounded on the
// same "one focused helper operating over a typed slice" shape as the
// teacher's internal/util/msort package.
package dictstage

import "github.com/tracdap/trac-core/internal/errors"

// Dictionary holds the ordered, deduplicated set of values backing a
// categorical column's int index. A Fixed dictionary rejects values not
// already present; a dynamic one grows to accommodate new values.
type Dictionary struct {
	fixed  bool
	values []string
	index  map[string]int32
}

// NewDynamic constructs a dictionary that grows as new values are seen.
func NewDynamic() *Dictionary {
	return &Dictionary{index: make(map[string]int32)}
}

// NewFixed constructs a dictionary whose membership is closed; Resolve
// on a value outside initial fails with an EDataConstraint error.
func NewFixed(initial []string) *Dictionary {
	d := &Dictionary{fixed: true, index: make(map[string]int32, len(initial))}
	for _, v := range initial {
		d.values = append(d.values, v)
		d.index[v] = int32(len(d.values) - 1)
	}
	return d
}

// Resolve maps a raw string to its dictionary index, extending a dynamic
// dictionary as needed.
func (d *Dictionary) Resolve(raw string) (int32, error) {
	if idx, ok := d.index[raw]; ok {
		return idx, nil
	}
	if d.fixed {
		return 0, errors.New(errors.EDataConstraint, "value %q is not in the fixed dictionary", raw)
	}
	d.values = append(d.values, raw)
	idx := int32(len(d.values) - 1)
	d.index[raw] = idx
	return idx, nil
}

// Values returns the dictionary's current ordered value list.
func (d *Dictionary) Values() []string {
	return d.values
}
