package types

import (
	"math/big"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tracdap/trac-core/internal/errors"
)

// Value is a typed tag attribute value. Exactly one of the scalar
// fields is populated unless Array is true, in which case Items holds a
// homogeneous slice of the same BasicType (invariant 6: compound
// attributes such as maps or nested arrays are rejected, so Items never
// itself contains arrays).
type Value struct {
	Type  BasicType
	Array bool

	Bool     bool
	Int      int64
	Float    float64
	Str      string
	Decimal  *big.Rat // numerator/denominator at DECIMAL(38,12) precision
	Date     time.Time
	Datetime time.Time

	Items []Value
}

// BoolValue, IntValue, ... are small constructors used throughout the
// dataplane and codec packages to avoid repeating struct-literal
// boilerplate at every call site.
func BoolValue(b bool) Value         { return Value{Type: TypeBoolean, Bool: b} }
func IntValue(i int64) Value         { return Value{Type: TypeInteger, Int: i} }
func FloatValue(f float64) Value     { return Value{Type: TypeFloat, Float: f} }
func StringValue(s string) Value     { return Value{Type: TypeString, Str: s} }
func DecimalValue(d *big.Rat) Value  { return Value{Type: TypeDecimal, Decimal: d} }
func DateValue(t time.Time) Value    { return Value{Type: TypeDate, Date: t} }
func DatetimeValue(t time.Time) Value { return Value{Type: TypeDatetime, Datetime: t} }

// ArrayValue wraps a homogeneous slice of scalar values, rejecting
// mixed-type input per invariant 6.
func ArrayValue(items []Value) (Value, bool) {
	if len(items) == 0 {
		return Value{Array: true}, true
	}
	t := items[0].Type
	for _, it := range items[1:] {
		if it.Type != t {
			return Value{}, false
		}
	}
	return Value{Type: t, Array: true, Items: items}, true
}

// valueWire is Value's msgpack wire shape: every msgpack encoding of a
// Value (for example inside the gRPC data-plane service's TagUpdateWire)
// goes through this representation; internal/metadata's tag_attr column
// uses its own attrValue shape instead. A custom shape is needed since plain
// reflection-based msgpack encoding cannot see into big.Rat's
// unexported fields and would silently drop DECIMAL attribute values.
type valueWire struct {
	Type     BasicType
	Array    bool    `msgpack:",omitempty"`
	Bool     bool    `msgpack:",omitempty"`
	Int      int64   `msgpack:",omitempty"`
	Float    float64 `msgpack:",omitempty"`
	Str      string  `msgpack:",omitempty"`
	Decimal  string  `msgpack:",omitempty"` // big.Rat.String(), empty if not TypeDecimal
	Date     int64   `msgpack:",omitempty"` // unix seconds, 0 if not set
	Datetime int64   `msgpack:",omitempty"`
	Items    []Value `msgpack:",omitempty"`
}

// EncodeMsgpack implements msgpack.CustomEncoder so every Value
// (scalar or array) round-trips its DECIMAL/DATE/DATETIME precision
// regardless of which consumer is serializing it.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	wire := valueWire{Type: v.Type, Array: v.Array, Bool: v.Bool, Int: v.Int, Float: v.Float, Str: v.Str, Items: v.Items}
	if v.Decimal != nil {
		wire.Decimal = v.Decimal.String()
	}
	if !v.Date.IsZero() {
		wire.Date = v.Date.Unix()
	}
	if !v.Datetime.IsZero() {
		wire.Datetime = v.Datetime.Unix()
	}
	return enc.Encode(&wire)
}

// DecodeMsgpack implements msgpack.CustomDecoder, the inverse of
// EncodeMsgpack.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	var wire valueWire
	if err := dec.Decode(&wire); err != nil {
		return err
	}
	*v = Value{Type: wire.Type, Array: wire.Array, Bool: wire.Bool, Int: wire.Int, Float: wire.Float, Str: wire.Str, Items: wire.Items}
	if wire.Decimal != "" {
		r, ok := new(big.Rat).SetString(wire.Decimal)
		if !ok {
			return errors.New(errors.EDataCorruption, "invalid decimal literal %q in value", wire.Decimal)
		}
		v.Decimal = r
	}
	if wire.Date != 0 {
		v.Date = time.Unix(wire.Date, 0).UTC()
	}
	if wire.Datetime != 0 {
		v.Datetime = time.Unix(wire.Datetime, 0).UTC()
	}
	return nil
}
