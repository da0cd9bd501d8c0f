package metadata

import (
	"math/big"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	trcerr "github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// definitionBody is the msgpack wire shape stored in
// object_definition.definition. ObjectDefinition itself carries
// ObjectID/ObjectVersion/Timestamp/IsLatest columns directly, so the
// stored blob holds only the type-specific body plus the opaque Blob
// fallback used for object types this core treats as round-trip-only
// (SCHEMA, MODEL, JOB, ...).
type definitionBody struct {
	Data   *types.DataDefinition
	File   *types.FileDefinition
	Schema *types.SchemaDefinition
	Blob   []byte
}

func encodeDefinitionBody(def *types.ObjectDefinition) ([]byte, error) {
	body := definitionBody{Data: def.Data, File: def.File, Schema: def.Schema, Blob: def.Blob}
	b, err := msgpack.Marshal(&body)
	if err != nil {
		return nil, trcerr.Wrap(trcerr.ETracInternal, err, "encoding object definition body")
	}
	return b, nil
}

func decodeDefinitionBody(def *types.ObjectDefinition, raw []byte) error {
	var body definitionBody
	if err := msgpack.Unmarshal(raw, &body); err != nil {
		return trcerr.Wrap(trcerr.EDataCorruption, err, "decoding object definition body")
	}
	def.Data = body.Data
	def.File = body.File
	def.Schema = body.Schema
	def.Blob = body.Blob
	return nil
}

// attrValue is the msgpack wire shape for one tag_attr.attr_value cell,
// despite the column type being named JSONB for operator-friendly
// inspection: msgpack already carries the Decimal/Date/Datetime
// precision this core needs and is the wire codec used everywhere else
// in the pipeline, so attribute values use it too rather than a second
// serialization format.
type attrValue struct {
	Type     types.BasicType
	Bool     bool      `msgpack:",omitempty"`
	Int      int64     `msgpack:",omitempty"`
	Float    float64   `msgpack:",omitempty"`
	Str      string    `msgpack:",omitempty"`
	Decimal  string    `msgpack:",omitempty"` // big.Rat.String(), empty if not TypeDecimal
	Date     int64     `msgpack:",omitempty"` // unix seconds, 0 if not set
	Datetime int64     `msgpack:",omitempty"`
}

func encodeAttrValue(v types.Value) ([]byte, error) {
	av := attrValue{Type: v.Type, Bool: v.Bool, Int: v.Int, Float: v.Float, Str: v.Str}
	if v.Decimal != nil {
		av.Decimal = v.Decimal.String()
	}
	if !v.Date.IsZero() {
		av.Date = v.Date.Unix()
	}
	if !v.Datetime.IsZero() {
		av.Datetime = v.Datetime.Unix()
	}
	b, err := msgpack.Marshal(&av)
	if err != nil {
		return nil, trcerr.Wrap(trcerr.ETracInternal, err, "encoding tag attribute value")
	}
	return b, nil
}

func decodeAttrValue(raw []byte) (types.Value, error) {
	var av attrValue
	if err := msgpack.Unmarshal(raw, &av); err != nil {
		return types.Value{}, trcerr.Wrap(trcerr.EDataCorruption, err, "decoding tag attribute value")
	}
	v := types.Value{Type: av.Type, Bool: av.Bool, Int: av.Int, Float: av.Float, Str: av.Str}
	if av.Decimal != "" {
		r, ok := new(big.Rat).SetString(av.Decimal)
		if !ok {
			return types.Value{}, trcerr.New(trcerr.EDataCorruption, "invalid decimal literal %q in tag attribute", av.Decimal)
		}
		v.Decimal = r
	}
	if av.Date != 0 {
		v.Date = time.Unix(av.Date, 0).UTC()
	}
	if av.Datetime != 0 {
		v.Datetime = time.Unix(av.Datetime, 0).UTC()
	}
	return v, nil
}
