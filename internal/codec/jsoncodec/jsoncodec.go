// Package jsoncodec implements the JSON codec named in §4.2: an outer
// array of row objects, decoded incrementally through the shared
// codec.Consumer state machine and encoded as a single array of
// per-row objects in schema field order. Named jsoncodec (not json) so
// call sites can import both this package and stdlib encoding/json
// without aliasing.
package jsoncodec

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// Decoder incrementally tokenizes a JSON array-of-objects document. It
// may run with or without a pre-declared schema (§4.2); when schema is
// nil, the first object's keys establish field order and each field's
// BasicType is inferred from its value in that first object (a null
// there infers STRING).
type Decoder struct {
	schema *types.SchemaDefinition
	buf    []byte
	pos    int
	depth  int // 0 before '[', 1 inside the array between objects
}

// NewDecoder constructs a JSON decoder. schema may be nil to infer
// fields from the data (§4.2).
func NewDecoder(schema *types.SchemaDefinition) *Decoder {
	return &Decoder{schema: schema}
}

// Feed appends more raw bytes.
func (d *Decoder) Feed(chunk []byte) {
	if d.pos > 0 {
		d.buf = d.buf[d.pos:]
		d.pos = 0
	}
	d.buf = append(d.buf, chunk...)
}

// Next decodes one row object, skipping the opening '[' and any comma
// separators as it goes.
func (d *Decoder) Next() ([]codec.Cell, error) {
	d.skipSpace()
	if d.depth == 0 {
		if d.pos >= len(d.buf) {
			return nil, codec.ErrNeedMoreInput
		}
		if d.buf[d.pos] != '[' {
			return nil, errors.New(errors.EDataCorruption, "expected '[' at offset %d", d.pos)
		}
		d.pos++
		d.depth = 1
		d.skipSpace()
	}

	if d.pos >= len(d.buf) {
		return nil, codec.ErrNeedMoreInput
	}
	if d.buf[d.pos] == ']' {
		d.pos++
		return nil, io.EOF
	}
	if d.buf[d.pos] == ',' {
		d.pos++
		d.skipSpace()
	}
	if d.pos >= len(d.buf) {
		return nil, codec.ErrNeedMoreInput
	}

	start := d.pos
	obj, n, complete, err := scanObject(d.buf[d.pos:])
	if err != nil {
		return nil, errors.Wrap(errors.EDataCorruption, err, "corrupt json object at offset %d", start)
	}
	if !complete {
		return nil, codec.ErrNeedMoreInput
	}
	d.pos += n
	return d.buildRow(obj)
}

func (d *Decoder) buildRow(obj []kv) ([]codec.Cell, error) {
	if d.schema == nil {
		d.schema = inferSchema(obj)
	}
	row := make([]codec.Cell, len(d.schema.Fields))
	for i, f := range d.schema.Fields {
		raw, found := lookup(obj, f.Name)
		if !found || raw == "null" {
			if f.NotNull {
				return nil, errors.New(errors.EDataConstraint, "null not allowed in non-nullable field %s", f.Name)
			}
			row[i] = codec.Cell{Valid: false}
			continue
		}
		v, rawStr, err := decodeValue(raw, f)
		if err != nil {
			return nil, err
		}
		row[i] = codec.Cell{Valid: true, Value: v, RawString: rawStr}
	}
	return row, nil
}

type kv struct {
	key string
	raw string
}

func lookup(obj []kv, name string) (string, bool) {
	for _, e := range obj {
		if strings.EqualFold(e.key, name) {
			return e.raw, true
		}
	}
	return "", false
}

// scanObject reads one top-level `{...}` JSON object from buf, returning
// its flat key/raw-value pairs (no nested object/array values are
// supported beyond pass-through raw text, since schema fields are
// scalar), the number of bytes consumed, and whether the object was
// complete within buf.
func scanObject(buf []byte) ([]kv, int, bool, error) {
	i := 0
	for i < len(buf) && isSpace(buf[i]) {
		i++
	}
	if i >= len(buf) {
		return nil, 0, false, nil
	}
	if buf[i] != '{' {
		return nil, 0, false, fmt.Errorf("expected '{' at offset %d", i)
	}
	i++

	var entries []kv
	for {
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		if i >= len(buf) {
			return nil, 0, false, nil
		}
		if buf[i] == '}' {
			i++
			return entries, i, true, nil
		}
		if buf[i] == ',' {
			i++
			continue
		}
		key, n, ok, err := scanString(buf[i:])
		if err != nil {
			return nil, 0, false, err
		}
		if !ok {
			return nil, 0, false, nil
		}
		i += n
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		if i >= len(buf) || buf[i] != ':' {
			if i >= len(buf) {
				return nil, 0, false, nil
			}
			return nil, 0, false, fmt.Errorf("expected ':' at offset %d", i)
		}
		i++
		for i < len(buf) && isSpace(buf[i]) {
			i++
		}
		val, n, ok, err := scanValue(buf[i:])
		if err != nil {
			return nil, 0, false, err
		}
		if !ok {
			return nil, 0, false, nil
		}
		i += n
		entries = append(entries, kv{key: key, raw: val})
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func scanString(buf []byte) (string, int, bool, error) {
	if len(buf) == 0 || buf[0] != '"' {
		return "", 0, false, fmt.Errorf("expected string")
	}
	var sb strings.Builder
	i := 1
	for i < len(buf) {
		c := buf[i]
		if c == '\\' {
			if i+1 >= len(buf) {
				return "", 0, false, nil
			}
			esc := buf[i+1]
			switch esc {
			case '"', '\\', '/':
				sb.WriteByte(esc)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'u':
				if i+6 > len(buf) {
					return "", 0, false, nil
				}
				n, err := strconv.ParseUint(string(buf[i+2:i+6]), 16, 32)
				if err != nil {
					return "", 0, false, err
				}
				sb.WriteRune(rune(n))
				i += 4
			default:
				sb.WriteByte(esc)
			}
			i += 2
			continue
		}
		if c == '"' {
			return sb.String(), i + 1, true, nil
		}
		sb.WriteByte(c)
		i++
	}
	return "", 0, false, nil
}

// scanValue returns the raw (unparsed) text of one JSON value: a quoted
// string is unescaped, everything else (number, true/false/null) is
// returned verbatim for the caller to interpret against the schema's
// declared field type.
func scanValue(buf []byte) (string, int, bool, error) {
	if len(buf) == 0 {
		return "", 0, false, nil
	}
	if buf[0] == '"' {
		return scanString(buf)
	}
	if buf[0] == '{' {
		// Nested objects are not supported by table schemas; skip
		// balanced braces so decode can still fail cleanly downstream.
		return scanBalanced(buf, '{', '}')
	}
	if buf[0] == '[' {
		return scanBalanced(buf, '[', ']')
	}
	i := 0
	for i < len(buf) {
		c := buf[i]
		if c == ',' || c == '}' || c == ']' || isSpace(c) {
			break
		}
		i++
	}
	if i == 0 {
		return "", 0, false, nil
	}
	// If we ran off the end without seeing a delimiter, more input may
	// still arrive to complete this token (e.g. "tru|e" split mid-chunk).
	if i == len(buf) {
		return "", 0, false, nil
	}
	return string(buf[:i]), i, true, nil
}

func scanBalanced(buf []byte, open, close byte) (string, int, bool, error) {
	depth := 0
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return string(buf[:i+1]), i + 1, true, nil
			}
		}
	}
	return "", 0, false, nil
}

// inferSchema builds a SchemaDefinition from the first decoded object's
// keys, in the order they appeared, typing each field from its first
// value (§4.2: "JSON ... can decode with or without a priori schema").
// A field whose only observed value is null infers as STRING, the same
// default a dynamic schema's first-seen-value rule falls back to.
func inferSchema(obj []kv) *types.SchemaDefinition {
	fields := make([]types.FieldDefinition, len(obj))
	for i, e := range obj {
		fields[i] = types.FieldDefinition{Name: e.key, Type: inferType(e.raw), FieldOrder: i}
	}
	return &types.SchemaDefinition{Fields: fields}
}

func inferType(raw string) types.BasicType {
	switch raw {
	case "null":
		return types.TypeString
	case "true", "false":
		return types.TypeBoolean
	}
	if len(raw) > 0 && raw[0] == '"' {
		return types.TypeString
	}
	if !strings.ContainsAny(raw, ".eE") {
		if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return types.TypeInteger
		}
	}
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return types.TypeFloat
	}
	return types.TypeString
}

// InferredSchema implements codec.SchemaInferred, letting a Consumer
// constructed without a declared schema pick up the field list this
// Decoder discovered from its first decoded row.
func (d *Decoder) InferredSchema() *types.SchemaDefinition {
	return d.schema
}

func decodeValue(raw string, f types.FieldDefinition) (types.Value, string, error) {
	if f.Categorical {
		s, err := unquote(raw)
		if err != nil {
			return types.Value{}, "", err
		}
		return types.StringValue(s), s, nil
	}
	switch f.Type {
	case types.TypeBoolean:
		switch raw {
		case "true":
			return types.BoolValue(true), "", nil
		case "false":
			return types.BoolValue(false), "", nil
		}
		return types.Value{}, "", errors.New(errors.EDataCorruption, "field %s: invalid boolean %s", f.Name, raw)
	case types.TypeInteger:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return types.Value{}, "", errors.New(errors.EDataCorruption, "field %s: invalid integer %s", f.Name, raw)
		}
		return types.IntValue(i), "", nil
	case types.TypeFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return types.Value{}, "", errors.New(errors.EDataCorruption, "field %s: invalid float %s", f.Name, raw)
		}
		return types.FloatValue(v), "", nil
	case types.TypeDecimal:
		r, ok := new(big.Rat).SetString(raw)
		if !ok {
			return types.Value{}, "", errors.New(errors.EDataCorruption, "field %s: invalid decimal %s", f.Name, raw)
		}
		return types.DecimalValue(r), "", nil
	case types.TypeString:
		s, err := unquote(raw)
		if err != nil {
			return types.Value{}, "", err
		}
		return types.StringValue(s), "", nil
	case types.TypeDate:
		s, err := unquote(raw)
		if err != nil {
			return types.Value{}, "", err
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return types.Value{}, "", errors.New(errors.EDataCorruption, "field %s: invalid date %s", f.Name, s)
		}
		return types.DateValue(t), "", nil
	case types.TypeDatetime:
		s, err := unquote(raw)
		if err != nil {
			return types.Value{}, "", err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return types.Value{}, "", errors.New(errors.EDataCorruption, "field %s: invalid datetime %s", f.Name, s)
		}
		return types.DatetimeValue(t.UTC()), "", nil
	default:
		return types.Value{}, "", errors.New(errors.EUnexpected, "field %s: unhandled type %s", f.Name, f.Type)
	}
}

func unquote(raw string) (string, error) {
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return raw, nil
	}
	return raw[1 : len(raw)-1], nil
}

func (d *Decoder) skipSpace() {
	for d.pos < len(d.buf) && unicode.IsSpace(rune(d.buf[d.pos])) {
		d.pos++
	}
}

// Encoder writes Batches as a single JSON array; the array brackets
// span possibly many WriteBatch calls, closed by Close.
type Encoder struct {
	wrote  bool
	closed bool
}

// NewEncoder constructs a JSON encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// WriteBatch encodes one Batch's rows as JSON objects into the outer
// array, writing the opening bracket on the first call.
func (e *Encoder) WriteBatch(w io.Writer, b *codec.Batch) error {
	for row := 0; row < b.RowCount; row++ {
		if e.wrote {
			if _, err := io.WriteString(w, ","); err != nil {
				return errors.Wrap(errors.EStorageIO, err, "writing json separator")
			}
		} else {
			if _, err := io.WriteString(w, "["); err != nil {
				return errors.Wrap(errors.EStorageIO, err, "writing json array open")
			}
		}
		e.wrote = true
		if err := writeObject(w, b, row); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates the outer array, writing "[]" if no rows were ever
// written.
func (e *Encoder) Close(w io.Writer) error {
	if e.closed {
		return nil
	}
	e.closed = true
	if !e.wrote {
		_, err := io.WriteString(w, "[]")
		return err
	}
	_, err := io.WriteString(w, "]")
	return err
}

func writeObject(w io.Writer, b *codec.Batch, row int) error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range b.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, col.Field.Name)
		buf.WriteByte(':')
		writeCellJSON(&buf, col, row)
	}
	buf.WriteByte('}')
	_, err := w.Write(buf.Bytes())
	if err != nil {
		return errors.Wrap(errors.EStorageIO, err, "writing json row")
	}
	return nil
}

func writeCellJSON(buf *bytes.Buffer, col codec.Column, row int) {
	if !col.Valid[row] {
		buf.WriteString("null")
		return
	}
	if col.Field.Categorical {
		writeJSONString(buf, col.Dictionary[col.DictIndex[row]])
		return
	}
	v := col.Values[row]
	switch v.Type {
	case types.TypeBoolean:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case types.TypeInteger:
		buf.WriteString(strconv.FormatInt(v.Int, 10))
	case types.TypeFloat:
		buf.WriteString(strconv.FormatFloat(v.Float, 'g', -1, 64))
	case types.TypeDecimal:
		writeJSONString(buf, v.Decimal.FloatString(12))
	case types.TypeString:
		writeJSONString(buf, v.Str)
	case types.TypeDate:
		writeJSONString(buf, v.Date.Format("2006-01-02"))
	case types.TypeDatetime:
		writeJSONString(buf, v.Datetime.UTC().Format(time.RFC3339Nano))
	default:
		buf.WriteString("null")
	}
}

func writeJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\t':
			buf.WriteString(`\t`)
		case '\r':
			buf.WriteString(`\r`)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}
