// Package csv implements the CSV codec named in §4.2: a schema-driven
// decoder built on the shared codec.Consumer state machine, and a
// streaming encoder. The tokenizer is hand-rolled over a byte buffer fed
// chunk by chunk rather than built on stdlib encoding/csv, because the decoder must
// distinguish a null field from an empty-quoted string by the lexical
// token width between separators (§4.2 Value handling) — a distinction
// encoding/csv's Reader does not expose.
package csv

import (
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02T15:04:05.999999"
)

// token is one lexical field between commas, with quote-stripping
// already applied and Width set to the raw (pre-strip) character count
// so null/empty-string disambiguation works per §4.2.
type token struct {
	text  string
	width int
	valid bool // false => null (zero-width, unquoted)
}

// Decoder incrementally tokenizes CSV bytes into codec.Cell rows. It
// implements codec.RecordDecoder; the schema must be pre-declared (no
// schema inference, per §4.2).
type Decoder struct {
	schema  *types.SchemaDefinition
	opts    codec.Options
	buf     []byte
	pos     int
	started bool // header row already consumed
	line    int
	col     int
	closed  bool // no more Feed calls will arrive; see Close
}

// NewDecoder constructs a CSV decoder against a pre-declared schema.
func NewDecoder(schema *types.SchemaDefinition, opts codec.Options) *Decoder {
	return &Decoder{schema: schema, opts: opts, line: 1}
}

// Feed appends more raw input to the decoder's buffer.
func (d *Decoder) Feed(chunk []byte) {
	if d.pos > 0 {
		d.buf = d.buf[d.pos:]
		d.pos = 0
	}
	d.buf = append(d.buf, chunk...)
}

// Next decodes one row, skipping and validating the header on first
// call. Returns io.EOF once Close has been called and the buffer is
// exhausted at a row boundary, codec.ErrNeedMoreInput while the buffered
// bytes hold no complete row.
func (d *Decoder) Next() ([]codec.Cell, error) {
	if !d.started {
		if err := d.consumeHeader(); err != nil {
			return nil, err
		}
		d.started = true
	}
	return d.decodeRow()
}

func (d *Decoder) consumeHeader() error {
	line, ok, err := d.readLine()
	if err != nil {
		return err
	}
	if !ok {
		return codec.ErrNeedMoreInput
	}
	fields := splitRawLine(line)
	if len(fields) != len(d.schema.Fields) {
		return errors.New(errors.EDataCorruption,
			"csv header has %d columns, schema declares %d", len(fields), len(d.schema.Fields))
	}
	return nil
}

// Close signals that no further Feed calls will arrive, so a final
// line left in the buffer without a trailing newline (the common case
// for a file that simply ends after its last row) can be recognised as
// complete rather than treated as indefinitely incomplete.
func (d *Decoder) Close() {
	d.closed = true
}

// readLine returns the next newline-terminated (or, once Close has been
// called, buffer-exhausted) line from the buffer, honoring quoted
// newlines.
func (d *Decoder) readLine() (string, bool, error) {
	inQuotes := false
	for i := d.pos; i < len(d.buf); i++ {
		c := d.buf[i]
		if c == '"' {
			inQuotes = !inQuotes
			continue
		}
		if c == '\n' && !inQuotes {
			line := strings.TrimSuffix(string(d.buf[d.pos:i]), "\r")
			d.pos = i + 1
			d.line++
			return line, true, nil
		}
	}
	if d.closed && d.pos < len(d.buf) {
		line := strings.TrimSuffix(string(d.buf[d.pos:]), "\r")
		d.pos = len(d.buf)
		d.line++
		return line, true, nil
	}
	return "", false, nil
}

func (d *Decoder) decodeRow() ([]codec.Cell, error) {
	line, ok, err := d.readLine()
	if err != nil {
		return nil, err
	}
	if !ok {
		if d.closed && d.pos >= len(d.buf) {
			return nil, io.EOF
		}
		return nil, codec.ErrNeedMoreInput
	}
	if len(strings.TrimSpace(line)) == 0 {
		return d.decodeRow()
	}
	toks := splitLine(line)
	if len(toks) != len(d.schema.Fields) {
		return nil, errors.New(errors.EDataCorruption,
			"line %d: row has %d fields, schema declares %d (line/col %d/%d)", d.line, len(toks), len(d.schema.Fields), d.line, 1)
	}
	row := make([]codec.Cell, len(toks))
	for i, f := range d.schema.Fields {
		cell, err := d.decodeCell(toks[i], f)
		if err != nil {
			return nil, err
		}
		row[i] = cell
	}
	return row, nil
}

func (d *Decoder) decodeCell(t token, f types.FieldDefinition) (codec.Cell, error) {
	if !t.valid {
		if f.NotNull {
			return codec.Cell{}, errors.New(errors.EDataConstraint,
				"null not allowed in non-nullable field %s", f.Name)
		}
		return codec.Cell{Valid: false}, nil
	}
	if f.Categorical {
		return codec.Cell{Valid: true, Value: types.StringValue(t.text), RawString: t.text}, nil
	}
	v, err := parseScalar(t.text, f, d.opts.Lenient)
	if err != nil {
		return codec.Cell{}, err
	}
	return codec.Cell{Valid: true, Value: v}, nil
}

func parseScalar(text string, f types.FieldDefinition, lenient bool) (types.Value, error) {
	switch f.Type {
	case types.TypeBoolean:
		b, ok := parseBool(text)
		if !ok {
			return types.Value{}, errors.New(errors.EDataCorruption, "field %s: invalid boolean %q", f.Name, text)
		}
		return types.BoolValue(b), nil
	case types.TypeInteger:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return types.Value{}, errors.New(errors.EDataCorruption, "field %s: invalid integer %q", f.Name, text)
		}
		return types.IntValue(i), nil
	case types.TypeFloat:
		v, ok := parseFloat(text)
		if !ok {
			return types.Value{}, errors.New(errors.EDataCorruption, "field %s: invalid float %q", f.Name, text)
		}
		return types.FloatValue(v), nil
	case types.TypeDecimal:
		r, ok := new(big.Rat).SetString(text)
		if !ok {
			return types.Value{}, errors.New(errors.EDataCorruption, "field %s: invalid decimal %q", f.Name, text)
		}
		return types.DecimalValue(r), nil
	case types.TypeString:
		return types.StringValue(text), nil
	case types.TypeDate:
		t, err := parseDate(text, lenient)
		if err != nil {
			return types.Value{}, errors.New(errors.EDataCorruption, "field %s: %v", f.Name, err)
		}
		return types.DateValue(t), nil
	case types.TypeDatetime:
		t, err := parseDatetime(text, lenient)
		if err != nil {
			return types.Value{}, errors.New(errors.EDataCorruption, "field %s: %v", f.Name, err)
		}
		return types.DatetimeValue(t), nil
	default:
		return types.Value{}, errors.New(errors.EUnexpected, "field %s: unhandled type %s", f.Name, f.Type)
	}
}

func parseBool(text string) (bool, bool) {
	switch strings.ToLower(text) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

func parseFloat(text string) (float64, bool) {
	switch strings.ToLower(text) {
	case "nan", "na":
		return math.NaN(), true
	case "inf", "infinity":
		return math.Inf(1), true
	case "-inf", "-infinity":
		return math.Inf(-1), true
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseDate(text string, lenient bool) (time.Time, error) {
	if t, err := time.Parse(dateLayout, text); err == nil {
		return t, nil
	}
	if lenient {
		if t, err := time.Parse(time.RFC3339, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", text)
}

func parseDatetime(text string, lenient bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(datetimeLayout, text); err == nil {
		return t, nil
	}
	if lenient {
		for _, layout := range []string{"2006-01-02 15:04:05", time.RFC1123} {
			if t, err := time.Parse(layout, text); err == nil {
				return t.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", text)
}

// splitRawLine splits a header line on unquoted commas, returning the
// stripped field text only (width tracking is not needed for headers).
func splitRawLine(line string) []string {
	toks := splitLine(line)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.text
	}
	return out
}

// splitLine tokenizes one CSV line into fields, tracking lexical width
// so the caller can distinguish null (width 0, unquoted) from empty
// string (width >= 2, quoted, per ALWAYS_QUOTE_EMPTY_STRINGS).
func splitLine(line string) []token {
	var toks []token
	var cur strings.Builder
	width := 0
	quoted := false
	inQuotes := false
	start := true

	flush := func() {
		toks = append(toks, token{text: cur.String(), width: width, valid: width > 0 || quoted})
		cur.Reset()
		width = 0
		quoted = false
		start = true
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuotes:
			if c == '"' {
				if i+1 < len(line) && line[i+1] == '"' {
					cur.WriteByte('"')
					width += 2
					i++
					continue
				}
				inQuotes = false
				width++
				continue
			}
			cur.WriteByte(c)
			width++
		case c == '"' && start:
			inQuotes = true
			quoted = true
			width++
			start = false
		case c == ',':
			flush()
		default:
			cur.WriteByte(c)
			width++
			start = false
		}
	}
	flush()
	return toks
}

// Encoder writes Batches as CSV, header first.
type Encoder struct {
	w           io.Writer
	headerDone  bool
}

// NewEncoder constructs a CSV encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteBatch encodes one Batch, writing the header on the first call.
func (e *Encoder) WriteBatch(b *codec.Batch) error {
	if !e.headerDone {
		names := make([]string, len(b.Schema.Fields))
		for i, f := range b.Schema.Fields {
			names[i] = f.Name
		}
		if _, err := fmt.Fprintln(e.w, strings.Join(names, ",")); err != nil {
			return errors.Wrap(errors.EStorageIO, err, "writing csv header")
		}
		e.headerDone = true
	}
	for row := 0; row < b.RowCount; row++ {
		var line strings.Builder
		for i, col := range b.Columns {
			if i > 0 {
				line.WriteByte(',')
			}
			line.WriteString(formatCell(col, row))
		}
		if _, err := fmt.Fprintln(e.w, line.String()); err != nil {
			return errors.Wrap(errors.EStorageIO, err, "writing csv row")
		}
	}
	return nil
}

func formatCell(col codec.Column, row int) string {
	if !col.Valid[row] {
		return ""
	}
	if col.Field.Categorical {
		return quoteIfNeeded(col.Dictionary[col.DictIndex[row]], true)
	}
	v := col.Values[row]
	switch v.Type {
	case types.TypeBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case types.TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case types.TypeFloat:
		return formatFloat(v.Float)
	case types.TypeDecimal:
		return v.Decimal.FloatString(12)
	case types.TypeString:
		return quoteIfNeeded(v.Str, true)
	case types.TypeDate:
		return v.Date.Format(dateLayout)
	case types.TypeDatetime:
		return v.Datetime.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// quoteIfNeeded quotes the string whenever it is empty (so it is not
// mistaken for null on decode, ALWAYS_QUOTE_EMPTY_STRINGS), contains a
// comma, quote, or newline.
func quoteIfNeeded(s string, emptyQuoted bool) string {
	if s == "" {
		if emptyQuoted {
			return `""`
		}
		return ""
	}
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
