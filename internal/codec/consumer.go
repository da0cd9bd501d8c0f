package codec

import (
	"io"

	"github.com/tracdap/trac-core/internal/codec/dictstage"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// State is one of the five states of the incremental batch-consumer
// state machine described in §4.2.
type State int

const (
	StateInitial State = iota
	StateInArray
	StateMidRecord
	StateRecordComplete
	StateEndOfStream
)

// ErrNeedMoreInput is returned by a RecordDecoder's Next method when the
// delegate record parser is mid-record and needs another chunk; the
// Consumer returns control to its caller and preserves its token
// cursor (State stays MID_RECORD across the call).
var ErrNeedMoreInput = errors.New(errors.EUnexpected, "decoder needs more input")

// RecordDecoder is implemented by each row-oriented format (CSV, JSON)
// and incrementally turns fed bytes into decoded rows. Arrow IPC does
// not implement this interface: its own message framing already gives
// it batch boundaries, so it is driven directly rather than through
// Consumer (see arrowcodec).
type RecordDecoder interface {
	// Feed appends more raw input.
	Feed(chunk []byte)
	// Next attempts to decode one row. It returns io.EOF once the input
	// has ended at a well-formed record boundary (for a Closer, only after
	// Close), or ErrNeedMoreInput if a record is incomplete and more input
	// is required before progress can resume.
	Next() (row []Cell, err error)
}

// Closer is implemented by a RecordDecoder that needs to know no more
// input is coming, so that trailing buffered bytes without an explicit
// terminator (e.g. a CSV file whose last line has no trailing newline)
// can still be recognised as a complete final record rather than an
// indefinite "need more input".
type Closer interface {
	Close()
}

// SchemaInferred is implemented by a RecordDecoder that can discover its
// own schema from the data (JSON, constructed with a nil schema per
// §4.2's "JSON ... can decode with or without a priori schema"). The
// Consumer asks for it once, right after the first row decodes
// successfully, since that is the earliest point a field list exists.
type SchemaInferred interface {
	InferredSchema() *types.SchemaDefinition
}

// Consumer drives a RecordDecoder through the INITIAL/IN_ARRAY/
// MID_RECORD/RECORD_COMPLETE/END_OF_STREAM states, accumulating decoded
// rows into Batches bounded by batchSize and finalizing dictionary
// staging at each batch boundary.
type Consumer struct {
	schema    *types.SchemaDefinition
	decoder   RecordDecoder
	batchSize int
	state     State
	batch     *Batch
	dicts     map[string]*dictstage.Dictionary
}

// NewConsumer constructs a Consumer. schema may be nil when decoder
// implements SchemaInferred (JSON without a declared schema); the
// Batch is then allocated lazily once the first row reveals the field
// list. dicts may be nil to start every categorical column as a fresh
// dynamic dictionary, or may carry pre-seeded fixed dictionaries keyed
// by field name.
func NewConsumer(schema *types.SchemaDefinition, decoder RecordDecoder, batchSize int, dicts map[string]*dictstage.Dictionary) *Consumer {
	if batchSize <= 0 {
		batchSize = 1024
	}
	if dicts == nil {
		dicts = make(map[string]*dictstage.Dictionary)
	}
	c := &Consumer{
		schema:    schema,
		decoder:   decoder,
		batchSize: batchSize,
		state:     StateInitial,
		dicts:     dicts,
	}
	if schema != nil {
		c.batch = NewBatch(schema, batchSize)
	}
	return c
}

// Close signals the decoder that the upstream byte source has ended, if
// the decoder implements Closer. A subsequent Poll may then surface a
// final record that had no trailing terminator buffered.
func (c *Consumer) Close() {
	if cl, ok := c.decoder.(Closer); ok {
		cl.Close()
	}
}

// Schema returns the schema the Consumer is currently decoding against.
// For a Consumer constructed without a declared schema, it is nil until
// the first row has been decoded.
func (c *Consumer) Schema() *types.SchemaDefinition {
	return c.schema
}

// Feed appends more raw bytes for the decoder to consume.
func (c *Consumer) Feed(chunk []byte) {
	if c.state == StateInitial {
		c.state = StateInArray
	}
	c.decoder.Feed(chunk)
}

// Poll drives decoding forward until a batch becomes ready, the fed
// input is exhausted mid-record (needMore == true), or the stream ends
// (io.EOF, with any final partial batch returned first).
func (c *Consumer) Poll() (batch *Batch, needMore bool, err error) {
	for {
		row, derr := c.decoder.Next()
		switch {
		case derr == ErrNeedMoreInput:
			c.state = StateMidRecord
			return nil, true, nil

		case derr == io.EOF:
			c.state = StateEndOfStream
			if c.batch == nil || c.batch.RowCount == 0 {
				return nil, false, io.EOF
			}
			return c.finalizeBatch()

		case derr != nil:
			return nil, false, derr
		}

		c.state = StateRecordComplete
		if c.batch == nil {
			if err := c.adoptInferredSchema(); err != nil {
				return nil, false, err
			}
		}
		if err := c.batch.AppendRow(row); err != nil {
			return nil, false, err
		}
		if c.batch.RowCount == c.batchSize {
			return c.finalizeBatch()
		}
		c.state = StateInArray
	}
}

func (c *Consumer) adoptInferredSchema() error {
	si, ok := c.decoder.(SchemaInferred)
	if !ok {
		return errors.New(errors.EUnexpected, "decoder has no declared schema and cannot infer one")
	}
	schema := si.InferredSchema()
	if schema == nil {
		return errors.New(errors.EUnexpected, "decoder reported no inferred schema after decoding a row")
	}
	c.schema = schema
	c.batch = NewBatch(schema, c.batchSize)
	return nil
}

func (c *Consumer) finalizeBatch() (*Batch, bool, error) {
	if err := c.batch.BatchReady(c.dicts); err != nil {
		return nil, false, err
	}
	ready := c.batch
	c.batch = NewBatch(c.schema, c.batchSize)
	return ready, false, nil
}
