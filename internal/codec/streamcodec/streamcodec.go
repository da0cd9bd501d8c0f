// Package streamcodec is the data-plane service's entry point into the
// codec engine (C2): it names the three wire codecs of §4.2 as a
// Format, and drives the format-specific decoder/encoder against the
// buffer.ChunkStream values the rest of the data plane already speaks,
// so C5 never imports csv/jsoncodec/arrowcodec directly. CSV and JSON
// are driven through the shared codec.Consumer state machine; Arrow IPC
// is driven directly, since its own message framing already gives batch
// boundaries (§4.2.1's one intentional asymmetry).
package streamcodec

import (
	"io"
	"time"

	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/codec/arrowcodec"
	"github.com/tracdap/trac-core/internal/codec/csv"
	"github.com/tracdap/trac-core/internal/codec/jsoncodec"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/types"
)

// Format identifies one of the three codecs a StorageLocator or
// DataWriteRequest names.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatJSON
	FormatArrow
)

// ParseFormat maps a codec name, as it appears on a StorageLocator or a
// request's declared format, to a Format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "csv", "text/csv":
		return FormatCSV, nil
	case "json", "application/json":
		return FormatJSON, nil
	case "arrow", "arrows", "application/vnd.apache.arrow.stream":
		return FormatArrow, nil
	default:
		return FormatUnknown, errors.New(errors.EInputValidation, "unrecognised codec %q", name)
	}
}

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	case FormatArrow:
		return "arrow"
	default:
		return "unknown"
	}
}

// Extension is the on-disk file extension this Format is stored under.
// Internal storage always uses ArrowExtension regardless of a dataset's
// input/output wire codec (§6's on-disk layout names data.arrows).
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	case FormatArrow:
		return "arrows"
	default:
		return "bin"
	}
}

// ArrowExtension is the fixed on-disk extension for internal storage
// per §6 ("{bucket_root}/data/{U}/{V}/data.arrows").
const ArrowExtension = "arrows"

// BatchWriter is the common write-path shape of the three codec
// encoders; Close terminates the stream (end-of-array bracket, Arrow
// end-of-stream footer, or a no-op for CSV).
type BatchWriter interface {
	WriteBatch(b *codec.Batch) error
	Close() error
}

// NewEncoder constructs the write-path encoder for format, writing to w.
func NewEncoder(format Format, w io.Writer) (BatchWriter, error) {
	switch format {
	case FormatCSV:
		return csvWriter{csv.NewEncoder(w)}, nil
	case FormatJSON:
		return &jsonWriter{enc: jsoncodec.NewEncoder(), w: w}, nil
	case FormatArrow:
		return arrowcodec.NewEncoder(w), nil
	default:
		return nil, errors.New(errors.EInputValidation, "unsupported output codec")
	}
}

type csvWriter struct{ *csv.Encoder }

func (csvWriter) Close() error { return nil }

type jsonWriter struct {
	enc *jsoncodec.Encoder
	w   io.Writer
}

func (j *jsonWriter) WriteBatch(b *codec.Batch) error { return j.enc.WriteBatch(j.w, b) }
func (j *jsonWriter) Close() error                    { return j.enc.Close(j.w) }

// DecodeStream decodes the wire bytes arriving on in (already split from
// any leading request message by the rpc layer) into onBatch, called
// once per completed Batch, in order. declared is the schema to decode
// against; it must be non-nil for CSV (§4.2: "a CSV decoder requires a
// pre-declared schema"), and may be nil for JSON or Arrow to infer the
// schema from the data itself. opts controls batch size and, for CSV,
// lenient date parsing.
//
// DecodeStream releases every chunk it reads from in exactly once, per
// the ownership-handoff invariant (§3 invariant 7): whichever decoder
// path is chosen below is the stage that does not forward the buffer
// further, so it is the one responsible for releasing it.
func DecodeStream(format Format, declared *types.SchemaDefinition, opts codec.Options, in buffer.ChunkStream, onBatch func(*codec.Batch) error) (schema *types.SchemaDefinition, err error) {
	start := time.Now()
	defer func() { observeDecode(format, start, err) }()

	switch format {
	case FormatCSV:
		if declared == nil {
			return nil, errors.New(errors.EInputValidation, "csv decoding requires a declared schema")
		}
		consumer := codec.NewConsumer(declared, csv.NewDecoder(declared, opts), opts.BatchSize, nil)
		if err := decodeRowStream(consumer, in, onBatch); err != nil {
			return nil, err
		}
		return consumer.Schema(), nil

	case FormatJSON:
		consumer := codec.NewConsumer(declared, jsoncodec.NewDecoder(declared), opts.BatchSize, nil)
		if err := decodeRowStream(consumer, in, onBatch); err != nil {
			return nil, err
		}
		return consumer.Schema(), nil

	case FormatArrow:
		return decodeArrowStream(declared, in, onBatch)

	default:
		return nil, errors.New(errors.EInputValidation, "unsupported input codec")
	}
}

// decodeRowStream drives a codec.Consumer from a ChunkStream: feed
// arriving chunks, poll for completed batches, and on channel close
// allow the decoder exactly one more poll (to surface a final batch
// whose trailing terminator was already fully buffered) before treating
// persistent "need more input" as truncated data.
func decodeRowStream(consumer *codec.Consumer, in buffer.ChunkStream, onBatch func(*codec.Batch) error) error {
	for {
		batch, needMore, err := consumer.Poll()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if batch != nil {
			if err := onBatch(batch); err != nil {
				return err
			}
			continue
		}
		if !needMore {
			continue
		}
		chunk, ok := <-in
		if !ok {
			consumer.Close()
			return drainToEOF(consumer, onBatch)
		}
		consumer.Feed(chunk.Readable())
		chunk.Release()
	}
}

func drainToEOF(consumer *codec.Consumer, onBatch func(*codec.Batch) error) error {
	batch, needMore, err := consumer.Poll()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	if batch != nil {
		return onBatch(batch)
	}
	if needMore {
		return errors.New(errors.EDataCorruption, "input ended mid-record")
	}
	return nil
}

func decodeArrowStream(declared *types.SchemaDefinition, in buffer.ChunkStream, onBatch func(*codec.Batch) error) (*types.SchemaDefinition, error) {
	r := newChunkReader(in)
	dec, err := arrowcodec.NewDecoder(r, declared)
	if err != nil {
		r.drain()
		return nil, err
	}
	var schema *types.SchemaDefinition
	for {
		batch, err := dec.Next()
		if err == io.EOF {
			r.drain()
			if schema == nil {
				schema = declared
			}
			return schema, nil
		}
		if err != nil {
			r.drain()
			return nil, err
		}
		schema = batch.Schema
		if err := onBatch(batch); err != nil {
			r.drain()
			return nil, err
		}
	}
}

// DefaultWriteChunkSize is the chunk size EncodeStream allocates when
// none is supplied.
const DefaultWriteChunkSize = 64 * 1024

// EncodeStream drives batches, pulled from next until it returns
// (nil, io.EOF), through format's encoder and out into a freshly
// allocated ChunkStream chunked to chunkSize, ready to be handed
// straight to a storage.Store.Write call. It returns the stream and a
// one-shot result channel that receives nil on success or the first
// error encountered, once encoding has finished and the stream has been
// closed — the write-path mirror of DecodeStream, built on the C1
// write_to_stream/flush_stream/close_stream contract so no allocated
// chunk is ever leaked or double-released.
func EncodeStream(alloc *buffer.Allocator, format Format, chunkSize int, next func() (*codec.Batch, error)) (buffer.ChunkStream, <-chan error) {
	encodesStarted.WithLabelValues(format.String()).Inc()
	if chunkSize <= 0 {
		chunkSize = DefaultWriteChunkSize
	}
	out := buffer.NewChunkStream(storageQueueCapacity)
	done := make(chan error, 1)

	go func() {
		defer close(out)
		w := &chunkWriterAdapter{alloc: alloc, chunkSize: chunkSize, out: out}
		defer func() { buffer.CloseStream(w.cur) }()

		enc, err := NewEncoder(format, w)
		if err != nil {
			done <- err
			return
		}
		for {
			batch, berr := next()
			if berr == io.EOF {
				break
			}
			if berr != nil {
				done <- berr
				return
			}
			if werr := enc.WriteBatch(batch); werr != nil {
				done <- werr
				return
			}
		}
		if err := enc.Close(); err != nil {
			done <- err
			return
		}
		done <- w.finish()
	}()

	return out, done
}

// storageQueueCapacity mirrors storage.QueueCapacity (the bounded queue
// capacity of §4.3); duplicated as a literal constant here, since
// streamcodec does not import internal/storage, so the two values are
// kept equal by hand.
const storageQueueCapacity = 32

// chunkWriterAdapter implements io.Writer over a ChunkStream, using the
// C1 write_to_stream/flush_stream contract (buffer.WriteToStream /
// buffer.FlushStream) to turn a sequence of Write calls into a sequence
// of fixed-size ChunkBuffers delivered to out.
type chunkWriterAdapter struct {
	alloc     *buffer.Allocator
	chunkSize int
	out       buffer.ChunkStream
	cur       *buffer.ChunkBuffer
}

func (w *chunkWriterAdapter) Write(p []byte) (int, error) {
	if w.cur == nil {
		buf, err := buffer.NewChunkBuffer(w.alloc, w.chunkSize)
		if err != nil {
			return 0, err
		}
		w.cur = buf
	}
	next, err := buffer.WriteToStream(w.alloc, p, w.cur, w.chunkSize, w.deliver)
	w.cur = next
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *chunkWriterAdapter) deliver(b *buffer.ChunkBuffer) error {
	w.out <- b
	return nil
}

// finish flushes any still-partial buffer (or releases it if empty) per
// C1's flush_stream contract, called once the encoder reports
// end-of-stream.
func (w *chunkWriterAdapter) finish() error {
	_, err := buffer.FlushStream(w.cur, w.deliver)
	w.cur = nil
	return err
}

// chunkReader adapts a buffer.ChunkStream into an io.Reader, for the
// Arrow IPC reader (apache/arrow/go/v18's ipc.Reader wants a real
// io.Reader, unlike the Feed-driven CSV/JSON decoders).
type chunkReader struct {
	in  buffer.ChunkStream
	cur *buffer.ChunkBuffer
}

func newChunkReader(in buffer.ChunkStream) *chunkReader {
	return &chunkReader{in: in}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for r.cur == nil || r.cur.Len() == 0 {
		if r.cur != nil {
			r.cur.Release()
			r.cur = nil
		}
		buf, ok := <-r.in
		if !ok {
			return 0, io.EOF
		}
		r.cur = buf
	}
	n := copy(p, r.cur.Readable())
	r.cur.Advance(n)
	return n, nil
}

// drain releases any buffer this reader is still holding and discards
// whatever the upstream channel has left, so a decode error never
// leaks the remainder of an in-flight upload (§3 invariant 7).
func (r *chunkReader) drain() {
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	for buf := range r.in {
		buf.Release()
	}
}
