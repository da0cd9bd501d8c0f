package dataplane

import (
	"context"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/codec"
	"github.com/tracdap/trac-core/internal/codec/streamcodec"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/storage"
	"github.com/tracdap/trac-core/internal/types"
)

// batchOrErr carries either a decoded Batch or a terminal decode error
// across the channel between a decode goroutine and its consumer,
// since a plain channel close cannot distinguish "clean end of input"
// from "decode failed partway through".
type batchOrErr struct {
	batch *codec.Batch
	err   error
}

// decodeToChannel runs DecodeStream in its own goroutine, delivering
// each Batch (or a final error) on the returned channel, closed once
// decoding is done. rows accumulates the total row count decoded, for
// the caller to stamp onto a DataDefinition once the pipe completes.
func decodeToChannel(format streamcodec.Format, declared *types.SchemaDefinition, opts codec.Options, in buffer.ChunkStream, rows *int64) (<-chan batchOrErr, <-chan *types.SchemaDefinition) {
	out := make(chan batchOrErr, 4)
	schemaCh := make(chan *types.SchemaDefinition, 1)
	go func() {
		defer close(out)
		schema, err := streamcodec.DecodeStream(format, declared, opts, in, func(b *codec.Batch) error {
			*rows += int64(b.RowCount)
			out <- batchOrErr{batch: b}
			return nil
		})
		schemaCh <- schema
		close(schemaCh)
		if err != nil {
			out <- batchOrErr{err: err}
		}
	}()
	return out, schemaCh
}

// transcode decodes content (in declared/inputFormat) and re-encodes it
// to outputFormat, writing the result to path under store. It is the
// single pipeline both createDataset (input codec -> Arrow) and
// readDataset (Arrow -> requested output codec) drive, chosen so the
// decode-error/encode-error/write-error propagation and partial-file
// cleanup logic is written exactly once (§7: "decoder and storage
// errors terminate the current stream with the buffer release path
// fully executed").
func transcode(
	ctx context.Context,
	alloc *buffer.Allocator,
	store storage.Store,
	path string,
	inputFormat streamcodec.Format,
	declared *types.SchemaDefinition,
	opts codec.Options,
	content buffer.ChunkStream,
	outputFormat streamcodec.Format,
) (outSchema *types.SchemaDefinition, rowCount int64, bytesWritten int64, err error) {

	batches, schemaCh := decodeToChannel(inputFormat, declared, opts, content, &rowCount)

	var decodeErr error
	next := func() (*codec.Batch, error) {
		item, ok := <-batches
		if !ok {
			return nil, io.EOF
		}
		if item.err != nil {
			decodeErr = item.err
			return nil, item.err
		}
		return item.batch, nil
	}

	encOut, encDone := streamcodec.EncodeStream(alloc, outputFormat, 0, next)

	written, writeErr := store.Write(ctx, path, encOut)
	encErr := <-encDone
	outSchema = <-schemaCh

	bytesWritten = written
	switch {
	case decodeErr != nil:
		err = decodeErr
	case encErr != nil:
		err = encErr
	case writeErr != nil:
		err = writeErr
	}
	if err != nil {
		_ = store.Delete(path)
		return nil, 0, bytesWritten, err
	}
	if outSchema == nil {
		outSchema = declared
	}
	return outSchema, rowCount, bytesWritten, nil
}

// readAndRetranscode opens path for reading and re-encodes its stored
// Arrow content to outputFormat, returning a ChunkStream of the
// encoded bytes the caller can hand straight to a DownloadSink. Unlike
// transcode, there is no destination file to clean up on error: the
// caller's gRPC stream simply terminates with the error status (§7).
func readAndRetranscode(
	ctx context.Context,
	alloc *buffer.Allocator,
	store storage.Store,
	path string,
	declared *types.SchemaDefinition,
	outputFormat streamcodec.Format,
	readChunkSize int,
) (buffer.ChunkStream, error) {
	raw, err := store.OpenRead(ctx, path, readChunkSize, alloc)
	if err != nil {
		return nil, err
	}

	var rows int64
	batches, _ := decodeToChannel(streamcodec.FormatArrow, declared, codec.DefaultOptions(), raw, &rows)

	next := func() (*codec.Batch, error) {
		item, ok := <-batches
		if !ok {
			return nil, io.EOF
		}
		if item.err != nil {
			return nil, item.err
		}
		return item.batch, nil
	}

	out, done := streamcodec.EncodeStream(alloc, outputFormat, 0, next)

	// EncodeStream already returns a channel consumers can drive by
	// draining out; wrap it so a decode/encode error surfaces to the
	// reader of the returned stream as a final logged error rather than
	// silently truncating (the gRPC layer observes it via the stream's
	// close together with a side-channel check of done, below).
	monitored := buffer.NewChunkStream(storageQueueCapacityForReads)
	go func() {
		defer close(monitored)
		defer reportLeak(alloc)
		for chunk := range out {
			select {
			case monitored <- chunk:
			case <-ctx.Done():
				chunk.Release()
			}
		}
		if err := <-done; err != nil {
			// The error has already caused `out` to close early; there is
			// no response message left to attach it to beyond what the
			// gRPC handler observes from its own ctx/err plumbing, so it
			// is logged here as the authoritative record of why the
			// stream ended short.
			logTranscodeReadError(path, err)
		}
	}()
	return monitored, nil
}

const storageQueueCapacityForReads = 32

// singleChunkStream wraps data as the sole buffer of a one-shot
// ChunkStream, the shape createSmallDataset/createSmallFile drive the
// streaming implementation with (§4.5.1).
func singleChunkStream(alloc *buffer.Allocator, data []byte) (buffer.ChunkStream, error) {
	out := buffer.NewChunkStream(1)
	if len(data) > 0 {
		buf, err := buffer.WrapChunkBuffer(alloc, data)
		if err != nil {
			close(out)
			return nil, err
		}
		out <- buf
	}
	close(out)
	return out, nil
}

// aggregate drains stream into a single in-memory buffer, the
// AGGREGATED download-sink mode of §4.6: overflowing maxBytes (when
// positive) raises DATA_SIZE_EXCEEDED rather than growing unbounded.
func aggregate(stream buffer.ChunkStream, maxBytes int) ([]byte, error) {
	var out []byte
	for chunk := range stream {
		if maxBytes > 0 && len(out)+chunk.Len() > maxBytes {
			chunk.Release()
			drainAndRelease(stream)
			return nil, errors.New(errors.EDataSize, "aggregated response exceeds %d bytes", maxBytes)
		}
		out = append(out, chunk.Readable()...)
		chunk.Release()
	}
	return out, nil
}

func drainAndRelease(stream buffer.ChunkStream) {
	for chunk := range stream {
		chunk.Release()
	}
}

func logTranscodeReadError(path string, err error) {
	if errors.KindOf(err) == errors.ECancelled {
		return
	}
	log.WithError(err).Warnf("dataplane: read-side transcode failed for %s", path)
}
