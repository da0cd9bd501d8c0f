package rpc

import (
	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/errors"
)

// Sender is the minimal shape of a gRPC server-side response stream:
// grpc.ServerStream's generated Send method for one message type T.
type Sender[T any] interface {
	Send(T) error
}

// Mode selects how DownloadSink delivers a ChunkStream to a Sender.
type Mode int

const (
	// Streaming sends the metadata-only message first, then one
	// content-only message per chunk (§4.6's default streaming mode).
	Streaming Mode = iota
	// Aggregated assembles the whole stream into one in-memory buffer
	// and sends a single combined message at end-of-stream.
	Aggregated
)

// DownloadSink drives a buffer.ChunkStream into a Sender[T], with T's
// two shapes (metadata-only, content-only) supplied by the caller as
// constructor functions so this package stays generic over the two
// concrete wire response types (DataReadResponse, FileReadResponse).
type DownloadSink[T any] struct {
	send         Sender[T]
	metaMessage  func() T
	contentOf    func([]byte) T
	mode         Mode
	maxAggregate int // 0 means unbounded
}

// NewDownloadSink constructs a sink over send. metaMessage builds the
// metadata-only first message (Streaming mode) or is combined with the
// sole assembled buffer (Aggregated mode, via contentOf plus whatever
// metaMessage's caller merges in — see dataplane handlers). contentOf
// wraps a raw byte slice as a content-only message.
func NewDownloadSink[T any](send Sender[T], mode Mode, maxAggregate int, metaMessage func() T, contentOf func([]byte) T) *DownloadSink[T] {
	return &DownloadSink[T]{send: send, metaMessage: metaMessage, contentOf: contentOf, mode: mode, maxAggregate: maxAggregate}
}

// Drive sends the metadata message (Streaming mode only) followed by the
// content of stream, per this sink's Mode. It always fully drains
// stream, releasing every chunk, even on a send error, so the caller
// never has to reason about partially-consumed buffers.
func (d *DownloadSink[T]) Drive(stream buffer.ChunkStream) error {
	switch d.mode {
	case Streaming:
		return d.driveStreaming(stream)
	case Aggregated:
		return d.driveAggregated(stream)
	default:
		return errors.New(errors.EUnexpected, "unknown download sink mode %d", d.mode)
	}
}

func (d *DownloadSink[T]) driveStreaming(stream buffer.ChunkStream) error {
	if err := d.send.Send(d.metaMessage()); err != nil {
		drain(stream)
		return errors.Wrap(errors.ECancelled, err, "sending metadata response")
	}
	for chunk := range stream {
		b := append([]byte(nil), chunk.Readable()...)
		chunk.Release()
		if err := d.send.Send(d.contentOf(b)); err != nil {
			drain(stream)
			return errors.Wrap(errors.ECancelled, err, "sending content response")
		}
	}
	return nil
}

// driveAggregated assembles the whole stream into one buffer and hands
// it to contentOf, whose closure is expected to fold in whatever
// metadata the caller needs alongside the content in a single message
// (see the dataplane handlers' small-read helpers) — Aggregated mode
// never calls metaMessage, since there is only one response message.
func (d *DownloadSink[T]) driveAggregated(stream buffer.ChunkStream) error {
	var out []byte
	for chunk := range stream {
		if d.maxAggregate > 0 && len(out)+chunk.Len() > d.maxAggregate {
			chunk.Release()
			drain(stream)
			return errors.New(errors.EDataSize, "aggregated response exceeds %d bytes", d.maxAggregate)
		}
		out = append(out, chunk.Readable()...)
		chunk.Release()
	}
	return d.send.Send(d.contentOf(out))
}

func drain(stream buffer.ChunkStream) {
	for chunk := range stream {
		chunk.Release()
	}
}
