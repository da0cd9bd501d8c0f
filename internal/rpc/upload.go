package rpc

import (
	"context"
	"io"
	"sync"

	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/errors"
)

// Receiver is the minimal shape of a gRPC server-side client stream this
// package needs: grpc.ServerStream's generated Recv method for one
// message type T.
type Receiver[T any] interface {
	Recv() (T, error)
}

// UploadSource adapts a client stream whose first message carries both
// metadata and (optionally) the first chunk of content into the two
// consumers §4.6 describes: FirstMessage, which resolves once the
// leading message arrives, and DataStream, a lazily-pumped chunk
// producer.
//
// The source's flow-control model (explicit request-one-then-pull-
// driven) is reactive-streams terminology tied to the RxJava upload
// adapter this is ported from; grpc-go has no equivalent manual
// request(n) API. The idiomatic-Go rendering kept here is: the pump
// goroutine that drives Recv is not started until DataStream is first
// read, and every subsequent Recv only happens after the previous
// chunk has been taken off the (unbuffered) output channel — so
// "requests further messages in response to downstream pull" holds by
// construction rather than by an explicit credit count.
type UploadSource[T any] struct {
	recv    Receiver[T]
	content func(T) []byte
	alloc   *buffer.Allocator

	firstOnce sync.Once
	first     T
	firstErr  error

	pumpOnce sync.Once
	dataCh   buffer.ChunkStream
}

// NewUploadSource constructs an UploadSource over recv, extracting
// content bytes from each received message via content.
func NewUploadSource[T any](recv Receiver[T], content func(T) []byte, alloc *buffer.Allocator) *UploadSource[T] {
	return &UploadSource[T]{recv: recv, content: content, alloc: alloc, dataCh: buffer.NewChunkStream(0)}
}

// FirstMessage blocks until the leading message has arrived (or the
// stream fails before delivering one), then returns it. It is safe to
// call more than once; later calls return the cached result.
func (u *UploadSource[T]) FirstMessage() (T, error) {
	u.firstOnce.Do(func() {
		u.first, u.firstErr = u.recv.Recv()
		if u.firstErr != nil {
			u.firstErr = errors.Wrap(errors.ECancelled, u.firstErr, "reading first upload message")
		}
	})
	return u.first, u.firstErr
}

// DataStream returns the content chunk producer. The first call starts
// the pump goroutine; later calls return the same channel. ctx governs
// cancellation: when it is done, any buffer the pump is holding is
// released and the channel is closed without further sends.
func (u *UploadSource[T]) DataStream(ctx context.Context) buffer.ChunkStream {
	u.pumpOnce.Do(func() { go u.pump(ctx) })
	return u.dataCh
}

func (u *UploadSource[T]) pump(ctx context.Context) {
	defer close(u.dataCh)

	first, err := u.FirstMessage()
	if err != nil {
		return
	}
	if b := u.content(first); len(b) > 0 {
		if !u.emit(ctx, b) {
			return
		}
	}

	for {
		msg, err := u.recv.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		if b := u.content(msg); len(b) > 0 {
			if !u.emit(ctx, b) {
				return
			}
		}
	}
}

// emit copies b into a fresh ChunkBuffer charged to the request
// allocator and sends it downstream, releasing it instead if ctx is
// already done before the send can happen (the cancellation path of
// §5: "release all buffered chunks").
func (u *UploadSource[T]) emit(ctx context.Context, b []byte) bool {
	buf, err := buffer.WrapChunkBuffer(u.alloc, b)
	if err != nil {
		return false
	}
	select {
	case u.dataCh <- buf:
		return true
	case <-ctx.Done():
		buf.Release()
		return false
	}
}
