package buffer

import (
	"sync/atomic"

	trcerr "github.com/tracdap/trac-core/internal/errors"
)

// ErrResourceExhausted is returned by Allocator.Reserve when a request's
// allocator would exceed its maximum reservation (§5 resource policy).
var ErrResourceExhausted = trcerr.New(trcerr.EDataSize, "allocator at maximum reservation")

// ChunkBuffer is a reference-counted, contiguous byte region with a
// cursor pair (readIndex, writeIndex). It is the unit of transfer
// through every stream in the data plane: upload adapters and storage
// reads create buffers, the codec pipeline forwards or splices them, and
// the first stage that does not forward a buffer releases it.
//
// ChunkBuffer is move-only by convention: callers that need to retain a
// reference after forwarding must call Clone explicitly, which bumps the
// reference count rather than copying bytes.
type ChunkBuffer struct {
	alloc *Allocator
	data  []byte

	readIndex  int
	writeIndex int

	refs *int32
}

// NewChunkBuffer allocates a buffer of the given capacity from alloc. It
// is empty (writeIndex == 0) and ready to be appended to.
func NewChunkBuffer(alloc *Allocator, capacity int) (*ChunkBuffer, error) {
	if err := alloc.Reserve(capacity); err != nil {
		return nil, err
	}
	refs := int32(1)
	return &ChunkBuffer{
		alloc: alloc,
		data:  make([]byte, capacity),
		refs:  &refs,
	}, nil
}

// WrapChunkBuffer constructs a buffer directly over an existing slice
// (e.g. bytes read from a storage driver) without a fresh allocation,
// charging its length against alloc.
func WrapChunkBuffer(alloc *Allocator, data []byte) (*ChunkBuffer, error) {
	if err := alloc.Reserve(len(data)); err != nil {
		return nil, err
	}
	refs := int32(1)
	return &ChunkBuffer{
		alloc:      alloc,
		data:       data,
		writeIndex: len(data),
		refs:       &refs,
	}, nil
}

// Len returns the number of unread bytes between readIndex and
// writeIndex.
func (b *ChunkBuffer) Len() int {
	return b.writeIndex - b.readIndex
}

// Cap returns the total backing capacity.
func (b *ChunkBuffer) Cap() int {
	return len(b.data)
}

// Readable returns the slice of unread bytes. The returned slice aliases
// the buffer's storage and must not be retained past the buffer's
// release.
func (b *ChunkBuffer) Readable() []byte {
	return b.data[b.readIndex:b.writeIndex]
}

// Advance moves readIndex forward by n bytes, as a consumer drains the
// buffer.
func (b *ChunkBuffer) Advance(n int) {
	b.readIndex += n
}

// Append copies src into the buffer's free space (between writeIndex and
// Cap), returning the number of bytes actually copied (bounded by free
// space).
func (b *ChunkBuffer) Append(src []byte) int {
	free := len(b.data) - b.writeIndex
	n := len(src)
	if n > free {
		n = free
	}
	copy(b.data[b.writeIndex:], src[:n])
	b.writeIndex += n
	return n
}

// Full reports whether the buffer's free space is exhausted.
func (b *ChunkBuffer) Full() bool {
	return b.writeIndex == len(b.data)
}

// Clone bumps the reference count and returns a shallow handle sharing
// the same backing storage and cursors are independent copies going
// forward: Clone is for the "explicit clone where sharing is needed"
// case (§9 design notes), e.g. handing the same content to two
// downstream codecs.
func (b *ChunkBuffer) Clone() *ChunkBuffer {
	atomic.AddInt32(b.refs, 1)
	clone := *b
	return &clone
}

// Release decrements the reference count, returning the backing bytes
// to the allocator's retained-byte accounting once the count reaches
// zero. Release is idempotent from the caller's perspective: calling it
// again on a buffer whose count has already reached zero only moves the
// count further below zero and leaves the allocator's accounting as it
// was.
func (b *ChunkBuffer) Release() {
	if atomic.AddInt32(b.refs, -1) == 0 {
		b.alloc.Release(len(b.data))
	}
}
