package rpc

import (
	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/storage"
)

// uploadAllocatorMax bounds the allocator UploadSource charges incoming
// network bytes against before they reach internal/dataplane's own
// per-request allocator for the decode/encode/storage stages. Two
// allocators rather than one shared instance per request is a
// deliberate simplification over §5's "each request owns a child
// memory allocator": C6's upload-side buffers and C5's codec/storage
// buffers are retained for genuinely disjoint lifetimes (the former
// released as soon as each chunk is handed to the decoder, the latter
// spanning the whole transcode), so tracking them separately costs
// nothing in practice while keeping internal/dataplane's already-tested
// Service methods free of a threaded-through allocator parameter.
const uploadAllocatorMax = 128 << 20

func newRequestAllocator() *buffer.Allocator {
	return buffer.NewAllocator(storage.NextRequestAllocatorName(), uploadAllocatorMax)
}
