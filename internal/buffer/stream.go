package buffer

import "io"

// Sink receives completed chunk buffers and takes ownership of each one
// it accepts. A sink that returns an error aborts the remainder of the
// write and has not taken the buffer it was given; the function that
// called it (WriteToStream, FlushStream, ReadFromStream) releases that
// buffer before returning the error.
type Sink func(*ChunkBuffer) error

// ChunkStream is a lazy, finite sequence of ChunkBuffer values produced
// and consumed cooperatively; in this package it is realized simply as
// a buffered Go channel, since that already gives the cooperative
// backpressure the specification asks for (a full channel blocks the
// producer).
type ChunkStream chan *ChunkBuffer

// NewChunkStream constructs a ChunkStream with the given channel
// capacity (the "bounded queue" of §4.3/§5).
func NewChunkStream(capacity int) ChunkStream {
	return make(ChunkStream, capacity)
}

// WriteToStream appends bytes from src into target; each time target
// becomes full, it is delivered to sink and a fresh chunk of chunkSize
// bytes is allocated to continue writing into. It returns the
// still-partial buffer (or nil if src was fully consumed exactly on a
// chunk boundary). No buffer is leaked if sink runs to completion; if
// sink or the allocator returns an error, the partial buffer is released
// before the error propagates.
func WriteToStream(alloc *Allocator, src []byte, target *ChunkBuffer, chunkSize int, sink Sink) (*ChunkBuffer, error) {
	for len(src) > 0 {
		n := target.Append(src)
		src = src[n:]

		if !target.Full() {
			break
		}

		if err := sink(target); err != nil {
			target.Release()
			return nil, err
		}

		if len(src) == 0 {
			return nil, nil
		}

		next, err := NewChunkBuffer(alloc, chunkSize)
		if err != nil {
			return nil, err
		}
		target = next
	}
	return target, nil
}

// FlushStream delivers buffer to sink if it has unread bytes, or
// releases it if empty. It always returns nil for the caller's "current
// partial buffer" slot, since after a flush there is no partial buffer
// left to track.
func FlushStream(buffer *ChunkBuffer, sink Sink) (*ChunkBuffer, error) {
	if buffer == nil {
		return nil, nil
	}
	if buffer.Len() > 0 {
		if err := sink(buffer); err != nil {
			buffer.Release()
			return nil, err
		}
		return nil, nil
	}
	buffer.Release()
	return nil, nil
}

// CloseStream releases buffer without delivering it to any sink. It is
// a no-op if buffer is nil.
func CloseStream(buffer *ChunkBuffer) {
	if buffer != nil {
		buffer.Release()
	}
}

// ReadFromStream consumes src fully, slicing it into chunkSize windows
// (bounded by math.MaxInt32, per the specification's reference to
// Integer.MAX) and handing each filled buffer to sink, which takes
// ownership of it; a read that yields no bytes releases its buffer. It is
// the read-path counterpart to WriteToStream, used when the producer
// already holds the entire payload in memory (e.g. a storage read).
func ReadFromStream(alloc *Allocator, src io.Reader, chunkSize int, sink Sink) error {
	if chunkSize <= 0 || chunkSize > maxChunk {
		chunkSize = maxChunk
	}
	for {
		buf, err := NewChunkBuffer(alloc, chunkSize)
		if err != nil {
			return err
		}
		n, rerr := io.ReadFull(src, buf.data)
		buf.writeIndex = n
		if n > 0 {
			if serr := sink(buf); serr != nil {
				buf.Release()
				return serr
			}
		} else {
			buf.Release()
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

const maxChunk = 1 << 31 - 1 // Integer.MAX_VALUE equivalent
