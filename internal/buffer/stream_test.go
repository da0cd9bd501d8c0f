package buffer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/buffer"
)

func TestWriteToStreamConcatenation(t *testing.T) {
	alloc := buffer.NewAllocator("REQ-1", 0)
	first, err := buffer.NewChunkBuffer(alloc, 4)
	require.NoError(t, err)

	var delivered bytes.Buffer
	sink := func(b *buffer.ChunkBuffer) error {
		delivered.Write(b.Readable())
		b.Release()
		return nil
	}

	partial, err := buffer.WriteToStream(alloc, []byte("hello world"), first, 4, sink)
	require.NoError(t, err)

	// Flush the trailing partial buffer and confirm byte-for-byte
	// concatenation, per the write_to_stream guarantee.
	_, err = buffer.FlushStream(partial, sink)
	require.NoError(t, err)

	require.Equal(t, "hello world", delivered.String())
	require.Zero(t, alloc.Retained(), "no buffer should remain retained after flush")
}

func TestFlushStreamReleasesEmptyBuffer(t *testing.T) {
	alloc := buffer.NewAllocator("REQ-2", 0)
	buf, err := buffer.NewChunkBuffer(alloc, 8)
	require.NoError(t, err)

	called := false
	_, err = buffer.FlushStream(buf, func(*buffer.ChunkBuffer) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, called, "an empty buffer must be released, not delivered")
	require.Zero(t, alloc.Retained())
}

func TestCloseStreamReleasesWithoutDelivery(t *testing.T) {
	alloc := buffer.NewAllocator("REQ-3", 0)
	buf, err := buffer.NewChunkBuffer(alloc, 8)
	require.NoError(t, err)
	buf.Append([]byte("abc"))

	buffer.CloseStream(buf)
	require.Zero(t, alloc.Retained())
}

func TestReadFromStreamReleasesAsItGoes(t *testing.T) {
	alloc := buffer.NewAllocator("REQ-4", 0)
	src := bytes.NewReader(bytes.Repeat([]byte("x"), 10))

	var total int
	err := buffer.ReadFromStream(alloc, src, 3, func(b *buffer.ChunkBuffer) error {
		total += b.Len()
		b.Release()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 10, total)
	require.Zero(t, alloc.Retained())
}

func TestAllocatorRejectsOverMax(t *testing.T) {
	alloc := buffer.NewAllocator("REQ-5", 10)
	_, err := buffer.NewChunkBuffer(alloc, 20)
	require.ErrorIs(t, err, buffer.ErrResourceExhausted)
}

func TestClonePreventsPrematureRelease(t *testing.T) {
	alloc := buffer.NewAllocator("REQ-6", 0)
	buf, err := buffer.NewChunkBuffer(alloc, 4)
	require.NoError(t, err)
	buf.Append([]byte("ab"))

	clone := buf.Clone()
	buf.Release()
	require.NotZero(t, alloc.Retained(), "clone still holds a reference")

	clone.Release()
	require.Zero(t, alloc.Retained())
}
