package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/errors"
	"github.com/tracdap/trac-core/internal/storage"
)

func writeChunks(t *testing.T, alloc *buffer.Allocator, parts ...string) buffer.ChunkStream {
	t.Helper()
	stream := buffer.NewChunkStream(len(parts))
	for _, p := range parts {
		buf, err := buffer.WrapChunkBuffer(alloc, []byte(p))
		require.NoError(t, err)
		stream <- buf
	}
	close(stream)
	return stream
}

func TestLocalStoreWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewLocalStore(dir)
	alloc := buffer.NewAllocator(storage.NextRequestAllocatorName(), 0)

	chunks := writeChunks(t, alloc, "hello, ", "world")
	n, err := store.Write(context.Background(), "data/U1/1/data.arrows", chunks)
	require.NoError(t, err)
	require.EqualValues(t, 12, n)

	size, err := store.Stat("data/U1/1/data.arrows")
	require.NoError(t, err)
	require.EqualValues(t, 12, size)

	read, err := store.OpenRead(context.Background(), "data/U1/1/data.arrows", 4, alloc)
	require.NoError(t, err)

	var got []byte
	for buf := range read {
		got = append(got, buf.Readable()...)
		buf.Release()
	}
	require.Equal(t, "hello, world", string(got))
	require.Zero(t, alloc.Retained())
}

func TestLocalStoreNoSilentOverwrite(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewLocalStore(dir)
	alloc := buffer.NewAllocator(storage.NextRequestAllocatorName(), 0)

	_, err := store.Write(context.Background(), "data/U1/1/data.arrows", writeChunks(t, alloc, "a"))
	require.NoError(t, err)

	_, err = store.Write(context.Background(), "data/U1/1/data.arrows", writeChunks(t, alloc, "b"))
	require.Error(t, err)
	require.Equal(t, errors.EStorageIO, errors.KindOf(err))
}

func TestLocalStoreCancellationDeletesPartialFile(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewLocalStore(dir)
	alloc := buffer.NewAllocator(storage.NextRequestAllocatorName(), 0)

	stream := buffer.NewChunkStream(8)
	buf, err := buffer.WrapChunkBuffer(alloc, []byte("partial"))
	require.NoError(t, err)
	stream <- buf

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Write(ctx, "data/U2/1/data.arrows", stream)
	require.Error(t, err)
	require.Equal(t, errors.ECancelled, errors.KindOf(err))

	_, statErr := os.Stat(filepath.Join(dir, "data/U2/1/data.arrows"))
	require.True(t, os.IsNotExist(statErr))
}

func TestAdvisoryLockTimesOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	held, err := storage.AcquireExclusive(path)
	require.NoError(t, err)
	defer held.Release()

	_, err = storage.AcquireExclusive(path)
	require.Error(t, err)
	require.Equal(t, errors.ELockTimeout, errors.KindOf(err))
}
