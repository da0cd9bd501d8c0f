package rpc_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/rpc"
)

type fakeMsg struct {
	tenant  string
	content []byte
}

type fakeRecv struct {
	msgs []fakeMsg
	i    int
}

func (f *fakeRecv) Recv() (fakeMsg, error) {
	if f.i >= len(f.msgs) {
		return fakeMsg{}, io.EOF
	}
	m := f.msgs[f.i]
	f.i++
	return m, nil
}

func TestUploadSourceFirstMessageCached(t *testing.T) {
	recv := &fakeRecv{msgs: []fakeMsg{{tenant: "acme", content: []byte("a")}}}
	alloc := buffer.NewAllocator("REQ-upload-1", 0)
	src := rpc.NewUploadSource[fakeMsg](recv, func(m fakeMsg) []byte { return m.content }, alloc)

	first, err := src.FirstMessage()
	require.NoError(t, err)
	require.Equal(t, "acme", first.tenant)

	again, err := src.FirstMessage()
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Equal(t, 1, recv.i, "a second FirstMessage call must not re-read the stream")
}

func TestUploadSourceDataStreamConcatenatesChunks(t *testing.T) {
	recv := &fakeRecv{msgs: []fakeMsg{
		{tenant: "acme", content: []byte("hello ")},
		{content: []byte("world")},
	}}
	alloc := buffer.NewAllocator("REQ-upload-2", 0)
	src := rpc.NewUploadSource[fakeMsg](recv, func(m fakeMsg) []byte { return m.content }, alloc)

	_, err := src.FirstMessage()
	require.NoError(t, err)

	var got []byte
	for chunk := range src.DataStream(context.Background()) {
		got = append(got, chunk.Readable()...)
		chunk.Release()
	}
	require.Equal(t, "hello world", string(got))
	require.Zero(t, alloc.Retained())
}

func TestUploadSourceDataStreamStopsOnCancel(t *testing.T) {
	recv := &fakeRecv{msgs: []fakeMsg{
		{content: []byte("first")},
		{content: []byte("second")},
		{content: []byte("third")},
	}}
	alloc := buffer.NewAllocator("REQ-upload-3", 0)
	src := rpc.NewUploadSource[fakeMsg](recv, func(m fakeMsg) []byte { return m.content }, alloc)

	ctx, cancel := context.WithCancel(context.Background())
	stream := src.DataStream(ctx)

	first := <-stream
	require.Equal(t, "first", string(first.Readable()))
	first.Release()

	cancel()
	for range stream {
		// drain whatever the pump sent before it observed cancellation
	}
	require.Zero(t, alloc.Retained(), "cancellation must release any buffer the pump was holding")
}
