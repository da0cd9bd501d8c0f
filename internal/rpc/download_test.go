package rpc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/buffer"
	"github.com/tracdap/trac-core/internal/rpc"
)

type recordingMsg struct {
	meta    bool
	content []byte
}

type recordingSender struct {
	sent []recordingMsg
	fail error
}

func (s *recordingSender) Send(m recordingMsg) error {
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, m)
	return nil
}

func chunkStreamOf(t *testing.T, alloc *buffer.Allocator, parts ...string) buffer.ChunkStream {
	t.Helper()
	ch := buffer.NewChunkStream(len(parts))
	for _, p := range parts {
		buf, err := buffer.WrapChunkBuffer(alloc, []byte(p))
		require.NoError(t, err)
		ch <- buf
	}
	close(ch)
	return ch
}

func TestDownloadSinkStreamingSendsMetaThenContent(t *testing.T) {
	alloc := buffer.NewAllocator("REQ-download-1", 0)
	sender := &recordingSender{}
	sink := rpc.NewDownloadSink[recordingMsg](sender, rpc.Streaming, 0,
		func() recordingMsg { return recordingMsg{meta: true} },
		func(b []byte) recordingMsg { return recordingMsg{content: b} },
	)

	require.NoError(t, sink.Drive(chunkStreamOf(t, alloc, "ab", "cd")))
	require.Len(t, sender.sent, 3)
	require.True(t, sender.sent[0].meta)
	require.Equal(t, "ab", string(sender.sent[1].content))
	require.Equal(t, "cd", string(sender.sent[2].content))
	require.Zero(t, alloc.Retained())
}

func TestDownloadSinkAggregatedCombinesIntoOneMessage(t *testing.T) {
	alloc := buffer.NewAllocator("REQ-download-2", 0)
	sender := &recordingSender{}
	sink := rpc.NewDownloadSink[recordingMsg](sender, rpc.Aggregated, 0,
		func() recordingMsg { return recordingMsg{meta: true} },
		func(b []byte) recordingMsg { return recordingMsg{content: b} },
	)

	require.NoError(t, sink.Drive(chunkStreamOf(t, alloc, "hello ", "world")))
	require.Len(t, sender.sent, 1, "aggregated mode sends exactly one message")
	require.Equal(t, "hello world", string(sender.sent[0].content))
	require.Zero(t, alloc.Retained())
}

func TestDownloadSinkAggregatedRejectsOversizedStream(t *testing.T) {
	alloc := buffer.NewAllocator("REQ-download-3", 0)
	sender := &recordingSender{}
	sink := rpc.NewDownloadSink[recordingMsg](sender, rpc.Aggregated, 4,
		func() recordingMsg { return recordingMsg{} },
		func(b []byte) recordingMsg { return recordingMsg{content: b} },
	)

	err := sink.Drive(chunkStreamOf(t, alloc, "hello", "world"))
	require.Error(t, err)
	require.Empty(t, sender.sent)
	require.Zero(t, alloc.Retained(), "rejected stream must still release every chunk")
}
