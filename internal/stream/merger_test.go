package stream_test

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conversly/chat-gateway/internal/stream"
)

// collect drains the merger and decodes every data line except [DONE].
func collect(t *testing.T, m *stream.Merger) ([]stream.Frame, int) {
	t.Helper()
	var frames []stream.Frame
	done := 0
	for chunk := range m.Output() {
		line := strings.TrimSuffix(strings.TrimPrefix(string(chunk), "data: "), "\n\n")
		if line == "[DONE]" {
			done++
			continue
		}
		var f stream.Frame
		require.NoError(t, json.Unmarshal([]byte(line), &f))
		frames = append(frames, f)
	}
	return frames, done
}

func TestMergerPreservesWriteOrder(t *testing.T) {
	m := stream.NewMerger(4)

	go func() {
		for _, d := range []string{"a", "b", "c", "d", "e", "f"} {
			_ = m.Write(stream.Frame{Type: stream.FrameTextDelta, Delta: d})
		}
		m.Close()
	}()

	frames, done := collect(t, m)
	require.Len(t, frames, 7)
	var deltas []string
	for _, f := range frames[:6] {
		deltas = append(deltas, f.Delta)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, deltas)
	assert.Equal(t, stream.FrameFinish, frames[6].Type)
	assert.Equal(t, 1, done)
}

func TestMergerClosesExactlyOnce(t *testing.T) {
	m := stream.NewMerger(16)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Close()
		}()
	}
	wg.Wait()

	frames, done := collect(t, m)
	assert.Len(t, frames, 1)
	assert.Equal(t, 1, done)
	assert.True(t, m.Closed())
}

func TestMergerRejectsWritesAfterClose(t *testing.T) {
	m := stream.NewMerger(16)
	m.Close()

	err := m.Write(stream.Frame{Type: stream.FrameTextDelta, Delta: "late"})
	assert.ErrorIs(t, err, stream.ErrClosed)
}

func TestEncode(t *testing.T) {
	chunk, err := stream.Encode(stream.Frame{Type: stream.FrameError, ErrorText: "boom"})
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"error-message\",\"errorText\":\"boom\"}\n\n", string(chunk))
}
