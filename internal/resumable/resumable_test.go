package resumable

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conversly/chat-gateway/internal/stream"
)

func collect(t *testing.T, ch <-chan []byte) []string {
	t.Helper()
	var out []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, string(c))
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
			return nil
		}
	}
}

func openLog(t *testing.T) *BoltLog {
	t.Helper()
	log, err := OpenBoltLog(filepath.Join(t.TempDir(), "streams.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestBoltLogRoundTrip(t *testing.T) {
	log := openLog(t)

	require.NoError(t, log.Begin("s1"))
	require.NoError(t, log.Append("s1", []byte("a")))
	require.NoError(t, log.Append("s1", []byte("b")))

	chunks, done, found, err := log.Read("s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, done)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, chunks)

	require.NoError(t, log.Finish("s1"))
	_, done, _, err = log.Read("s1")
	require.NoError(t, err)
	assert.True(t, done)

	_, _, found, err = log.Read("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltLogAppendWithoutBegin(t *testing.T) {
	log := openLog(t)
	assert.Error(t, log.Append("nope", []byte("x")))
}

func TestBoltLogPrune(t *testing.T) {
	log := openLog(t)
	require.NoError(t, log.Begin("old"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, log.Begin("new"))

	n, err := log.Prune(10*time.Millisecond, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, found, _ := log.Read("old")
	assert.False(t, found)
	_, _, found, _ = log.Read("new")
	assert.True(t, found)
}

func TestBoltLogPrunesFinishedStreamsAfterGrace(t *testing.T) {
	log := openLog(t)
	require.NoError(t, log.Begin("finished"))
	require.NoError(t, log.Append("finished", []byte("a")))
	require.NoError(t, log.Finish("finished"))
	require.NoError(t, log.Begin("interrupted"))
	require.NoError(t, log.Append("interrupted", []byte("b")))

	n, err := log.Prune(time.Hour, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "finished stream is kept during its grace period")

	time.Sleep(20 * time.Millisecond)
	n, err = log.Prune(time.Hour, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, found, _ := log.Read("finished")
	assert.False(t, found)
	_, _, found, _ = log.Read("interrupted")
	assert.True(t, found, "interrupted streams stay resumable until MaxAge")
}

func TestPrunerRemovesFinishedStreamsWhileRunning(t *testing.T) {
	log := openLog(t)
	w := NewWrapper(log)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		RunPruner(ctx, log, Retention{MaxAge: time.Hour, FinishedGrace: 0, Interval: 5 * time.Millisecond})
	}()

	src := make(chan []byte, 1)
	src <- []byte("one")
	close(src)
	collect(t, w.Attach(context.Background(), "s1", src))

	require.Eventually(t, func() bool {
		_, _, found, err := log.Read("s1")
		return err == nil && !found
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}

func TestAttachDeliversEverythingAndFinishes(t *testing.T) {
	log := openLog(t)
	w := NewWrapper(log)

	src := make(chan []byte, 3)
	src <- []byte("one")
	src <- []byte("two")
	close(src)

	got := collect(t, w.Attach(context.Background(), "s1", src))
	assert.Equal(t, []string{"one", "two"}, got)

	require.Eventually(t, func() bool { return !w.Live("s1") }, time.Second, 5*time.Millisecond)
	_, done, found, err := log.Read("s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, done)

	_, ok := w.Resume(context.Background(), "s1")
	assert.False(t, ok, "finished streams are not resumable")
}

func TestResumeLiveReplaysFromStart(t *testing.T) {
	w := NewWrapper(nil)
	src := make(chan []byte)

	primary := w.Attach(context.Background(), "s1", src)
	src <- []byte("first")
	assert.Equal(t, "first", string(<-primary))

	resumed, ok := w.Resume(context.Background(), "s1")
	require.True(t, ok)

	src <- []byte("second")
	close(src)

	assert.Equal(t, []string{"second"}, collect(t, primary))
	assert.Equal(t, []string{"first", "second"}, collect(t, resumed))
}

func TestProducerDrainedAfterClientLeaves(t *testing.T) {
	log := openLog(t)
	w := NewWrapper(log)

	ctx, cancel := context.WithCancel(context.Background())
	src := make(chan []byte)
	primary := w.Attach(ctx, "s1", src)
	cancel()
	collect(t, primary)

	// The producer must never block on a departed client.
	for i := 0; i < 50; i++ {
		src <- []byte("x")
	}
	close(src)

	require.Eventually(t, func() bool { return !w.Live("s1") }, time.Second, 5*time.Millisecond)
	chunks, done, _, err := log.Read("s1")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, chunks, 50)
}

func TestResumeInterruptedStreamFromLog(t *testing.T) {
	log := openLog(t)
	require.NoError(t, log.Begin("s1"))
	require.NoError(t, log.Append("s1", []byte("partial")))

	w := NewWrapper(log)
	ch, ok := w.Resume(context.Background(), "s1")
	require.True(t, ok)

	got := collect(t, ch)
	require.Len(t, got, 3)
	assert.Equal(t, "partial", got[0])
	assert.Contains(t, got[1], `"type":"finish"`)
	assert.Equal(t, string(stream.DoneMarker), got[2])
}

func TestResumeUnknownStream(t *testing.T) {
	_, ok := NewWrapper(nil).Resume(context.Background(), "nope")
	assert.False(t, ok)
}
