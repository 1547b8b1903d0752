package resumable

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/stream"
	"github.com/Conversly/chat-gateway/internal/utils"
)

type broadcast struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	done   bool
}

func newBroadcast() *broadcast {
	b := &broadcast{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *broadcast) push(chunk []byte) {
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *broadcast) finish() {
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// subscribe replays everything pushed so far and then follows new chunks
// until the broadcast finishes or ctx ends.
func (b *broadcast) subscribe(ctx context.Context) <-chan []byte {
	out := make(chan []byte, 16)
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.mu.Unlock()
		b.cond.Broadcast()
	})

	go func() {
		defer close(out)
		defer stop()

		cursor := 0
		for {
			b.mu.Lock()
			for cursor >= len(b.chunks) && !b.done && ctx.Err() == nil {
				b.cond.Wait()
			}
			if ctx.Err() != nil {
				b.mu.Unlock()
				return
			}
			pending := b.chunks[cursor:]
			done := b.done
			b.mu.Unlock()

			for _, chunk := range pending {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			cursor += len(pending)
			if done && len(pending) == 0 {
				return
			}
		}
	}()
	return out
}

// Wrapper fans one producer out to any number of readers. The producer is
// always drained to the end, whether or not anyone is reading.
type Wrapper struct {
	log Log

	mu   sync.Mutex
	live map[string]*broadcast
}

// NewWrapper accepts a nil log; streams are then resumable only while the
// process that produced them is running.
func NewWrapper(log Log) *Wrapper {
	return &Wrapper{
		log:  log,
		live: make(map[string]*broadcast),
	}
}

// Attach starts pumping src under streamID and returns the reader for the
// client that started it. Cancelling ctx detaches that reader only.
func (w *Wrapper) Attach(ctx context.Context, streamID string, src <-chan []byte) <-chan []byte {
	b := newBroadcast()

	w.mu.Lock()
	w.live[streamID] = b
	w.mu.Unlock()

	persist := w.log != nil
	if persist {
		if err := w.log.Begin(streamID); err != nil {
			utils.Zlog.Warn("Stream log unavailable, continuing without persistence",
				zap.String("stream_id", streamID), zap.Error(err))
			persist = false
		}
	}

	go func() {
		for chunk := range src {
			if persist {
				if err := w.log.Append(streamID, chunk); err != nil {
					utils.Zlog.Warn("Failed to persist stream chunk", zap.String("stream_id", streamID), zap.Error(err))
					persist = false
				}
			}
			b.push(chunk)
		}
		if persist {
			if err := w.log.Finish(streamID); err != nil {
				utils.Zlog.Warn("Failed to mark stream finished", zap.String("stream_id", streamID), zap.Error(err))
			}
		}

		w.mu.Lock()
		delete(w.live, streamID)
		w.mu.Unlock()
		b.finish()
	}()

	return b.subscribe(ctx)
}

// Resume returns a reader for streamID. A live stream replays from the
// first frame and continues live. A stream left unfinished by an earlier
// process is replayed and then terminated. Finished or unknown streams
// return false.
func (w *Wrapper) Resume(ctx context.Context, streamID string) (<-chan []byte, bool) {
	w.mu.Lock()
	b, ok := w.live[streamID]
	w.mu.Unlock()
	if ok {
		return b.subscribe(ctx), true
	}

	if w.log == nil {
		return nil, false
	}
	chunks, done, found, err := w.log.Read(streamID)
	if err != nil {
		utils.Zlog.Warn("Failed to read stream log", zap.String("stream_id", streamID), zap.Error(err))
		return nil, false
	}
	if !found || done {
		return nil, false
	}

	if finish, err := stream.Encode(stream.Frame{Type: stream.FrameFinish}); err == nil {
		chunks = append(chunks, finish)
	}
	chunks = append(chunks, stream.DoneMarker)

	out := make(chan []byte, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out, true
}

// Live reports whether streamID is still being produced.
func (w *Wrapper) Live(streamID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.live[streamID]
	return ok
}
