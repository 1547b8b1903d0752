package stream

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/utils"
)

var ErrClosed = errors.New("stream: merger closed")

// Merger is the single ordered sink of a turn. Frames leave in the order
// they were written; the output is terminated exactly once by Close.
// Exactly one goroutine is expected to write; the mutex only guards
// Write against a concurrent Close.
type Merger struct {
	out chan []byte

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func NewMerger(buffer int) *Merger {
	return &Merger{out: make(chan []byte, buffer)}
}

// Output is closed after the terminal frames are delivered.
func (m *Merger) Output() <-chan []byte {
	return m.out
}

func (m *Merger) Write(f Frame) error {
	chunk, err := Encode(f)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.out <- chunk
	return nil
}

// Close emits the finish frame and the done marker, then closes the output.
// Calls after the first are no-ops.
func (m *Merger) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if chunk, err := Encode(Frame{Type: FrameFinish}); err == nil {
			m.out <- chunk
		} else {
			utils.Zlog.Error("Failed to encode finish frame", zap.Error(err))
		}
		m.out <- DoneMarker
		m.closed = true
		close(m.out)
	})
}

func (m *Merger) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
