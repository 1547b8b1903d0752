package core

import (
	"errors"
	"sync"
)

// ErrChatBusy is returned when a turn is already running for the chat.
var ErrChatBusy = errors.New("a response is already being generated for this chat")

// ChatLocks serialises turns per chat within this process.
type ChatLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewChatLocks() *ChatLocks {
	return &ChatLocks{active: make(map[string]struct{})}
}

// TryLock claims chatID and returns its release func, or ErrChatBusy.
func (l *ChatLocks) TryLock(chatID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[chatID]; busy {
		return nil, ErrChatBusy
	}
	l.active[chatID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, chatID)
			l.mu.Unlock()
		})
	}, nil
}
