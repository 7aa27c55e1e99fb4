// Package memory keeps messages in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/JakeFAU/webspider/internal/spider"
	"github.com/JakeFAU/webspider/internal/storage"
)

// MessageStore stores messages in a map keyed by ref.
type MessageStore struct {
	mu       sync.RWMutex
	next     int64
	messages map[int64]spider.Message
}

// NewMessageStore constructs an empty MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[int64]spider.Message)}
}

// Save stores a copy of msg and returns its new ref.
func (s *MessageStore) Save(_ context.Context, msg spider.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	msg.Ref = s.next
	s.messages[msg.Ref] = clone(msg)
	return msg.Ref, nil
}

// Load returns a copy of the message stored under ref.
func (s *MessageStore) Load(_ context.Context, ref int64) (spider.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[ref]
	if !ok {
		return spider.Message{}, fmt.Errorf("load %d: %w", ref, storage.ErrMessageNotFound)
	}
	return clone(msg), nil
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Close is a no-op.
func (s *MessageStore) Close() error { return nil }

func clone(msg spider.Message) spider.Message {
	if msg.Header != nil {
		h := make(http.Header, len(msg.Header))
		for k, v := range msg.Header {
			h[k] = append([]string(nil), v...)
		}
		msg.Header = h
	}
	if msg.Body != nil {
		msg.Body = append([]byte(nil), msg.Body...)
	}
	return msg
}
