package services

import (
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
)

type historyBuffer struct {
	messages []domain.ChatMessage
	lastID   int64
}

type chatHistoryService struct {
	capacity int

	mu      sync.Mutex
	buffers map[domain.StreamID]*historyBuffer
}

// NewChatHistoryService creates the bounded per-stream replay log. Each
// stream keeps at most capacity messages; older ones are dropped.
func NewChatHistoryService(capacity int) ports.ChatHistory {
	return &chatHistoryService{
		capacity: capacity,
		buffers:  make(map[domain.StreamID]*historyBuffer),
	}
}

func (s *chatHistoryService) Append(streamID domain.StreamID, userID domain.UserID, username, message string) domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[streamID]
	if !ok {
		buf = &historyBuffer{messages: make([]domain.ChatMessage, 0, s.capacity)}
		s.buffers[streamID] = buf
	}

	now := time.Now()

	// IDs are millisecond timestamps, bumped when two messages land in
	// the same millisecond so ordering by id matches insertion order.
	id := now.UnixMilli()
	if id <= buf.lastID {
		id = buf.lastID + 1
	}
	buf.lastID = id

	msg := domain.ChatMessage{
		ID:        id,
		UserID:    userID,
		Username:  username,
		Message:   message,
		Timestamp: now,
	}

	if len(buf.messages) >= s.capacity {
		copy(buf.messages, buf.messages[1:])
		buf.messages = buf.messages[:len(buf.messages)-1]
	}
	buf.messages = append(buf.messages, msg)

	return msg
}

func (s *chatHistoryService) Snapshot(streamID domain.StreamID) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[streamID]
	if !ok || len(buf.messages) == 0 {
		return nil
	}

	out := make([]domain.ChatMessage, len(buf.messages))
	copy(out, buf.messages)
	return out
}

func (s *chatHistoryService) Clear(streamID domain.StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, streamID)
}
