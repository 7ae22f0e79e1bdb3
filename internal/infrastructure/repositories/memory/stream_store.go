package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
)

// MemoryStreamStore keeps stream records in process memory. It backs
// single-instance deployments and tests; records do not survive a restart.
type MemoryStreamStore struct {
	streams map[domain.StreamID]*domain.Stream
	mu      sync.RWMutex
}

func NewMemoryStreamStore() ports.StreamStore {
	return &MemoryStreamStore{
		streams: make(map[domain.StreamID]*domain.Stream),
	}
}

func (s *MemoryStreamStore) Create(ctx context.Context, stream *domain.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.streams[stream.ID]; exists {
		return fmt.Errorf("stream already exists: %s", stream.ID)
	}

	cp := *stream
	s.streams[stream.ID] = &cp
	return nil
}

func (s *MemoryStreamStore) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, exists := s.streams[id]
	if !exists {
		return nil, domain.ErrStreamNotFound
	}

	// Callers get a copy so later updates cannot race their reads.
	cp := *stream
	return &cp, nil
}

func (s *MemoryStreamStore) Update(ctx context.Context, id domain.StreamID, update domain.StreamUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, exists := s.streams[id]
	if !exists {
		return domain.ErrStreamNotFound
	}

	if update.IsLive != nil {
		stream.IsLive = *update.IsLive
	}
	if update.ViewerCount != nil {
		stream.ViewerCount = *update.ViewerCount
	}
	if update.PeakViewerCount != nil {
		stream.PeakViewerCount = *update.PeakViewerCount
	}
	if update.StartedAt != nil {
		stream.StartedAt = update.StartedAt
	}
	if update.EndedAt != nil {
		stream.EndedAt = update.EndedAt
	}
	stream.UpdatedAt = time.Now()

	return nil
}

func (s *MemoryStreamStore) UpdateViewerCount(ctx context.Context, id domain.StreamID, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, exists := s.streams[id]
	if !exists {
		return domain.ErrStreamNotFound
	}

	stream.ViewerCount = count
	stream.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStreamStore) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var liveStreams []*domain.Stream
	for _, stream := range s.streams {
		if stream.IsLive {
			cp := *stream
			liveStreams = append(liveStreams, &cp)
		}
	}

	sort.Slice(liveStreams, func(i, j int) bool {
		return liveStreams[i].ID < liveStreams[j].ID
	})

	return liveStreams, nil
}
