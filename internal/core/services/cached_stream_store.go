package services

import (
	"context"
	"fmt"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/pkg/cache"
)

// cachedStreamStore wraps a StreamStore with read caching. Admission checks
// hit GetByID for every websocket connect; the cache keeps those off the
// backing store.
type cachedStreamStore struct {
	base      ports.StreamStore
	cache     *cache.CacheWithFallback
	streamTTL time.Duration
}

// NewCachedStreamStore creates a caching StreamStore decorator.
func NewCachedStreamStore(base ports.StreamStore, streamTTL time.Duration) ports.StreamStore {
	return &cachedStreamStore{
		base:      base,
		cache:     cache.NewCacheWithFallback(streamTTL),
		streamTTL: streamTTL,
	}
}

func (s *cachedStreamStore) Create(ctx context.Context, stream *domain.Stream) error {
	if err := s.base.Create(ctx, stream); err != nil {
		return err
	}

	s.cache.Invalidate("streams:live")
	return nil
}

func (s *cachedStreamStore) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	cacheKey := fmt.Sprintf("stream:%s", id)

	value, err := s.cache.GetOrSet(ctx, cacheKey, func(ctx context.Context) (interface{}, error) {
		return s.base.GetByID(ctx, id)
	}, s.streamTTL)

	if err != nil {
		return nil, err
	}

	return value.(*domain.Stream), nil
}

func (s *cachedStreamStore) Update(ctx context.Context, id domain.StreamID, update domain.StreamUpdate) error {
	if err := s.base.Update(ctx, id, update); err != nil {
		return err
	}

	s.cache.Invalidate(fmt.Sprintf("stream:%s", id))
	s.cache.Invalidate("streams:live")
	return nil
}

func (s *cachedStreamStore) UpdateViewerCount(ctx context.Context, id domain.StreamID, count int) error {
	if err := s.base.UpdateViewerCount(ctx, id, count); err != nil {
		return err
	}

	s.cache.Invalidate(fmt.Sprintf("stream:%s", id))
	s.cache.Invalidate("streams:live")
	return nil
}

func (s *cachedStreamStore) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	cacheKey := "streams:live"

	// The live list moves with every go-live and teardown, so it gets a
	// shorter TTL than individual records.
	value, err := s.cache.GetOrSet(ctx, cacheKey, func(ctx context.Context) (interface{}, error) {
		return s.base.ListLive(ctx)
	}, s.streamTTL/4)

	if err != nil {
		return nil, err
	}

	return value.([]*domain.Stream), nil
}

// Stop stops the cache cleanup goroutine and forwards to the wrapped store.
func (s *cachedStreamStore) Stop() {
	s.cache.Stop()
	if stopper, ok := s.base.(interface{ Stop() }); ok {
		stopper.Stop()
	}
}
