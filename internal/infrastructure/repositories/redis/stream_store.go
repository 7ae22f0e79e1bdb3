package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	streamKeyPrefix = "aircast:stream:"
	liveStreamsKey  = "aircast:streams:live"
)

// RedisStreamStore persists stream records as JSON blobs with a set of
// live stream IDs for listing. It is the shared store when several relay
// instances front the same application.
type RedisStreamStore struct {
	client *redis.Client
}

func NewRedisStreamStore(client *redis.Client) ports.StreamStore {
	return &RedisStreamStore{client: client}
}

func (s *RedisStreamStore) streamKey(id domain.StreamID) string {
	return streamKeyPrefix + id.String()
}

func (s *RedisStreamStore) Create(ctx context.Context, stream *domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	if err := s.client.Set(ctx, s.streamKey(stream.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store stream: %w", err)
	}

	if stream.IsLive {
		if err := s.client.SAdd(ctx, liveStreamsKey, stream.ID.String()).Err(); err != nil {
			return fmt.Errorf("failed to add stream to live set: %w", err)
		}
	}

	return nil
}

func (s *RedisStreamStore) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	data, err := s.client.Get(ctx, s.streamKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	var stream domain.Stream
	if err := json.Unmarshal(data, &stream); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
	}

	return &stream, nil
}

func (s *RedisStreamStore) Update(ctx context.Context, id domain.StreamID, update domain.StreamUpdate) error {
	stream, err := s.GetByID(ctx, id)
	if err != nil {
		return err
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

	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	if err := s.client.Set(ctx, s.streamKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}

	if update.IsLive != nil {
		if *update.IsLive {
			err = s.client.SAdd(ctx, liveStreamsKey, id.String()).Err()
		} else {
			err = s.client.SRem(ctx, liveStreamsKey, id.String()).Err()
		}
		if err != nil {
			return fmt.Errorf("failed to update live set: %w", err)
		}
	}

	return nil
}

func (s *RedisStreamStore) UpdateViewerCount(ctx context.Context, id domain.StreamID, count int) error {
	stream, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	stream.ViewerCount = count
	stream.UpdatedAt = time.Now()

	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	if err := s.client.Set(ctx, s.streamKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update viewer count: %w", err)
	}

	return nil
}

func (s *RedisStreamStore) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	ids, err := s.client.SMembers(ctx, liveStreamsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list live streams: %w", err)
	}

	var liveStreams []*domain.Stream
	for _, raw := range ids {
		id, err := domain.ParseStreamID(raw)
		if err != nil {
			continue
		}

		stream, err := s.GetByID(ctx, id)
		if errors.Is(err, domain.ErrStreamNotFound) {
			// Record expired or was deleted; drop the stale set member.
			s.client.SRem(ctx, liveStreamsKey, raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !stream.IsLive {
			continue
		}

		liveStreams = append(liveStreams, stream)
	}

	sort.Slice(liveStreams, func(i, j int) bool {
		return liveStreams[i].ID < liveStreams[j].ID
	})

	return liveStreams, nil
}
