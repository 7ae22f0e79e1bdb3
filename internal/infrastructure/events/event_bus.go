package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aircast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventStreamLive  EventType = "stream.live"
	EventStreamEnded EventType = "stream.ended"
)

const eventsChannel = "aircast:events"

// publishTimeout bounds a single publish so a stuck Redis cannot stall
// the lifecycle path that emits events.
const publishTimeout = 3 * time.Second

// Event is the envelope shared by all relay events on the bus.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	StreamID   domain.StreamID `json:"stream_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// RedisEventBus publishes lifecycle events over Redis pub/sub so the web
// application and sibling relay instances can react to them.
type RedisEventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

func NewRedisEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *RedisEventBus {
	return &RedisEventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (eb *RedisEventBus) publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := eb.client.Publish(ctx, eventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"stream_id", event.StreamID,
	)

	return nil
}

// PublishStreamLive announces that a broadcaster went live. Failures are
// logged and dropped; the stream does not depend on the bus.
func (eb *RedisEventBus) PublishStreamLive(ctx context.Context, streamID domain.StreamID) {
	payload, _ := json.Marshal(map[string]interface{}{
		"stream_id": streamID,
	})

	err := eb.publish(ctx, &Event{
		Type:     EventStreamLive,
		StreamID: streamID,
		Payload:  payload,
	})
	if err != nil {
		eb.logger.Warnw("failed to publish stream.live event",
			"stream_id", streamID,
			"error", err,
		)
	}
}

// PublishStreamEnded announces a finished stream with its final stats.
func (eb *RedisEventBus) PublishStreamEnded(ctx context.Context, streamID domain.StreamID, peakViewers int, duration time.Duration) {
	payload, _ := json.Marshal(map[string]interface{}{
		"stream_id":         streamID,
		"peak_viewer_count": peakViewers,
		"duration_seconds":  int64(duration.Seconds()),
	})

	err := eb.publish(ctx, &Event{
		Type:     EventStreamEnded,
		StreamID: streamID,
		Payload:  payload,
	})
	if err != nil {
		eb.logger.Warnw("failed to publish stream.ended event",
			"stream_id", streamID,
			"error", err,
		)
	}
}

// Subscribe consumes events from sibling instances until the context is
// cancelled. Events published by this instance are skipped.
func (eb *RedisEventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eventsChannel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// Close closes the subscription if one is open.
func (eb *RedisEventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
