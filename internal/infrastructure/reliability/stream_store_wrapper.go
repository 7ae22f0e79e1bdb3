package reliability

import (
	"context"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/pkg/circuitbreaker"
	"aircast/pkg/retry"

	"go.uber.org/zap"
)

// ReliableStreamStore wraps a stream store with retry logic and a circuit
// breaker on the write path. Reads pass through untouched so admission
// checks stay fast even while the backend is flapping.
type ReliableStreamStore struct {
	store  ports.StreamStore
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewReliableStreamStore creates a new wrapper with retry and circuit breaker.
func NewReliableStreamStore(
	store ports.StreamStore,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ReliableStreamStore {
	wrapper := &ReliableStreamStore{
		store:          store,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("stream store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// Create stores a new stream record with retry logic.
func (w *ReliableStreamStore) Create(ctx context.Context, stream *domain.Stream) error {
	if !w.retryConfig.Enabled {
		return w.store.Create(ctx, stream)
	}

	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.store.Create(ctx, stream)
		})
	})
}

// GetByID reads a stream record (no retry needed for read operations).
func (w *ReliableStreamStore) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	return w.store.GetByID(ctx, id)
}

// Update applies a partial update with retry logic.
func (w *ReliableStreamStore) Update(ctx context.Context, id domain.StreamID, update domain.StreamUpdate) error {
	if !w.retryConfig.Enabled {
		return w.store.Update(ctx, id, update)
	}

	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.store.Update(ctx, id, update)
		})
	})
}

// UpdateViewerCount writes the viewer count with retry logic.
func (w *ReliableStreamStore) UpdateViewerCount(ctx context.Context, id domain.StreamID, count int) error {
	if !w.retryConfig.Enabled {
		return w.store.UpdateViewerCount(ctx, id, count)
	}

	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.store.UpdateViewerCount(ctx, id, count)
		})
	})
}

// ListLive lists live streams (no retry needed for read operations).
func (w *ReliableStreamStore) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	return w.store.ListLive(ctx)
}

// GetCircuitBreakerStats returns circuit breaker statistics.
func (w *ReliableStreamStore) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
