package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aircast/internal/core/domain"
	"aircast/pkg/circuitbreaker"
	"aircast/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// flakyStore fails writes until the failure budget is spent.
type flakyStore struct {
	mu        sync.Mutex
	failures  int
	calls     int
	readCalls int
}

func (f *flakyStore) attempt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("backend unavailable")
	}
	return nil
}

func (f *flakyStore) Create(ctx context.Context, stream *domain.Stream) error { return f.attempt() }

func (f *flakyStore) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	return &domain.Stream{ID: id}, nil
}

func (f *flakyStore) Update(ctx context.Context, id domain.StreamID, update domain.StreamUpdate) error {
	return f.attempt()
}

func (f *flakyStore) UpdateViewerCount(ctx context.Context, id domain.StreamID, count int) error {
	return f.attempt()
}

func (f *flakyStore) ListLive(ctx context.Context) ([]*domain.Stream, error) { return nil, nil }

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastRetryConfig() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func TestWriteRetriesUntilSuccess(t *testing.T) {
	base := &flakyStore{failures: 1}
	store := NewReliableStreamStore(base, fastRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	err := store.UpdateViewerCount(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, base.callCount())
}

func TestWriteFailsAfterMaxAttempts(t *testing.T) {
	base := &flakyStore{failures: 10}
	store := NewReliableStreamStore(base, fastRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	err := store.Update(context.Background(), 1, domain.StreamUpdate{})
	require.Error(t, err)
	// Attempts 0..MaxAttempts inclusive.
	assert.Equal(t, 3, base.callCount())
}

func TestDisabledRetryBypassesBreaker(t *testing.T) {
	base := &flakyStore{failures: 1}
	cfg := fastRetryConfig()
	cfg.Enabled = false
	store := NewReliableStreamStore(base, cfg, circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	err := store.Create(context.Background(), &domain.Stream{ID: 1})
	require.Error(t, err)
	assert.Equal(t, 1, base.callCount())
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	base := &flakyStore{failures: 1000}
	cbCfg := circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Hour,
		MaxRequestsHalfOpen: 1,
	}
	store := NewReliableStreamStore(base, fastRetryConfig(), cbCfg, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 3; i++ {
		_ = store.UpdateViewerCount(context.Background(), 1, i)
	}

	stats := store.GetCircuitBreakerStats()
	assert.Equal(t, circuitbreaker.StateOpen, stats.State)

	// Open breaker rejects before the store is reached.
	before := base.callCount()
	_ = store.UpdateViewerCount(context.Background(), 1, 9)
	assert.Equal(t, before, base.callCount())
}

// notFoundStore fails every write with the store's miss sentinel.
type notFoundStore struct{ flakyStore }

func (s *notFoundStore) Update(ctx context.Context, id domain.StreamID, update domain.StreamUpdate) error {
	return domain.ErrStreamNotFound
}

func TestSentinelErrorsSurviveWrapping(t *testing.T) {
	base := &notFoundStore{}
	store := NewReliableStreamStore(base, fastRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	err := store.Update(context.Background(), 9, domain.StreamUpdate{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
}

func TestReadsBypassBreaker(t *testing.T) {
	base := &flakyStore{failures: 1000}
	cbCfg := circuitbreaker.Config{
		FailureThreshold:    1,
		SuccessThreshold:    1,
		Timeout:             time.Hour,
		MaxRequestsHalfOpen: 1,
	}
	store := NewReliableStreamStore(base, fastRetryConfig(), cbCfg, zaptest.NewLogger(t).Sugar())

	_ = store.Update(context.Background(), 1, domain.StreamUpdate{})
	require.Equal(t, circuitbreaker.StateOpen, store.GetCircuitBreakerStats().State)

	got, err := store.GetByID(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, domain.StreamID(4), got.ID)
}
