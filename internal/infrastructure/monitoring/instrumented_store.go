package monitoring

import (
	"context"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
)

// InstrumentedStreamStore counts failed writes so store trouble shows up
// on the dashboard even though the relay itself shrugs it off.
type InstrumentedStreamStore struct {
	base      ports.StreamStore
	collector *PrometheusCollector
}

func NewInstrumentedStreamStore(base ports.StreamStore, collector *PrometheusCollector) ports.StreamStore {
	return &InstrumentedStreamStore{base: base, collector: collector}
}

func (s *InstrumentedStreamStore) Create(ctx context.Context, stream *domain.Stream) error {
	err := s.base.Create(ctx, stream)
	if err != nil {
		s.collector.RecordPersistFailure()
	}
	return err
}

func (s *InstrumentedStreamStore) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	return s.base.GetByID(ctx, id)
}

func (s *InstrumentedStreamStore) Update(ctx context.Context, id domain.StreamID, update domain.StreamUpdate) error {
	err := s.base.Update(ctx, id, update)
	if err != nil {
		s.collector.RecordPersistFailure()
	}
	return err
}

func (s *InstrumentedStreamStore) UpdateViewerCount(ctx context.Context, id domain.StreamID, count int) error {
	err := s.base.UpdateViewerCount(ctx, id, count)
	if err != nil {
		s.collector.RecordPersistFailure()
	}
	return err
}

func (s *InstrumentedStreamStore) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	return s.base.ListLive(ctx)
}

// Stop forwards to the wrapped store when it has background work.
func (s *InstrumentedStreamStore) Stop() {
	if stopper, ok := s.base.(interface{ Stop() }); ok {
		stopper.Stop()
	}
}
