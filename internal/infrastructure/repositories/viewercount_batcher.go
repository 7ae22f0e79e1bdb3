package repositories

import (
	"context"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/pkg/batch"
)

// viewerCountOp is a single queued viewer count write.
type viewerCountOp struct {
	streamID domain.StreamID
	count    int
	base     ports.StreamStore
}

func (op *viewerCountOp) Execute(ctx context.Context) error {
	return op.base.UpdateViewerCount(ctx, op.streamID, op.count)
}

// viewerCountProcessor applies a drained batch, coalescing to the newest
// count per stream so a burst of joins and leaves costs one write.
type viewerCountProcessor struct {
	base ports.StreamStore
}

func (p *viewerCountProcessor) ProcessBatch(ctx context.Context, operations []batch.Operation) error {
	if len(operations) == 0 {
		return nil
	}

	latest := make(map[domain.StreamID]int)
	order := make([]domain.StreamID, 0, len(operations))
	for _, op := range operations {
		vop, ok := op.(*viewerCountOp)
		if !ok {
			continue
		}
		if _, seen := latest[vop.streamID]; !seen {
			order = append(order, vop.streamID)
		}
		latest[vop.streamID] = vop.count
	}

	var firstErr error
	for _, id := range order {
		if err := p.base.UpdateViewerCount(ctx, id, latest[id]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BatchedStreamStore wraps a stream store so viewer count writes are
// queued and flushed in batches. Every other operation passes through.
type BatchedStreamStore struct {
	base    ports.StreamStore
	batcher *batch.Batcher
}

func NewBatchedStreamStore(base ports.StreamStore, batchSize int, flushInterval time.Duration) ports.StreamStore {
	processor := &viewerCountProcessor{base: base}
	return &BatchedStreamStore{
		base:    base,
		batcher: batch.NewBatcher(batchSize, flushInterval, processor),
	}
}

func (s *BatchedStreamStore) Create(ctx context.Context, stream *domain.Stream) error {
	return s.base.Create(ctx, stream)
}

func (s *BatchedStreamStore) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	return s.base.GetByID(ctx, id)
}

func (s *BatchedStreamStore) Update(ctx context.Context, id domain.StreamID, update domain.StreamUpdate) error {
	return s.base.Update(ctx, id, update)
}

// UpdateViewerCount queues the write. The stored count lags the live one
// by at most the flush interval.
func (s *BatchedStreamStore) UpdateViewerCount(ctx context.Context, id domain.StreamID, count int) error {
	s.batcher.Add(&viewerCountOp{streamID: id, count: count, base: s.base})
	return nil
}

func (s *BatchedStreamStore) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	return s.base.ListLive(ctx)
}

// Flush forces all queued viewer count writes through immediately.
func (s *BatchedStreamStore) Flush(ctx context.Context) error {
	return s.batcher.Flush(ctx)
}

// Stop flushes the queue, stops the batcher and stops the wrapped store
// if it has background work of its own.
func (s *BatchedStreamStore) Stop() {
	s.batcher.Stop()
	if stopper, ok := s.base.(interface{ Stop() }); ok {
		stopper.Stop()
	}
}
