package ports

import (
	"context"

	"aircast/internal/core/domain"
)

// StreamStore is the relay's view of the stream records the web application
// owns. Create exists for the owning application and for tests; the relay
// itself only reads records and writes back lifecycle fields.
type StreamStore interface {
	Create(ctx context.Context, stream *domain.Stream) error
	GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error)
	Update(ctx context.Context, id domain.StreamID, update domain.StreamUpdate) error
	UpdateViewerCount(ctx context.Context, id domain.StreamID, count int) error
	ListLive(ctx context.Context) ([]*domain.Stream, error)
}
