package monitoring

import (
	"context"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
)

// InstrumentedEventPublisher counts lifecycle transitions and observes
// session durations, then forwards to the wrapped publisher. The wrapped
// publisher may be nil when the event bus is disabled; metrics are
// recorded either way.
type InstrumentedEventPublisher struct {
	next      ports.EventPublisher
	collector *PrometheusCollector
}

func NewInstrumentedEventPublisher(next ports.EventPublisher, collector *PrometheusCollector) *InstrumentedEventPublisher {
	return &InstrumentedEventPublisher{next: next, collector: collector}
}

func (p *InstrumentedEventPublisher) PublishStreamLive(ctx context.Context, streamID domain.StreamID) {
	p.collector.RecordStreamLive()
	if p.next != nil {
		p.next.PublishStreamLive(ctx, streamID)
	}
}

func (p *InstrumentedEventPublisher) PublishStreamEnded(ctx context.Context, streamID domain.StreamID, peakViewers int, duration time.Duration) {
	p.collector.RecordStreamEnded(duration)
	if p.next != nil {
		p.next.PublishStreamEnded(ctx, streamID, peakViewers, duration)
	}
}
