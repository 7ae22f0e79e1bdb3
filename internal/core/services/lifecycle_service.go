package services

import (
	"context"
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/pkg/utils"

	"go.uber.org/zap"
)

// streamSession is the in-memory lifecycle state for one stream. All fields
// are guarded by mu; transitions, viewer counting and persistence enqueues
// for a stream are serialized through it.
type streamSession struct {
	mu              sync.Mutex
	isLive          bool
	viewerCount     int
	peakViewerCount int
	startedAt       *time.Time
}

// LifecycleService coordinates the per-stream Offline/Live state machine.
// Connection handlers report admissions and disconnects; the service owns
// the transitions, the peak viewer accounting and the best-effort writes
// back to the stream store.
type LifecycleService struct {
	store  ports.StreamStore
	events ports.EventPublisher
	logger *zap.SugaredLogger

	// notifier is set once during wiring, before any connection is served.
	notifier ports.StreamNotifier

	mu       sync.RWMutex
	sessions map[domain.StreamID]*streamSession
}

func NewLifecycleService(
	store ports.StreamStore,
	events ports.EventPublisher,
	logger *zap.SugaredLogger,
) *LifecycleService {
	return &LifecycleService{
		store:    store,
		events:   events,
		logger:   logger,
		sessions: make(map[domain.StreamID]*streamSession),
	}
}

// SetNotifier wires the connection registry in after construction. The
// registry needs the lifecycle service and vice versa; the registry wins
// the constructor and this closes the loop.
func (s *LifecycleService) SetNotifier(n ports.StreamNotifier) {
	s.notifier = n
}

// session returns the stream's session, creating it on first use.
func (s *LifecycleService) session(streamID domain.StreamID) *streamSession {
	s.mu.RLock()
	sess := s.sessions[streamID]
	s.mu.RUnlock()

	if sess != nil {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if sess := s.sessions[streamID]; sess != nil {
		return sess
	}

	sess = &streamSession{}
	s.sessions[streamID] = sess
	return sess
}

// StreamLive transitions a stream to Live. Safe to call more than once per
// session; repeated calls while already live are no-ops, so both the
// signaling host declaration and the audio broadcaster admission may report
// it independently.
func (s *LifecycleService) StreamLive(ctx context.Context, streamID domain.StreamID) error {
	sess := s.session(streamID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.isLive {
		return nil
	}

	now := time.Now()
	sess.isLive = true
	sess.startedAt = &now

	// Peak accounting restarts per live session, seeded with whoever is
	// already in chat.
	sess.peakViewerCount = sess.viewerCount

	if s.notifier != nil {
		s.notifier.BroadcastStreamStatus(streamID, true)
	}

	isLive := true
	count := sess.viewerCount
	peak := sess.peakViewerCount
	s.persistAsync(streamID, domain.StreamUpdate{
		IsLive:          &isLive,
		StartedAt:       &now,
		ViewerCount:     &count,
		PeakViewerCount: &peak,
	})

	if s.events != nil {
		s.events.PublishStreamLive(context.Background(), streamID)
	}

	s.logger.Infow("stream live",
		"stream_id", streamID,
		"viewers", count,
	)
	return nil
}

// StreamOffline transitions a stream to Offline. Idempotent; disconnect
// cleanup and the explicit owner stop can both report it.
func (s *LifecycleService) StreamOffline(ctx context.Context, streamID domain.StreamID, reason string) {
	s.offline(streamID, reason)
}

// offline performs the Offline transition and reports whether this call
// actually transitioned the stream.
func (s *LifecycleService) offline(streamID domain.StreamID, reason string) bool {
	s.mu.RLock()
	sess := s.sessions[streamID]
	s.mu.RUnlock()

	if sess == nil {
		return false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.isLive {
		return false
	}

	now := time.Now()
	var duration time.Duration
	if sess.startedAt != nil {
		duration = now.Sub(*sess.startedAt)
	}

	sess.isLive = false
	sess.startedAt = nil
	peak := sess.peakViewerCount

	if s.notifier != nil {
		s.notifier.BroadcastStreamStatus(streamID, false)
		s.notifier.CloseAudio(streamID, reason)
	}

	isLive := false
	s.persistAsync(streamID, domain.StreamUpdate{
		IsLive:          &isLive,
		EndedAt:         &now,
		PeakViewerCount: &peak,
	})

	if s.events != nil {
		s.events.PublishStreamEnded(context.Background(), streamID, peak, duration)
	}

	s.logger.Infow("stream offline",
		"stream_id", streamID,
		"reason", reason,
		"peak_viewers", peak,
		"duration", utils.FormatDuration(duration),
	)
	return true
}

// EndStream is the authenticated explicit stop. The requester must own the
// stream record.
func (s *LifecycleService) EndStream(ctx context.Context, streamID domain.StreamID, requester domain.UserID) error {
	stream, err := s.store.GetByID(ctx, streamID)
	if err != nil {
		return err
	}

	if stream.OwnerID != requester {
		return domain.ErrNotStreamOwner
	}

	if !s.offline(streamID, "ended by owner") && stream.IsLive {
		// No live session on this relay but the record says live: the
		// relay restarted mid-stream. Repair the record.
		now := time.Now()
		isLive := false
		s.persistAsync(streamID, domain.StreamUpdate{
			IsLive:  &isLive,
			EndedAt: &now,
		})
	}

	return nil
}

// ViewerCountChanged records the chat channel cardinality reported by the
// connection registry after every admit or remove.
func (s *LifecycleService) ViewerCountChanged(ctx context.Context, streamID domain.StreamID, count int) {
	sess := s.session(streamID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.viewerCount = count
	if sess.isLive && count > sess.peakViewerCount {
		sess.peakViewerCount = count
	}

	if err := s.store.UpdateViewerCount(ctx, streamID, count); err != nil {
		s.logger.Warnw("failed to persist viewer count",
			"stream_id", streamID,
			"count", count,
			"error", err,
		)
	}
}

// StreamIdle releases the session of a stream whose registry entry was
// garbage collected.
func (s *LifecycleService) StreamIdle(streamID domain.StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[streamID]
	if sess == nil {
		return
	}

	sess.mu.Lock()
	live := sess.isLive
	sess.mu.Unlock()

	if live {
		// Registry entries can only be collected once the broadcaster is
		// gone, and broadcaster loss reports Offline first. A live session
		// here means that report is still in flight; keep the session.
		return
	}

	delete(s.sessions, streamID)
	s.logger.Debugw("stream session released", "stream_id", streamID)
}

// Status returns the coordinator's snapshot, falling back to the stored
// record when this relay has no session for the stream.
func (s *LifecycleService) Status(ctx context.Context, streamID domain.StreamID) (*domain.StreamStatus, error) {
	s.mu.RLock()
	sess := s.sessions[streamID]
	s.mu.RUnlock()

	if sess != nil {
		sess.mu.Lock()
		defer sess.mu.Unlock()

		status := &domain.StreamStatus{
			StreamID:        streamID,
			IsLive:          sess.isLive,
			ViewerCount:     sess.viewerCount,
			PeakViewerCount: sess.peakViewerCount,
		}
		if sess.startedAt != nil {
			t := *sess.startedAt
			status.StartedAt = &t
		}
		return status, nil
	}

	stream, err := s.store.GetByID(ctx, streamID)
	if err != nil {
		return nil, err
	}

	return &domain.StreamStatus{
		StreamID:        stream.ID,
		IsLive:          stream.IsLive,
		ViewerCount:     stream.ViewerCount,
		PeakViewerCount: stream.PeakViewerCount,
		StartedAt:       stream.StartedAt,
	}, nil
}

// persistAsync writes lifecycle fields back to the store without blocking
// the transition. Failures are logged and dropped; the store is a mirror
// for the web application, not the relay's source of truth.
func (s *LifecycleService) persistAsync(streamID domain.StreamID, update domain.StreamUpdate) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.store.Update(ctx, streamID, update); err != nil {
			s.logger.Errorw("failed to persist stream state",
				"stream_id", streamID,
				"error", err,
			)
		}
	}()
}
