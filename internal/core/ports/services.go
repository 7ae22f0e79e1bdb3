package ports

import (
	"context"
	"time"

	"aircast/internal/core/domain"
)

// StreamLifecycle coordinates the per-stream Offline/Live state machine,
// viewer-count accounting and best-effort persistence.
type StreamLifecycle interface {
	// StreamLive transitions a stream to Live after broadcaster admission.
	StreamLive(ctx context.Context, streamID domain.StreamID) error
	// StreamOffline transitions a stream to Offline. Idempotent; a second
	// call for an already-offline stream is a no-op.
	StreamOffline(ctx context.Context, streamID domain.StreamID, reason string)
	// EndStream is the authenticated explicit stop. The requester must own
	// the stream record.
	EndStream(ctx context.Context, streamID domain.StreamID, requester domain.UserID) error
	// ViewerCountChanged is reported by the registry after every chat-channel
	// admit or remove with the new cardinality.
	ViewerCountChanged(ctx context.Context, streamID domain.StreamID, count int)
	// StreamIdle is reported when a stream's registry entry was garbage
	// collected, releasing the session of an offline stream.
	StreamIdle(streamID domain.StreamID)
	// Status returns the coordinator's snapshot, falling back to the stored
	// record when no session exists.
	Status(ctx context.Context, streamID domain.StreamID) (*domain.StreamStatus, error)
}

// StreamNotifier is the lifecycle coordinator's outbound view of the
// connection registry. Viewer count frames are not routed through it; the
// registry broadcasts those itself, atomically with membership changes.
type StreamNotifier interface {
	BroadcastStreamStatus(streamID domain.StreamID, isLive bool)
	CloseAudio(streamID domain.StreamID, reason string)
}

// ChatHistory is the bounded per-stream replay log.
type ChatHistory interface {
	// Append stores the message, assigning its id and timestamp, and
	// returns the completed record.
	Append(streamID domain.StreamID, userID domain.UserID, username, message string) domain.ChatMessage
	// Snapshot returns the buffered log in insertion order.
	Snapshot(streamID domain.StreamID) []domain.ChatMessage
	// Clear drops the buffer for a destroyed stream session.
	Clear(streamID domain.StreamID)
}

// TokenService validates the stream authorization tokens minted by the web
// application for broadcasters and owner actions.
type TokenService interface {
	GenerateToken(userID domain.UserID, username string) (string, error)
	ValidateToken(token string) (*domain.TokenClaims, error)
}

// EventPublisher pushes lifecycle events to the rest of the application.
type EventPublisher interface {
	PublishStreamLive(ctx context.Context, streamID domain.StreamID)
	PublishStreamEnded(ctx context.Context, streamID domain.StreamID, peakViewers int, duration time.Duration)
}
