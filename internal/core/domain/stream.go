package domain

import (
	"strconv"
	"time"
)

// StreamID is the numeric stream identifier assigned by the owning web
// application. The relay never mints these, it only resolves them against
// the stream store.
type StreamID int64

// UserID is the numeric account identifier from the owning web application.
// Zero means anonymous.
type UserID int64

func (id StreamID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseStreamID parses the streamId query/path parameter.
func ParseStreamID(s string) (StreamID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return StreamID(n), nil
}

// Channel tags a connection's role inside a stream's registry entry.
type Channel string

const (
	ChannelChat             Channel = "chat"
	ChannelAudioBroadcaster Channel = "audio-broadcaster"
	ChannelAudioListener    Channel = "audio-listener"
)

// Stream is the persisted stream record. The relay reads it for admission
// and ownership checks and writes back only the live flag, timestamps and
// viewer counters; all other fields belong to the web application.
type Stream struct {
	ID              StreamID   `json:"id"`
	OwnerID         UserID     `json:"ownerId"`
	Title           string     `json:"title"`
	IsLive          bool       `json:"isLive"`
	ViewerCount     int        `json:"viewerCount"`
	PeakViewerCount int        `json:"peakViewerCount"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// StreamUpdate is a partial update of a stream record. Nil fields are left
// untouched by the store.
type StreamUpdate struct {
	IsLive          *bool
	ViewerCount     *int
	PeakViewerCount *int
	StartedAt       *time.Time
	EndedAt         *time.Time
}

// StreamStatus is the lifecycle coordinator's snapshot of a stream session.
type StreamStatus struct {
	StreamID        StreamID   `json:"streamId"`
	IsLive          bool       `json:"isLive"`
	ViewerCount     int        `json:"viewerCount"`
	PeakViewerCount int        `json:"peakViewerCount"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
}
