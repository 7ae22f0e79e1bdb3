package domain

import "time"

// ChatMessage is one entry of a stream's chat log. IDs are server-assigned
// and strictly increasing per stream, so clients can use them for ordering
// and deduplication.
type ChatMessage struct {
	ID        int64     `json:"id"`
	UserID    UserID    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
