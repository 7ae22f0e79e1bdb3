package domain

import (
	"github.com/pion/webrtc/v3"
)

// Message types carried as JSON text frames on the chat/signal socket.
// The mixed snake_case / kebab-case naming is the wire protocol the web
// clients already speak and is preserved exactly.
const (
	// client -> server
	MsgTypeChat        = "chat"
	MsgTypeHostStream  = "host-stream"
	MsgTypeJoinStream  = "join-stream"
	MsgTypeLeaveStream = "leave-stream"
	MsgTypeEndStream   = "end-stream"

	// signaling, relayed host <-> viewer
	MsgTypeStreamOffer  = "stream-offer"
	MsgTypeStreamAnswer = "stream-answer"
	MsgTypeICECandidate = "ice-candidate"

	// server -> client
	MsgTypeChatMessage    = "chat_message"
	MsgTypeChatHistory    = "chat_history"
	MsgTypeViewerCount    = "viewer_count"
	MsgTypeUserJoined     = "user_joined"
	MsgTypeUserLeft       = "user_left"
	MsgTypeStreamStatus   = "stream_status"
	MsgTypeAudioLevel     = "audio_level"
	MsgTypeViewerJoined   = "viewer-joined"
	MsgTypeViewerLeft     = "viewer-left"
	MsgTypeStreamNotFound = "stream-not-found"
	MsgTypeStreamEnded    = "stream-ended"
)

// Control types carried as text frames on the audio socket. Binary frames on
// that socket are opaque audio payloads and are never inspected.
const (
	AudioControlLevel     = "audio_level"
	AudioControlPing      = "ping"
	AudioControlPong      = "pong"
	AudioControlEndStream = "end_stream"
)

// BaseMessage is the envelope sniffed from every inbound text frame before
// the type-specific decode.
type BaseMessage struct {
	Type     string   `json:"type"`
	StreamID StreamID `json:"streamId,omitempty"`
}

// ChatInbound is a chat post from a connected client. Sender identity comes
// from the connection, not the payload.
type ChatInbound struct {
	Type     string   `json:"type"`
	StreamID StreamID `json:"streamId"`
	Message  string   `json:"message"`
}

// ChatOutbound broadcasts one chat record to the stream's chat channel.
type ChatOutbound struct {
	Type      string   `json:"type"`
	StreamID  StreamID `json:"streamId"`
	ChatMessage
}

// ChatHistoryOutbound replays the buffered chat log to a joining connection.
type ChatHistoryOutbound struct {
	Type     string        `json:"type"`
	StreamID StreamID      `json:"streamId"`
	Messages []ChatMessage `json:"messages"`
}

// ViewerCountOutbound reports the current viewer count for a stream.
type ViewerCountOutbound struct {
	Type     string   `json:"type"`
	StreamID StreamID `json:"streamId"`
	Count    int      `json:"count"`
}

// PresenceOutbound announces a named user joining or leaving the chat
// channel (types user_joined / user_left).
type PresenceOutbound struct {
	Type     string   `json:"type"`
	StreamID StreamID `json:"streamId"`
	UserID   UserID   `json:"userId"`
	Username string   `json:"username"`
}

// StreamStatusOutbound announces a lifecycle transition.
type StreamStatusOutbound struct {
	Type     string   `json:"type"`
	StreamID StreamID `json:"streamId"`
	IsLive   bool     `json:"isLive"`
}

// AudioLevelOutbound mirrors the broadcaster's level meter to chat clients
// and audio listeners.
type AudioLevelOutbound struct {
	Type     string   `json:"type"`
	StreamID StreamID `json:"streamId"`
	Level    float64  `json:"level"`
}

// StreamControlInbound covers host-stream, join-stream, leave-stream and
// end-stream, which carry no payload beyond the envelope.
type StreamControlInbound struct {
	Type     string   `json:"type"`
	StreamID StreamID `json:"streamId"`
}

// OfferMessage carries a WebRTC offer from the host to one viewer. ViewerID
// addresses the target on the way in and identifies the recipient on the
// way out.
type OfferMessage struct {
	Type        string                    `json:"type"`
	StreamID    StreamID                  `json:"streamId"`
	ViewerID    string                    `json:"viewerId"`
	Description webrtc.SessionDescription `json:"description"`
}

// AnswerMessage carries a viewer's WebRTC answer back to the host. ViewerID
// is stamped server-side from the sending connection.
type AnswerMessage struct {
	Type        string                    `json:"type"`
	StreamID    StreamID                  `json:"streamId"`
	ViewerID    string                    `json:"viewerId,omitempty"`
	Description webrtc.SessionDescription `json:"description"`
}

// ICEMessage relays an ICE candidate between the host and one viewer.
// ViewerID always names the viewer side of the pair.
type ICEMessage struct {
	Type      string                  `json:"type"`
	StreamID  StreamID                `json:"streamId"`
	ViewerID  string                  `json:"viewerId,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// ViewerPresenceOutbound tells the host a signaling viewer arrived or left
// (types viewer-joined / viewer-left).
type ViewerPresenceOutbound struct {
	Type     string   `json:"type"`
	StreamID StreamID `json:"streamId"`
	ViewerID string   `json:"viewerId"`
}

// StreamNoticeOutbound covers stream-not-found and stream-ended.
type StreamNoticeOutbound struct {
	Type     string   `json:"type"`
	StreamID StreamID `json:"streamId"`
}

// AudioControl is a text control frame on the audio socket.
type AudioControl struct {
	Type  string  `json:"type"`
	Level float64 `json:"level,omitempty"`
}

func NewChatOutbound(streamID StreamID, msg ChatMessage) ChatOutbound {
	return ChatOutbound{Type: MsgTypeChatMessage, StreamID: streamID, ChatMessage: msg}
}

func NewChatHistoryOutbound(streamID StreamID, msgs []ChatMessage) ChatHistoryOutbound {
	return ChatHistoryOutbound{Type: MsgTypeChatHistory, StreamID: streamID, Messages: msgs}
}

func NewViewerCountOutbound(streamID StreamID, count int) ViewerCountOutbound {
	return ViewerCountOutbound{Type: MsgTypeViewerCount, StreamID: streamID, Count: count}
}

func NewPresenceOutbound(msgType string, streamID StreamID, userID UserID, username string) PresenceOutbound {
	return PresenceOutbound{Type: msgType, StreamID: streamID, UserID: userID, Username: username}
}

func NewStreamStatusOutbound(streamID StreamID, isLive bool) StreamStatusOutbound {
	return StreamStatusOutbound{Type: MsgTypeStreamStatus, StreamID: streamID, IsLive: isLive}
}

func NewAudioLevelOutbound(streamID StreamID, level float64) AudioLevelOutbound {
	return AudioLevelOutbound{Type: MsgTypeAudioLevel, StreamID: streamID, Level: level}
}

func NewViewerPresenceOutbound(msgType string, streamID StreamID, viewerID string) ViewerPresenceOutbound {
	return ViewerPresenceOutbound{Type: msgType, StreamID: streamID, ViewerID: viewerID}
}

func NewStreamNoticeOutbound(msgType string, streamID StreamID) StreamNoticeOutbound {
	return StreamNoticeOutbound{Type: msgType, StreamID: streamID}
}
