package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/internal/infrastructure/monitoring"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// streamEntry is the connection table for one stream id.
type streamEntry struct {
	chat      map[*Client]struct{}
	listeners map[*Client]struct{}

	// Single-slot roles.
	broadcaster *Client
	host        *Client

	// viewers maps signaling viewer ids to the chat connections that
	// requested WebRTC playback.
	viewers map[string]*Client
}

func newStreamEntry() *streamEntry {
	return &streamEntry{
		chat:      make(map[*Client]struct{}),
		listeners: make(map[*Client]struct{}),
		viewers:   make(map[string]*Client),
	}
}

func (e *streamEntry) empty() bool {
	return len(e.chat) == 0 && len(e.listeners) == 0 && e.broadcaster == nil
}

// Hub is the consolidated per-stream connection registry. All membership
// changes, chat broadcasts and history appends happen under its lock, so
// a joining connection sees the history snapshot plus every later message
// exactly once.
//
// Lock order: the lifecycle coordinator may call into the hub while
// holding its own session lock, so the hub never calls the lifecycle
// coordinator while holding hub.mu.
type Hub struct {
	lifecycle ports.StreamLifecycle
	history   ports.ChatHistory
	collector *monitoring.PrometheusCollector
	logger    *zap.SugaredLogger

	sendBufferSize int
	pingInterval   time.Duration
	pongTimeout    time.Duration
	maxConcurrent  int

	mu      sync.RWMutex
	streams map[domain.StreamID]*streamEntry
	total   int
}

func NewHub(
	lifecycle ports.StreamLifecycle,
	history ports.ChatHistory,
	collector *monitoring.PrometheusCollector,
	sendBufferSize int,
	pingInterval time.Duration,
	pongTimeout time.Duration,
	maxConcurrent int,
	logger *zap.SugaredLogger,
) *Hub {
	return &Hub{
		lifecycle:      lifecycle,
		history:        history,
		collector:      collector,
		sendBufferSize: sendBufferSize,
		pingInterval:   pingInterval,
		pongTimeout:    pongTimeout,
		maxConcurrent:  maxConcurrent,
		logger:         logger,
		streams:        make(map[domain.StreamID]*streamEntry),
	}
}

func (h *Hub) entryLocked(streamID domain.StreamID) *streamEntry {
	entry, ok := h.streams[streamID]
	if !ok {
		entry = newStreamEntry()
		h.streams[streamID] = entry
	}
	return entry
}

// AdmitChat registers a chat connection. The history replay, the viewer
// count broadcast and the membership change are one atomic step.
func (h *Hub) AdmitChat(c *Client) error {
	h.mu.Lock()
	if h.maxConcurrent > 0 && h.total >= h.maxConcurrent {
		h.mu.Unlock()
		return domain.ErrRelayFull
	}

	entry := h.entryLocked(c.StreamID)
	entry.chat[c] = struct{}{}
	h.total++
	count := len(entry.chat)

	// Replay goes into the queue first, before any broadcast can reach
	// this connection.
	h.enqueueJSONLocked(c, domain.NewChatHistoryOutbound(c.StreamID, h.history.Snapshot(c.StreamID)))

	h.broadcastChatLocked(entry, domain.NewViewerCountOutbound(c.StreamID, count))
	if c.Username != "" {
		h.broadcastChatLocked(entry, domain.NewPresenceOutbound(domain.MsgTypeUserJoined, c.StreamID, c.UserID, c.Username))
	}
	h.mu.Unlock()

	h.collector.RecordConnectionOpened(domain.ChannelChat)
	h.collector.SetStreamViewers(c.StreamID, count)
	h.lifecycle.ViewerCountChanged(context.Background(), c.StreamID, count)

	h.logger.Debugw("chat connection admitted",
		"stream_id", c.StreamID,
		"client_id", c.ID,
		"username", c.Username,
		"viewers", count,
	)
	return nil
}

// AdmitAudio registers an audio connection. At most one broadcaster per
// stream.
func (h *Hub) AdmitAudio(c *Client) error {
	h.mu.Lock()
	if h.maxConcurrent > 0 && h.total >= h.maxConcurrent {
		h.mu.Unlock()
		return domain.ErrRelayFull
	}

	entry := h.entryLocked(c.StreamID)
	switch c.Channel {
	case domain.ChannelAudioBroadcaster:
		if entry.broadcaster != nil {
			h.mu.Unlock()
			return domain.ErrBroadcasterExists
		}
		entry.broadcaster = c
	default:
		entry.listeners[c] = struct{}{}
	}
	h.total++
	listenerCount := len(entry.listeners)
	h.mu.Unlock()

	h.collector.RecordConnectionOpened(c.Channel)
	h.collector.SetAudioListeners(c.StreamID, listenerCount)

	h.logger.Debugw("audio connection admitted",
		"stream_id", c.StreamID,
		"client_id", c.ID,
		"channel", c.Channel,
	)
	return nil
}

// DeclareHost claims the signaling host slot for a chat connection.
func (h *Hub) DeclareHost(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.streams[c.StreamID]
	if !ok {
		return domain.ErrStreamNotFound
	}
	if entry.host != nil && entry.host != c {
		return domain.ErrHostExists
	}
	entry.host = c
	return nil
}

// IsHost reports whether c holds the signaling host slot of its stream.
func (h *Hub) IsHost(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, ok := h.streams[c.StreamID]
	return ok && entry.host == c
}

// JoinViewer registers c as a signaling viewer and tells the host, if one
// is declared.
func (h *Hub) JoinViewer(c *Client) {
	h.mu.Lock()
	entry, ok := h.streams[c.StreamID]
	if !ok {
		h.mu.Unlock()
		return
	}
	entry.viewers[c.ID] = c
	if entry.host != nil {
		h.enqueueJSONLocked(entry.host, domain.NewViewerPresenceOutbound(domain.MsgTypeViewerJoined, c.StreamID, c.ID))
	}
	h.mu.Unlock()
}

// LeaveViewer removes c from the signaling viewer table and tells the
// host. Idempotent.
func (h *Hub) LeaveViewer(c *Client) {
	h.mu.Lock()
	entry, ok := h.streams[c.StreamID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, joined := entry.viewers[c.ID]; !joined {
		h.mu.Unlock()
		return
	}
	delete(entry.viewers, c.ID)
	if entry.host != nil {
		h.enqueueJSONLocked(entry.host, domain.NewViewerPresenceOutbound(domain.MsgTypeViewerLeft, c.StreamID, c.ID))
	}
	h.mu.Unlock()
}

// RemoveClient takes a connection out of the registry and reports the
// fallout: viewer count changes, a lost broadcaster, a garbage collected
// entry. Idempotent.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	entry, ok := h.streams[c.StreamID]
	if !ok {
		h.mu.Unlock()
		return
	}

	removed := false
	chatCount := -1
	listenerCount := -1
	broadcasterLost := false

	switch c.Channel {
	case domain.ChannelChat:
		if _, member := entry.chat[c]; member {
			delete(entry.chat, c)
			removed = true
			chatCount = len(entry.chat)

			if entry.host == c {
				entry.host = nil
			}
			if _, joined := entry.viewers[c.ID]; joined {
				delete(entry.viewers, c.ID)
				if entry.host != nil {
					h.enqueueJSONLocked(entry.host, domain.NewViewerPresenceOutbound(domain.MsgTypeViewerLeft, c.StreamID, c.ID))
				}
			}

			h.broadcastChatLocked(entry, domain.NewViewerCountOutbound(c.StreamID, chatCount))
			if c.Username != "" {
				h.broadcastChatLocked(entry, domain.NewPresenceOutbound(domain.MsgTypeUserLeft, c.StreamID, c.UserID, c.Username))
			}
		}
	case domain.ChannelAudioBroadcaster:
		if entry.broadcaster == c {
			entry.broadcaster = nil
			removed = true
			broadcasterLost = true
		}
	case domain.ChannelAudioListener:
		if _, member := entry.listeners[c]; member {
			delete(entry.listeners, c)
			removed = true
			listenerCount = len(entry.listeners)
		}
	}

	if removed {
		h.total--
	}

	idle := false
	if removed && entry.empty() {
		delete(h.streams, c.StreamID)
		h.history.Clear(c.StreamID)
		idle = true
	}
	h.mu.Unlock()

	if !removed {
		return
	}

	h.collector.RecordConnectionClosed(c.Channel)
	if chatCount >= 0 {
		h.collector.SetStreamViewers(c.StreamID, chatCount)
		h.lifecycle.ViewerCountChanged(context.Background(), c.StreamID, chatCount)
	}
	if listenerCount >= 0 {
		h.collector.SetAudioListeners(c.StreamID, listenerCount)
	}
	if broadcasterLost {
		h.lifecycle.StreamOffline(context.Background(), c.StreamID, "broadcaster disconnected")
	}
	if idle {
		h.collector.RecordStreamReleased(c.StreamID)
		h.lifecycle.StreamIdle(c.StreamID)
	}

	h.logger.Debugw("connection removed",
		"stream_id", c.StreamID,
		"client_id", c.ID,
		"channel", c.Channel,
	)
}

// BroadcastChatMessage appends the message to the history and fans it out
// to the chat channel, atomically with respect to admissions.
func (h *Hub) BroadcastChatMessage(streamID domain.StreamID, userID domain.UserID, username, text string) {
	h.mu.Lock()
	entry, ok := h.streams[streamID]
	if !ok {
		h.mu.Unlock()
		return
	}
	record := h.history.Append(streamID, userID, username, text)
	h.broadcastChatLocked(entry, domain.NewChatOutbound(streamID, record))
	h.mu.Unlock()

	h.collector.RecordChatMessage()
}

// BroadcastStreamStatus implements ports.StreamNotifier. Going offline
// additionally emits stream-ended, the WebRTC teardown trigger.
func (h *Hub) BroadcastStreamStatus(streamID domain.StreamID, isLive bool) {
	h.mu.RLock()
	entry, ok := h.streams[streamID]
	if ok {
		h.broadcastChatLocked(entry, domain.NewStreamStatusOutbound(streamID, isLive))
		if !isLive {
			h.broadcastChatLocked(entry, domain.NewStreamNoticeOutbound(domain.MsgTypeStreamEnded, streamID))
		}
	}
	h.mu.RUnlock()
}

// CloseAudio implements ports.StreamNotifier: closes the stream's audio
// connections after a Live to Offline transition.
func (h *Hub) CloseAudio(streamID domain.StreamID, reason string) {
	h.mu.RLock()
	var targets []*Client
	if entry, ok := h.streams[streamID]; ok {
		if entry.broadcaster != nil {
			targets = append(targets, entry.broadcaster)
		}
		for listener := range entry.listeners {
			targets = append(targets, listener)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Close(websocket.CloseNormalClosure, "stream ended")
	}

	if len(targets) > 0 {
		h.logger.Infow("closed audio connections",
			"stream_id", streamID,
			"reason", reason,
			"count", len(targets),
		)
	}
}

// BroadcastAudioFrame fans one binary frame out to the stream's audio
// listeners. Slow listeners lose the frame and are scheduled for removal.
func (h *Hub) BroadcastAudioFrame(streamID domain.StreamID, data []byte) {
	h.mu.RLock()
	if entry, ok := h.streams[streamID]; ok {
		for listener := range entry.listeners {
			if !listener.enqueue(websocket.BinaryMessage, data) {
				h.collector.RecordFrameDropped()
				go h.dropSlow(listener)
			}
		}
	}
	h.mu.RUnlock()

	h.collector.RecordAudioFrame(len(data))
}

// ForwardAudioLevel mirrors the broadcaster's level meter to the audio
// listeners and, with the stream id attached, to the chat channel.
func (h *Hub) ForwardAudioLevel(streamID domain.StreamID, level float64) {
	h.mu.RLock()
	entry, ok := h.streams[streamID]
	if !ok {
		h.mu.RUnlock()
		return
	}

	control, err := json.Marshal(domain.AudioControl{Type: domain.AudioControlLevel, Level: level})
	if err == nil {
		for listener := range entry.listeners {
			if !listener.enqueue(websocket.TextMessage, control) {
				h.collector.RecordFrameDropped()
				go h.dropSlow(listener)
			}
		}
	}

	h.broadcastChatLocked(entry, domain.NewAudioLevelOutbound(streamID, level))
	h.mu.RUnlock()
}

// SendToViewer delivers a signaling frame to one viewer. False when the
// viewer id is unknown.
func (h *Hub) SendToViewer(streamID domain.StreamID, viewerID string, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, ok := h.streams[streamID]
	if !ok {
		return false
	}
	viewer, ok := entry.viewers[viewerID]
	if !ok {
		return false
	}
	if !viewer.enqueue(websocket.TextMessage, data) {
		h.collector.RecordFrameDropped()
		go h.dropSlow(viewer)
	}
	return true
}

// SendToHost delivers a signaling frame to the stream's host. False when
// no host is declared.
func (h *Hub) SendToHost(streamID domain.StreamID, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entry, ok := h.streams[streamID]
	if !ok || entry.host == nil {
		return false
	}
	if !entry.host.enqueue(websocket.TextMessage, data) {
		h.collector.RecordFrameDropped()
		go h.dropSlow(entry.host)
	}
	return true
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// StreamCount returns the number of registry entries.
func (h *Hub) StreamCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// Shutdown closes every connection for a server drain.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	var targets []*Client
	for _, entry := range h.streams {
		for c := range entry.chat {
			targets = append(targets, c)
		}
		for c := range entry.listeners {
			targets = append(targets, c)
		}
		if entry.broadcaster != nil {
			targets = append(targets, entry.broadcaster)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}

	h.logger.Infow("relay drained", "connections", len(targets))
}

// broadcastChatLocked marshals once and fans out to the chat channel.
// Callers hold h.mu.
func (h *Hub) broadcastChatLocked(entry *streamEntry, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Errorw("failed to marshal broadcast frame", "error", err)
		return
	}
	for c := range entry.chat {
		if !c.enqueue(websocket.TextMessage, data) {
			h.collector.RecordFrameDropped()
			go h.dropSlow(c)
		}
	}
}

// enqueueJSONLocked queues one frame for a single client. Callers hold
// h.mu.
func (h *Hub) enqueueJSONLocked(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Errorw("failed to marshal frame", "error", err)
		return
	}
	if !c.enqueue(websocket.TextMessage, data) {
		h.collector.RecordFrameDropped()
		go h.dropSlow(c)
	}
}

// dropSlow disconnects a client whose send queue overflowed.
func (h *Hub) dropSlow(c *Client) {
	h.logger.Warnw("send queue overflow, dropping connection",
		"stream_id", c.StreamID,
		"client_id", c.ID,
		"channel", c.Channel,
	)
	c.Close(websocket.ClosePolicyViolation, "send queue overflow")
	h.RemoveClient(c)
}
