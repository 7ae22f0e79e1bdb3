package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/pkg/config"
	"aircast/pkg/utils"
	"aircast/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// originChecker builds the upgrader origin check from the configured
// allow list. Requests without an Origin header (native clients, tests)
// always pass.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// ChatServer upgrades and drives the chat/signal websocket: chat traffic,
// WebRTC signaling relay, presence and stream status frames.
type ChatServer struct {
	hub       *Hub
	store     ports.StreamStore
	lifecycle ports.StreamLifecycle
	tokens    ports.TokenService
	cfg       *config.Config
	logger    *zap.SugaredLogger
	upgrader  websocket.Upgrader
}

func NewChatServer(
	hub *Hub,
	store ports.StreamStore,
	lifecycle ports.StreamLifecycle,
	tokens ports.TokenService,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *ChatServer {
	return &ChatServer{
		hub:       hub,
		store:     store,
		lifecycle: lifecycle,
		tokens:    tokens,
		cfg:       cfg,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.Auth.AllowedOrigins),
		},
	}
}

// HandleWebSocket serves GET /ws/chat?streamId=..&userId=..&username=..&token=..
func (s *ChatServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	streamID, err := domain.ParseStreamID(r.URL.Query().Get("streamId"))
	if err != nil {
		http.Error(w, "invalid streamId", http.StatusBadRequest)
		return
	}

	userID, username, authenticated := s.resolveIdentity(r)

	// Admission check. Store trouble other than a clean miss does not
	// keep viewers out; the relay runs without the store if it must.
	exists := true
	if _, err := s.store.GetByID(r.Context(), streamID); err != nil {
		if errors.Is(err, domain.ErrStreamNotFound) {
			exists = false
		} else {
			s.logger.Warnw("stream lookup failed during admission",
				"stream_id", streamID,
				"error", err,
			)
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, streamID, domain.ChannelChat, s.logger)
	client.UserID = userID
	client.Username = username
	client.Authenticated = authenticated
	if username != "" {
		client.chatName = username
	} else {
		client.chatName = "guest-" + utils.GenerateID(3)
	}
	if s.cfg.RateLimiting.Enabled {
		client.limiter = rate.NewLimiter(
			rate.Limit(s.cfg.RateLimiting.WebSocket.MessagesPerSecond),
			s.cfg.RateLimiting.WebSocket.Burst,
		)
	}

	if !exists {
		s.sendDirect(conn, domain.NewStreamNoticeOutbound(domain.MsgTypeStreamNotFound, streamID))
		client.Close(websocket.ClosePolicyViolation, "stream not found")
		return
	}

	if err := s.hub.AdmitChat(client); err != nil {
		s.logger.Warnw("chat admission rejected",
			"stream_id", streamID,
			"error", err,
		)
		client.Close(websocket.CloseTryAgainLater, "relay at capacity")
		return
	}

	go client.WritePump()
	client.ReadPump(s.cfg.RateLimiting.WebSocket.MaxMessageSizeBytes, s.handleMessage)
}

// resolveIdentity extracts the sender identity from the query. A valid
// token wins over the plain userId/username parameters; an invalid token
// degrades to anonymous.
func (s *ChatServer) resolveIdentity(r *http.Request) (domain.UserID, string, bool) {
	q := r.URL.Query()

	if token := q.Get("token"); token != "" {
		claims, err := s.tokens.ValidateToken(token)
		if err == nil {
			return claims.UserID, claims.Username, true
		}
		s.logger.Debugw("invalid token on chat connection", "error", err)
	}

	var userID domain.UserID
	if raw := q.Get("userId"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			userID = domain.UserID(n)
		}
	}

	username := q.Get("username")
	if username != "" {
		if err := validation.ValidateUsername(username); err != nil {
			s.logger.Debugw("rejected username, treating connection as anonymous",
				"username", username,
				"error", err,
			)
			username = ""
		}
	}

	return userID, username, false
}

func (s *ChatServer) handleMessage(c *Client, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		c.Close(websocket.CloseInvalidFramePayloadData, "expected text frame")
		return
	}

	var base domain.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		c.Close(websocket.CloseInvalidFramePayloadData, "malformed message")
		return
	}

	// A connection is bound to one stream at upgrade; frames aimed at
	// another stream are dropped.
	if base.StreamID != 0 && base.StreamID != c.StreamID {
		s.logger.Debugw("dropping frame for foreign stream",
			"connection_stream", c.StreamID,
			"frame_stream", base.StreamID,
			"type", base.Type,
		)
		return
	}

	switch base.Type {
	case domain.MsgTypeChat:
		s.handleChat(c, data)
	case domain.MsgTypeHostStream:
		s.hub.collector.RecordSignalFrame(base.Type)
		s.handleHostStream(c)
	case domain.MsgTypeJoinStream:
		s.hub.collector.RecordSignalFrame(base.Type)
		s.handleJoinStream(c)
	case domain.MsgTypeLeaveStream:
		s.hub.collector.RecordSignalFrame(base.Type)
		s.hub.LeaveViewer(c)
	case domain.MsgTypeEndStream:
		s.handleEndStream(c)
	case domain.MsgTypeStreamOffer:
		s.hub.collector.RecordSignalFrame(base.Type)
		s.handleOffer(c, data)
	case domain.MsgTypeStreamAnswer:
		s.hub.collector.RecordSignalFrame(base.Type)
		s.handleAnswer(c, data)
	case domain.MsgTypeICECandidate:
		s.hub.collector.RecordSignalFrame(base.Type)
		s.handleICECandidate(c, data)
	default:
		c.Close(websocket.CloseInvalidFramePayloadData, fmt.Sprintf("unknown message type: %s", base.Type))
	}
}

func (s *ChatServer) handleChat(c *Client, data []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.Close(websocket.ClosePolicyViolation, "message rate exceeded")
		return
	}

	var msg domain.ChatInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Close(websocket.CloseInvalidFramePayloadData, "malformed message")
		return
	}

	text := utils.SanitizeString(msg.Message)
	text = utils.TruncateRunes(text, s.cfg.History.MaxMessageLength)
	if err := validation.ValidateChatMessage(text, s.cfg.History.MaxMessageLength); err != nil {
		s.logger.Debugw("dropping invalid chat message",
			"stream_id", c.StreamID,
			"error", err,
		)
		return
	}

	s.hub.BroadcastChatMessage(c.StreamID, c.UserID, c.chatName, text)
}

func (s *ChatServer) handleHostStream(c *Client) {
	if err := s.hub.DeclareHost(c); err != nil {
		if errors.Is(err, domain.ErrHostExists) {
			c.Close(websocket.ClosePolicyViolation, "host already declared")
		}
		return
	}
	s.logger.Infow("signaling host declared",
		"stream_id", c.StreamID,
		"client_id", c.ID,
	)
}

func (s *ChatServer) handleJoinStream(c *Client) {
	if _, err := s.store.GetByID(context.Background(), c.StreamID); err != nil {
		if errors.Is(err, domain.ErrStreamNotFound) {
			s.sendTo(c, domain.NewStreamNoticeOutbound(domain.MsgTypeStreamNotFound, c.StreamID))
			return
		}
		s.logger.Warnw("stream lookup failed on join-stream",
			"stream_id", c.StreamID,
			"error", err,
		)
	}
	s.hub.JoinViewer(c)
}

func (s *ChatServer) handleEndStream(c *Client) {
	if !c.Authenticated {
		s.logger.Infow("ignoring end-stream from unauthenticated connection",
			"stream_id", c.StreamID,
		)
		return
	}
	if err := s.lifecycle.EndStream(context.Background(), c.StreamID, c.UserID); err != nil {
		s.logger.Infow("end-stream rejected",
			"stream_id", c.StreamID,
			"user_id", c.UserID,
			"error", err,
		)
	}
}

// handleOffer relays a host's WebRTC offer to one viewer. The original
// frame is forwarded untouched.
func (s *ChatServer) handleOffer(c *Client, data []byte) {
	var msg domain.OfferMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Close(websocket.CloseInvalidFramePayloadData, "malformed message")
		return
	}
	if !s.hub.IsHost(c) {
		s.logger.Debugw("dropping stream-offer from non-host", "stream_id", c.StreamID)
		return
	}
	if msg.ViewerID == "" || !s.hub.SendToViewer(c.StreamID, msg.ViewerID, data) {
		s.logger.Debugw("dropping stream-offer for unknown viewer",
			"stream_id", c.StreamID,
			"viewer_id", msg.ViewerID,
		)
	}
}

// handleAnswer relays a viewer's answer to the host, stamped with the
// sender's viewer id.
func (s *ChatServer) handleAnswer(c *Client, data []byte) {
	var msg domain.AnswerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Close(websocket.CloseInvalidFramePayloadData, "malformed message")
		return
	}
	msg.ViewerID = c.ID

	out, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !s.hub.SendToHost(c.StreamID, out) {
		s.logger.Debugw("dropping stream-answer, no host declared", "stream_id", c.StreamID)
	}
}

// handleICECandidate routes candidates host -> addressed viewer and
// viewer -> host.
func (s *ChatServer) handleICECandidate(c *Client, data []byte) {
	var msg domain.ICEMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Close(websocket.CloseInvalidFramePayloadData, "malformed message")
		return
	}

	if s.hub.IsHost(c) {
		if msg.ViewerID == "" || !s.hub.SendToViewer(c.StreamID, msg.ViewerID, data) {
			s.logger.Debugw("dropping ice-candidate for unknown viewer",
				"stream_id", c.StreamID,
				"viewer_id", msg.ViewerID,
			)
		}
		return
	}

	msg.ViewerID = c.ID
	out, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !s.hub.SendToHost(c.StreamID, out) {
		s.logger.Debugw("dropping ice-candidate, no host declared", "stream_id", c.StreamID)
	}
}

// sendTo queues a frame for one admitted client.
func (s *ChatServer) sendTo(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if !c.enqueue(websocket.TextMessage, data) {
		go s.hub.dropSlow(c)
	}
}

// sendDirect writes a frame synchronously on a connection that was never
// admitted, so no writer goroutine exists for it.
func (s *ChatServer) sendDirect(conn *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
