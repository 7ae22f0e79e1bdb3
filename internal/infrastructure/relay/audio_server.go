package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"aircast/internal/core/domain"
	"aircast/internal/core/ports"
	"aircast/pkg/config"
	"aircast/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	roleBroadcaster = "broadcaster"
	roleListener    = "listener"
)

// AudioServer upgrades and drives the audio websocket: one broadcaster per
// stream fanning opaque binary frames out to listeners, plus a small text
// control protocol (audio_level, ping/pong, end_stream).
type AudioServer struct {
	hub       *Hub
	store     ports.StreamStore
	lifecycle ports.StreamLifecycle
	tokens    ports.TokenService
	cfg       *config.Config
	logger    *zap.SugaredLogger
	upgrader  websocket.Upgrader
}

func NewAudioServer(
	hub *Hub,
	store ports.StreamStore,
	lifecycle ports.StreamLifecycle,
	tokens ports.TokenService,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *AudioServer {
	return &AudioServer{
		hub:       hub,
		store:     store,
		lifecycle: lifecycle,
		tokens:    tokens,
		cfg:       cfg,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.Auth.AllowedOrigins),
		},
	}
}

// HandleWebSocket serves GET /ws/audio?streamId=..&role=..&token=..
func (s *AudioServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	streamID, err := domain.ParseStreamID(r.URL.Query().Get("streamId"))
	if err != nil {
		http.Error(w, "invalid streamId", http.StatusBadRequest)
		return
	}
	role := r.URL.Query().Get("role")
	if err := validation.ValidateRole(role); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	channel := domain.ChannelAudioListener
	if role == roleBroadcaster {
		channel = domain.ChannelAudioBroadcaster
	}

	// Admission is decided before the upgrade, but the verdict is
	// delivered as a close frame, which needs the upgraded connection.
	var (
		closeCode   int
		closeReason string
		userID      domain.UserID
		username    string
	)

	if role == roleBroadcaster {
		claims, err := s.tokens.ValidateToken(r.URL.Query().Get("token"))
		if err != nil {
			closeCode, closeReason = websocket.ClosePolicyViolation, "authentication required"
		} else {
			userID = claims.UserID
			username = claims.Username

			stream, err := s.store.GetByID(r.Context(), streamID)
			switch {
			case errors.Is(err, domain.ErrStreamNotFound):
				closeCode, closeReason = websocket.ClosePolicyViolation, "stream not found"
			case err != nil:
				// No record means no ownership check, and the broadcaster
				// slot is not handed out on a guess.
				s.logger.Warnw("stream lookup failed during broadcaster admission",
					"stream_id", streamID,
					"error", err,
				)
				closeCode, closeReason = websocket.CloseTryAgainLater, "stream store unavailable"
			case stream.OwnerID != claims.UserID:
				closeCode, closeReason = websocket.ClosePolicyViolation, "not the stream owner"
			}
		}
	} else {
		if _, err := s.store.GetByID(r.Context(), streamID); err != nil {
			if errors.Is(err, domain.ErrStreamNotFound) {
				closeCode, closeReason = websocket.ClosePolicyViolation, "stream not found"
			} else {
				s.logger.Warnw("stream lookup failed during listener admission",
					"stream_id", streamID,
					"error", err,
				)
			}
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, streamID, channel, s.logger)
	client.UserID = userID
	client.Username = username
	client.Authenticated = role == roleBroadcaster && closeCode == 0

	if closeCode != 0 {
		client.Close(closeCode, closeReason)
		return
	}

	if err := s.hub.AdmitAudio(client); err != nil {
		switch {
		case errors.Is(err, domain.ErrBroadcasterExists):
			client.Close(websocket.ClosePolicyViolation, "broadcaster already connected")
		case errors.Is(err, domain.ErrRelayFull):
			client.Close(websocket.CloseTryAgainLater, "relay at capacity")
		default:
			client.Close(websocket.CloseInternalServerErr, "admission failed")
		}
		return
	}

	if role == roleBroadcaster {
		if err := s.lifecycle.StreamLive(r.Context(), streamID); err != nil {
			s.logger.Warnw("live transition failed",
				"stream_id", streamID,
				"error", err,
			)
		}
	}

	go client.WritePump()
	client.ReadPump(s.cfg.Relay.MaxAudioFrameBytes, s.handleMessage)
}

func (s *AudioServer) handleMessage(c *Client, messageType int, data []byte) {
	if messageType == websocket.BinaryMessage {
		if c.Channel != domain.ChannelAudioBroadcaster {
			s.logger.Debugw("dropping binary frame from listener", "stream_id", c.StreamID)
			return
		}
		s.hub.BroadcastAudioFrame(c.StreamID, data)
		return
	}

	var ctl domain.AudioControl
	if err := json.Unmarshal(data, &ctl); err != nil {
		c.Close(websocket.CloseInvalidFramePayloadData, "malformed control frame")
		return
	}

	switch ctl.Type {
	case domain.AudioControlPing:
		s.sendControl(c, domain.AudioControl{Type: domain.AudioControlPong})

	case domain.AudioControlLevel:
		if c.Channel != domain.ChannelAudioBroadcaster {
			return
		}
		if err := validation.ValidateAudioLevel(ctl.Level); err != nil {
			s.logger.Debugw("dropping invalid audio level",
				"stream_id", c.StreamID,
				"level", ctl.Level,
			)
			return
		}
		s.hub.ForwardAudioLevel(c.StreamID, ctl.Level)

	case domain.AudioControlEndStream:
		if c.Channel != domain.ChannelAudioBroadcaster {
			return
		}
		s.lifecycle.StreamOffline(context.Background(), c.StreamID, "ended by broadcaster")

	default:
		if c.Channel == domain.ChannelAudioBroadcaster {
			c.Close(websocket.CloseInvalidFramePayloadData, "unknown control type: "+ctl.Type)
			return
		}
		// Listener chatter other than ping is ignored.
	}
}

func (s *AudioServer) sendControl(c *Client, ctl domain.AudioControl) {
	data, err := json.Marshal(ctl)
	if err != nil {
		return
	}
	if !c.enqueue(websocket.TextMessage, data) {
		go s.hub.dropSlow(c)
	}
}
