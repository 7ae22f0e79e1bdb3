package relay

import (
	"sync"
	"time"

	"aircast/internal/core/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

// envelope carries one outbound websocket frame through the send queue,
// keeping text and binary frames in a single FIFO per connection.
type envelope struct {
	messageType int
	data        []byte
}

// Client is one websocket connection tracked by the hub. ID doubles as
// the signaling viewer id on chat connections.
type Client struct {
	ID       string
	StreamID domain.StreamID
	Channel  domain.Channel

	// Identity. UserID is zero and Username empty for anonymous viewers;
	// Authenticated is true only when a valid token was presented.
	UserID        domain.UserID
	Username      string
	Authenticated bool

	// chatName is what chat messages are attributed to: the username, or
	// a generated guest handle for anonymous senders.
	chatName string

	hub  *Hub
	conn *websocket.Conn
	send chan envelope

	pingInterval time.Duration
	pongTimeout  time.Duration

	// limiter throttles inbound chat messages; nil when rate limiting
	// is disabled or on audio connections.
	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.SugaredLogger
}

func newClient(hub *Hub, conn *websocket.Conn, streamID domain.StreamID, channel domain.Channel, logger *zap.SugaredLogger) *Client {
	return &Client{
		ID:           uuid.NewString(),
		StreamID:     streamID,
		Channel:      channel,
		hub:          hub,
		conn:         conn,
		send:         make(chan envelope, hub.sendBufferSize),
		pingInterval: hub.pingInterval,
		pongTimeout:  hub.pongTimeout,
		done:         make(chan struct{}),
		logger:       logger,
	}
}

// enqueue queues a frame without blocking. False means the queue was full
// and the frame was dropped.
func (c *Client) enqueue(messageType int, data []byte) bool {
	select {
	case c.send <- envelope{messageType: messageType, data: data}:
		return true
	default:
		return false
	}
}

// Close sends a close frame and tears the connection down. Safe to call
// from any goroutine and more than once.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		close(c.done)
		_ = c.conn.Close()
	})
}

// ReadPump reads frames until the connection dies and hands each one to
// the handler. It owns hub removal on exit.
func (c *Client) ReadPump(readLimit int64, handler func(*Client, int, []byte)) {
	defer func() {
		c.hub.RemoveClient(c)
		_ = c.conn.Close()
	}()

	if readLimit > 0 {
		c.conn.SetReadLimit(readLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debugw("websocket read failed",
					"stream_id", c.StreamID,
					"channel", c.Channel,
					"error", err,
				)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))

		handler(c, messageType, data)
	}
}

// WritePump drains the send queue onto the wire and keeps the connection
// alive with pings. The single writer goroutine per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(env.messageType, env.data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
