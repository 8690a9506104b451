// Package gateway implements the realtime WebSocket gateway: a hub that fans events out to clients grouped into
// rooms (per-user, per-guild, per-channel, per-voice-channel), entirely in a single process's memory. There is
// only ever one gateway process per node, so there is no pub/sub fan-out across processes to maintain.
package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/remus-chat/remus-node/internal/protocol"
)

const (
	maxMessageSize  = 8192
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingInterval    = (pongWait * 9) / 10
	sendBufferSize  = 256
	socketRateCount = 60
	socketRateEvery = 10 * time.Second
)

// Client is a single authenticated WebSocket connection.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once
	log       zerolog.Logger
	userID    string
	sessionID string

	mu    sync.Mutex
	rooms map[protocol.RoomKey]struct{}

	rateMu      sync.Mutex
	eventCount  int
	windowStart time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, logger zerolog.Logger) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		log:       logger,
		userID:    userID,
		sessionID: uuid.NewString(),
		rooms:     make(map[protocol.RoomKey]struct{}),
	}
}

// UserID returns the authenticated user id owning this connection.
func (c *Client) UserID() string { return c.userID }

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.done) })
}

// enqueue writes msg to the client's send buffer, dropping the connection if the buffer is full rather than
// blocking the Hub on a slow reader.
func (c *Client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn().Str("user_id", c.userID).Msg("Client send buffer full, closing connection")
		c.closeSend()
		_ = c.conn.Close()
	}
}

// sendOutbound marshals and enqueues an outbound frame.
func (c *Client) sendOutbound(event protocol.EventType, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		c.log.Error().Err(err).Str("event", string(event)).Msg("Failed to encode outbound frame")
		return
	}
	frame, err := json.Marshal(protocol.OutboundFrame{Event: event, Data: json.RawMessage(payload)})
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode outbound frame envelope")
		return
	}
	c.enqueue(frame)
}

// sendAck enqueues an acknowledgement for a request that carried an AckID.
func (c *Client) sendAck(ackID string, data any, errMsg string) {
	if ackID == "" {
		return
	}
	var payload json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err == nil {
			payload = encoded
		}
	}
	frame, err := json.Marshal(protocol.OutboundAck{AckID: ackID, Data: payload, Error: errMsg})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// readPump reads and dispatches inbound frames until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if c.rateLimited() {
			c.closeWithCode(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		var frame protocol.InboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.closeWithCode(websocket.CloseUnsupportedData, "invalid frame")
			return
		}
		c.hub.dispatch(c, frame)
	}
}

// writePump writes the send channel and periodic pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

func (c *Client) rateLimited() bool {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	now := time.Now()
	if now.Sub(c.windowStart) > socketRateEvery {
		c.eventCount = 0
		c.windowStart = now
	}
	c.eventCount++
	return c.eventCount > socketRateCount
}
