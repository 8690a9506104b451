package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/ratelimit"
	"github.com/remus-chat/remus-node/internal/store"
)

// Store is the subset of internal/store the gateway needs, satisfied by *store.Store and by in-memory fakes in
// tests.
type Store interface {
	NodeGuildID(ctx context.Context) (string, error)
	IsBanned(ctx context.Context, userID string) (bool, error)
	GetMemberRecord(ctx context.Context, guildID, userID string) (*protocol.Member, error)
	CreateMessage(ctx context.Context, p store.CreateMessageParams) (*protocol.Message, error)
	GetChannelRecord(ctx context.Context, channelID string) (*protocol.Channel, error)
	GetUpload(ctx context.Context, uploadID string) (*protocol.Upload, error)
	GetMessage(ctx context.Context, messageID string) (*protocol.Message, error)
	GetProfile(ctx context.Context, userID string) (*protocol.Profile, error)
}

// VoiceHandler forwards voice:* inbound frames to the SFU coordinator (internal/voice), decoupling the two
// packages: gateway depends only on this interface, and voice depends only on the Broadcaster interface it
// declares, satisfied by *Hub.
type VoiceHandler interface {
	HandleFrame(ctx context.Context, userID, sessionID string, event protocol.EventType, data json.RawMessage) (ack any, errMsg string)
	Disconnect(sessionID string)
}

// Hub is the process-wide connection registry and room-based event fan-out (spec.md §4.5). All state here is
// in-memory only; spec.md §5 rules out sharing it across processes.
type Hub struct {
	mu            sync.RWMutex
	clientsByUser map[string]map[*Client]struct{}
	rooms         map[protocol.RoomKey]map[*Client]struct{}

	store   Store
	perm    *permission.Engine
	voice   VoiceHandler
	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

// New creates a Hub.
func New(store Store, perm *permission.Engine, voice VoiceHandler, limiter *ratelimit.Limiter, logger zerolog.Logger) *Hub {
	return &Hub{
		clientsByUser: make(map[string]map[*Client]struct{}),
		rooms:         make(map[protocol.RoomKey]map[*Client]struct{}),
		store:         store,
		perm:          perm,
		voice:         voice,
		limiter:       limiter,
		log:           logger.With().Str("component", "gateway").Logger(),
	}
}

// SetVoiceHandler wires the voice SFU coordinator into the hub after both are constructed. The two packages
// construct each other's dependency interface (voice.Broadcaster is satisfied by *Hub, gateway.VoiceHandler by
// *voice.Coordinator), so cmd/remus builds the Hub first with no voice handler, then the Coordinator against it,
// then calls this to complete the wiring before any socket connects.
func (h *Hub) SetVoiceHandler(voice VoiceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.voice = voice
}

// ServeWebSocket takes ownership of an authenticated, already-upgraded WebSocket connection and runs it until it
// closes. userID must already be resolved by the caller (spec.md §4.5 "connections authenticate before upgrade").
func (h *Hub) ServeWebSocket(conn *websocket.Conn, userID string) {
	ctx := context.Background()

	banned, err := h.store.IsBanned(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Ban check failed on connect")
		_ = conn.Close()
		return
	}

	client := newClient(h, conn, userID, h.log)
	h.register(client)
	defer h.unregister(client)

	if banned {
		client.sendOutbound(protocol.EventAuthBanned, map[string]any{"reason": "banned"})
		client.closeWithCode(websocket.ClosePolicyViolation, "banned")
		return
	}

	go client.writePump()
	client.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clientsByUser[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clientsByUser[c.userID] = set
	}
	set[c] = struct{}{}
	h.joinRoomLocked(protocol.UserRoom(c.userID), c)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clientsByUser[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clientsByUser, c.userID)
		}
	}

	c.mu.Lock()
	rooms := make([]protocol.RoomKey, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()
	for _, r := range rooms {
		h.leaveRoomLocked(r, c)
	}
	vh := h.voice
	h.mu.Unlock()

	// Voice cleanup broadcasts producerClosed/presence back through this hub, so it must run after the hub lock is
	// released.
	if vh != nil {
		vh.Disconnect(c.sessionID)
	}
	c.closeSend()
}

func (h *Hub) joinRoomLocked(room protocol.RoomKey, c *Client) {
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[*Client]struct{})
		h.rooms[room] = set
	}
	set[c] = struct{}{}
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) leaveRoomLocked(room protocol.RoomKey, c *Client) {
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// Join adds client(s) for userID to room. Used both internally and by internal/voice (through the Broadcaster
// interface it defines, satisfied by Hub) to put a user's connections into a voice room.
func (h *Hub) Join(userID string, room protocol.RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clientsByUser[userID] {
		h.joinRoomLocked(room, c)
	}
}

// Leave removes userID's connections from room.
func (h *Hub) Leave(userID string, room protocol.RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clientsByUser[userID] {
		h.leaveRoomLocked(room, c)
	}
}

// Broadcast sends an event to every client in room.
func (h *Hub) Broadcast(room protocol.RoomKey, event protocol.EventType, data any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.sendOutbound(event, data)
	}
}

// broadcastExcept sends an event to every client in room except the originating connection (spec.md §4.5: typing
// events exclude the sender).
func (h *Hub) broadcastExcept(room protocol.RoomKey, except *Client, event protocol.EventType, data any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.sendOutbound(event, data)
	}
}

// SendToUser sends an event to every connection a specific user has open.
func (h *Hub) SendToUser(userID string, event protocol.EventType, data any) {
	h.Broadcast(protocol.UserRoom(userID), event, data)
}

// DisconnectUser force-closes every connection a user has open (spec.md §4.6 "kick disconnects active sockets").
func (h *Hub) DisconnectUser(userID, reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clientsByUser[userID]))
	for c := range h.clientsByUser[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.sendOutbound(protocol.EventGuildKicked, map[string]string{"reason": reason})
		c.closeWithCode(websocket.CloseNormalClosure, reason)
	}
}

// dispatch routes one inbound frame to its handler.
func (h *Hub) dispatch(c *Client, frame protocol.InboundFrame) {
	ctx := context.Background()

	if strings.HasPrefix(string(frame.Event), "voice:") {
		h.dispatchVoice(ctx, c, frame)
		return
	}

	switch frame.Event {
	case protocol.EventGuildJoinRoom:
		h.handleGuildJoinRoom(ctx, c, frame)
	case protocol.EventChannelJoin:
		h.handleChannelJoin(ctx, c, frame)
	case protocol.EventTypingStart, protocol.EventTypingStop:
		h.handleTyping(ctx, c, frame)
	case protocol.EventMessageSend:
		h.handleMessageSend(ctx, c, frame)
	default:
		c.sendAck(frame.AckID, nil, "unknown event")
	}
}

func (h *Hub) dispatchVoice(ctx context.Context, c *Client, frame protocol.InboundFrame) {
	h.mu.RLock()
	vh := h.voice
	h.mu.RUnlock()

	if vh == nil {
		c.sendAck(frame.AckID, nil, "voice unavailable")
		return
	}
	ack, errMsg := vh.HandleFrame(ctx, c.userID, c.sessionID, frame.Event, frame.Data)
	c.sendAck(frame.AckID, ack, errMsg)
}
