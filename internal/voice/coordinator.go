// Package voice implements the Voice SFU Coordinator (spec.md §4.6): the peer state machine and request/ack
// protocol for WebRTC voice/screenshare, driven against an external media worker through the narrow MediaAdapter
// boundary. Built on the same room/broadcast idioms as internal/gateway (mutex-guarded maps, one goroutine per
// connection's lifecycle), generalized from text rooms to voice rooms with producer/consumer lifecycle on top.
package voice

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/ratelimit"
)

// Store is the subset of internal/store the coordinator needs.
type Store interface {
	GetChannelRecord(ctx context.Context, channelID string) (*protocol.Channel, error)
	GetMemberRecord(ctx context.Context, guildID, userID string) (*protocol.Member, error)
}

// Broadcaster is the subset of *gateway.Hub the coordinator needs to join/leave rooms and fan out events. Declaring
// it here, rather than importing internal/gateway, keeps the two packages decoupled: gateway depends on its own
// gateway.VoiceHandler, voice depends on this interface, and *gateway.Hub happens to satisfy it structurally.
type Broadcaster interface {
	Join(userID string, room protocol.RoomKey)
	Leave(userID string, room protocol.RoomKey)
	Broadcast(room protocol.RoomKey, event protocol.EventType, data any)
	SendToUser(userID string, event protocol.EventType, data any)
}

// Peer is one session's voice state within a single channel (spec.md §4.6 "Room state").
type Peer struct {
	sessionID string
	userID    string
	guildID   string
	channelID string

	mu         sync.Mutex
	transports map[string]Transport
	producers  map[string]Producer
	consumers  map[string]Consumer
	speaking   bool
}

type roomProducer struct {
	producer Producer
	peerID   string
	userID   string
}

type room struct {
	peers     map[string]*Peer // sessionID -> peer
	producers map[string]roomProducer
}

type presenceCacheEntry struct {
	value   presence
	expires time.Time
}

// Coordinator drives one MediaAdapter worker/router pair and owns every voice room on the node.
type Coordinator struct {
	adapter MediaAdapter
	worker  Worker
	router  Router

	store       Store
	perm        *permission.Engine
	broadcaster Broadcaster
	limiter     *ratelimit.Limiter
	log         zerolog.Logger

	listenIP    string
	announcedIP string

	mu             sync.Mutex
	rooms          map[string]*room // channelID -> room
	peersBySession map[string]*Peer
	sessionsByUser map[string]map[string]struct{} // userID -> session ids, for moderation fan-out across sockets

	presenceMu    sync.Mutex
	presenceCache map[string]presenceCacheEntry
}

const presenceCacheTTL = 5 * time.Second

// New creates a Coordinator, spinning up exactly one worker and router (spec.md §4.6 "Model"). listenIP and
// announcedIP are passed to every transport the coordinator creates (spec.md §4.6 step 3
// "{listenIps: [{ip: listenIp, announcedIp?}], ...}", sourced from REMUS_MEDIA_LISTEN_IP/REMUS_MEDIA_ANNOUNCED_IP).
// If the worker dies later, the process exits: a dead media worker cannot route RTP for anyone, so staying up
// serves no one.
func New(ctx context.Context, adapter MediaAdapter, store Store, perm *permission.Engine, broadcaster Broadcaster, limiter *ratelimit.Limiter, listenIP, announcedIP string, logger zerolog.Logger) (*Coordinator, error) {
	worker, err := adapter.CreateWorker(ctx)
	if err != nil {
		return nil, err
	}
	router, err := adapter.CreateRouter(ctx, worker, DefaultMediaCodecs())
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		adapter:        adapter,
		worker:         worker,
		router:         router,
		store:          store,
		perm:           perm,
		broadcaster:    broadcaster,
		limiter:        limiter,
		listenIP:       listenIP,
		announcedIP:    announcedIP,
		log:            logger.With().Str("component", "voice").Logger(),
		rooms:          make(map[string]*room),
		peersBySession: make(map[string]*Peer),
		sessionsByUser: make(map[string]map[string]struct{}),
		presenceCache:  make(map[string]presenceCacheEntry),
	}

	go c.watchWorker()
	return c, nil
}

func (c *Coordinator) watchWorker() {
	<-c.worker.Died()
	c.log.Fatal().Msg("Media worker died, exiting")
}

func (c *Coordinator) getOrCreateRoom(channelID string) *room {
	r, ok := c.rooms[channelID]
	if !ok {
		r = &room{peers: make(map[string]*Peer), producers: make(map[string]roomProducer)}
		c.rooms[channelID] = r
	}
	return r
}

func newSessionID() string { return uuid.NewString() }
