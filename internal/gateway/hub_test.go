package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	banned   map[string]bool
	channels map[string]*protocol.Channel
	messages []protocol.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		banned:   make(map[string]bool),
		channels: make(map[string]*protocol.Channel),
	}
}

func (s *fakeStore) NodeGuildID(context.Context) (string, error) { return "guild-1", nil }

func (s *fakeStore) IsBanned(_ context.Context, userID string) (bool, error) {
	return s.banned[userID], nil
}

func (s *fakeStore) GetMemberRecord(_ context.Context, guildID, userID string) (*protocol.Member, error) {
	return &protocol.Member{GuildID: guildID, UserID: userID}, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, p store.CreateMessageParams) (*protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := protocol.Message{
		ID:        "msg-1",
		ChannelID: p.ChannelID,
		AuthorID:  p.AuthorID,
		Content:   p.Content,
		CreatedAt: time.Now(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *fakeStore) GetChannelRecord(_ context.Context, channelID string) (*protocol.Channel, error) {
	return s.channels[channelID], nil
}

func (s *fakeStore) GetUpload(context.Context, string) (*protocol.Upload, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) GetMessage(context.Context, string) (*protocol.Message, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) GetProfile(_ context.Context, userID string) (*protocol.Profile, error) {
	return &protocol.Profile{ID: userID, Username: "name-" + userID}, nil
}

// fakePermStore backs a real permission.Engine so HasPermission exercises the actual algorithm rather than a stub.
type fakePermStore struct {
	everyoneRoleID string
	roles          []permission.RoleRef
	members        map[string]*permission.MemberRef
	channels       map[string]*permission.ChannelRef
}

func (s *fakePermStore) GetGuild(context.Context, string) (string, []permission.RoleRef, error) {
	return s.everyoneRoleID, s.roles, nil
}

func (s *fakePermStore) GetMember(_ context.Context, _, userID string) (*permission.MemberRef, error) {
	return s.members[userID], nil
}

func (s *fakePermStore) GetChannel(_ context.Context, channelID string) (*permission.ChannelRef, error) {
	return s.channels[channelID], nil
}

func newTestHub(store Store, permStore *fakePermStore) *Hub {
	return New(store, permission.New(permStore), nil, nil, zerolog.Nop())
}

func newTestClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		send:   make(chan []byte, 16),
		done:   make(chan struct{}),
		log:    zerolog.Nop(),
		userID: userID,
		rooms:  make(map[protocol.RoomKey]struct{}),
	}
}

func drainAck(t *testing.T, c *Client) protocol.OutboundAck {
	t.Helper()
	select {
	case msg := <-c.send:
		var ack protocol.OutboundAck
		if err := json.Unmarshal(msg, &ack); err != nil {
			t.Fatalf("unmarshal ack: %v", err)
		}
		return ack
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
		return protocol.OutboundAck{}
	}
}

func drainFrame(t *testing.T, c *Client) protocol.OutboundFrame {
	t.Helper()
	select {
	case msg := <-c.send:
		var f protocol.OutboundFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return protocol.OutboundFrame{}
	}
}

func TestHandleGuildJoinRoomJoinsRoom(t *testing.T) {
	store := newFakeStore()
	permStore := &fakePermStore{everyoneRoleID: "guild-1", members: map[string]*permission.MemberRef{}}
	hub := newTestHub(store, permStore)
	client := newTestClient(hub, "user-1")

	data, _ := json.Marshal(protocol.GuildJoinRoomPayload{GuildID: "guild-1"})
	hub.dispatch(client, protocol.InboundFrame{Event: protocol.EventGuildJoinRoom, Data: data, AckID: "ack-1"})

	ack := drainAck(t, client)
	if ack.Error != "" {
		t.Fatalf("unexpected ack error: %s", ack.Error)
	}

	client.mu.Lock()
	_, joined := client.rooms[protocol.GuildRoom("guild-1")]
	client.mu.Unlock()
	if !joined {
		t.Error("expected client to have joined guild room")
	}
}

func TestHandleChannelJoinRequiresViewPermission(t *testing.T) {
	store := newFakeStore()
	store.channels["chan-1"] = &protocol.Channel{ID: "chan-1", GuildID: "guild-1"}
	permStore := &fakePermStore{
		everyoneRoleID: "guild-1",
		roles:          []permission.RoleRef{{ID: "guild-1", Permissions: 0, Position: 0}},
		members:        map[string]*permission.MemberRef{"user-1": {}},
		channels: map[string]*permission.ChannelRef{
			"chan-1": {ID: "chan-1"},
		},
	}
	hub := newTestHub(store, permStore)
	client := newTestClient(hub, "user-1")

	data, _ := json.Marshal(protocol.ChannelJoinPayload{ChannelID: "chan-1"})
	hub.dispatch(client, protocol.InboundFrame{Event: protocol.EventChannelJoin, Data: data, AckID: "ack-1"})

	ack := drainAck(t, client)
	if ack.Error == "" {
		t.Fatal("expected forbidden error without ViewChannels permission")
	}
}

func TestHandleChannelJoinSucceedsWithPermission(t *testing.T) {
	store := newFakeStore()
	store.channels["chan-1"] = &protocol.Channel{ID: "chan-1", GuildID: "guild-1"}
	permStore := &fakePermStore{
		everyoneRoleID: "guild-1",
		roles:          []permission.RoleRef{{ID: "guild-1", Permissions: protocol.ViewChannels, Position: 0}},
		members:        map[string]*permission.MemberRef{"user-1": {}},
		channels: map[string]*permission.ChannelRef{
			"chan-1": {ID: "chan-1"},
		},
	}
	hub := newTestHub(store, permStore)
	client := newTestClient(hub, "user-1")

	data, _ := json.Marshal(protocol.ChannelJoinPayload{ChannelID: "chan-1"})
	hub.dispatch(client, protocol.InboundFrame{Event: protocol.EventChannelJoin, Data: data, AckID: "ack-1"})

	ack := drainAck(t, client)
	if ack.Error != "" {
		t.Fatalf("unexpected ack error: %s", ack.Error)
	}

	client.mu.Lock()
	_, joined := client.rooms[protocol.ChannelRoom("chan-1")]
	client.mu.Unlock()
	if !joined {
		t.Error("expected client to have joined channel room")
	}
}

func TestHandleMessageSendBroadcastsToChannelRoom(t *testing.T) {
	store := newFakeStore()
	store.channels["chan-1"] = &protocol.Channel{ID: "chan-1", GuildID: "guild-1"}
	permStore := &fakePermStore{
		everyoneRoleID: "guild-1",
		roles:          []permission.RoleRef{{ID: "guild-1", Permissions: protocol.SendMessages, Position: 0}},
		members:        map[string]*permission.MemberRef{"user-1": {}, "user-2": {}},
		channels: map[string]*permission.ChannelRef{
			"chan-1": {ID: "chan-1"},
		},
	}
	hub := newTestHub(store, permStore)

	sender := newTestClient(hub, "user-1")
	listener := newTestClient(hub, "user-2")
	hub.mu.Lock()
	hub.joinRoomLocked(protocol.ChannelRoom("chan-1"), sender)
	hub.joinRoomLocked(protocol.ChannelRoom("chan-1"), listener)
	hub.mu.Unlock()

	data, _ := json.Marshal(protocol.MessageSendPayload{ChannelID: "chan-1", Content: "hello"})
	hub.dispatch(sender, protocol.InboundFrame{Event: protocol.EventMessageSend, Data: data, AckID: "ack-1"})

	ack := drainAck(t, sender)
	if ack.Error != "" {
		t.Fatalf("unexpected ack error: %s", ack.Error)
	}

	frame := drainFrame(t, listener)
	if frame.Event != protocol.EventMessageNew {
		t.Errorf("Event = %q, want %q", frame.Event, protocol.EventMessageNew)
	}
	payload, ok := frame.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object payload, got %T", frame.Data)
	}
	author, ok := payload["author"].(map[string]any)
	if !ok {
		t.Fatal("expected author embedded in message:new broadcast")
	}
	if author["username"] != "name-user-1" {
		t.Errorf("author.username = %v, want name-user-1", author["username"])
	}
}

func TestHandleMessageSendDeniedWithoutPermission(t *testing.T) {
	store := newFakeStore()
	store.channels["chan-1"] = &protocol.Channel{ID: "chan-1", GuildID: "guild-1"}
	permStore := &fakePermStore{
		everyoneRoleID: "guild-1",
		roles:          []permission.RoleRef{{ID: "guild-1", Permissions: 0, Position: 0}},
		members:        map[string]*permission.MemberRef{"user-1": {}},
		channels: map[string]*permission.ChannelRef{
			"chan-1": {ID: "chan-1"},
		},
	}
	hub := newTestHub(store, permStore)
	client := newTestClient(hub, "user-1")

	data, _ := json.Marshal(protocol.MessageSendPayload{ChannelID: "chan-1", Content: "hello"})
	hub.dispatch(client, protocol.InboundFrame{Event: protocol.EventMessageSend, Data: data, AckID: "ack-1"})

	ack := drainAck(t, client)
	if ack.Error == "" {
		t.Fatal("expected forbidden error without SendMessages permission")
	}
	if len(store.messages) != 0 {
		t.Error("expected no message to be created")
	}
}

func TestBroadcastReachesOnlyRoomMembers(t *testing.T) {
	store := newFakeStore()
	hub := newTestHub(store, &fakePermStore{})

	inRoom := newTestClient(hub, "user-1")
	outOfRoom := newTestClient(hub, "user-2")
	hub.mu.Lock()
	hub.joinRoomLocked(protocol.ChannelRoom("chan-1"), inRoom)
	hub.mu.Unlock()

	hub.Broadcast(protocol.ChannelRoom("chan-1"), protocol.EventMessageNew, map[string]string{"x": "y"})

	select {
	case <-inRoom.send:
	case <-time.After(time.Second):
		t.Fatal("expected in-room client to receive broadcast")
	}

	select {
	case <-outOfRoom.send:
		t.Fatal("out-of-room client should not receive broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterRemovesClientFromAllRooms(t *testing.T) {
	store := newFakeStore()
	hub := newTestHub(store, &fakePermStore{})
	client := newTestClient(hub, "user-1")

	hub.register(client)
	hub.mu.Lock()
	hub.joinRoomLocked(protocol.ChannelRoom("chan-1"), client)
	hub.mu.Unlock()

	hub.unregister(client)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if _, ok := hub.clientsByUser["user-1"]; ok {
		t.Error("expected user to be removed from clientsByUser")
	}
	if _, ok := hub.rooms[protocol.ChannelRoom("chan-1")]; ok {
		t.Error("expected channel room to be cleaned up once empty")
	}
}
