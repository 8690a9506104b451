package voice

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/ratelimit"
)

type fakeStore struct {
	channels map[string]*protocol.Channel
	members  map[string]*protocol.Member // key: guildID+":"+userID
}

func memberKey(guildID, userID string) string { return guildID + ":" + userID }

func (s *fakeStore) GetChannelRecord(_ context.Context, channelID string) (*protocol.Channel, error) {
	return s.channels[channelID], nil
}

func (s *fakeStore) GetMemberRecord(_ context.Context, guildID, userID string) (*protocol.Member, error) {
	return s.members[memberKey(guildID, userID)], nil
}

type fakePermStore struct {
	everyoneRoleID string
	roles          []permission.RoleRef
}

func (s *fakePermStore) GetGuild(context.Context, string) (string, []permission.RoleRef, error) {
	return s.everyoneRoleID, s.roles, nil
}
func (s *fakePermStore) GetMember(context.Context, string, string) (*permission.MemberRef, error) {
	return &permission.MemberRef{}, nil
}
func (s *fakePermStore) GetChannel(context.Context, string) (*permission.ChannelRef, error) {
	return &permission.ChannelRef{}, nil
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	joined    map[string][]protocol.RoomKey
	broadcast []broadcastCall
	sent      []sentCall
}

type broadcastCall struct {
	room  protocol.RoomKey
	event protocol.EventType
	data  any
}

type sentCall struct {
	userID string
	event  protocol.EventType
	data   any
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{joined: make(map[string][]protocol.RoomKey)}
}

func (b *fakeBroadcaster) Join(userID string, room protocol.RoomKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joined[userID] = append(b.joined[userID], room)
}
func (b *fakeBroadcaster) Leave(string, protocol.RoomKey) {}
func (b *fakeBroadcaster) Broadcast(room protocol.RoomKey, event protocol.EventType, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast = append(b.broadcast, broadcastCall{room, event, data})
}
func (b *fakeBroadcaster) SendToUser(userID string, event protocol.EventType, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentCall{userID, event, data})
}

func newTestCoordinator(t *testing.T, store Store, allowAll bool) (*Coordinator, *fakeBroadcaster) {
	t.Helper()
	var perms protocol.Permission
	if allowAll {
		perms = protocol.AllPermissions
	}
	permStore := &fakePermStore{everyoneRoleID: "guild-1", roles: []permission.RoleRef{{ID: "guild-1", Permissions: perms, Position: 0}}}
	engine := permission.New(permStore)
	broadcaster := newFakeBroadcaster()
	limiter := ratelimit.New(100, time.Minute)

	c, err := New(context.Background(), NewLocalAdapter(), store, engine, broadcaster, limiter, "0.0.0.0", "", zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, broadcaster
}

func TestHandleJoinAddsParticipantAndBroadcastsPresence(t *testing.T) {
	store := &fakeStore{channels: map[string]*protocol.Channel{
		"voice-1": {ID: "voice-1", GuildID: "guild-1"},
	}}
	coord, broadcaster := newTestCoordinator(t, store, true)

	data, _ := json.Marshal(protocol.VoiceJoinPayload{ChannelID: "voice-1"})
	ack, errMsg := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceJoin, data)
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	if ack == nil {
		t.Fatal("expected non-nil ack")
	}

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if len(broadcaster.joined["user-1"]) == 0 {
		t.Error("expected user to join the voice room")
	}
	foundPresence := false
	for _, b := range broadcaster.broadcast {
		if b.event == protocol.EventVoicePresence {
			foundPresence = true
		}
	}
	if !foundPresence {
		t.Error("expected a presence broadcast after join")
	}
}

func TestHandleJoinDeniedWithoutVoiceConnect(t *testing.T) {
	store := &fakeStore{channels: map[string]*protocol.Channel{
		"voice-1": {ID: "voice-1", GuildID: "guild-1"},
	}}
	coord, _ := newTestCoordinator(t, store, false)

	data, _ := json.Marshal(protocol.VoiceJoinPayload{ChannelID: "voice-1"})
	_, errMsg := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceJoin, data)
	if errMsg == "" {
		t.Fatal("expected forbidden error without VoiceConnect/ViewChannels")
	}
}

func TestProduceAudioRequiresVoiceSpeakAndNotMuted(t *testing.T) {
	store := &fakeStore{
		channels: map[string]*protocol.Channel{"voice-1": {ID: "voice-1", GuildID: "guild-1"}},
		members: map[string]*protocol.Member{
			memberKey("guild-1", "user-1"): {GuildID: "guild-1", UserID: "user-1", VoiceMuted: true},
		},
	}
	coord, _ := newTestCoordinator(t, store, true)

	joinData, _ := json.Marshal(protocol.VoiceJoinPayload{ChannelID: "voice-1"})
	if _, errMsg := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceJoin, joinData); errMsg != "" {
		t.Fatalf("join failed: %s", errMsg)
	}

	transportAck, errMsg := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceCreateSendTransport, nil)
	if errMsg != "" {
		t.Fatalf("create transport failed: %s", errMsg)
	}
	transportID := transportAck.(map[string]any)["id"].(string)

	produceData, _ := json.Marshal(protocol.VoiceProducePayload{TransportID: transportID, Kind: "audio"})
	_, errMsg = coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceProduce, produceData)
	if errMsg != "muted" {
		t.Errorf("errMsg = %q, want %q", errMsg, "muted")
	}
}

func TestProduceAudioSucceedsAndBroadcastsNewProducer(t *testing.T) {
	store := &fakeStore{
		channels: map[string]*protocol.Channel{"voice-1": {ID: "voice-1", GuildID: "guild-1"}},
		members: map[string]*protocol.Member{
			memberKey("guild-1", "user-1"): {GuildID: "guild-1", UserID: "user-1"},
		},
	}
	coord, broadcaster := newTestCoordinator(t, store, true)

	joinData, _ := json.Marshal(protocol.VoiceJoinPayload{ChannelID: "voice-1"})
	coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceJoin, joinData)

	transportAck, _ := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceCreateSendTransport, nil)
	transportID := transportAck.(map[string]any)["id"].(string)

	produceData, _ := json.Marshal(protocol.VoiceProducePayload{TransportID: transportID, Kind: "audio"})
	ack, errMsg := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceProduce, produceData)
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	if ack.(map[string]string)["id"] == "" {
		t.Fatal("expected non-empty producer id")
	}

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	found := false
	for _, b := range broadcaster.broadcast {
		if b.event == protocol.EventVoiceNewProducer {
			found = true
		}
	}
	if !found {
		t.Error("expected a newProducer broadcast")
	}
}

func TestDisconnectCleansUpPeerAndRoom(t *testing.T) {
	store := &fakeStore{channels: map[string]*protocol.Channel{"voice-1": {ID: "voice-1", GuildID: "guild-1"}}}
	coord, _ := newTestCoordinator(t, store, true)

	joinData, _ := json.Marshal(protocol.VoiceJoinPayload{ChannelID: "voice-1"})
	coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceJoin, joinData)

	coord.Disconnect("session-1")

	coord.mu.Lock()
	defer coord.mu.Unlock()
	if _, ok := coord.peersBySession["session-1"]; ok {
		t.Error("expected peer to be removed")
	}
	if _, ok := coord.rooms["voice-1"]; ok {
		t.Error("expected empty room to be removed")
	}
}

func TestForceMuteUserClosesAudioProducers(t *testing.T) {
	store := &fakeStore{
		channels: map[string]*protocol.Channel{"voice-1": {ID: "voice-1", GuildID: "guild-1"}},
		members: map[string]*protocol.Member{
			memberKey("guild-1", "user-1"): {GuildID: "guild-1", UserID: "user-1"},
		},
	}
	coord, broadcaster := newTestCoordinator(t, store, true)

	joinData, _ := json.Marshal(protocol.VoiceJoinPayload{ChannelID: "voice-1"})
	coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceJoin, joinData)
	transportAck, _ := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceCreateSendTransport, nil)
	transportID := transportAck.(map[string]any)["id"].(string)
	produceData, _ := json.Marshal(protocol.VoiceProducePayload{TransportID: transportID, Kind: "audio"})
	coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceProduce, produceData)

	coord.ForceMuteUser("user-1")

	peer := coord.peer("session-1")
	peer.mu.Lock()
	remaining := len(peer.producers)
	peer.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected all audio producers closed, got %d remaining", remaining)
	}

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	found := false
	for _, b := range broadcaster.broadcast {
		if b.event == protocol.EventVoiceProducerClosed {
			found = true
		}
	}
	if !found {
		t.Error("expected a producerClosed broadcast from force mute")
	}
}

func TestSnapshotListsActiveChannels(t *testing.T) {
	store := &fakeStore{channels: map[string]*protocol.Channel{
		"voice-1": {ID: "voice-1", GuildID: "guild-1"},
	}}
	coord, _ := newTestCoordinator(t, store, true)

	joinData, _ := json.Marshal(protocol.VoiceJoinPayload{ChannelID: "voice-1"})
	coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceJoin, joinData)

	snapData, _ := json.Marshal(protocol.VoiceSnapshotPayload{GuildID: "guild-1"})
	ack, errMsg := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceSnapshot, snapData)
	if errMsg != "" {
		t.Fatalf("unexpected error: %s", errMsg)
	}
	channels := ack.(map[string]any)["channels"].(map[string]presence)
	p, ok := channels["voice-1"]
	if !ok {
		t.Fatal("expected snapshot to include the occupied voice channel")
	}
	if len(p.UserIDs) != 1 || p.UserIDs[0] != "session-1" {
		t.Errorf("expected session-1 in presence, got %+v", p)
	}
}

func TestPresencePublishedOnEveryMembershipChange(t *testing.T) {
	store := &fakeStore{channels: map[string]*protocol.Channel{
		"voice-1": {ID: "voice-1", GuildID: "guild-1"},
	}}
	coord, broadcaster := newTestCoordinator(t, store, true)

	joinData, _ := json.Marshal(protocol.VoiceJoinPayload{ChannelID: "voice-1"})
	coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceJoin, joinData)
	coord.HandleFrame(context.Background(), "user-2", "session-2", protocol.EventVoiceJoin, joinData)

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	count := 0
	for _, b := range broadcaster.broadcast {
		if b.event == protocol.EventVoicePresence {
			count++
		}
	}
	if count != 2 {
		t.Errorf("expected one presence broadcast per join, got %d", count)
	}
}

func TestDisconnectBroadcastsProducerClosedPerProducer(t *testing.T) {
	store := &fakeStore{
		channels: map[string]*protocol.Channel{"voice-1": {ID: "voice-1", GuildID: "guild-1"}},
		members: map[string]*protocol.Member{
			memberKey("guild-1", "user-1"): {GuildID: "guild-1", UserID: "user-1"},
		},
	}
	coord, broadcaster := newTestCoordinator(t, store, true)

	joinData, _ := json.Marshal(protocol.VoiceJoinPayload{ChannelID: "voice-1"})
	coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceJoin, joinData)
	transportAck, _ := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceCreateSendTransport, nil)
	transportID := transportAck.(map[string]any)["id"].(string)
	produceData, _ := json.Marshal(protocol.VoiceProducePayload{TransportID: transportID, Kind: "audio"})
	produceAck, _ := coord.HandleFrame(context.Background(), "user-1", "session-1", protocol.EventVoiceProduce, produceData)
	producerID := produceAck.(map[string]string)["id"]

	coord.Disconnect("session-1")

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	found := false
	for _, b := range broadcaster.broadcast {
		if b.event != protocol.EventVoiceProducerClosed {
			continue
		}
		payload := b.data.(map[string]any)
		if payload["producerId"] == producerID && payload["peerId"] == "session-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected producerClosed broadcast naming producer %s on disconnect", producerID)
	}
}

func TestMoveUserSendsVoiceMove(t *testing.T) {
	store := &fakeStore{}
	coord, broadcaster := newTestCoordinator(t, store, true)

	coord.MoveUser("user-1", "voice-2")

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if len(broadcaster.sent) != 1 || broadcaster.sent[0].event != protocol.EventVoiceMove {
		t.Fatalf("expected a single voice:move send, got %+v", broadcaster.sent)
	}
}
