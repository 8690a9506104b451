package voice

import (
	"context"
	"encoding/json"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// HandleFrame implements gateway.VoiceHandler: it decodes and dispatches one voice:* inbound frame for one socket
// session, returning the value to ack (nil on events with no useful reply) and a non-empty error message on failure.
func (c *Coordinator) HandleFrame(ctx context.Context, userID, sessionID string, event protocol.EventType, data json.RawMessage) (any, string) {
	switch event {
	case protocol.EventVoiceJoin:
		return c.handleJoin(ctx, userID, sessionID, data)
	case protocol.EventVoiceGetRouterRTPCaps:
		return c.router.RTPCapabilities(), ""
	case protocol.EventVoiceCreateSendTransport, protocol.EventVoiceCreateRecvTransport:
		return c.handleCreateTransport(ctx, sessionID)
	case protocol.EventVoiceConnectTransport:
		return c.handleConnectTransport(ctx, sessionID, data)
	case protocol.EventVoiceProduce:
		return c.handleProduce(ctx, sessionID, data)
	case protocol.EventVoiceConsume:
		return c.handleConsume(ctx, sessionID, data)
	case protocol.EventVoiceResumeConsumer:
		return c.handleResumeConsumer(ctx, sessionID, data)
	case protocol.EventVoiceCloseProducer:
		return c.handleCloseProducer(sessionID, data)
	case protocol.EventVoiceSpeaking:
		return c.handleSpeaking(ctx, sessionID, data)
	case protocol.EventVoiceSnapshot:
		return c.handleSnapshot(data)
	case protocol.EventVoiceLeave:
		c.Disconnect(sessionID)
		return nil, ""
	default:
		return nil, "unknown voice event"
	}
}

func (c *Coordinator) handleJoin(ctx context.Context, userID, sessionID string, data json.RawMessage) (any, string) {
	var p protocol.VoiceJoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "invalid payload"
	}

	channel, err := c.store.GetChannelRecord(ctx, p.ChannelID)
	if err != nil || channel == nil {
		return nil, "channel not found"
	}

	allowed, err := c.perm.HasPermission(ctx, channel.GuildID, userID, p.ChannelID, protocol.ViewChannels|protocol.VoiceConnect)
	if err != nil || !allowed {
		return nil, "forbidden"
	}

	if c.limiter != nil && !c.limiter.Allow("voice:join:"+userID) {
		return nil, "rate limited"
	}

	// Leave any existing channel first (spec.md §4.6 step 1 "suppress leave sound").
	c.leavePeer(sessionID, true)

	peer := &Peer{
		sessionID:  sessionID,
		userID:     userID,
		guildID:    channel.GuildID,
		channelID:  p.ChannelID,
		transports: make(map[string]Transport),
		producers:  make(map[string]Producer),
		consumers:  make(map[string]Consumer),
	}

	c.mu.Lock()
	r := c.getOrCreateRoom(p.ChannelID)
	existingProducers := make([]roomProducer, 0, len(r.producers))
	for _, rp := range r.producers {
		existingProducers = append(existingProducers, rp)
	}
	participants := make([]string, 0, len(r.peers))
	for sid := range r.peers {
		participants = append(participants, sid)
	}
	r.peers[sessionID] = peer
	c.peersBySession[sessionID] = peer
	sessions, ok := c.sessionsByUser[userID]
	if !ok {
		sessions = make(map[string]struct{})
		c.sessionsByUser[userID] = sessions
	}
	sessions[sessionID] = struct{}{}
	c.mu.Unlock()

	c.broadcaster.Join(userID, protocol.VoiceRoom(p.ChannelID))

	existing := make([]map[string]any, 0, len(existingProducers))
	for _, rp := range existingProducers {
		existing = append(existing, map[string]any{
			"producerId": rp.producer.ID(),
			"kind":       rp.producer.Kind(),
			"peerId":     rp.peerID,
			"userId":     rp.userID,
		})
	}
	c.broadcaster.SendToUser(userID, protocol.EventVoiceExistingProducers, map[string]any{"producers": existing})

	c.publishPresence(ctx, p.ChannelID, channel.GuildID)

	return map[string]any{"participants": participants}, ""
}

func (c *Coordinator) handleCreateTransport(ctx context.Context, sessionID string) (any, string) {
	peer := c.peer(sessionID)
	if peer == nil {
		return nil, "not joined"
	}

	transport, err := c.router.CreateWebRTCTransport(ctx, TransportOptions{
		ListenIPs: []ListenIP{{IP: c.listenIP, AnnouncedIP: c.announcedIP}},
		EnableUDP: true,
		EnableTCP: true,
		PreferUDP: true,
	})
	if err != nil {
		return nil, "failed to create transport"
	}

	peer.mu.Lock()
	peer.transports[transport.ID()] = transport
	peer.mu.Unlock()

	return map[string]any{
		"id":             transport.ID(),
		"iceParameters":  transport.ICEParameters(),
		"iceCandidates":  transport.ICECandidates(),
		"dtlsParameters": transport.DTLSParameters(),
	}, ""
}

func (c *Coordinator) handleConnectTransport(ctx context.Context, sessionID string, data json.RawMessage) (any, string) {
	var p protocol.VoiceConnectTransportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "invalid payload"
	}
	peer := c.peer(sessionID)
	if peer == nil {
		return nil, "not joined"
	}
	transport := peer.transport(p.TransportID)
	if transport == nil {
		return nil, "unknown transport"
	}
	if err := transport.Connect(ctx, p.DTLSParameters); err != nil {
		return nil, "connect failed"
	}
	return map[string]bool{"connected": true}, ""
}

func (c *Coordinator) handleProduce(ctx context.Context, sessionID string, data json.RawMessage) (any, string) {
	var p protocol.VoiceProducePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "invalid payload"
	}
	peer := c.peer(sessionID)
	if peer == nil {
		return nil, "not joined"
	}

	if errMsg := c.gateProduce(ctx, peer, p); errMsg != "" {
		return nil, errMsg
	}

	transport := peer.transport(p.TransportID)
	if transport == nil {
		return nil, "unknown transport"
	}

	appData := map[string]any{}
	for k, v := range p.AppData {
		appData[k] = v
	}
	appData["peerId"] = sessionID
	appData["userId"] = peer.userID

	producer, err := transport.Produce(ctx, p.Kind, p.RTPParameters, appData)
	if err != nil {
		return nil, "produce failed"
	}

	peer.mu.Lock()
	peer.producers[producer.ID()] = producer
	peer.mu.Unlock()

	c.mu.Lock()
	r := c.getOrCreateRoom(peer.channelID)
	r.producers[producer.ID()] = roomProducer{producer: producer, peerID: sessionID, userID: peer.userID}
	c.mu.Unlock()

	c.broadcaster.Broadcast(protocol.VoiceRoom(peer.channelID), protocol.EventVoiceNewProducer, map[string]any{
		"producerId": producer.ID(),
		"kind":       producer.Kind(),
		"peerId":     sessionID,
		"userId":     peer.userID,
	})

	return map[string]string{"id": producer.ID()}, ""
}

// gateProduce enforces spec.md §4.6 step 5's per-kind permission and mute gating.
func (c *Coordinator) gateProduce(ctx context.Context, peer *Peer, p protocol.VoiceProducePayload) string {
	kind := p.Kind
	appDataType, _ := p.AppData["type"].(string)
	isScreen := appDataType == "screen" || appDataType == "screen-audio"

	if isScreen {
		allowed, err := c.perm.HasPermission(ctx, peer.guildID, peer.userID, peer.channelID, protocol.Screenshare)
		if err != nil || !allowed {
			return "forbidden"
		}
		return ""
	}

	switch kind {
	case "audio":
		allowed, err := c.perm.HasPermission(ctx, peer.guildID, peer.userID, peer.channelID, protocol.VoiceSpeak)
		if err != nil || !allowed {
			return "forbidden"
		}
		member, err := c.store.GetMemberRecord(ctx, peer.guildID, peer.userID)
		if err != nil || member == nil {
			return "forbidden"
		}
		if member.VoiceMuted {
			return "muted"
		}
	case "video":
		allowed, err := c.perm.HasPermission(ctx, peer.guildID, peer.userID, peer.channelID, protocol.Screenshare)
		if err != nil || !allowed {
			return "forbidden"
		}
	}
	return ""
}

func (c *Coordinator) handleConsume(ctx context.Context, sessionID string, data json.RawMessage) (any, string) {
	var p protocol.VoiceConsumePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "invalid payload"
	}
	peer := c.peer(sessionID)
	if peer == nil {
		return nil, "not joined"
	}
	if !c.router.CanConsume(p.ProducerID, p.RTPCapabilities) {
		return nil, "cannot consume"
	}

	transport := peer.transport(p.TransportID)
	if transport == nil {
		return nil, "unknown transport"
	}

	consumer, err := transport.Consume(ctx, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		return nil, "consume failed"
	}

	peer.mu.Lock()
	peer.consumers[consumer.ID()] = consumer
	peer.mu.Unlock()

	c.mu.Lock()
	r := c.rooms[peer.channelID]
	var owner roomProducer
	if r != nil {
		owner = r.producers[p.ProducerID]
	}
	c.mu.Unlock()

	var appData map[string]any
	if owner.producer != nil {
		appData = owner.producer.AppData()
	}

	return map[string]any{
		"id":            consumer.ID(),
		"producerId":    consumer.ProducerID(),
		"kind":          consumer.Kind(),
		"rtpParameters": consumer.RTPParameters(),
		"appData":       appData,
		"peerId":        owner.peerID,
	}, ""
}

func (c *Coordinator) handleResumeConsumer(_ context.Context, sessionID string, data json.RawMessage) (any, string) {
	var p protocol.VoiceResumeConsumerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "invalid payload"
	}
	peer := c.peer(sessionID)
	if peer == nil {
		return nil, "not joined"
	}
	peer.mu.Lock()
	consumer, ok := peer.consumers[p.ConsumerID]
	peer.mu.Unlock()
	if !ok {
		return nil, "unknown consumer"
	}
	if err := consumer.Resume(context.Background()); err != nil {
		return nil, "resume failed"
	}
	return map[string]bool{"resumed": true}, ""
}

func (c *Coordinator) handleCloseProducer(sessionID string, data json.RawMessage) (any, string) {
	var p protocol.VoiceCloseProducerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "invalid payload"
	}
	peer := c.peer(sessionID)
	if peer == nil {
		return nil, "not joined"
	}
	c.closeProducer(peer, p.ProducerID)
	return map[string]bool{"closed": true}, ""
}

func (c *Coordinator) closeProducer(peer *Peer, producerID string) {
	peer.mu.Lock()
	producer, ok := peer.producers[producerID]
	if ok {
		delete(peer.producers, producerID)
	}
	peer.mu.Unlock()
	if !ok {
		return
	}
	producer.Close()

	c.mu.Lock()
	if r, ok := c.rooms[peer.channelID]; ok {
		delete(r.producers, producerID)
	}
	c.mu.Unlock()

	c.broadcaster.Broadcast(protocol.VoiceRoom(peer.channelID), protocol.EventVoiceProducerClosed, map[string]any{
		"producerId": producerID,
		"peerId":     peer.sessionID,
	})
}

func (c *Coordinator) handleSpeaking(ctx context.Context, sessionID string, data json.RawMessage) (any, string) {
	var p protocol.VoiceSpeakingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "invalid payload"
	}
	peer := c.peer(sessionID)
	if peer == nil {
		return nil, "not joined"
	}

	allowed, err := c.perm.HasPermission(ctx, peer.guildID, peer.userID, peer.channelID, protocol.VoiceSpeak)
	if err != nil || !allowed {
		return nil, "forbidden"
	}

	peer.mu.Lock()
	peer.speaking = p.Speaking
	peer.mu.Unlock()

	c.broadcaster.Broadcast(protocol.VoiceRoom(peer.channelID), protocol.EventVoiceSpeakingEvt, map[string]any{
		"userId":   peer.userID,
		"speaking": p.Speaking,
	})
	c.publishSpeakingAll(peer.channelID)
	c.publishPresence(ctx, peer.channelID, peer.guildID)

	return nil, ""
}

// Disconnect runs Cleanup for sessionID (spec.md §4.6 "any -> leave/disconnect -> Cleanup"). Safe to call for a
// session that never joined voice.
func (c *Coordinator) Disconnect(sessionID string) {
	c.leavePeer(sessionID, false)
}

func (c *Coordinator) leavePeer(sessionID string, suppressNotify bool) {
	peer := c.peer(sessionID)
	if peer == nil {
		return
	}

	peer.mu.Lock()
	closedProducers := make([]string, 0, len(peer.producers))
	for id, p := range peer.producers {
		p.Close()
		closedProducers = append(closedProducers, id)
		delete(peer.producers, id)
	}
	for id, cons := range peer.consumers {
		cons.Close()
		delete(peer.consumers, id)
	}
	for id, t := range peer.transports {
		t.Close()
		delete(peer.transports, id)
	}
	peer.mu.Unlock()

	c.mu.Lock()
	var remaining []string
	if r, ok := c.rooms[peer.channelID]; ok {
		delete(r.peers, sessionID)
		for pid, rp := range r.producers {
			if rp.peerID == sessionID {
				delete(r.producers, pid)
			}
		}
		for sid := range r.peers {
			remaining = append(remaining, sid)
		}
		if len(r.peers) == 0 {
			delete(c.rooms, peer.channelID)
		}
	}
	delete(c.peersBySession, sessionID)
	if sessions, ok := c.sessionsByUser[peer.userID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(c.sessionsByUser, peer.userID)
		}
	}
	c.mu.Unlock()

	c.broadcaster.Leave(peer.userID, protocol.VoiceRoom(peer.channelID))

	// Every producer the departing peer held is announced closed to the room it left, whether the departure is a
	// leave, a disconnect, or the implicit leave before joining another channel.
	for _, producerID := range closedProducers {
		c.broadcaster.Broadcast(protocol.VoiceRoom(peer.channelID), protocol.EventVoiceProducerClosed, map[string]any{
			"producerId": producerID,
			"peerId":     sessionID,
		})
	}
	if !suppressNotify {
		c.broadcaster.Broadcast(protocol.VoiceRoom(peer.channelID), protocol.EventVoiceParticipants, map[string]any{
			"channelId":    peer.channelID,
			"participants": remaining,
			"left":         sessionID,
		})
	}
	c.publishPresence(context.Background(), peer.channelID, peer.guildID)
}

func (c *Coordinator) peer(sessionID string) *Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peersBySession[sessionID]
}

func (p *Peer) transport(id string) Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transports[id]
}
