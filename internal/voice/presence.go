package voice

import (
	"context"
	"encoding/json"
	"time"

	"github.com/remus-chat/remus-node/internal/protocol"
)

// presence is the {userIds, users, speakingUserIds} shape from spec.md §4.6 "Presence semantics": userIds are peer
// session ids (the same user may appear twice from two sessions), speakingUserIds is keyed by user id.
type presence struct {
	UserIDs         []string `json:"userIds"`
	Users           []string `json:"users"`
	SpeakingUserIDs []string `json:"speakingUserIds"`
}

func (c *Coordinator) computePresence(channelID string) presence {
	c.mu.Lock()
	r, ok := c.rooms[channelID]
	if !ok {
		c.mu.Unlock()
		return presence{UserIDs: []string{}, Users: []string{}, SpeakingUserIDs: []string{}}
	}
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	p := presence{}
	seenUsers := make(map[string]struct{})
	for _, peer := range peers {
		p.UserIDs = append(p.UserIDs, peer.sessionID)
		peer.mu.Lock()
		speaking := peer.speaking
		peer.mu.Unlock()
		if _, ok := seenUsers[peer.userID]; !ok {
			seenUsers[peer.userID] = struct{}{}
			p.Users = append(p.Users, peer.userID)
		}
		if speaking {
			p.SpeakingUserIDs = append(p.SpeakingUserIDs, peer.userID)
		}
	}
	if p.UserIDs == nil {
		p.UserIDs = []string{}
	}
	if p.Users == nil {
		p.Users = []string{}
	}
	if p.SpeakingUserIDs == nil {
		p.SpeakingUserIDs = []string{}
	}
	return p
}

// presenceFor returns the channel's presence view, serving snapshot reads from the short-lived cache when a fresh
// value exists. The cache only ever absorbs read traffic; membership and speaking changes go through
// publishPresence, which recomputes unconditionally and refreshes the cached value.
func (c *Coordinator) presenceFor(channelID string) presence {
	c.presenceMu.Lock()
	if cached, ok := c.presenceCache[channelID]; ok && time.Now().Before(cached.expires) {
		c.presenceMu.Unlock()
		return cached.value
	}
	c.presenceMu.Unlock()

	p := c.computePresence(channelID)
	c.cachePresence(channelID, p)
	return p
}

func (c *Coordinator) cachePresence(channelID string, p presence) {
	c.presenceMu.Lock()
	c.presenceCache[channelID] = presenceCacheEntry{value: p, expires: time.Now().Add(presenceCacheTTL)}
	c.presenceMu.Unlock()
}

// publishPresence recomputes and broadcasts presence for a voice channel on any membership or speaking change, to
// both the voice room and the owning guild room (spec.md §4.6 "Presence semantics").
func (c *Coordinator) publishPresence(_ context.Context, channelID, guildID string) {
	p := c.computePresence(channelID)
	c.cachePresence(channelID, p)

	c.broadcaster.Broadcast(protocol.VoiceRoom(channelID), protocol.EventVoicePresence, map[string]any{"channelId": channelID, "presence": p})
	if guildID != "" {
		c.broadcaster.Broadcast(protocol.GuildRoom(guildID), protocol.EventVoicePresenceAll, map[string]any{"channelId": channelID, "presence": p})
	}
}

func (c *Coordinator) publishSpeakingAll(channelID string) {
	p := c.computePresence(channelID)
	c.cachePresence(channelID, p)
	c.broadcaster.Broadcast(protocol.VoiceRoom(channelID), protocol.EventVoiceSpeakingAll, map[string]any{
		"channelId":       channelID,
		"speakingUserIds": p.SpeakingUserIDs,
	})
}

// handleSnapshot replies to voice:snapshot with the per-voice-channel presence view for every channel in the guild
// that currently has at least one peer (spec.md §4.5 "voice:snapshot ... reply with per-voice-channel presence
// view").
func (c *Coordinator) handleSnapshot(data json.RawMessage) (any, string) {
	var p protocol.VoiceSnapshotPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "invalid payload"
	}

	c.mu.Lock()
	channelIDs := make([]string, 0, len(c.rooms))
	for channelID, r := range c.rooms {
		for _, peer := range r.peers {
			if p.GuildID == "" || peer.guildID == p.GuildID {
				channelIDs = append(channelIDs, channelID)
			}
			break
		}
	}
	c.mu.Unlock()

	channels := make(map[string]presence, len(channelIDs))
	for _, channelID := range channelIDs {
		channels[channelID] = c.presenceFor(channelID)
	}
	return map[string]any{"channels": channels}, ""
}
