package voice

import "github.com/remus-chat/remus-node/internal/protocol"

// ForceMuteUser closes every audio and screen-audio producer a user holds across all of their sessions and
// broadcasts the closures (spec.md §4.6 "Moderation hooks"). Used when an admin server-mutes a member; the member's
// persisted VoiceMuted flag is updated by the caller (internal/httpapi), this only tears down the live media.
func (c *Coordinator) ForceMuteUser(userID string) {
	for _, peer := range c.peersForUser(userID) {
		peer.mu.Lock()
		toClose := make([]string, 0, len(peer.producers))
		for id, p := range peer.producers {
			kind := p.Kind()
			appDataType, _ := p.AppData()["type"].(string)
			if kind == "audio" || appDataType == "screen-audio" {
				toClose = append(toClose, id)
			}
		}
		peer.mu.Unlock()

		for _, id := range toClose {
			c.closeProducer(peer, id)
		}
	}
}

// MoveUser sends voice:move to every socket a user has open; the client is expected to re-issue voice:join for the
// new channel (spec.md §4.6 "Moderation hooks").
func (c *Coordinator) MoveUser(userID, channelID string) {
	c.broadcaster.SendToUser(userID, protocol.EventVoiceMove, map[string]string{"channelId": channelID})
}

func (c *Coordinator) peersForUser(userID string) []*Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessions, ok := c.sessionsByUser[userID]
	if !ok {
		return nil
	}
	peers := make([]*Peer, 0, len(sessions))
	for sid := range sessions {
		if p, ok := c.peersBySession[sid]; ok {
			peers = append(peers, p)
		}
	}
	return peers
}
