package gateway

import (
	"context"
	"encoding/json"

	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/sanitize"
	"github.com/remus-chat/remus-node/internal/store"
)

func (h *Hub) handleGuildJoinRoom(ctx context.Context, c *Client, frame protocol.InboundFrame) {
	var p protocol.GuildJoinRoomPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil {
		c.sendAck(frame.AckID, nil, "invalid payload")
		return
	}

	member, err := h.store.GetMemberRecord(ctx, p.GuildID, c.userID)
	if err != nil || member == nil {
		c.sendAck(frame.AckID, nil, "not a member")
		return
	}

	h.mu.Lock()
	h.joinRoomLocked(protocol.GuildRoom(p.GuildID), c)
	h.mu.Unlock()

	c.sendAck(frame.AckID, map[string]bool{"ok": true}, "")
}

func (h *Hub) handleChannelJoin(ctx context.Context, c *Client, frame protocol.InboundFrame) {
	var p protocol.ChannelJoinPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil {
		c.sendAck(frame.AckID, nil, "invalid payload")
		return
	}

	channel, err := h.store.GetChannelRecord(ctx, p.ChannelID)
	if err != nil || channel == nil {
		c.sendAck(frame.AckID, nil, "channel not found")
		return
	}

	allowed, err := h.perm.HasPermission(ctx, channel.GuildID, c.userID, p.ChannelID, protocol.ViewChannels)
	if err != nil || !allowed {
		c.sendAck(frame.AckID, nil, "forbidden")
		return
	}

	h.mu.Lock()
	h.joinRoomLocked(protocol.ChannelRoom(p.ChannelID), c)
	h.mu.Unlock()

	c.sendAck(frame.AckID, map[string]bool{"ok": true}, "")
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, frame protocol.InboundFrame) {
	var p protocol.TypingPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil {
		return
	}

	channel, err := h.store.GetChannelRecord(ctx, p.ChannelID)
	if err != nil || channel == nil {
		return
	}
	allowed, err := h.perm.HasPermission(ctx, channel.GuildID, c.userID, p.ChannelID, protocol.ViewChannels|protocol.SendMessages)
	if err != nil || !allowed {
		return
	}

	h.broadcastExcept(protocol.ChannelRoom(p.ChannelID), c, frame.Event, map[string]string{
		"channelId": p.ChannelID,
		"userId":    c.userID,
	})
}

func (h *Hub) handleMessageSend(ctx context.Context, c *Client, frame protocol.InboundFrame) {
	var p protocol.MessageSendPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil {
		c.sendAck(frame.AckID, nil, "invalid payload")
		return
	}

	if h.limiter != nil && !h.limiter.Allow("message:send:"+c.userID) {
		c.sendAck(frame.AckID, nil, "rate limited")
		return
	}

	channel, err := h.store.GetChannelRecord(ctx, p.ChannelID)
	if err != nil || channel == nil {
		c.sendAck(frame.AckID, nil, "channel not found")
		return
	}

	allowed, err := h.perm.HasPermission(ctx, channel.GuildID, c.userID, p.ChannelID, protocol.SendMessages)
	if err != nil || !allowed {
		c.sendAck(frame.AckID, nil, "forbidden")
		return
	}

	content := sanitize.Text(p.Content)
	attachments := h.dereferenceAttachments(ctx, p.ChannelID, c.userID, p.Attachments)
	if content == "" && len(attachments) == 0 {
		c.sendAck(frame.AckID, nil, "message has no content or attachments")
		return
	}

	var replyTo *string
	var replyTarget *protocol.Message
	if p.ReplyToID != "" {
		if target, err := h.store.GetMessage(ctx, p.ReplyToID); err == nil && target.ChannelID == p.ChannelID {
			replyTo = &p.ReplyToID
			replyTarget = target
		}
	}

	message, err := h.store.CreateMessage(ctx, store.CreateMessageParams{
		ChannelID:   p.ChannelID,
		AuthorID:    c.userID,
		Content:     content,
		Attachments: attachments,
		ReplyToID:   replyTo,
	})
	if err != nil {
		c.sendAck(frame.AckID, nil, "failed to send message")
		return
	}

	view := h.messageView(ctx, *message, replyTarget)
	h.Broadcast(protocol.ChannelRoom(p.ChannelID), protocol.EventMessageNew, view)
	c.sendAck(frame.AckID, view, "")
}

// messageView assembles the full view broadcast as message:new (spec.md §4.5 "full view with author and reply
// preview"): the author resolved through the local profiles table, and a trimmed preview of the reply target. A
// missing profile degrades to a nil author rather than failing the send.
func (h *Hub) messageView(ctx context.Context, m protocol.Message, replyTo *protocol.Message) protocol.MessageView {
	profiles := make(map[string]protocol.Profile, 2)
	if p, err := h.store.GetProfile(ctx, m.AuthorID); err == nil && p != nil {
		profiles[p.ID] = *p
	}
	if replyTo != nil {
		if p, err := h.store.GetProfile(ctx, replyTo.AuthorID); err == nil && p != nil {
			profiles[p.ID] = *p
		}
	}
	return protocol.BuildMessageView(m, profiles, replyTo)
}

// dereferenceAttachments resolves socket-supplied upload ids into Attachments, filtering to uploads owned by
// authorID in channelID and deduplicating by id (spec.md §4.4 "Attachment dereference", §8 invariant 7).
func (h *Hub) dereferenceAttachments(ctx context.Context, channelID, authorID string, uploadIDs []string) []protocol.Attachment {
	if len(uploadIDs) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(uploadIDs))
	attachments := make([]protocol.Attachment, 0, len(uploadIDs))
	for _, id := range uploadIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		upload, err := h.store.GetUpload(ctx, id)
		if err != nil || upload == nil {
			continue
		}
		if upload.ChannelID != channelID || upload.AuthorID != authorID {
			continue
		}

		attachments = append(attachments, protocol.Attachment{
			ID:       upload.ID,
			Name:     upload.Name,
			Size:     upload.Size,
			MimeType: upload.MimeType,
			URL:      upload.URL,
		})
	}
	return attachments
}
