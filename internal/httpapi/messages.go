package httpapi

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/sanitize"
	"github.com/remus-chat/remus-node/internal/store"
)

const defaultMessagePageSize = 50

// listMessages serves GET /api/channels/:c/messages (spec.md §6 "cursor-paginated").
func (s *Server) listMessages(c fiber.Ctx) error {
	channelID := c.Params("c")

	limit := defaultMessagePageSize
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	var before *string
	if raw := c.Query("before"); raw != "" {
		before = &raw
	}

	messages, err := s.store.ListMessages(c.Context(), channelID, before, limit)
	if err != nil {
		return mapStoreErr(c, err)
	}
	views, err := s.messageViews(c.Context(), messages)
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, views)
}

// messageViews assembles the full client-facing view of a message page (spec.md §4.5 "full view with author and
// reply preview"): authors batch-resolved through the profiles table, reply targets taken from the page itself
// where possible and fetched individually otherwise. A purged author simply yields a nil author in the view.
func (s *Server) messageViews(ctx context.Context, messages []protocol.Message) ([]protocol.MessageView, error) {
	byID := make(map[string]*protocol.Message, len(messages))
	seenAuthors := make(map[string]struct{}, len(messages))
	authorIDs := make([]string, 0, len(messages))
	for i := range messages {
		byID[messages[i].ID] = &messages[i]
		if _, ok := seenAuthors[messages[i].AuthorID]; !ok {
			seenAuthors[messages[i].AuthorID] = struct{}{}
			authorIDs = append(authorIDs, messages[i].AuthorID)
		}
	}

	replies := make(map[string]*protocol.Message)
	for i := range messages {
		m := &messages[i]
		if m.ReplyToID == nil {
			continue
		}
		id := *m.ReplyToID
		if _, ok := replies[id]; ok {
			continue
		}
		if target, ok := byID[id]; ok {
			replies[id] = target
		} else if target, err := s.store.GetMessage(ctx, id); err == nil {
			replies[id] = target
		}
	}
	for _, target := range replies {
		if _, ok := seenAuthors[target.AuthorID]; !ok {
			seenAuthors[target.AuthorID] = struct{}{}
			authorIDs = append(authorIDs, target.AuthorID)
		}
	}

	profiles, err := s.store.GetProfiles(ctx, authorIDs)
	if err != nil {
		return nil, err
	}

	views := make([]protocol.MessageView, len(messages))
	for i, m := range messages {
		var replyTo *protocol.Message
		if m.ReplyToID != nil {
			replyTo = replies[*m.ReplyToID]
		}
		views[i] = protocol.BuildMessageView(m, profiles, replyTo)
	}
	return views, nil
}

type createMessageRequest struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
	ReplyToID   string   `json:"replyToId,omitempty"`
}

// createMessage serves POST /api/channels/:c/messages (spec.md §4.4 "Message POST requires non-empty content or
// at least one attachment"), mirroring the gateway's message:send handler so both entrypoints enforce the same
// rules.
func (s *Server) createMessage(c fiber.Ctx) error {
	var body createMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	channelID := c.Params("c")
	user := currentUser(c)
	content := sanitize.Text(body.Content)

	attachments := s.dereferenceUploadIDs(c, channelID, user.ID, body.Attachments)
	if content == "" && len(attachments) == 0 {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Message requires content or at least one attachment")
	}

	var replyTo *string
	var replyTarget *protocol.Message
	if body.ReplyToID != "" {
		if existing, err := s.store.GetMessage(c.Context(), body.ReplyToID); err == nil && existing.ChannelID == channelID {
			replyTo = &body.ReplyToID
			replyTarget = existing
		}
	}

	message, err := s.store.CreateMessage(c.Context(), store.CreateMessageParams{
		ChannelID:   channelID,
		AuthorID:    user.ID,
		Content:     content,
		Attachments: attachments,
		ReplyToID:   replyTo,
	})
	if err != nil {
		return mapStoreErr(c, err)
	}

	view := s.messageView(c.Context(), *message, replyTarget)
	s.hub.Broadcast(protocol.ChannelRoom(channelID), protocol.EventMessageNew, view)
	return successStatus(c, fiber.StatusCreated, view)
}

// messageView is the single-message form of messageViews, used on the send path where the reply target was already
// loaded for validation.
func (s *Server) messageView(ctx context.Context, m protocol.Message, replyTo *protocol.Message) protocol.MessageView {
	ids := []string{m.AuthorID}
	if replyTo != nil && replyTo.AuthorID != m.AuthorID {
		ids = append(ids, replyTo.AuthorID)
	}
	profiles, err := s.store.GetProfiles(ctx, ids)
	if err != nil {
		profiles = nil
	}
	return protocol.BuildMessageView(m, profiles, replyTo)
}

// dereferenceUploadIDs mirrors internal/gateway's dereferenceAttachments for the REST entrypoint: uploads must be
// owned by the same (channelID, authorID) and duplicates are deduped (spec.md §4.4, §8 invariant 7).
func (s *Server) dereferenceUploadIDs(c fiber.Ctx, channelID, authorID string, uploadIDs []string) []protocol.Attachment {
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

		upload, err := s.store.GetUpload(c.Context(), id)
		if err != nil || upload == nil || upload.ChannelID != channelID || upload.AuthorID != authorID {
			continue
		}
		attachments = append(attachments, protocol.Attachment{
			ID: upload.ID, Name: upload.Name, Size: upload.Size, MimeType: upload.MimeType, URL: upload.URL,
		})
	}
	return attachments
}

// deleteMessage serves DELETE /api/channels/:c/messages/:m.
func (s *Server) deleteMessage(c fiber.Ctx) error {
	channelID, messageID := c.Params("c"), c.Params("m")

	message, err := s.store.DeleteMessage(c.Context(), messageID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	for _, a := range message.Attachments {
		if err := s.storage.Delete(c.Context(), a.Name); err != nil {
			s.log.Warn().Err(err).Str("attachment_id", a.ID).Msg("Failed to delete attachment file for removed message")
		}
	}

	guildID := ""
	if channel, err := s.store.GetChannelRecord(c.Context(), channelID); err == nil && channel != nil {
		guildID = channel.GuildID
	}

	s.hub.Broadcast(protocol.ChannelRoom(channelID), protocol.EventMessageDelete, map[string]string{"id": messageID})
	s.recordAudit(c.Context(), guildID, "message.delete", currentUser(c).ID, message.AuthorID, map[string]any{"messageId": messageID})
	return success(c, map[string]bool{"ok": true})
}
