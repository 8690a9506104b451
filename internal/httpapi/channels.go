package httpapi

import (
	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/sanitize"
	"github.com/remus-chat/remus-node/internal/store"
)

// listChannels serves GET /api/guilds/:g/channels.
func (s *Server) listChannels(c fiber.Ctx) error {
	channels, err := s.store.ListChannels(c.Context(), c.Params("g"))
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, channels)
}

type createChannelRequest struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	CategoryID *string `json:"categoryId,omitempty"`
}

// createChannel serves POST /api/guilds/:g/channels (spec.md §6 [channel:new]).
func (s *Server) createChannel(c fiber.Ctx) error {
	var body createChannelRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}
	if body.Name == "" {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Channel name is required")
	}
	switch body.Type {
	case protocol.ChannelText, protocol.ChannelVoice, protocol.ChannelCategory:
	default:
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid channel type")
	}

	user := currentUser(c)
	channel, err := s.store.CreateChannel(c.Context(), store.CreateChannelParams{
		GuildID:    c.Params("g"),
		Name:       sanitize.Text(body.Name),
		Type:       body.Type,
		CategoryID: body.CategoryID,
		CreatedBy:  user.ID,
	})
	if err != nil {
		return mapStoreErr(c, err)
	}

	s.hub.Broadcast(protocol.GuildRoom(c.Params("g")), protocol.EventChannelNew, channel)
	s.recordAudit(c.Context(), c.Params("g"), "channel.create", user.ID, channel.ID, map[string]any{"name": channel.Name})
	return successStatus(c, fiber.StatusCreated, channel)
}

type reorderChannelsRequest struct {
	Channels []struct {
		ID         string  `json:"id"`
		Position   int     `json:"position"`
		CategoryID *string `json:"categoryId,omitempty"`
	} `json:"channels"`
}

// reorderChannels serves PATCH /api/guilds/:g/channels/order (spec.md §4.4 "Channel reorder accepts a batch
// ... and applies it atomically; categories targeted with categoryId == ” become top-level (null)").
func (s *Server) reorderChannels(c fiber.Ctx) error {
	var body reorderChannelsRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	guildID := c.Params("g")
	updates := make([]store.ChannelPositionUpdate, len(body.Channels))
	for i, ch := range body.Channels {
		u := store.ChannelPositionUpdate{ID: ch.ID, Position: ch.Position}
		if ch.CategoryID != nil {
			if *ch.CategoryID == "" {
				u.ClearCategory = true
			} else {
				u.CategoryID = ch.CategoryID
			}
		}
		updates[i] = u
	}

	if err := s.store.UpdateChannelPositions(c.Context(), guildID, updates); err != nil {
		return mapStoreErr(c, err)
	}

	channels, err := s.store.ListChannels(c.Context(), guildID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	for _, ch := range channels {
		s.hub.Broadcast(protocol.GuildRoom(guildID), protocol.EventChannelUpdate, ch)
	}
	s.recordAudit(c.Context(), guildID, "channel.reorder", currentUser(c).ID, "", nil)
	return success(c, channels)
}

type updateChannelRequest struct {
	Name      *string                       `json:"name,omitempty"`
	Topic     *string                       `json:"topic,omitempty"`
	Overrides *protocol.PermissionOverrides `json:"permissionOverrides,omitempty"`
}

// updateChannel serves PATCH /api/channels/:c (spec.md §6 [channel:update]).
func (s *Server) updateChannel(c fiber.Ctx) error {
	var body updateChannelRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	channelID := c.Params("c")
	channel, err := s.store.GetChannelRecord(c.Context(), channelID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	if body.Name != nil {
		clean := sanitize.Text(*body.Name)
		body.Name = &clean
	}
	if err := s.store.UpdateChannel(c.Context(), channelID, store.UpdateChannelParams{Name: body.Name, Topic: body.Topic}); err != nil {
		return mapStoreErr(c, err)
	}
	if body.Overrides != nil {
		if err := s.store.SetChannelOverrides(c.Context(), channelID, *body.Overrides); err != nil {
			return mapStoreErr(c, err)
		}
	}

	updated, err := s.store.GetChannelRecord(c.Context(), channelID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	s.hub.Broadcast(protocol.GuildRoom(channel.GuildID), protocol.EventChannelUpdate, updated)
	s.recordAudit(c.Context(), channel.GuildID, "channel.update", currentUser(c).ID, channelID, nil)
	return success(c, updated)
}

// deleteChannel serves DELETE /api/channels/:c (spec.md §6 [channel:delete]).
func (s *Server) deleteChannel(c fiber.Ctx) error {
	channelID := c.Params("c")
	channel, err := s.store.GetChannelRecord(c.Context(), channelID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	uploads, err := s.store.DeleteChannel(c.Context(), channelID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	for _, u := range uploads {
		if err := s.storage.Delete(c.Context(), u.Name); err != nil {
			s.log.Warn().Err(err).Str("upload_id", u.ID).Msg("Failed to delete upload file for removed channel")
		}
	}

	s.hub.Broadcast(protocol.GuildRoom(channel.GuildID), protocol.EventChannelDelete, map[string]string{"id": channelID})
	s.recordAudit(c.Context(), channel.GuildID, "channel.delete", currentUser(c).ID, channelID, nil)
	return success(c, map[string]bool{"ok": true})
}
