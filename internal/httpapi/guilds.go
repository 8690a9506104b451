package httpapi

import (
	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/protocol"
)

type guildView struct {
	protocol.Guild
	Members     []protocol.Member   `json:"members"`
	Roles       []protocol.Role     `json:"roles"`
	Channels    []protocol.Channel  `json:"channels"`
	Permissions protocol.Permission `json:"permissions"`
	IconURL     string              `json:"iconUrl,omitempty"`
}

// listGuilds serves GET /api/guilds (spec.md §6): the single node guild, its roster, roles, channels, and the
// caller's effective permissions, matching spec.md §1's "exactly one guild per node" invariant.
func (s *Server) listGuilds(c fiber.Ctx) error {
	user := currentUser(c)

	guildID, err := s.store.NodeGuildID(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	guild, err := s.store.GetGuildRecord(c.Context(), guildID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	members, err := s.store.ListMembers(c.Context(), guildID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	roles, err := s.store.ListRoles(c.Context(), guildID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	channels, err := s.store.ListChannels(c.Context(), guildID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	perms, err := s.perm.Permissions(c.Context(), guildID, user.ID, "")
	if err != nil {
		return mapStoreErr(c, err)
	}

	iconURL := ""
	if s.cfg.ServerIcon != "" {
		iconURL = s.cfg.PublicURL + "/api/server/icon"
	}

	return success(c, []guildView{{
		Guild:       *guild,
		Members:     members,
		Roles:       roles,
		Channels:    channels,
		Permissions: perms,
		IconURL:     iconURL,
	}})
}

// rejectCreateGuild serves POST /api/guilds (spec.md §6 "405 (single-guild invariant)").
func (s *Server) rejectCreateGuild(c fiber.Ctx) error {
	return fail(c, fiber.StatusMethodNotAllowed, CodeValidation, "This node hosts a single guild; creation is not supported")
}

// joinGuild serves POST /api/guilds/:g/join (spec.md §6 [guild:memberJoined]).
func (s *Server) joinGuild(c fiber.Ctx) error {
	user := currentUser(c)
	guildID := c.Params("g")

	member, created, err := s.store.EnsureMember(c.Context(), guildID, user.ID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	if created {
		s.hub.Broadcast(protocol.GuildRoom(guildID), protocol.EventGuildMemberJoined, member)
		s.recordAudit(c.Context(), guildID, "member.joined", user.ID, user.ID, nil)
	}
	return success(c, member)
}

// leaveGuild serves POST /api/guilds/:g/leave (spec.md §6 [guild:memberLeft], "also purges the user on this
// node").
func (s *Server) leaveGuild(c fiber.Ctx) error {
	user := currentUser(c)
	guildID := c.Params("g")

	if err := s.store.RemoveMember(c.Context(), guildID, user.ID); err != nil {
		return mapStoreErr(c, err)
	}
	uploads, err := s.store.PurgeUser(c.Context(), guildID, user.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to purge uploads on guild leave")
	}
	for _, u := range uploads {
		if err := s.storage.Delete(c.Context(), u.Name); err != nil {
			s.log.Warn().Err(err).Str("upload_id", u.ID).Msg("Failed to delete purged upload file")
		}
	}

	s.hub.Broadcast(protocol.GuildRoom(guildID), protocol.EventGuildMemberLeft, map[string]string{"userId": user.ID})
	s.hub.Leave(user.ID, protocol.GuildRoom(guildID))
	s.recordAudit(c.Context(), guildID, "member.left", user.ID, user.ID, nil)
	return success(c, map[string]bool{"ok": true})
}
