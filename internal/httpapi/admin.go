package httpapi

import (
	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/sanitize"
	"github.com/remus-chat/remus-node/internal/store"
)

// registerAdminRoutes mounts the local-only operator surface (spec.md §4.4, §6 "/api/admin/*"). Every route here is
// already behind requireAdmin (loopback source IP + X-Remus-Admin-Key), so handlers skip the per-member permission
// gate the public API applies and record audit entries with a fixed "admin" actor id instead of a resolved user.
func (s *Server) registerAdminRoutes(admin fiber.Router) {
	admin.Get("/members", s.adminListMembers)
	admin.Delete("/members/:u", s.adminKickMember)

	admin.Get("/bans", s.adminListBans)
	admin.Put("/bans/:u", s.adminBanMember)
	admin.Delete("/bans/:u", s.adminUnbanMember)

	admin.Get("/roles", s.adminListRoles)
	admin.Post("/roles", s.adminCreateRole)
	admin.Patch("/roles/:r", s.adminUpdateRole)
	admin.Delete("/roles/:r", s.adminDeleteRole)

	admin.Get("/audit", s.adminListAudit)

	admin.Get("/settings", s.adminGetSettings)
	admin.Patch("/settings", s.adminUpdateSettings)

	admin.Delete("/messages/:m", s.adminDeleteMessage)
	admin.Delete("/uploads/:id", s.adminDeleteUpload)
}

// adminActorID is the fixed audit actor id for operator-surface mutations: there is no resolved User behind an
// admin-key request, only a trusted operator holding REMUS_ADMIN_KEY.
const adminActorID = "admin"

func (s *Server) adminListMembers(c fiber.Ctx) error {
	guildID, err := s.store.NodeGuildID(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	members, err := s.store.ListMembers(c.Context(), guildID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, members)
}

// adminKickMember serves DELETE /api/admin/members/:u: disconnects the member's sockets and removes their member
// row, mirroring the user-facing kick endpoint but without a hierarchy check (the operator outranks every role).
func (s *Server) adminKickMember(c fiber.Ctx) error {
	guildID, err := s.store.NodeGuildID(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	targetID := c.Params("u")

	if err := s.store.RemoveMember(c.Context(), guildID, targetID); err != nil {
		return mapStoreErr(c, err)
	}

	s.hub.DisconnectUser(targetID, "kicked")
	s.hub.Broadcast(protocol.GuildRoom(guildID), protocol.EventGuildMemberLeft, map[string]string{"userId": targetID})
	s.recordAudit(c.Context(), guildID, "admin.member.kick", adminActorID, targetID, nil)
	return success(c, map[string]bool{"ok": true})
}

func (s *Server) adminListBans(c fiber.Ctx) error {
	bans, err := s.store.ListBans(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, bans)
}

type adminBanRequest struct {
	Reason string `json:"reason,omitempty"`
}

// adminBanMember serves PUT /api/admin/bans/:u (spec.md §4.7 "Banning implies purge and immediate disconnect").
func (s *Server) adminBanMember(c fiber.Ctx) error {
	var body adminBanRequest
	_ = c.Bind().Body(&body)

	guildID, err := s.store.NodeGuildID(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	targetID := c.Params("u")

	if _, err := s.store.CreateBan(c.Context(), targetID, sanitize.Text(body.Reason), adminActorID); err != nil {
		return mapStoreErr(c, err)
	}
	uploads, err := s.store.PurgeUser(c.Context(), guildID, targetID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", targetID).Msg("Failed to purge uploads on admin ban")
	}
	for _, u := range uploads {
		if err := s.storage.Delete(c.Context(), u.Name); err != nil {
			s.log.Warn().Err(err).Str("upload_id", u.ID).Msg("Failed to delete purged upload file")
		}
	}
	_ = s.store.RemoveMember(c.Context(), guildID, targetID)

	s.hub.DisconnectUser(targetID, "banned")
	s.hub.Broadcast(protocol.GuildRoom(guildID), protocol.EventGuildMemberLeft, map[string]string{"userId": targetID})
	s.recordAudit(c.Context(), guildID, "admin.member.ban", adminActorID, targetID, map[string]any{"reason": body.Reason})
	return success(c, map[string]bool{"ok": true})
}

// adminUnbanMember serves DELETE /api/admin/bans/:u, lifting a ban so the user may re-register (spec.md §8
// "banUser -> unbanUser: user may re-register/join").
func (s *Server) adminUnbanMember(c fiber.Ctx) error {
	targetID := c.Params("u")
	if err := s.store.RemoveBan(c.Context(), targetID); err != nil {
		return mapStoreErr(c, err)
	}

	guildID, err := s.store.NodeGuildID(c.Context())
	if err == nil {
		s.recordAudit(c.Context(), guildID, "admin.member.unban", adminActorID, targetID, nil)
	}
	return success(c, map[string]bool{"ok": true})
}

func (s *Server) adminListRoles(c fiber.Ctx) error {
	guildID, err := s.store.NodeGuildID(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	roles, err := s.store.ListRoles(c.Context(), guildID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, roles)
}

// adminCreateRole serves POST /api/admin/roles with no grant-ceiling check: the operator surface is trusted
// outright (spec.md §4.4 "both a loopback source IP and a matching X-Remus-Admin-Key header").
func (s *Server) adminCreateRole(c fiber.Ctx) error {
	var body createRoleRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}
	if body.Name == "" {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Role name is required")
	}

	guildID, err := s.store.NodeGuildID(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}

	role, err := s.store.CreateRole(c.Context(), store.CreateRoleParams{
		GuildID:     guildID,
		Name:        sanitize.Text(body.Name),
		Color:       body.Color,
		Permissions: body.Permissions,
		Hoist:       body.Hoist,
	})
	if err != nil {
		return mapStoreErr(c, err)
	}

	s.recordAudit(c.Context(), guildID, "admin.role.create", adminActorID, role.ID, map[string]any{"name": role.Name})
	return successStatus(c, fiber.StatusCreated, role)
}

func (s *Server) adminUpdateRole(c fiber.Ctx) error {
	var body updateRoleRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	roleID := c.Params("r")
	role, err := s.store.GetRole(c.Context(), roleID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	if body.Name != nil {
		clean := sanitize.Text(*body.Name)
		body.Name = &clean
	}
	if err := s.store.UpdateRole(c.Context(), roleID, store.UpdateRoleParams{
		Name:        body.Name,
		Color:       body.Color,
		Permissions: body.Permissions,
		Hoist:       body.Hoist,
	}); err != nil {
		return mapStoreErr(c, err)
	}

	updated, err := s.store.GetRole(c.Context(), roleID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	s.hub.Broadcast(protocol.GuildRoom(role.GuildID), protocol.EventMemberUpdate, map[string]string{"roleId": roleID})
	s.recordAudit(c.Context(), role.GuildID, "admin.role.update", adminActorID, roleID, nil)
	return success(c, updated)
}

// adminDeleteRole serves DELETE /api/admin/roles/:r. The store itself refuses to delete @everyone (spec.md §8
// invariant: "@everyone ... cannot be deleted"), surfaced here as the usual Conflict mapping.
func (s *Server) adminDeleteRole(c fiber.Ctx) error {
	roleID := c.Params("r")
	role, err := s.store.GetRole(c.Context(), roleID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	if err := s.store.DeleteRole(c.Context(), role.GuildID, roleID); err != nil {
		return mapStoreErr(c, err)
	}

	s.recordAudit(c.Context(), role.GuildID, "admin.role.delete", adminActorID, roleID, nil)
	return success(c, map[string]bool{"ok": true})
}

// adminListAudit serves GET /api/admin/audit, the operator-facing twin of the VIEW_AUDIT_LOG-gated user endpoint
// (spec.md §6 "GET /api/guilds/:g/audit").
func (s *Server) adminListAudit(c fiber.Ctx) error {
	guildID, err := s.store.NodeGuildID(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	entries, err := s.store.ListAudit(c.Context(), guildID, 200)
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, entries)
}

func (s *Server) adminGetSettings(c fiber.Ctx) error {
	settings, err := s.store.GetSettings(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, settings)
}

type adminSettingsRequest struct {
	AuditMaxEntries   *int `json:"auditMaxEntries,omitempty"`
	TimeoutMaxMinutes *int `json:"timeoutMaxMinutes,omitempty"`
}

func (s *Server) adminUpdateSettings(c fiber.Ctx) error {
	var body adminSettingsRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}
	if err := s.store.UpdateSettings(c.Context(), body.AuditMaxEntries, body.TimeoutMaxMinutes); err != nil {
		return mapStoreErr(c, err)
	}
	settings, err := s.store.GetSettings(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}

	guildID, err := s.store.NodeGuildID(c.Context())
	if err == nil {
		s.recordAudit(c.Context(), guildID, "admin.settings.update", adminActorID, "", nil)
	}
	return success(c, settings)
}

// adminDeleteMessage serves DELETE /api/admin/messages/:m, the operator twin of the MANAGE_MESSAGES-gated user
// endpoint (spec.md §4.1 "deleteMessage ... return the removed message ... so the caller can remove files").
func (s *Server) adminDeleteMessage(c fiber.Ctx) error {
	messageID := c.Params("m")
	msg, err := s.store.DeleteMessage(c.Context(), messageID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	for _, a := range msg.Attachments {
		if err := s.storage.Delete(c.Context(), a.Name); err != nil {
			s.log.Warn().Err(err).Str("attachment_id", a.ID).Msg("Failed to delete attachment file on admin delete")
		}
	}

	s.hub.Broadcast(protocol.ChannelRoom(msg.ChannelID), protocol.EventMessageDelete, map[string]string{"id": msg.ID})
	guildID, err := s.store.NodeGuildID(c.Context())
	if err == nil {
		s.recordAudit(c.Context(), guildID, "admin.message.delete", adminActorID, msg.AuthorID, map[string]any{"messageId": msg.ID})
	}
	return success(c, map[string]bool{"ok": true})
}

// adminDeleteUpload serves DELETE /api/admin/uploads/:id: removes the upload row and its on-disk file without
// requiring it be referenced by a still-existing message, for operator cleanup of stray or abusive uploads.
func (s *Server) adminDeleteUpload(c fiber.Ctx) error {
	uploadID := c.Params("id")
	upload, err := s.store.GetUpload(c.Context(), uploadID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	if err := s.store.DeleteUpload(c.Context(), uploadID); err != nil {
		return mapStoreErr(c, err)
	}
	if err := s.storage.Delete(c.Context(), upload.Name); err != nil {
		s.log.Warn().Err(err).Str("upload_id", uploadID).Msg("Failed to delete upload file on admin delete")
	}

	guildID, err := s.store.NodeGuildID(c.Context())
	if err == nil {
		s.recordAudit(c.Context(), guildID, "admin.upload.delete", adminActorID, uploadID, nil)
	}
	return success(c, map[string]bool{"ok": true})
}
