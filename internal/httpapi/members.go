package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/sanitize"
)

// listMembers serves GET /api/guilds/:g/members.
func (s *Server) listMembers(c fiber.Ctx) error {
	members, err := s.store.ListMembers(c.Context(), c.Params("g"))
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, members)
}

// broadcastMemberUpdate re-fetches and fans out a member record after a mutation, grounded on spec.md §6's
// "[member:update]" annotation shared by every member PATCH endpoint.
func (s *Server) broadcastMemberUpdate(c fiber.Ctx, guildID, userID string) (*protocol.Member, error) {
	member, err := s.store.GetMemberRecord(c.Context(), guildID, userID)
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(protocol.GuildRoom(guildID), protocol.EventMemberUpdate, member)
	return member, nil
}

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

// updateMemberNickname serves PATCH /api/guilds/:g/members/:u/nickname. Any member may rename themselves; renaming
// another member requires ManageRoles.
func (s *Server) updateMemberNickname(c fiber.Ctx) error {
	var body nicknameRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	guildID, targetID := c.Params("g"), c.Params("u")
	user := currentUser(c)
	if user.ID != targetID {
		allowed, err := s.perm.HasPermission(c.Context(), guildID, user.ID, "", protocol.ManageRoles)
		if err != nil {
			return mapStoreErr(c, err)
		}
		if !allowed {
			return fail(c, fiber.StatusForbidden, CodeForbidden, "You do not have the required permission")
		}
	}

	if err := s.store.SetNickname(c.Context(), guildID, targetID, sanitize.Text(body.Nickname)); err != nil {
		return mapStoreErr(c, err)
	}
	member, err := s.broadcastMemberUpdate(c, guildID, targetID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	s.recordAudit(c.Context(), guildID, "member.nickname", user.ID, targetID, nil)
	return success(c, member)
}

type rolesRequest struct {
	RoleIDs []string `json:"roleIds"`
}

// updateMemberRoles serves PATCH /api/guilds/:g/members/:u/roles.
func (s *Server) updateMemberRoles(c fiber.Ctx) error {
	var body rolesRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	guildID, targetID := c.Params("g"), c.Params("u")
	user := currentUser(c)

	actorPerms, actorTop, err := s.actorTopPosition(c.Context(), guildID, user.ID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	_, targetTop, err := s.actorTopPosition(c.Context(), guildID, targetID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	if !permission.CanManage(actorPerms, actorTop, targetTop) {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Cannot manage a member at or above your own hierarchy position")
	}

	if err := s.store.SetMemberRoles(c.Context(), guildID, targetID, body.RoleIDs); err != nil {
		return mapStoreErr(c, err)
	}
	member, err := s.broadcastMemberUpdate(c, guildID, targetID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	s.recordAudit(c.Context(), guildID, "member.roles", user.ID, targetID, map[string]any{"roleIds": body.RoleIDs})
	return success(c, member)
}

type timeoutRequest struct {
	Minutes int `json:"minutes"`
}

// updateMemberTimeout serves PATCH /api/guilds/:g/members/:u/timeout. Minutes <= 0 lifts the timeout.
func (s *Server) updateMemberTimeout(c fiber.Ctx) error {
	var body timeoutRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	guildID, targetID := c.Params("g"), c.Params("u")
	settings, err := s.store.GetSettings(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	if body.Minutes > settings.TimeoutMaxMinutes {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Timeout exceeds the configured maximum")
	}

	var until *time.Time
	if body.Minutes > 0 {
		t := time.Now().Add(time.Duration(body.Minutes) * time.Minute)
		until = &t
	}

	if err := s.store.SetTimeout(c.Context(), guildID, targetID, until); err != nil {
		return mapStoreErr(c, err)
	}
	member, err := s.broadcastMemberUpdate(c, guildID, targetID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	s.recordAudit(c.Context(), guildID, "member.timeout", currentUser(c).ID, targetID, map[string]any{"minutes": body.Minutes})
	return success(c, member)
}

type voiceStateRequest struct {
	Muted    *bool `json:"muted,omitempty"`
	Deafened *bool `json:"deafened,omitempty"`
}

// updateMemberVoice serves PATCH /api/guilds/:g/members/:u/voice (server mute/deafen).
func (s *Server) updateMemberVoice(c fiber.Ctx) error {
	var body voiceStateRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	guildID, targetID := c.Params("g"), c.Params("u")
	current, err := s.store.GetMemberRecord(c.Context(), guildID, targetID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	muted, deafened := current.VoiceMuted, current.VoiceDeafened
	if body.Muted != nil {
		muted = *body.Muted
	}
	if body.Deafened != nil {
		deafened = *body.Deafened
	}

	if err := s.store.SetVoiceState(c.Context(), guildID, targetID, muted, deafened); err != nil {
		return mapStoreErr(c, err)
	}
	if muted && s.voice != nil {
		s.voice.ForceMuteUser(targetID)
	}

	member, err := s.broadcastMemberUpdate(c, guildID, targetID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	s.recordAudit(c.Context(), guildID, "member.voice", currentUser(c).ID, targetID, map[string]any{"muted": muted, "deafened": deafened})
	return success(c, member)
}

// kickMember serves POST /api/guilds/:g/members/:u/kick (spec.md §4.6 "kick disconnects active sockets").
func (s *Server) kickMember(c fiber.Ctx) error {
	guildID, targetID := c.Params("g"), c.Params("u")
	user := currentUser(c)

	actorPerms, actorTop, err := s.actorTopPosition(c.Context(), guildID, user.ID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	_, targetTop, err := s.actorTopPosition(c.Context(), guildID, targetID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	if !permission.CanManage(actorPerms, actorTop, targetTop) {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Cannot manage a member at or above your own hierarchy position")
	}

	if err := s.store.RemoveMember(c.Context(), guildID, targetID); err != nil {
		return mapStoreErr(c, err)
	}

	s.hub.DisconnectUser(targetID, "kicked")
	s.hub.Broadcast(protocol.GuildRoom(guildID), protocol.EventGuildMemberLeft, map[string]string{"userId": targetID})
	s.recordAudit(c.Context(), guildID, "member.kick", user.ID, targetID, nil)
	return success(c, map[string]bool{"ok": true})
}

type banRequest struct {
	Reason string `json:"reason,omitempty"`
}

// banMember serves POST /api/guilds/:g/members/:u/ban (spec.md §4.7 "Banning implies purge and immediate
// disconnect").
func (s *Server) banMember(c fiber.Ctx) error {
	var body banRequest
	_ = c.Bind().Body(&body)

	guildID, targetID := c.Params("g"), c.Params("u")
	user := currentUser(c)

	actorPerms, actorTop, err := s.actorTopPosition(c.Context(), guildID, user.ID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	_, targetTop, err := s.actorTopPosition(c.Context(), guildID, targetID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	if !permission.CanManage(actorPerms, actorTop, targetTop) {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Cannot manage a member at or above your own hierarchy position")
	}

	if _, err := s.store.CreateBan(c.Context(), targetID, sanitize.Text(body.Reason), user.ID); err != nil {
		return mapStoreErr(c, err)
	}
	uploads, err := s.store.PurgeUser(c.Context(), guildID, targetID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", targetID).Msg("Failed to purge uploads on ban")
	}
	for _, u := range uploads {
		if err := s.storage.Delete(c.Context(), u.Name); err != nil {
			s.log.Warn().Err(err).Str("upload_id", u.ID).Msg("Failed to delete purged upload file")
		}
	}
	_ = s.store.RemoveMember(c.Context(), guildID, targetID)

	s.hub.DisconnectUser(targetID, "banned")
	s.hub.Broadcast(protocol.GuildRoom(guildID), protocol.EventGuildMemberLeft, map[string]string{"userId": targetID})
	s.recordAudit(c.Context(), guildID, "member.ban", user.ID, targetID, map[string]any{"reason": body.Reason})
	return success(c, map[string]bool{"ok": true})
}

type moveRequest struct {
	ChannelID string `json:"channelId"`
}

// moveMember serves POST /api/guilds/:g/members/:u/move (spec.md §4.6 "moveUser ... sends voice:move").
func (s *Server) moveMember(c fiber.Ctx) error {
	var body moveRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	if s.voice == nil {
		return fail(c, fiber.StatusServiceUnavailable, CodeInternal, "Voice is unavailable on this node")
	}

	targetID := c.Params("u")
	s.voice.MoveUser(targetID, body.ChannelID)
	s.recordAudit(c.Context(), c.Params("g"), "member.move", currentUser(c).ID, targetID, map[string]any{"channelId": body.ChannelID})
	return success(c, map[string]bool{"ok": true})
}
