package httpapi

import (
	"bytes"

	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/media"
	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/sanitize"
	"github.com/remus-chat/remus-node/internal/store"
)

// listRoles serves GET /api/guilds/:g/roles.
func (s *Server) listRoles(c fiber.Ctx) error {
	roles, err := s.store.ListRoles(c.Context(), c.Params("g"))
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, roles)
}

type createRoleRequest struct {
	Name        string              `json:"name"`
	Color       int                 `json:"color"`
	Permissions protocol.Permission `json:"permissions"`
	Hoist       bool                `json:"hoist"`
}

// createRole serves POST /api/guilds/:g/roles.
func (s *Server) createRole(c fiber.Ctx) error {
	var body createRoleRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}
	if body.Name == "" {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Role name is required")
	}

	guildID := c.Params("g")
	user := currentUser(c)

	actorPerms, _, err := s.actorTopPosition(c.Context(), guildID, user.ID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	if !actorPerms.Has(protocol.Administrator) && (body.Permissions&^actorPerms) != 0 {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Cannot grant permissions you do not hold")
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

	s.recordAudit(c.Context(), guildID, "role.create", user.ID, role.ID, map[string]any{"name": role.Name})
	return successStatus(c, fiber.StatusCreated, role)
}

type updateRoleRequest struct {
	Name        *string              `json:"name,omitempty"`
	Color       *int                 `json:"color,omitempty"`
	Permissions *protocol.Permission `json:"permissions,omitempty"`
	Hoist       *bool                `json:"hoist,omitempty"`
}

// updateRole serves PATCH /api/roles/:r.
func (s *Server) updateRole(c fiber.Ctx) error {
	var body updateRoleRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}

	roleID := c.Params("r")
	role, err := s.store.GetRole(c.Context(), roleID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	user := currentUser(c)
	actorPerms, actorTop, err := s.actorTopPosition(c.Context(), role.GuildID, user.ID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	if !permission.CanManage(actorPerms, actorTop, role.Position) {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Cannot manage a role at or above your own")
	}
	// @everyone sets the guild-wide permission floor every member gets; editing it requires MANAGE_SERVER, not the
	// weaker MANAGE_ROLES the route is otherwise gated on (spec.md §8 invariant 4's "(r is @everyone and
	// MANAGE_SERVER)" clause).
	if roleID == role.GuildID && !actorPerms.Has(protocol.ManageServer) {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Editing @everyone requires MANAGE_SERVER")
	}
	if body.Permissions != nil && !actorPerms.Has(protocol.Administrator) && (*body.Permissions&^actorPerms) != 0 {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Cannot grant permissions you do not hold")
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
	s.recordAudit(c.Context(), role.GuildID, "role.update", user.ID, roleID, nil)
	return success(c, updated)
}

// deleteRole serves DELETE /api/roles/:r.
func (s *Server) deleteRole(c fiber.Ctx) error {
	roleID := c.Params("r")
	role, err := s.store.GetRole(c.Context(), roleID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	user := currentUser(c)
	actorPerms, actorTop, err := s.actorTopPosition(c.Context(), role.GuildID, user.ID)
	if err != nil {
		return mapStoreErr(c, err)
	}
	if !permission.CanManage(actorPerms, actorTop, role.Position) {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Cannot manage a role at or above your own")
	}

	if err := s.store.DeleteRole(c.Context(), role.GuildID, roleID); err != nil {
		return mapStoreErr(c, err)
	}

	s.recordAudit(c.Context(), role.GuildID, "role.delete", user.ID, roleID, nil)
	return success(c, map[string]bool{"ok": true})
}

// uploadRoleIcon serves POST /api/roles/:r/icon (spec.md §6 "multipart <= 2 MB").
func (s *Server) uploadRoleIcon(c fiber.Ctx) error {
	const maxRoleIconBytes = 2 * 1024 * 1024

	roleID := c.Params("r")
	role, err := s.store.GetRole(c.Context(), roleID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Missing file field in multipart form")
	}
	if fh.Size > maxRoleIconBytes {
		return fail(c, fiber.StatusBadRequest, CodePayloadTooLarge, "Role icon exceeds the 2 MB maximum")
	}

	f, err := fh.Open()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
	}
	defer f.Close()

	resized, err := media.ResizeIcon(f)
	if err != nil {
		return mapMediaErr(c, err)
	}

	key := roleID + ".jpg"
	if _, err := s.icons.Put(c.Context(), key, bytes.NewReader(resized)); err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
	}

	iconURL := s.icons.URL("role-icons", key)
	if err := s.store.UpdateRole(c.Context(), roleID, store.UpdateRoleParams{IconURL: &iconURL}); err != nil {
		return mapStoreErr(c, err)
	}

	s.recordAudit(c.Context(), role.GuildID, "role.icon", currentUser(c).ID, roleID, nil)
	return success(c, map[string]string{"iconUrl": iconURL})
}
