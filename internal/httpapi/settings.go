package httpapi

import (
	"github.com/gofiber/fiber/v3"
)

// getSettings serves GET /api/guilds/:g/settings. Readable by any member; mutations are gated on MANAGE_SERVER by
// the route.
func (s *Server) getSettings(c fiber.Ctx) error {
	settings, err := s.store.GetSettings(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, settings)
}

type updateSettingsRequest struct {
	AuditMaxEntries   *int `json:"auditMaxEntries,omitempty"`
	TimeoutMaxMinutes *int `json:"timeoutMaxMinutes,omitempty"`
}

// updateSettings serves PATCH /api/guilds/:g/settings (spec.md §6 "auditMaxEntries, timeoutMaxMinutes").
func (s *Server) updateSettings(c fiber.Ctx) error {
	var body updateSettingsRequest
	if err := c.Bind().Body(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Invalid request body")
	}
	if body.AuditMaxEntries != nil && *body.AuditMaxEntries <= 0 {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "auditMaxEntries must be positive")
	}
	if body.TimeoutMaxMinutes != nil && *body.TimeoutMaxMinutes <= 0 {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "timeoutMaxMinutes must be positive")
	}

	if err := s.store.UpdateSettings(c.Context(), body.AuditMaxEntries, body.TimeoutMaxMinutes); err != nil {
		return mapStoreErr(c, err)
	}

	settings, err := s.store.GetSettings(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	s.recordAudit(c.Context(), c.Params("g"), "settings.update", currentUser(c).ID, "", nil)
	return success(c, settings)
}
