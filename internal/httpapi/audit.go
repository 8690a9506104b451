package httpapi

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/protocol"
)

const defaultAuditPageSize = 100

// listAudit serves GET /api/guilds/:g/audit (spec.md §6, gated on VIEW_AUDIT_LOG by the route).
func (s *Server) listAudit(c fiber.Ctx) error {
	limit := defaultAuditPageSize
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.store.ListAudit(c.Context(), c.Params("g"), limit)
	if err != nil {
		return mapStoreErr(c, err)
	}
	return success(c, entries)
}

// recordAudit appends an Audit row for a state-changing action, logging (but not failing the request on) a store
// error, per spec.md §4.7 "Every state-changing admin or moderation action appends an Audit row."
func (s *Server) recordAudit(ctx context.Context, guildID, action, actorID, targetID string, data map[string]any) {
	err := s.store.AddAudit(ctx, protocol.Audit{
		GuildID:  guildID,
		Action:   action,
		ActorID:  actorID,
		TargetID: targetID,
		Data:     data,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}
