// Package httpapi implements the HTTP control plane: CORS, security headers, the
// authenticate -> notBanned -> permissionCheck -> handler request pipeline, and every REST endpoint the node exposes.
package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/rs/zerolog"

	"github.com/remus-chat/remus-node/internal/config"
	"github.com/remus-chat/remus-node/internal/gateway"
	"github.com/remus-chat/remus-node/internal/identity"
	"github.com/remus-chat/remus-node/internal/media"
	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/protocol"
	"github.com/remus-chat/remus-node/internal/ratelimit"
	"github.com/remus-chat/remus-node/internal/store"
	"github.com/remus-chat/remus-node/internal/voice"
)

// Server holds every dependency the HTTP handlers need. It is intentionally a thin wiring layer: all business logic
// lives in internal/store, internal/permission, internal/media, internal/gateway, and internal/voice.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	perm     *permission.Engine
	resolver *identity.Resolver
	hub      *gateway.Hub
	voice    *voice.Coordinator
	storage  *media.LocalStorage
	icons    *media.LocalStorage
	uploadRL *ratelimit.Limiter
	log      zerolog.Logger
}

// New builds a Server. voice may be nil when the media worker failed to start in a way the node tolerates; callers
// that need it check s.voice before use (mirrors spec.md §4.6 "if the worker dies, the process exits" being handled
// one layer up, in cmd/remus).
func New(
	cfg *config.Config,
	st *store.Store,
	perm *permission.Engine,
	resolver *identity.Resolver,
	hub *gateway.Hub,
	vc *voice.Coordinator,
	storage *media.LocalStorage,
	icons *media.LocalStorage,
	uploadRL *ratelimit.Limiter,
	logger zerolog.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		perm:     perm,
		resolver: resolver,
		hub:      hub,
		voice:    vc,
		storage:  storage,
		icons:    icons,
		uploadRL: uploadRL,
		log:      logger.With().Str("component", "httpapi").Logger(),
	}
}

// NewApp constructs the fiber.App with every global middleware installed: request id, security headers, CORS,
// then route registration.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      s.cfg.ServerName,
		BodyLimit:    s.cfg.BodyLimitBytes(),
		ErrorHandler: s.globalErrorHandler,
	})

	app.Use(requestid.New())
	app.Use(securityHeaders())
	app.Use(s.corsMiddleware())

	s.registerRoutes(app)
	return app
}

// globalErrorHandler is fiber's last-resort handler for panics/unhandled errors. Every handler in this package is
// expected to return a structured fail(...) response itself; this only catches anything that slips through (e.g.
// fiber's own routing errors).
func (s *Server) globalErrorHandler(c fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fail(c, fe.Code, CodeInternal, fe.Message)
	}
	s.log.Error().Err(err).Str("path", c.Path()).Msg("Unhandled HTTP error")
	return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
}

// registerRoutes mounts every endpoint the node exposes, grouped by resource.
func (s *Server) registerRoutes(app *fiber.App) {
	app.Get("/api/health", s.getHealth)
	app.Get("/api/server/info", s.getServerInfo)
	app.Get("/api/server/icon", s.getServerIcon)

	app.Get("/api/gateway", s.upgradeGateway)

	app.Use("/uploads", static.New(s.cfg.UploadsDir))
	app.Use("/role-icons", static.New(s.cfg.UploadsDir+"/role-icons"))

	api := app.Group("/api", s.authenticate, s.notBanned)

	api.Get("/guilds", s.listGuilds)
	api.Post("/guilds", s.rejectCreateGuild)
	api.Post("/guilds/:g/join", s.joinGuild)
	api.Post("/guilds/:g/leave", s.leaveGuild)

	api.Get("/guilds/:g/channels", s.listChannels)
	api.Post("/guilds/:g/channels", s.requirePermission(protocol.ManageChannels, ""), s.createChannel)
	api.Patch("/guilds/:g/channels/order", s.requirePermission(protocol.ManageChannels, ""), s.reorderChannels)
	api.Patch("/channels/:c", s.requirePermission(protocol.ManageChannels, "c"), s.updateChannel)
	api.Delete("/channels/:c", s.requirePermission(protocol.ManageChannels, "c"), s.deleteChannel)

	api.Get("/guilds/:g/roles", s.listRoles)
	api.Post("/guilds/:g/roles", s.requirePermission(protocol.ManageRoles, ""), s.createRole)
	api.Patch("/roles/:r", s.requirePermission(protocol.ManageRoles, ""), s.updateRole)
	api.Delete("/roles/:r", s.requirePermission(protocol.ManageRoles, ""), s.deleteRole)
	api.Post("/roles/:r/icon", s.requirePermission(protocol.ManageRoles, ""), s.uploadRoleIcon)

	api.Get("/guilds/:g/members", s.listMembers)
	api.Patch("/guilds/:g/members/:u/nickname", s.updateMemberNickname)
	api.Patch("/guilds/:g/members/:u/roles", s.requirePermission(protocol.ManageRoles, ""), s.updateMemberRoles)
	api.Patch("/guilds/:g/members/:u/timeout", s.requirePermission(protocol.TimeoutMembers, ""), s.updateMemberTimeout)
	api.Patch("/guilds/:g/members/:u/voice", s.requirePermission(protocol.VoiceMuteMembers, ""), s.updateMemberVoice)
	api.Post("/guilds/:g/members/:u/kick", s.requirePermission(protocol.KickMembers, ""), s.kickMember)
	api.Post("/guilds/:g/members/:u/ban", s.requirePermission(protocol.BanMembers, ""), s.banMember)
	api.Post("/guilds/:g/members/:u/move", s.requirePermission(protocol.VoiceMoveMembers, ""), s.moveMember)

	api.Get("/guilds/:g/audit", s.requirePermission(protocol.ViewAuditLog, ""), s.listAudit)
	api.Get("/guilds/:g/settings", s.getSettings)
	api.Patch("/guilds/:g/settings", s.requirePermission(protocol.ManageServer, ""), s.updateSettings)

	api.Get("/channels/:c/messages", s.requirePermission(protocol.ViewChannels, "c"), s.listMessages)
	api.Post("/channels/:c/messages", s.requirePermission(protocol.SendMessages, "c"), s.createMessage)
	api.Delete("/channels/:c/messages/:m", s.requirePermission(protocol.ManageMessages, "c"), s.deleteMessage)

	api.Post("/files/upload", s.uploadFile)

	if s.cfg.AdminEnabled() {
		admin := app.Group("/api/admin", s.requireAdmin)
		s.registerAdminRoutes(admin)
	}
}
