package httpapi

import (
	"net"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"

	"github.com/remus-chat/remus-node/internal/protocol"
)

const localsUser = "user"

// corsMiddleware builds the CORS layer described in spec.md §4.4: a configured origin allowlist, plus an implicit
// allow for loopback origins, plus an optional allow for "null" and "file://" origins.
func (s *Server) corsMiddleware() fiber.Handler {
	allowed := make(map[string]struct{}, len(s.cfg.ClientOrigins))
	for _, o := range s.cfg.ClientOrigins {
		allowed[o] = struct{}{}
	}

	return cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			if _, ok := allowed[origin]; ok {
				return true
			}
			if origin == "null" {
				return s.cfg.AllowNullOrigin
			}
			if strings.HasPrefix(origin, "file://") {
				return s.cfg.AllowFileOrigin
			}
			return isLoopbackOrigin(origin)
		},
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Remus-Admin-Key"},
		ExposeHeaders: []string{"X-Request-Id"},
	})
}

// isLoopbackOrigin reports whether origin's host is localhost, 127.0.0.1, or ::1 (spec.md §4.4 "implicit allow for
// loopback origins").
func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// securityHeaders applies the fixed response headers spec.md §4.4 requires on every response, grounded on the
// fiber/v3 helmet middleware (used for the same purpose in the retrieved vibeshift backend example).
func securityHeaders() fiber.Handler {
	return helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: "default-src 'self'",
		HSTSMaxAge:            31536000,
	})
}

// authenticate invokes C3 (internal/identity) and stores the resolved user in Locals for downstream handlers, per
// spec.md §4.4's request pipeline "authenticate -> notBanned -> permissionCheck -> handler". It resolves identity
// only: it must not create node membership, or every authenticated request would silently (re-)join the guild on
// the caller's behalf, defeating both `joinGuild`'s created-vs-already-a-member distinction and a kick (the next
// request from a kicked user would recreate the member row it just removed). Membership is created explicitly by
// `joinGuild` and the gateway connect path instead.
func (s *Server) authenticate(c fiber.Ctx) error {
	header := c.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || len(header) <= len(prefix) {
		return fail(c, fiber.StatusUnauthorized, CodeUnauthorized, "Missing or malformed Authorization header")
	}
	token := header[len(prefix):]

	user, err := s.resolver.Resolve(c.Context(), token)
	if err != nil {
		return fail(c, fiber.StatusServiceUnavailable, CodeAuthorityUnavailable, "Authentication authority is unavailable")
	}
	if user == nil {
		return fail(c, fiber.StatusUnauthorized, CodeUnauthorized, "Invalid or expired token")
	}

	if err := s.store.UpsertProfile(c.Context(), protocol.Profile{ID: user.ID, Username: user.Username, Email: user.Email}); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to refresh profile on authenticate")
	}

	c.Locals(localsUser, user)
	return c.Next()
}

// notBanned rejects any authenticated request from a user in the Ban set (spec.md §4.4, §8 invariant 10).
func (s *Server) notBanned(c fiber.Ctx) error {
	user := currentUser(c)
	banned, err := s.store.IsBanned(c.Context(), user.ID)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
	}
	if banned {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "You are banned from this community")
	}
	return c.Next()
}

// requirePermission returns middleware enforcing bit on the guild, scoped to the channel whose id is in the route
// parameter named by channelParam when channelParam is non-empty, per spec.md §4.4 "permissionCheck(bit, channel?)".
func (s *Server) requirePermission(bit protocol.Permission, channelParam string) fiber.Handler {
	return func(c fiber.Ctx) error {
		user := currentUser(c)
		guildID, err := s.store.NodeGuildID(c.Context())
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
		}

		channelID := ""
		if channelParam != "" {
			channelID = c.Params(channelParam)
		}

		allowed, err := s.perm.HasPermission(c.Context(), guildID, user.ID, channelID, bit)
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
		}
		if !allowed {
			return fail(c, fiber.StatusForbidden, CodeForbidden, "You do not have the required permission")
		}
		return c.Next()
	}
}

// requireAdmin gates the /api/admin/* surface on both a loopback source IP and a matching X-Remus-Admin-Key header
// (spec.md §4.4). The whole surface is already unmounted by registerRoutes when no key is configured.
func (s *Server) requireAdmin(c fiber.Ctx) error {
	ip := net.ParseIP(c.IP())
	if ip == nil || !ip.IsLoopback() {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Admin surface is only reachable from loopback")
	}
	if c.Get("X-Remus-Admin-Key") != s.cfg.AdminKey {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "Invalid admin key")
	}
	return c.Next()
}

// currentUser returns the user stashed in Locals by authenticate. Panics if called on an unauthenticated route,
// which is a handler-wiring bug, not a request-time condition.
func currentUser(c fiber.Ctx) *protocol.User {
	return c.Locals(localsUser).(*protocol.User)
}
