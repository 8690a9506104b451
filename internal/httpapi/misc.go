package httpapi

import (
	"os"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/config"
)

// getHealth serves GET /api/health: a public liveness probe with no authentication (spec.md §6).
func (s *Server) getHealth(c fiber.Ctx) error {
	return success(c, map[string]string{"status": "ok"})
}

type serverInfoResponse struct {
	Name           string             `json:"name"`
	PublicURL      string             `json:"publicUrl"`
	ServerID       string             `json:"serverId"`
	Region         string             `json:"region"`
	MainBackendURL string             `json:"mainBackendUrl"`
	IconURL        string             `json:"iconUrl,omitempty"`
	ICEServers     []config.ICEServer `json:"iceServers"`
}

// getServerInfo serves GET /api/server/info (spec.md §6): node identity metadata used by clients to discover this
// community before authenticating.
func (s *Server) getServerInfo(c fiber.Ctx) error {
	guildID, err := s.store.NodeGuildID(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}

	serverID := guildID
	if len(serverID) > 8 {
		serverID = serverID[:8]
	}

	iconURL := ""
	if s.cfg.ServerIcon != "" {
		iconURL = s.cfg.PublicURL + "/api/server/icon"
	}

	return success(c, serverInfoResponse{
		Name:           s.cfg.ServerName,
		PublicURL:      s.cfg.PublicURL,
		ServerID:       serverID,
		Region:         s.cfg.Region,
		MainBackendURL: s.cfg.MainBackendURL,
		IconURL:        iconURL,
		ICEServers:     s.cfg.ICEServers,
	})
}

// getServerIcon serves GET /api/server/icon (spec.md §6): raw icon bytes with an inferred MIME type.
func (s *Server) getServerIcon(c fiber.Ctx) error {
	if s.cfg.ServerIcon == "" {
		return fail(c, fiber.StatusNotFound, CodeNotFound, "No server icon is configured")
	}
	if _, err := os.Stat(s.cfg.ServerIcon); err != nil {
		return fail(c, fiber.StatusNotFound, CodeNotFound, "No server icon is configured")
	}
	// SendFile infers the Content-Type from the file extension, per the "raw icon bytes with inferred MIME" shape.
	return c.SendFile(s.cfg.ServerIcon)
}

// upgradeGateway serves GET /api/gateway (spec.md §4.5 "connections authenticate before upgrade"): it resolves the
// token carried in the "token" query parameter (browsers cannot set Authorization headers on WebSocket upgrades)
// before handing the connection to the realtime gateway Hub.
func (s *Server) upgradeGateway(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token := c.Query("token")
	user, err := s.resolver.Resolve(c.Context(), token)
	if err != nil || user == nil {
		return fail(c, fiber.StatusUnauthorized, CodeUnauthorized, "Invalid or expired token")
	}

	guildID, err := s.store.NodeGuildID(c.Context())
	if err != nil {
		return mapStoreErr(c, err)
	}
	if _, _, err := s.store.EnsureMember(c.Context(), guildID, user.ID); err != nil {
		return mapStoreErr(c, err)
	}

	userID := user.ID
	return websocket.New(func(conn *websocket.Conn) {
		s.hub.ServeWebSocket(conn.Conn, userID)
	})(c)
}
