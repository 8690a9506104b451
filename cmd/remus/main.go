// Command remus runs the Remus community node: the HTTP control plane, realtime gateway, and voice SFU coordinator,
// wired together into a single long-running process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/remus-chat/remus-node/internal/config"
	"github.com/remus-chat/remus-node/internal/gateway"
	"github.com/remus-chat/remus-node/internal/httpapi"
	"github.com/remus-chat/remus-node/internal/identity"
	"github.com/remus-chat/remus-node/internal/media"
	"github.com/remus-chat/remus-node/internal/moderation"
	"github.com/remus-chat/remus-node/internal/permission"
	"github.com/remus-chat/remus-node/internal/ratelimit"
	"github.com/remus-chat/remus-node/internal/store"
	"github.com/remus-chat/remus-node/internal/voice"
)

// version is overridden via -ldflags at build time.
var version = "dev"

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Remus node stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Invalid configuration:")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("env", cfg.Env).
		Str("server_name", cfg.ServerName).
		Msg("Starting Remus community node")

	st, err := store.Open(cfg.DBPath, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open persistence store")
		os.Exit(1)
	}
	defer st.Close()
	log.Info().Str("path", cfg.DBPath).Msg("Persistence store ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	permEngine := permission.New(st)

	resolver := identity.New(cfg.MainBackendURL, &http.Client{Timeout: 5 * time.Second}, identityTimeout(cfg.MainBackendURL))
	resolver.StartSweeper(ctx)

	uploadRL := ratelimit.New(30, 60*time.Second)
	voiceJoinRL := ratelimit.New(10, 60*time.Second)
	messageRL := ratelimit.New(120, 60*time.Second)

	hub := gateway.New(st, permEngine, nil, messageRL, log.Logger)

	vc, err := voice.New(ctx, voice.NewLocalAdapter(), st, permEngine, hub, voiceJoinRL,
		cfg.MediaListenIP, cfg.MediaAnnouncedIP, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start voice SFU coordinator")
		os.Exit(1)
	}
	hub.SetVoiceHandler(vc)

	storage := media.NewLocalStorage(cfg.UploadsDir, cfg.PublicURL+"/uploads")
	icons := media.NewLocalStorage(cfg.UploadsDir+"/role-icons", cfg.PublicURL+"/role-icons")

	srv := httpapi.New(cfg, st, permEngine, resolver, hub, vc, storage, icons, uploadRL, log.Logger)
	app := srv.NewApp()

	guildID, err := st.NodeGuildID(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve node guild for heartbeat")
		os.Exit(1)
	}
	serverID := guildID
	if len(serverID) > 8 {
		serverID = serverID[:8]
	}
	heartbeat := moderation.New(cfg.MainBackendURL, moderation.HeartbeatPayload{
		Name:      cfg.ServerName,
		PublicURL: cfg.PublicURL,
		ServerID:  serverID,
		Region:    cfg.Region,
		Version:   version,
	}, log.Logger)
	go heartbeat.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("Shutting down Remus node")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("Remus node listening")
	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// identityTimeout picks the token-verification abort deadline: a loopback authority gets a tighter budget than a
// remote one.
func identityTimeout(baseURL string) time.Duration {
	u, err := url.Parse(baseURL)
	if err == nil {
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return 1500 * time.Millisecond
		}
	}
	return 5 * time.Second
}
