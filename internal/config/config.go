// Package config loads environment-variable-driven configuration, following the aggregate-all-errors pattern of the
// teacher repo's own config loader: every malformed variable is collected and reported together rather than failing
// fast on the first one.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds every setting recognized by spec.md §6.
type Config struct {
	Port int

	MainBackendURL string

	ServerName string
	PublicURL  string
	Region     string
	ServerIcon string

	ClientOrigins   []string
	AllowFileOrigin bool
	AllowNullOrigin bool

	FileLimitMB int
	UploadsDir  string

	MediaListenIP    string
	MediaAnnouncedIP string
	MediaMinPort     int
	MediaMaxPort     int
	ICEServers       []ICEServer

	DBPath     string
	RuntimeDir string

	AdminKey string

	Debug bool
	Env   string
}

// ICEServer mirrors the JSON shape expected in REMUS_ICE_SERVERS.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// AdminEnabled reports whether the local admin surface should be mounted (spec.md §4.4).
func (c *Config) AdminEnabled() bool { return c.AdminKey != "" }

// IsDevelopment reports whether the node is running in development mode.
func (c *Config) IsDevelopment() bool { return strings.EqualFold(c.Env, "development") }

// Load reads configuration from the environment and validates it. On any validation failure it returns a joined
// error listing every problem found, matching spec.md §6 "reject ... printing each error."
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Port: p.int("PORT", 8080),

		MainBackendURL: envStr("REMUS_MAIN_BACKEND_URL", "http://localhost:9000"),

		ServerName: envStr("REMUS_SERVER_NAME", "My Community"),
		PublicURL:  envStr("REMUS_PUBLIC_URL", "http://localhost:8080"),
		Region:     envStr("REMUS_REGION", "local"),
		ServerIcon: envStr("REMUS_SERVER_ICON", ""),

		ClientOrigins:   splitCSV(envStr("REMUS_CLIENT_ORIGIN", "")),
		AllowFileOrigin: p.bool("REMUS_ALLOW_FILE_ORIGIN", false),
		AllowNullOrigin: p.bool("REMUS_ALLOW_NULL_ORIGIN", false),

		FileLimitMB: p.int("REMUS_FILE_LIMIT_MB", 25),
		UploadsDir:  envStr("REMUS_UPLOADS_DIR", "uploads"),

		MediaListenIP:    envStr("REMUS_MEDIA_LISTEN_IP", "0.0.0.0"),
		MediaAnnouncedIP: envStr("REMUS_MEDIA_ANNOUNCED_IP", ""),
		MediaMinPort:     p.int("REMUS_MEDIA_MIN_PORT", 40000),
		MediaMaxPort:     p.int("REMUS_MEDIA_MAX_PORT", 49999),

		DBPath:     envStr("REMUS_DB_PATH", ""),
		RuntimeDir: envStr("REMUS_RUNTIME_DIR", "./runtime"),

		AdminKey: envStr("REMUS_ADMIN_KEY", ""),

		Debug: p.bool("DEBUG", false),
		Env:   envStr("NODE_ENV", "production"),
	}

	if raw := os.Getenv("REMUS_ICE_SERVERS"); raw != "" {
		var servers []ICEServer
		if err := json.Unmarshal([]byte(raw), &servers); err != nil {
			p.errs = append(p.errs, fmt.Errorf("REMUS_ICE_SERVERS is not valid JSON: %w", err))
		} else {
			cfg.ICEServers = servers
		}
	}

	if cfg.DBPath == "" {
		cfg.DBPath = cfg.RuntimeDir + "/data/remus.db"
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}

	if _, err := url.ParseRequestURI(c.MainBackendURL); err != nil {
		errs = append(errs, fmt.Errorf("REMUS_MAIN_BACKEND_URL is not a valid URL: %w", err))
	}

	if _, err := url.ParseRequestURI(c.PublicURL); err != nil {
		errs = append(errs, fmt.Errorf("REMUS_PUBLIC_URL is not a valid URL: %w", err))
	}

	for _, origin := range c.ClientOrigins {
		if origin == "" {
			continue
		}
		if _, err := url.ParseRequestURI(origin); err != nil {
			errs = append(errs, fmt.Errorf("REMUS_CLIENT_ORIGIN contains an invalid origin %q: %w", origin, err))
		}
	}

	if c.FileLimitMB <= 0 {
		errs = append(errs, fmt.Errorf("REMUS_FILE_LIMIT_MB must be positive, got %d", c.FileLimitMB))
	}

	if c.MediaMaxPort <= c.MediaMinPort {
		errs = append(errs, fmt.Errorf("REMUS_MEDIA_MAX_PORT (%d) must be greater than REMUS_MEDIA_MIN_PORT (%d)", c.MediaMaxPort, c.MediaMinPort))
	}

	return errors.Join(errs...)
}

// BodyLimitBytes returns the maximum JSON request body size (spec.md §4.4: "JSON body limit of 10 MB").
func (c *Config) BodyLimitBytes() int { return 10 * 1024 * 1024 }

// UploadLimitBytes returns the maximum multipart upload size.
func (c *Config) UploadLimitBytes() int64 { return int64(c.FileLimitMB) * 1024 * 1024 }

type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected boolean)", key, v))
		return fallback
	}
	return b
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
