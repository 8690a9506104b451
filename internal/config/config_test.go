package config

import "testing"

// TestLoadDefaults is not t.Parallel because it mutates process-wide environment variables.
func TestLoadDefaults(t *testing.T) {
	keys := []string{
		"PORT", "REMUS_MAIN_BACKEND_URL", "REMUS_SERVER_NAME", "REMUS_PUBLIC_URL", "REMUS_REGION",
		"REMUS_SERVER_ICON", "REMUS_CLIENT_ORIGIN", "REMUS_ALLOW_FILE_ORIGIN", "REMUS_ALLOW_NULL_ORIGIN",
		"REMUS_FILE_LIMIT_MB", "REMUS_UPLOADS_DIR", "REMUS_MEDIA_LISTEN_IP", "REMUS_MEDIA_ANNOUNCED_IP",
		"REMUS_MEDIA_MIN_PORT", "REMUS_MEDIA_MAX_PORT", "REMUS_ICE_SERVERS", "REMUS_DB_PATH",
		"REMUS_RUNTIME_DIR", "REMUS_ADMIN_KEY", "DEBUG", "NODE_ENV",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.FileLimitMB != 25 {
		t.Errorf("FileLimitMB = %d, want 25", cfg.FileLimitMB)
	}
	if cfg.AdminEnabled() {
		t.Error("AdminEnabled() = true with empty REMUS_ADMIN_KEY, want false")
	}
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true by default, want false")
	}
	if cfg.DBPath == "" {
		t.Error("DBPath should default to a path under RuntimeDir")
	}
}

func TestLoadInvalidPort(t *testing.T) {
	t.Setenv("PORT", "99999")
	t.Setenv("REMUS_MAIN_BACKEND_URL", "http://localhost:9000")
	t.Setenv("REMUS_PUBLIC_URL", "http://localhost:8080")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with out-of-range PORT should fail")
	}
}

func TestLoadInvalidICEServersJSON(t *testing.T) {
	t.Setenv("REMUS_ICE_SERVERS", "{not json")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with malformed REMUS_ICE_SERVERS should fail")
	}
}

func TestLoadMediaPortRangeValidation(t *testing.T) {
	t.Setenv("REMUS_MEDIA_MIN_PORT", "50000")
	t.Setenv("REMUS_MEDIA_MAX_PORT", "40000")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with MediaMaxPort <= MediaMinPort should fail")
	}
}

func TestLoadAggregatesMultipleErrors(t *testing.T) {
	t.Setenv("PORT", "notanumber")
	t.Setenv("REMUS_FILE_LIMIT_MB", "also-not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with multiple bad values should fail")
	}
}
