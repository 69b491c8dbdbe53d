package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("FOLDER_PATH", "")
	t.Setenv("PORT", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != DefaultServerAddress {
		t.Fatalf("unexpected address %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.BasicConfig.FolderPath != DefaultFolderPath {
		t.Fatalf("unexpected folder path %q", cfg.BasicConfig.FolderPath)
	}
	if cfg.BasicConfig.SessionTTLHours != 24 {
		t.Fatalf("expected 24h sessions, got %d", cfg.BasicConfig.SessionTTLHours)
	}
	if cfg.Worker.Queue != "memory" || cfg.Worker.MaxAttempts != 3 {
		t.Fatalf("unexpected worker defaults %+v", cfg.Worker)
	}
	if _, ok := cfg.Databases["sqlite3"]; !ok {
		t.Fatalf("expected default sqlite3 database entry")
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "session_store": "redis"},
		"databases": {"sqlite3": {"dsn": "data.db"}},
		"worker": {"queue": "redis", "concurrency": 4}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FOLDER_PATH", "/srv/files")
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":7000" {
		t.Fatalf("PORT override not applied: %q", cfg.BasicConfig.ServerAddress)
	}
	if cfg.BasicConfig.FolderPath != "/srv/files" {
		t.Fatalf("FOLDER_PATH override not applied: %q", cfg.BasicConfig.FolderPath)
	}
	if cfg.BasicConfig.SessionStore != "redis" {
		t.Fatalf("unexpected session store %q", cfg.BasicConfig.SessionStore)
	}
	if cfg.Worker.Concurrency != 4 || cfg.Worker.Queue != "redis" {
		t.Fatalf("unexpected worker config %+v", cfg.Worker)
	}
	if got := cfg.Databases["sqlite3"].DSN; got != filepath.Join(dir, "data.db") {
		t.Fatalf("relative sqlite dsn not resolved: %q", got)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
