package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if settings.MaxConcurrentDownloads != DefaultSettings().MaxConcurrentDownloads {
		t.Errorf("MaxConcurrentDownloads = %d, want default", settings.MaxConcurrentDownloads)
	}
}

func TestSaveLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	settings := DefaultSettings()
	settings.DownloadDir = "/data/downloads"
	settings.MaxRetries = 4
	settings.DedupeNotifications = true
	if err := settings.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DownloadDir != "/data/downloads" || loaded.MaxRetries != 4 || !loaded.DedupeNotifications {
		t.Errorf("Load() = %+v", loaded)
	}
}

func TestLoad_YAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "engine_url: http://127.0.0.1:9000\nspeed_limit_kbps: 256\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if settings.EngineURL != "http://127.0.0.1:9000" {
		t.Errorf("EngineURL = %q", settings.EngineURL)
	}
	if settings.SpeedLimitKBps != 256 {
		t.Errorf("SpeedLimitKBps = %v, want 256", settings.SpeedLimitKBps)
	}
	if settings.MaxRetries != DefaultSettings().MaxRetries {
		t.Errorf("MaxRetries = %d, want default %d", settings.MaxRetries, DefaultSettings().MaxRetries)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed JSON")
	}
}

func TestToEngineOptions(t *testing.T) {
	settings := DefaultSettings()
	settings.RetryCooldown = 0.5
	settings.SpeedLimitKBps = 0

	opts := settings.ToEngineOptions()
	if opts.RetryCooldown != 500*time.Millisecond {
		t.Errorf("RetryCooldown = %v, want 500ms", opts.RetryCooldown)
	}
	if !opts.SpeedLimit.IsUnlimited() {
		t.Error("a zero speed limit should map to unlimited")
	}

	settings.SpeedLimitKBps = 128
	if kbps, ok := settings.ToEngineOptions().SpeedLimit.KBps(); !ok || kbps != 128 {
		t.Errorf("SpeedLimit = (%v, %v), want (128, true)", kbps, ok)
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer

	settings := DefaultSettings()
	settings.LogLevel = "warn"
	logger := settings.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message should be logged")
	}
}
