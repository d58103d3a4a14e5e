package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := &Config{
		DefaultProfile: "main",
		User:           User{ID: "u-1", DisplayName: "Me"},
		Gateway:        Gateway{URL: "wss://gw.example.com/socket", Token: "secret"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "main" {
		t.Errorf("DefaultProfile = %q, want main", loaded.DefaultProfile)
	}
	if loaded.User.ID != "u-1" {
		t.Errorf("User.ID = %q, want u-1", loaded.User.ID)
	}
	if loaded.Gateway.URL != "wss://gw.example.com/socket" {
		t.Errorf("Gateway.URL = %q", loaded.Gateway.URL)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_profile = \"x\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AckTimeout() != 10*time.Second {
		t.Errorf("AckTimeout = %v, want 10s", cfg.AckTimeout())
	}
	if cfg.TypingDebounce() != 2*time.Second {
		t.Errorf("TypingDebounce = %v, want 2s", cfg.TypingDebounce())
	}
	if cfg.Attachments.MaxImages != 5 {
		t.Errorf("MaxImages = %d, want 5", cfg.Attachments.MaxImages)
	}
	if cfg.Attachments.MaxImageBytes != 5<<20 {
		t.Errorf("MaxImageBytes = %d, want %d", cfg.Attachments.MaxImageBytes, 5<<20)
	}
	if cfg.Geocoder.BaseURL == "" {
		t.Error("Geocoder.BaseURL default not applied")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
