package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.convo/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	User           User     `toml:"user"`
	Gateway        Gateway  `toml:"gateway"`
	Geocoder       Geocoder `toml:"geocoder"`
	Compose        Compose  `toml:"compose"`
	Typing         Typing   `toml:"typing"`
	Attachments    Attach   `toml:"attachments"`
}

// User identifies the local account the engine acts as.
type User struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
}

// Gateway holds the realtime event-socket endpoint and credentials.
type Gateway struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// Geocoder points at the forward/reverse geocoding REST collaborator.
type Geocoder struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Compose tunes the outgoing-message lifecycle.
type Compose struct {
	AckTimeoutSeconds int `toml:"ack_timeout_seconds"`
}

// Typing tunes the typing-signal debounce.
type Typing struct {
	DebounceSeconds int `toml:"debounce_seconds"`
}

// Attach holds the client-enforced attachment limits.
type Attach struct {
	MaxImages     int   `toml:"max_images"`
	MaxImageBytes int64 `toml:"max_image_bytes"`
}

// Load reads config from the given path and applies defaults.
// Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with all defaults applied and no user identity.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.Geocoder.BaseURL == "" {
		c.Geocoder.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if c.Geocoder.TimeoutSeconds <= 0 {
		c.Geocoder.TimeoutSeconds = 5
	}
	if c.Compose.AckTimeoutSeconds <= 0 {
		c.Compose.AckTimeoutSeconds = 10
	}
	if c.Typing.DebounceSeconds <= 0 {
		c.Typing.DebounceSeconds = 2
	}
	if c.Attachments.MaxImages <= 0 {
		c.Attachments.MaxImages = 5
	}
	if c.Attachments.MaxImageBytes <= 0 {
		c.Attachments.MaxImageBytes = 5 << 20
	}
}

// AckTimeout returns the compose ack window as a duration.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Compose.AckTimeoutSeconds) * time.Second
}

// TypingDebounce returns the typing debounce as a duration.
func (c *Config) TypingDebounce() time.Duration {
	return time.Duration(c.Typing.DebounceSeconds) * time.Second
}

// GeocoderTimeout returns the geocoder HTTP timeout as a duration.
func (c *Config) GeocoderTimeout() time.Duration {
	return time.Duration(c.Geocoder.TimeoutSeconds) * time.Second
}
