package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the global ~/.mutamir/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	BaseURL        string `toml:"base_url"`
	FallbackURL    string `toml:"fallback_url"`
	PushURL        string `toml:"push_url"`
	Locale         string `toml:"locale"` // "ar" or "en"
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DefaultProfile: "default",
		BaseURL:        "https://api.mutamir.app/api",
		FallbackURL:    "https://api-fallback.mutamir.app/api",
		PushURL:        "wss://push.mutamir.app/app/stream",
		Locale:         "ar",
	}
}

// Load reads config from the given path and applies environment overrides.
// A missing file yields the defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
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

// applyEnv overlays MUTAMIR_* environment variables, loading a .env file
// first when present (development convenience).
func applyEnv(cfg *Config) {
	_ = godotenv.Load()
	if v := os.Getenv("MUTAMIR_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("MUTAMIR_FALLBACK_URL"); v != "" {
		cfg.FallbackURL = v
	}
	if v := os.Getenv("MUTAMIR_PUSH_URL"); v != "" {
		cfg.PushURL = v
	}
	if v := os.Getenv("MUTAMIR_PROFILE"); v != "" {
		cfg.DefaultProfile = v
	}
	if v := os.Getenv("MUTAMIR_LOCALE"); v != "" {
		cfg.Locale = v
	}
}
