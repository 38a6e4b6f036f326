// Package config loads and validates the on-disk JSON configuration file,
// following the same defaults-applied shape as the rest of this codebase's
// config structs, but sourced from a file and schema-validated rather than
// assembled from environment variables directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/2keychains/2kc/common/environment"
	"github.com/2keychains/2kc/internal/brokererr"
)

// ServerConfig is the server{} section.
type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	AuthToken string `json:"authToken,omitempty"`
}

// StoreConfig is the store{} section.
type StoreConfig struct {
	Path string `json:"path"`
}

// DiscordConfig is the discord{} section.
type DiscordConfig struct {
	WebhookURL string `json:"webhookUrl"`
	BotToken   string `json:"botToken"`
	ChannelID  string `json:"channelId"`
}

// MatrixConfig is the matrix{} section.
type MatrixConfig struct {
	HomeserverURL string `json:"homeserverURL"`
	UserID        string `json:"userID"`
	AccessToken   string `json:"accessToken"`
	RoomID        string `json:"roomID"`
}

// Config is the full on-disk configuration shape.
type Config struct {
	Mode                   string           `json:"mode"`
	Server                 ServerConfig     `json:"server"`
	Store                  StoreConfig      `json:"store"`
	Discord                *DiscordConfig   `json:"discord,omitempty"`
	Matrix                 *MatrixConfig    `json:"matrix,omitempty"`
	RequireApproval        map[string]bool  `json:"requireApproval"`
	DefaultRequireApproval bool             `json:"defaultRequireApproval"`
	ApprovalTimeoutMs      int              `json:"approvalTimeoutMs"`
}

// Default returns the configuration used when no file is present on disk.
func Default() *Config {
	return &Config{
		Mode: "standalone",
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 2274,
		},
		Store: StoreConfig{
			Path: "~/.2kc/secrets.json",
		},
		RequireApproval:        map[string]bool{},
		DefaultRequireApproval: false,
		ApprovalTimeoutMs:      300000,
	}
}

// Load reads and validates the config file at path. A missing file is not
// an error; Load returns Default() in that case, with the store path's "~"
// expanded and environment overrides applied as for a file. A
// present-but-unparseable or schema-invalid file is.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.Store.Path = expandHome(cfg.Store.Path)
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, brokererr.Wrap(brokererr.Corrupted, "reading config file "+path, err)
	}

	if err := Validate(raw); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, brokererr.Wrap(brokererr.Corrupted, "parsing config file "+path, err)
	}

	if cfg.Discord != nil && cfg.Matrix != nil {
		return nil, brokererr.New(brokererr.InvalidInput, "config must not configure both discord and matrix approval channels")
	}

	cfg.Store.Path = expandHome(cfg.Store.Path)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets daemon bootstrap scripts override the handful of
// fields that commonly differ between a container and a file on disk,
// without requiring a config file edit.
func applyEnvOverrides(cfg *Config) {
	cfg.Server.Host = environment.StringOr("TWOKC_SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = environment.IntOr("TWOKC_SERVER_PORT", cfg.Server.Port)
	if tok, ok := environment.String("TWOKC_SERVER_AUTH_TOKEN"); ok {
		cfg.Server.AuthToken = tok
	}
	cfg.DefaultRequireApproval = environment.BoolOr("TWOKC_DEFAULT_REQUIRE_APPROVAL", cfg.DefaultRequireApproval)
}

// Show returns a representation of cfg with secret-shaped fields truncated,
// suitable for printing to an interactive terminal.
func (c *Config) Show() map[string]any {
	out := map[string]any{
		"mode": c.Mode,
		"server": map[string]any{
			"host":      c.Server.Host,
			"port":      c.Server.Port,
			"authToken": redactShort(c.Server.AuthToken),
		},
		"store":                  map[string]any{"path": c.Store.Path},
		"requireApproval":        c.RequireApproval,
		"defaultRequireApproval": c.DefaultRequireApproval,
		"approvalTimeoutMs":      c.ApprovalTimeoutMs,
	}
	if c.Discord != nil {
		out["discord"] = map[string]any{
			"webhookUrl": redactLong(c.Discord.WebhookURL),
			"botToken":   redactShort(c.Discord.BotToken),
			"channelId":  c.Discord.ChannelID,
		}
	}
	if c.Matrix != nil {
		out["matrix"] = map[string]any{
			"homeserverURL": redactLong(c.Matrix.HomeserverURL),
			"userID":        c.Matrix.UserID,
			"accessToken":   redactShort(c.Matrix.AccessToken),
			"roomID":        c.Matrix.RoomID,
		}
	}
	return out
}

func redactShort(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return s + "..."
	}
	return s[:4] + "..."
}

func redactLong(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 20 {
		return s + "..."
	}
	return s[:20] + "..."
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// DefaultPath returns the default on-disk config location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".2kc", "config.json")
}

// Write serializes cfg as indented JSON to path with mode 0600, creating
// the parent directory if needed.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return brokererr.Wrap(brokererr.Corrupted, "creating config directory", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return brokererr.Wrap(brokererr.Corrupted, "writing config file "+path, err)
	}
	return nil
}
