package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/2keychains/2kc/internal/config"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "standalone" {
		t.Fatalf("expected default mode standalone, got %q", cfg.Mode)
	}
	if cfg.Server.Port != 2274 {
		t.Fatalf("expected default port 2274, got %d", cfg.Server.Port)
	}
}

func TestLoadRejectsBothDiscordAndMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"mode": "standalone",
		"discord": {"webhookUrl":"https://discord.example/hook","botToken":"tok","channelId":"c1"},
		"matrix": {"homeserverURL":"https://matrix.example","userID":"@bot:example","accessToken":"tok","roomID":"!r:example"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected error for config with both discord and matrix")
	}
}

func TestLoadRejectsBadModeEnum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"mode":"bogus"}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected schema validation error for bad mode enum")
	}
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"mode":"standalone","server":{"port":99999}}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected schema validation error for out-of-range port")
	}
}

func TestLoadValidConfigAppliesOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"mode": "client",
		"server": {"host":"0.0.0.0","port":9000,"authToken":"sekrit12345"},
		"requireApproval": {"production": true}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "client" || cfg.Server.Port != 9000 {
		t.Fatalf("expected overrides applied, got %+v", cfg)
	}
	if cfg.ApprovalTimeoutMs != 300000 {
		t.Fatalf("expected default approval timeout preserved, got %d", cfg.ApprovalTimeoutMs)
	}
	if !cfg.RequireApproval["production"] {
		t.Fatalf("expected requireApproval.production=true")
	}
}

func TestLoadAppliesEnvOverridesOverFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"mode":"standalone","server":{"host":"127.0.0.1","port":2274}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Setenv("TWOKC_SERVER_PORT", "9100")
	t.Setenv("TWOKC_SERVER_AUTH_TOKEN", "env-supplied-token")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("expected env override port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "env-supplied-token" {
		t.Fatalf("expected env-supplied auth token, got %q", cfg.Server.AuthToken)
	}
}

func TestShowRedactsSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AuthToken = "abcdefgh12345"
	cfg.Discord = &config.DiscordConfig{
		WebhookURL: "https://discord.com/api/webhooks/1234567890/abcdef",
		BotToken:   "botsekrit12345",
		ChannelID:  "c1",
	}

	shown := cfg.Show()
	server := shown["server"].(map[string]any)
	if server["authToken"] != "abcd..." {
		t.Fatalf("expected truncated token, got %v", server["authToken"])
	}
	discord := shown["discord"].(map[string]any)
	if discord["botToken"] != "bots..." {
		t.Fatalf("expected truncated bot token, got %v", discord["botToken"])
	}
	webhookShown := discord["webhookUrl"].(string)
	if len(webhookShown) != len(cfg.Discord.WebhookURL[:20])+3 {
		t.Fatalf("expected 20-char prefix + ellipsis, got %q", webhookShown)
	}
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Default()
	cfg.Server.Port = 5000

	if err := config.Write(path, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.Port != 5000 {
		t.Fatalf("expected port 5000 round-tripped, got %d", loaded.Server.Port)
	}
}
