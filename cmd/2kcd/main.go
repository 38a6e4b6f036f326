// 2kcd is the daemon process: it loads the configuration, assembles the
// standalone broker, and serves it over HTTP until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/2keychains/2kc/internal/accessrequest"
	"github.com/2keychains/2kc/internal/approval"
	"github.com/2keychains/2kc/internal/audit"
	"github.com/2keychains/2kc/internal/config"
	"github.com/2keychains/2kc/internal/facade"
	"github.com/2keychains/2kc/internal/grant"
	"github.com/2keychains/2kc/internal/httpapi"
	"github.com/2keychains/2kc/internal/inject"
	"github.com/2keychains/2kc/internal/observability"
	"github.com/2keychains/2kc/internal/secretstore"
	"github.com/2keychains/2kc/internal/workflow"
)

func main() {
	logger := observability.New(os.Stderr, observability.FormatJSON, slog.LevelInfo)

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}
	if cfg.Server.AuthToken == "" {
		logger.Error("server.authToken is required to start the daemon")
		os.Exit(1)
	}

	store := secretstore.New(cfg.Store.Path)
	reqLog := accessrequest.NewLog()
	grantMgr := grant.NewManager()
	injector := inject.New(store, grantMgr)

	var channel approval.Channel
	if cfg.Discord != nil {
		channel = approval.NewDiscord(approval.DiscordConfig{
			WebhookURL: cfg.Discord.WebhookURL,
			BotToken:   cfg.Discord.BotToken,
			ChannelID:  cfg.Discord.ChannelID,
		})
		logger.Info("approval channel configured", "channel", observability.RedactAttrs(map[string]any{
			"type":       "discord",
			"channelId":  cfg.Discord.ChannelID,
			"botToken":   cfg.Discord.BotToken,
			"webhookUrl": cfg.Discord.WebhookURL,
		}))
	} else if cfg.Matrix != nil {
		m, err := approval.NewMatrix(context.Background(), approval.MatrixConfig{
			HomeserverURL: cfg.Matrix.HomeserverURL,
			UserID:        cfg.Matrix.UserID,
			AccessToken:   cfg.Matrix.AccessToken,
			RoomID:        cfg.Matrix.RoomID,
		})
		if err != nil {
			logger.Error("connecting to matrix", "err", observability.RedactValues(err.Error(), cfg.Matrix.AccessToken))
			os.Exit(1)
		}
		channel = m
		logger.Info("approval channel configured", "channel", observability.RedactAttrs(map[string]any{
			"type":          "matrix",
			"homeserverURL": cfg.Matrix.HomeserverURL,
			"userID":        cfg.Matrix.UserID,
			"roomID":        cfg.Matrix.RoomID,
			"accessToken":   cfg.Matrix.AccessToken,
		}))
	}

	policy := workflow.Policy{
		RequireApproval:        cfg.RequireApproval,
		DefaultRequireApproval: cfg.DefaultRequireApproval,
		ApprovalTimeout:        msToDuration(cfg.ApprovalTimeoutMs),
	}
	engine := workflow.New(store, channel, policy)
	fc := facade.NewStandalone(store, reqLog, engine, grantMgr, injector, os.Getpid())

	trail := audit.Open(auditPath())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := httpapi.New(addr, cfg.Server.AuthToken, fc, trail, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		logger.Error("starting server", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	server.Stop()
}

func auditPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".2kc", "audit.db")
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
