// 2kc is the command-line client for the local secret broker. It can run a
// request end-to-end against an in-process broker (standalone mode) or
// against a running daemon (client mode), selected by the config file.
//
// Usage:
//
//	2kc secrets list
//	2kc secrets add <ref> <value> [tags...]
//	2kc secrets remove <uuid>
//	2kc request <uuid...> --reason R --task T --env VAR --cmd "prog arg..." [--duration N]
//	2kc config init
//	2kc config show
//	2kc server start|stop|status
//	2kc server token generate
//	2kc version
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2keychains/2kc/common/version"
	"github.com/2keychains/2kc/internal/accessrequest"
	"github.com/2keychains/2kc/internal/approval"
	"github.com/2keychains/2kc/internal/audit"
	"github.com/2keychains/2kc/internal/config"
	"github.com/2keychains/2kc/internal/facade"
	"github.com/2keychains/2kc/internal/grant"
	"github.com/2keychains/2kc/internal/inject"
	"github.com/2keychains/2kc/internal/observability"
	"github.com/2keychains/2kc/internal/orchestrator"
	"github.com/2keychains/2kc/internal/secretstore"
	"github.com/2keychains/2kc/internal/workflow"
)

// logger is built once in main and shared by the subcommands in this file
// through this package-level variable.
var logger *slog.Logger

func main() {
	logger = observability.New(os.Stderr, observability.FormatText, slog.LevelInfo)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: 2kc <secrets|request|config|server|version> ...")
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "secrets":
		runSecrets(args)
	case "request":
		runRequest(args)
	case "config":
		runConfig(args)
	case "server":
		runServer(args)
	case "version":
		fmt.Println(version.Info())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(1)
	}
}

func fail(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func loadConfigOrDie() *config.Config {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fail("loading config: %v", err)
	}
	return cfg
}

// buildFacade selects the in-process or HTTP-client realization according
// to cfg.Mode, constructing every component the standalone realization
// needs along the way.
func buildFacade(cfg *config.Config) (facade.Facade, approval.Channel, error) {
	if cfg.Mode == "client" {
		baseURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		client, err := facade.NewHTTPClient(baseURL, cfg.Server.AuthToken)
		return client, nil, err
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
			return nil, nil, err
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
		ApprovalTimeout:        durationMs(cfg.ApprovalTimeoutMs),
	}
	engine := workflow.New(store, channel, policy)
	f := facade.NewStandalone(store, reqLog, engine, grantMgr, injector, os.Getpid())
	return f, channel, nil
}

func auditPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".2kc", "audit.db")
}

func runSecrets(args []string) {
	if len(args) == 0 {
		fail("usage: 2kc secrets <list|add|remove> ...")
	}
	cfg := loadConfigOrDie()
	fc, _, err := buildFacade(cfg)
	if err != nil {
		fail("initializing broker: %v", err)
	}
	ctx := context.Background()

	switch args[0] {
	case "list":
		listing, err := fc.ListSecrets(ctx)
		if err != nil {
			fail("listing secrets: %v", err)
		}
		for _, s := range listing {
			fmt.Printf("%-36s %-20s %s\n", s.UUID, s.Ref, strings.Join(s.Tags, ","))
		}
	case "add":
		fs := flag.NewFlagSet("secrets add", flag.ExitOnError)
		fs.Parse(args[1:])
		rest := fs.Args()
		if len(rest) < 2 {
			fail("usage: 2kc secrets add <ref> <value> [tags...]")
		}
		ref, value, tags := rest[0], rest[1], rest[2:]
		id, err := fc.AddSecret(ctx, ref, value, tags)
		if err != nil {
			fail("adding secret: %v", err)
		}
		fmt.Println(id)
	case "remove":
		if len(args) < 2 {
			fail("usage: 2kc secrets remove <uuid>")
		}
		if err := fc.RemoveSecret(ctx, args[1]); err != nil {
			fail("removing secret: %v", err)
		}
	default:
		fail("unknown secrets subcommand %q", args[0])
	}
}

func runRequest(args []string) {
	fs := flag.NewFlagSet("request", flag.ExitOnError)
	reason := fs.String("reason", "", "reason for the access request")
	task := fs.String("task", "", "task reference")
	envVar := fs.String("env", "", "environment variable name to inject the first secret into")
	command := fs.String("cmd", "", "command to run, as a single shell-quoted string")
	duration := fs.Int("duration", accessrequest.DefaultDurationSeconds, "grant duration in seconds")
	// flag stops at the first positional argument, so parse repeatedly to
	// accept uuids before, between, or after the flags.
	var uuids []string
	rest := args
	for {
		fs.Parse(rest)
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		uuids = append(uuids, rest[0])
		rest = rest[1:]
	}
	if len(uuids) == 0 {
		fail("usage: 2kc request <uuid...> --reason R --task T --cmd \"prog arg...\" [--env VAR] [--duration N]")
	}
	if *command == "" {
		fail("--cmd is required")
	}

	cfg := loadConfigOrDie()
	fc, channel, err := buildFacade(cfg)
	if err != nil {
		fail("initializing broker: %v", err)
	}

	var notifier orchestrator.ApprovalNotifier
	if channel != nil {
		notifier = channel
	}
	trail := audit.Open(auditPath())

	orch := orchestrator.New(fc, trail, notifier, os.Stderr)
	outcome, err := orch.Run(context.Background(), orchestrator.Request{
		SecretUUIDs: uuids,
		Reason:      *reason,
		TaskRef:     *task,
		Duration:    *duration,
		EnvVarName:  *envVar,
		Command:     strings.Fields(*command),
	})
	if outcome.Stdout != "" {
		fmt.Print(outcome.Stdout)
	}
	if outcome.Stderr != "" {
		fmt.Fprint(os.Stderr, outcome.Stderr)
	}
	if err != nil {
		logger.Error("request failed", "err", err)
	} else {
		logger.Info("request completed", "exitCode", outcome.ExitCode)
	}
	os.Exit(outcome.ExitCode)
}

func runConfig(args []string) {
	if len(args) == 0 {
		fail("usage: 2kc config <init|show>")
	}
	switch args[0] {
	case "init":
		path := config.DefaultPath()
		if err := config.Write(path, config.Default()); err != nil {
			fail("writing config: %v", err)
		}
		fmt.Println("wrote", path)
	case "show":
		cfg := loadConfigOrDie()
		for k, v := range cfg.Show() {
			fmt.Printf("%s: %v\n", k, v)
		}
	default:
		fail("unknown config subcommand %q", args[0])
	}
}

func runServer(args []string) {
	if len(args) == 0 {
		fail("usage: 2kc server <start|stop|status|token>")
	}
	switch args[0] {
	case "start":
		startDaemon()
	case "stop":
		stopDaemon()
	case "status":
		statusDaemon()
	case "token":
		if len(args) < 2 || args[1] != "generate" {
			fail("usage: 2kc server token generate")
		}
		fmt.Println(uuid.NewString())
	default:
		fail("unknown server subcommand %q", args[0])
	}
}

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
