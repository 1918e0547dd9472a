package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	apiPkg "github.com/totalracingleague26/Dave-bot/internal/api"
	"github.com/totalracingleague26/Dave-bot/internal/archive"
	"github.com/totalracingleague26/Dave-bot/internal/assistant"
	"github.com/totalracingleague26/Dave-bot/internal/audit"
	"github.com/totalracingleague26/Dave-bot/internal/config"
	"github.com/totalracingleague26/Dave-bot/internal/connector"
	discordconn "github.com/totalracingleague26/Dave-bot/internal/connector/discord"
	slackconn "github.com/totalracingleague26/Dave-bot/internal/connector/slack"
	"github.com/totalracingleague26/Dave-bot/internal/connector/webhook"
	"github.com/totalracingleague26/Dave-bot/internal/lifecycle"
	"github.com/totalracingleague26/Dave-bot/internal/logbuf"
	"github.com/totalracingleague26/Dave-bot/internal/metrics"
	"github.com/totalracingleague26/Dave-bot/internal/provider"
	"github.com/totalracingleague26/Dave-bot/internal/rules"
	"github.com/totalracingleague26/Dave-bot/internal/scheduler"
	"github.com/totalracingleague26/Dave-bot/internal/summary"
)

func main() {
	configPath := flag.String("config", os.Getenv("DAVE_CONFIG"), "Path to config file (JSON or YAML)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("daved starting", "bot", cfg.Bot.Name, "league", cfg.Bot.League)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Rulebook
	rulebook := rules.NewSource(cfg.Bot.RulesFile, cfg.Bot.RulesURL, logger)
	if err := rulebook.Load(ctx); err != nil {
		logger.Warn("rulebook not loaded, continuing without rules", "error", err)
	}

	// 2. AI provider + assistant
	pcfg := cfg.Providers["default"]
	prov, err := provider.New(provider.Settings{
		Type:    pcfg.Type,
		APIKey:  pcfg.APIKey,
		BaseURL: pcfg.BaseURL,
		Model:   pcfg.Model,
	})
	if err != nil {
		logger.Error("failed to init provider", "error", err)
		os.Exit(1)
	}
	logger.Info("provider initialized", "type", prov.Name(), "model", pcfg.Model)

	ai := assistant.New(prov, rulebook, assistant.Persona{Name: cfg.Bot.Name, League: cfg.Bot.League}, logger)
	summaries := summary.New(ai, cfg.Bot.Name, logger)

	// 3. Archive
	if err := os.MkdirAll(cfg.Bot.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "path", cfg.Bot.DataDir, "error", err)
		os.Exit(1)
	}
	dbPath := filepath.Join(cfg.Bot.DataDir, "archive.db")
	store, err := archive.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Error("failed to open archive", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// 4. Chat connector
	conn, err := newConnector(cfg, logger)
	if err != nil {
		logger.Error("failed to init connector", "error", err)
		os.Exit(1)
	}

	// 5. Audit sinks
	sinks := []audit.Sink{&audit.ArchiveSink{Store: store}}
	if id := cfg.LogChannelID(); id != "" {
		sinks = append(sinks, &audit.ChannelSink{Platform: conn, ChannelID: id})
	}
	if cfg.Telegram != nil {
		tg, err := audit.NewTelegramSink(cfg.Telegram.Token, strconv.FormatInt(cfg.Telegram.LogChatID, 10), logger)
		if err != nil {
			logger.Error("failed to init telegram audit sink", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, tg)
	}

	// 6. Ticket lifecycle
	m := metrics.New()
	lcfg, err := lifecycleConfig(cfg, conn)
	if err != nil {
		logger.Error("invalid lifecycle settings", "error", err)
		os.Exit(1)
	}
	lcfg.Assistant = ai
	lcfg.Summary = summaries
	lcfg.Audit = audit.NewMulti(logger, sinks...)
	lcfg.Metrics = m
	svc := lifecycle.New(lcfg, logger)
	conn.SetHandler(svc)

	go safeGo(logger, conn.Name(), func() {
		if err := conn.Start(ctx); err != nil {
			logger.Error("connector stopped", "connector", conn.Name(), "error", err)
		}
	})
	logger.Info("connector started", "connector", conn.Name())

	// 7. Scheduled jobs
	sched := scheduler.New(logger)
	if err := sched.Add("countdown", cfg.Bot.CountdownSchedule, func(ctx context.Context) {
		n := svc.RefreshCountdowns(ctx)
		logger.Debug("countdowns refreshed", "tickets", n)
	}); err != nil {
		logger.Error("failed to schedule countdown refresh", "error", err)
		os.Exit(1)
	}
	if cfg.Bot.RulesRefresh != "" {
		if err := sched.Add("rules", cfg.Bot.RulesRefresh, func(ctx context.Context) {
			if err := rulebook.Load(ctx); err != nil {
				logger.Warn("rulebook refresh failed", "error", err)
			}
		}); err != nil {
			logger.Error("failed to schedule rules refresh", "error", err)
			os.Exit(1)
		}
	}
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// 8. API server
	opts := []apiPkg.Option{
		apiPkg.WithLogs(logBuf),
		apiPkg.WithArchive(store),
		apiPkg.WithMetrics(m.Handler()),
	}
	if len(cfg.Webhook.Endpoints) > 0 {
		hooks := webhook.Config{Endpoints: make(map[string]webhook.EndpointConfig, len(cfg.Webhook.Endpoints))}
		for name, ep := range cfg.Webhook.Endpoints {
			hooks.Endpoints[name] = webhook.EndpointConfig{Secret: ep.Secret, BearerToken: ep.BearerToken}
		}
		opts = append(opts, apiPkg.WithWebhook(webhook.New(hooks, svc, logger)))
	}
	apiSrv := apiPkg.NewServer(svc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger, opts...)

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 9. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	if err := conn.Stop(); err != nil {
		logger.Warn("connector stop", "error", err)
	}
	logger.Info("daved stopped")
}

// newConnector builds the chat platform connector selected by cfg.
func newConnector(cfg *config.Config, logger *slog.Logger) (connector.Connector, error) {
	switch {
	case cfg.Discord != nil:
		c, err := discordconn.New(discordconn.Config{
			Token:          cfg.Discord.Token,
			GuildID:        cfg.Discord.GuildID,
			CategoryID:     cfg.Discord.CategoryID,
			StaffRoleID:    cfg.Discord.StaffRoleID,
			PanelChannelID: cfg.Discord.PanelChannelID,
		}, logger.With("connector", "discord"))
		if err != nil {
			return nil, err
		}
		return c, nil
	case cfg.Slack != nil:
		c, err := slackconn.New(slackconn.Config{
			BotToken:     cfg.Slack.BotToken,
			AppToken:     cfg.Slack.AppToken,
			StaffGroupID: cfg.Slack.StaffGroupID,
		}, logger.With("connector", "slack"))
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("no chat platform configured")
	}
}

// lifecycleConfig maps the bot settings onto the lifecycle service.
func lifecycleConfig(cfg *config.Config, platform connector.Platform) (lifecycle.Config, error) {
	autoClose, err := cfg.Bot.AutoCloseDuration()
	if err != nil {
		return lifecycle.Config{}, err
	}
	return lifecycle.Config{
		Platform:     platform,
		AutoClose:    autoClose,
		HistoryLimit: cfg.Bot.HistoryLimit,
		BotName:      cfg.Bot.Name,
	}, nil
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
