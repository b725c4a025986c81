package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lurkbot/internal/agent"
	"lurkbot/internal/bus"
	"lurkbot/internal/channel"
	"lurkbot/internal/command"
	"lurkbot/internal/config"
	"lurkbot/internal/guild"
	"lurkbot/internal/logging"
	"lurkbot/internal/metrics"
	"lurkbot/internal/provider"
	"lurkbot/internal/store"
)

const shutdownTimeout = 90 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start replying",
		Long:  "Connects to the Discord gateway, loads server settings and runs the reply pipeline. Press Ctrl+C to stop.",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Discord.Token == "" {
		return errors.New("discord token missing: set DISCORD_BOT_TOKEN or discord.token")
	}

	log, closer, err := logging.New(logging.Options{
		Level:  cfg.General.LogLevel,
		Format: cfg.General.LogFormat,
		File:   cfg.General.LogFile,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Server settings
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	servers := guild.NewCache(db, logger)
	if err := servers.LoadAll(ctx); err != nil {
		return err
	}

	// Model
	prov, err := provider.NewFactory(cfg, logger).Primary()
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	pool := agent.NewPool(cfg.AI.Workers, logger)
	defer pool.Close()

	// Gateway
	messageBus := bus.New(100, logger)
	discord, err := channel.NewDiscord(channel.DiscordConfig{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	discord.SetCommandHandler(command.NewHandler(command.HandlerConfig{
		Settings:    servers,
		Webhooks:    discord,
		WebhookName: cfg.Dispatch.WebhookName,
		Logger:      logger,
	}))
	if err := discord.Open(messageBus); err != nil {
		return err
	}

	loop := agent.NewLoop(agent.LoopConfig{
		Bus:      messageBus,
		Platform: discord,
		Servers:  servers,
		Decider: agent.NewDecider(agent.DeciderConfig{
			BotUserID: discord.BotUserID(),
			Resolver:  discord,
			Chance:    cfg.Reply.Chance,
			Logger:    logger,
		}),
		Responder: agent.NewResponder(agent.ResponderConfig{
			Provider:           prov,
			Pool:               pool,
			SystemPrompt:       cfg.AI.SystemPrompt,
			DefaultPersonality: cfg.AI.DefaultPersonality,
			MaxTokens:          cfg.AI.MaxTokens,
			Temperature:        cfg.AI.Temperature,
			Timeout:            time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
			Logger:             logger,
		}),
		Dispatcher: agent.NewDispatcher(agent.DispatcherConfig{
			Platform:          discord,
			RetryBackoff:      time.Duration(cfg.Dispatch.RetryBackoffMs) * time.Millisecond,
			FallbackToChannel: cfg.Dispatch.FallbackToChannel,
			Logger:            logger,
		}),
		Context: agent.ContextOptions{
			Limit:        cfg.Reply.ContextMessages,
			ExcludeBots:  cfg.Reply.ExcludeBots,
			IncludeMedia: cfg.Reply.IncludeMedia,
		},
		StripLabels: cfg.Reply.StripLabels,
		Logger:      logger,
	})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	var statusSrv *metrics.Server
	if cfg.Metrics.Enabled {
		statusSrv = metrics.NewServer(metrics.ServerConfig{
			Addr: cfg.Metrics.Addr,
			Status: func() metrics.Status {
				st := pool.Stats()
				return metrics.Status{
					Provider:    prov.Name(),
					Servers:     servers.Len(),
					PoolWorkers: st.Workers,
					PoolActive:  st.Active,
					PoolQueued:  st.Queued,
					Gateway:     discord.Connected(),
				}
			},
			Logger: logger,
		})
		if err := statusSrv.Start(); err != nil {
			logger.Error("metrics server disabled", "err", err)
			statusSrv = nil
		}
	}

	logger.Info("lurkbot running. Press Ctrl+C to stop.", "servers", servers.Len(), "version", version)
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := discord.Close(); err != nil {
			logger.Warn("discord close failed", "err", err)
		}
		messageBus.Close()
		<-loopDone
		loop.Wait()
		if statusSrv != nil {
			if err := statusSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", "err", err)
			}
		}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	dsn := cfg.Store.Path
	if cfg.Store.Driver != "sqlite" {
		dsn = cfg.Store.DSN
	}
	db, err := store.Open(ctx, cfg.Store.Driver, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return db, nil
}
