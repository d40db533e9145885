package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"financeflow-bot/bot"
	"financeflow-bot/config"
	"financeflow-bot/ingest"
	"financeflow-bot/parser"
	"financeflow-bot/server"
	"financeflow-bot/store"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}

	health := store.NewHealth(st, cfg.Supervision.StoreCooldown, logger)
	p := parser.New(cfg.Categories.All())
	pipeline := ingest.New(st, st, health, p, logger)

	b := bot.New(cfg.BotToken, pipeline, bot.Options{
		InitTimeout:      cfg.Supervision.InitTimeout,
		ProbeTimeout:     cfg.Supervision.ProbeTimeout,
		LivenessCooldown: cfg.Supervision.LivenessCooldown,
		InitCooldown:     cfg.Supervision.InitCooldown,
		JitterMax:        cfg.Supervision.CheckJitterMax,
	}, logger)

	// Eager startup: a failure here is not fatal, the liveness timer
	// keeps retrying.
	initCtx, cancel := context.WithTimeout(context.Background(), cfg.Supervision.InitTimeout)
	if _, err := b.Manager.Acquire(initCtx); err != nil {
		logger.Error().Err(err).Msg("initial bot startup failed")
	}
	cancel()

	// Scheduler: both timers fire every minute; cooldown logic inside the
	// checks decides whether anything actually runs.
	c := cron.New()
	c.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Supervision.InitTimeout)
		defer cancel()
		b.Manager.CheckLiveness(ctx)
	})
	c.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Supervision.ProbeTimeout)
		defer cancel()
		health.Verify(ctx)
	})
	c.Start()

	srv := server.New(b.Manager, st, st, health, cfg.Supervision.InitTimeout, logger)
	go func() {
		if err := srv.Router().Run(cfg.ListenAddr); err != nil {
			logger.Fatal().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("listen", cfg.ListenAddr).Msg("FinanceFlow bot started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down")
	c.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Manager.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
