package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/shipit/internal/adapter/driven/github"
	shelladapter "github.com/ericfisherdev/shipit/internal/adapter/driven/shell"
	sqliteadapter "github.com/ericfisherdev/shipit/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/shipit/internal/application"
	"github.com/ericfisherdev/shipit/internal/config"
	"github.com/ericfisherdev/shipit/internal/domain/port/driven"
	"github.com/ericfisherdev/shipit/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing inputs).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(os.Stdout, cfg.InActions, cfg.Debug)
	slog.SetDefault(logger)
	logger.Debug("config loaded",
		"repository", cfg.GitHubRepository,
		"event", cfg.EventName,
		"production", cfg.ProductionEnvironment,
		"pre_production", cfg.PreProductionEnvironment,
		"journal", cfg.JournalEnabled(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM). The runner sends
	// SIGINT when a job is cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Decode the triggering event.
	payload, err := os.ReadFile(cfg.EventPath)
	if err != nil {
		return fmt.Errorf("read event payload: %w", err)
	}
	event, err := githubadapter.DecodeEvent(cfg.EventName, payload)
	if err != nil {
		return err
	}
	if event.Actor == "" {
		event.Actor = cfg.Actor
	}

	// 4. Wire adapters.
	ghClient, err := githubadapter.NewClient(cfg.GitHubToken, cfg.GitHubRepository, cfg.GitHubAPIURL)
	if err != nil {
		return err
	}

	executor := shelladapter.NewExecutor(cfg.WorkDir, os.Stdout, os.Stderr, logger)

	var runs driven.RunStore
	if cfg.JournalEnabled() {
		db, err := sqliteadapter.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		runs = sqliteadapter.NewRunRepo(db)
		logger.Debug("run journal opened", "path", cfg.DBPath)
	}

	// 5. Handle the event.
	engine := application.NewEngine(application.PipelineConfig{
		ProductionEnvironment:    cfg.ProductionEnvironment,
		PreProductionEnvironment: cfg.PreProductionEnvironment,
		MainBranch:               cfg.MainBranch,
		SetupCommand:             cfg.SetupCommand,
		ReleaseCommand:           cfg.ReleaseCommand,
		DeployCommand:            cfg.DeployCommand,
		VerifyCommand:            cfg.VerifyCommand,
		ComponentName:            cfg.ComponentName,
		RunURL:                   cfg.RunURL,
		PollInterval:             cfg.PollInterval,
	}, ghClient, executor, runs, logger)

	if err := engine.Handle(ctx, event); err != nil {
		return fmt.Errorf("handling %s event: %w", event.Kind, err)
	}

	return nil
}
