package main

import (
	"context"
	"database/sql"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rebekaee1/mgp-v2/internal/agent"
	appconfig "github.com/rebekaee1/mgp-v2/internal/config"
	"github.com/rebekaee1/mgp-v2/internal/store"
	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
	"github.com/rebekaee1/mgp-v2/pkg/database"
	"github.com/rebekaee1/mgp-v2/pkg/llm"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
	"github.com/rebekaee1/mgp-v2/pkg/redis"
)

var _ agent.Inventory = (*tourvisor.Client)(nil)

// app holds the wired core shared by the serve and chat commands.
type app struct {
	cfg     appconfig.Config
	service *agent.Service
	db      *sql.DB
	redis   goredis.UniversalClient
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// buildApp connects the optional backends and wires the agent. Postgres and
// Redis are optional: without them the service runs with no persistence and
// no rate limiting.
func buildApp(ctx context.Context, cfg appconfig.Config, logger logging.Logger, persist bool) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	var tvOpts []tourvisor.Option
	if cfg.RedisURL != "" {
		client, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable - rate limiting and shared dictionary cache disabled")
		} else {
			a.redis = client
			a.closers = append(a.closers, client.Close)
			tvOpts = append(tvOpts, tourvisor.WithRedis(client))
		}
	}

	var recorder agent.Recorder
	if persist && cfg.DatabaseURL != "" {
		dbConfig := database.ConfigFromEnv()
		dbConfig.URL = cfg.DatabaseURL
		db, err := database.Open(ctx, dbConfig, logger)
		if err != nil {
			logger.WithError(err).Warn("Database unavailable - conversation analytics disabled")
		} else {
			a.db = db
			a.closers = append(a.closers, db.Close)
			st := store.New(db, cfg.LLM.Provider, cfg.LLM.Model, logger)
			if cfg.AutoMigrate {
				if err := st.Migrate(ctx); err != nil {
					a.Close()
					return nil, fmt.Errorf("migrate: %w", err)
				}
			}
			recorder = st
		}
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, err
	}
	prompt, err := cfg.SystemPrompt(agent.SystemPrompt)
	if err != nil {
		a.Close()
		return nil, err
	}

	inventory := tourvisor.NewClient(cfg.Tourvisor, logger, tvOpts...)
	orchestrator := agent.NewOrchestrator(agent.OrchestratorConfig{
		Provider:      provider,
		Dispatcher:    agent.NewDispatcher(inventory, logger),
		Logger:        logger,
		SystemPrompt:  prompt,
		MaxIterations: cfg.MaxIterations,
	})
	a.service = agent.NewService(agent.ServiceConfig{
		Orchestrator: orchestrator,
		Logger:       logger,
		Recorder:     recorder,
		SessionTTL:   cfg.SessionTTL,
	})

	logger.WithFields(logging.Fields{
		"llm_provider": cfg.LLM.Provider,
		"model":        cfg.LLM.Model,
		"native_tools": cfg.LLM.NativeTools(),
		"persistence":  recorder != nil,
		"redis":        a.redis != nil,
	}).Info("Agent wired")
	return a, nil
}
