package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/dompet/internal/agent"
	"github.com/Veraticus/dompet/internal/config"
	"github.com/Veraticus/dompet/internal/llm"
	"github.com/Veraticus/dompet/internal/memory"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/service"
	"github.com/Veraticus/dompet/internal/storage"
)

// openStore opens the ledger and brings its schema up to date.
func openStore(ctx context.Context, cfg config.DatabaseConfig, migrate bool) (*storage.Store, error) {
	store, err := storage.Open(cfg.Driver, cfg.DSN, cfg.QueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return store, nil
}

// openMemory builds the configured session memory backend.
func openMemory(ctx context.Context, cfg config.MemoryConfig) (service.SessionMemory, func(), error) {
	switch cfg.Backend {
	case config.MemoryBackendRedis:
		store, err := memory.NewRedisStore(ctx, memory.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store := memory.NewMemoryStore(cfg.TTL)
		return store, store.Stop, nil
	}
}

// newRunner wires the oracle and the turn runner over store and mem.
func newRunner(ctx context.Context, cfg config.Config, store *storage.Store, mem service.SessionMemory) (*agent.Runner, func(), error) {
	oracle, err := llm.New(ctx, llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIVersion:  cfg.LLM.APIVersion,
		MaxRetries:  cfg.LLM.MaxRetries,
		RetryDelay:  cfg.LLM.RetryDelay,
		Timeout:     cfg.LLM.Timeout,
		RateLimit:   cfg.LLM.RateLimit,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create oracle: %w", err)
	}

	runner, err := agent.NewRunner(agent.Deps{
		Oracle:      oracle,
		Ledger:      store,
		Transcripts: store,
		Memory:      mem,
		Logger:      slog.Default(),
	}, agent.Config{
		AppName:         cfg.Agent.AppName,
		Currency:        cfg.Agent.Currency,
		UTCOffsetHours:  cfg.Agent.UTCOffsetHours,
		MaxSteps:        cfg.Agent.MaxSteps,
		SearchLimit:     cfg.Agent.SearchLimit,
		AmountTolerance: cfg.Agent.AmountTolerance,
		WriteTimeout:    cfg.Database.QueryTimeout * 2,
	})
	if err != nil {
		oracle.Close()
		return nil, nil, err
	}
	return runner, oracle.Close, nil
}

// tenantFlag reads the required --tenant flag.
func tenantFlag(cmd *cobra.Command) (model.Scope, error) {
	tenant, _ := cmd.Flags().GetInt64("tenant")
	scope := model.TenantScope(tenant)
	if err := scope.Validate(); err != nil {
		return model.Scope{}, fmt.Errorf("%w (use --tenant)", err)
	}
	return scope, nil
}

func addTenantFlag(cmd *cobra.Command) {
	cmd.Flags().Int64("tenant", 0, "tenant (user) id owning the data")
	_ = cmd.MarkFlagRequired("tenant")
}
