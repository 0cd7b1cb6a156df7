package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/dompet/internal/api"
	"github.com/Veraticus/dompet/internal/model"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the transaction CRUD endpoints and the conversational agent
(POST /agent/run, optionally streamed as server-sent events).

The database is migrated on startup.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (default :8000)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStore(ctx, cfg.Database, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	mem, closeMem, err := openMemory(ctx, cfg.Memory)
	if err != nil {
		return err
	}
	defer closeMem()

	runner, closeOracle, err := newRunner(ctx, cfg, store, mem)
	if err != nil {
		return err
	}
	defer closeOracle()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := api.New(api.Deps{
		Ledger:      store,
		Transcripts: store,
		Runner:      runner,
		Health:      store,
		Logger:      slog.Default(),
		Today: func() model.Date {
			return model.Today(cfg.Agent.UTCOffsetHours)
		},
	}, api.Options{AllowedOrigins: cfg.Server.AllowedOrigins})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening",
			"addr", cfg.Server.Addr,
			"driver", cfg.Database.Driver,
			"llm_provider", cfg.LLM.Provider,
			"memory_backend", cfg.Memory.Backend)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
