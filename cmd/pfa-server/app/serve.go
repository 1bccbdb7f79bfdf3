package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/planvista/pfa-server/internal/api"
	"github.com/planvista/pfa-server/internal/audit"
	"github.com/planvista/pfa-server/internal/auth"
	"github.com/planvista/pfa-server/internal/config"
	"github.com/planvista/pfa-server/internal/db"
	"github.com/planvista/pfa-server/internal/draft"
	"github.com/planvista/pfa-server/internal/eligibility"
	"github.com/planvista/pfa-server/internal/service"
	"github.com/planvista/pfa-server/internal/source"
	"github.com/planvista/pfa-server/internal/store"
	pkgsync "github.com/planvista/pfa-server/internal/sync"
	"github.com/planvista/pfa-server/internal/sync/coordinator"
	"github.com/planvista/pfa-server/internal/sync/state"
	"github.com/planvista/pfa-server/internal/sync/writer"
	"github.com/planvista/pfa-server/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PFA API server",
	Long: `Start the PFA API server to serve plan/forecast/actual equipment-cost data.

The server requires a configuration file (--config) that specifies:
- Database connection parameters
- External source endpoint and credentials
- Eligibility rules and sync settings

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
	serverRequestTimeout   = 30 * time.Second // Draft commits may touch many rows
	serverReadTimeout      = 10 * time.Second // Enough for headers and small requests
	serverWriteTimeout     = 35 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second // Keep connections alive for reuse
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	address := viper.GetString("address")
	if address == "" {
		address = cfg.GetAddress()
	}
	slog.Info("Starting PFA API server", "address", address, "config", configPath)

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	meterProvider, err := telemetry.NewMeterProvider()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if err := meterProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down meter provider", "error", err)
		}
	}()

	syncMetrics, err := telemetry.NewSyncMetrics()
	if err != nil {
		return fmt.Errorf("failed to register sync metrics: %w", err)
	}

	st := store.New(pool)
	runs := state.NewService(pool)
	sink := audit.NewSink(pool)

	sourceClient := source.NewClient(&cfg.Source)
	if err := sourceClient.Validate(ctx); err != nil {
		slog.Warn("Source endpoint validation failed, syncs may not succeed", "error", err)
	}

	orchestrator := pkgsync.NewOrchestrator(pkgsync.Deps{
		Orgs:     st,
		Runs:     runs,
		Writer:   writer.New(pool),
		Filter:   eligibility.NewFilter(&cfg.Eligibility),
		Client:   sourceClient,
		Sink:     sink,
		Metrics:  syncMetrics,
		Registry: pkgsync.NewCancelRegistry(),
	}, cfg)

	drafts := draft.NewManager(pool, sink)
	pfaService := service.NewPFAService(st, drafts)

	authMw, err := auth.Middleware(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to configure authentication: %w", err)
	}

	router := api.NewServer(api.Deps{
		Orchestrator: orchestrator,
		Runs:         runs,
		PFA:          pfaService,
		Drafts:       drafts,
		Pool:         pool,
	},
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
		api.WithAuth(authMw),
	)

	// Background coordinator periodically re-syncs every eligible organization.
	var syncCoordinator coordinator.Coordinator
	if cfg.Sync.Coordinator.Enabled {
		syncCoordinator = coordinator.New(orchestrator, &cfg.Sync.Coordinator)

		coordCtx, coordCancel := context.WithCancel(context.Background())
		defer coordCancel()
		go func() {
			if err := syncCoordinator.Start(coordCtx); err != nil {
				slog.Error("Sync coordinator failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server")

	if syncCoordinator != nil {
		if err := syncCoordinator.Stop(); err != nil {
			slog.Error("Failed to stop sync coordinator", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
