package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/guardian/internal/adaptation"
	"github.com/fentz26/guardian/internal/audit"
	"github.com/fentz26/guardian/internal/auth"
	"github.com/fentz26/guardian/internal/cleanup"
	"github.com/fentz26/guardian/internal/config"
	"github.com/fentz26/guardian/internal/controlplane"
	"github.com/fentz26/guardian/internal/guardian"
	"github.com/fentz26/guardian/internal/health"
	"github.com/fentz26/guardian/internal/integrity"
	"github.com/fentz26/guardian/internal/logging"
	"github.com/fentz26/guardian/internal/store"
)

var (
	configPath string
	listenAddr string
	dbPath     string
	dataDir    string
	roots      []string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the Guardian daemon",
	Long: `Starts the Guardian daemon: the health watchdog, scheduled integrity and
cleanup scans, and the HTTP API for the decision authority.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for database, manifest and backups (overrides config)")
	daemonCmd.Flags().StringSliceVar(&roots, "root", nil, "Directory to guard (repeatable, overrides config)")
}

// loadConfig layers file, .env, environment and flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.SetDataDir(dataDir)
	}
	if flags.Changed("listen") {
		cfg.Listen = listenAddr
	}
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("root") {
		cfg.Guardian.Roots = roots
	}
	return cfg, cfg.Validate()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("starting guardian daemon", zap.String("data_dir", cfg.DataDir))

	// Initialize store
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing database connection")
		if err := s.Close(); err != nil {
			logger.Error("database close error", zap.Error(err))
		}
	}()
	pdr := audit.NewPDRWriter(s)

	// Initialize subsystems
	monitor := health.New(cfg.Health, health.WithLogger(logger))
	checker := integrity.New(cfg.Integrity, integrity.WithLogger(logger))
	cleaner, err := cleanup.New(cfg.Cleanup, cleanup.WithLogger(logger))
	if err != nil {
		return err
	}
	engine, err := adaptation.New(cfg.Adaptation,
		adaptation.WithLogger(logger),
		adaptation.WithRecorder(pdr),
		adaptation.WithStore(adaptation.NewFileStore(filepath.Join(cfg.DataDir, "proposals"))),
	)
	if err != nil {
		return err
	}

	g, err := guardian.New(cfg.Guardian, guardian.Deps{
		Health:     monitor,
		Integrity:  checker,
		Cleanup:    cleaner,
		Adaptation: engine,
	},
		guardian.WithLogger(logger),
		guardian.WithThreatStore(s),
		guardian.WithRecorder(pdr),
	)
	if err != nil {
		return err
	}
	if n, err := g.LoadManifest(); err != nil {
		logger.Warn("failed to load manifest", zap.Error(err))
	} else if n > 0 {
		logger.Info("manifest loaded", zap.Int("files", n))
	}

	var issuer *auth.Issuer
	if cfg.Auth.Secret != "" {
		if issuer, err = auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL); err != nil {
			return err
		}
	} else {
		logger.Warn("no auth secret configured; approvers are taken from request bodies")
	}

	server, err := controlplane.NewServer(controlplane.Deps{
		Guardian:   g,
		Health:     monitor,
		Integrity:  checker,
		Adaptation: engine,
		Store:      s,
	}, controlplane.Options{
		Addr:           cfg.Listen,
		Issuer:         issuer,
		HeartbeatRPS:   cfg.RateLimit.HeartbeatRPS,
		HeartbeatBurst: cfg.RateLimit.HeartbeatBurst,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := g.Start(ctx); err != nil {
		return err
	}
	defer g.Stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(server.Start)
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
