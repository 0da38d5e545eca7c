package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spamguard/internal/analytics"
	"spamguard/internal/bot"
	"spamguard/internal/config"
	"spamguard/internal/evaluator"
	"spamguard/internal/modules/audit"
	"spamguard/internal/policy"
	"spamguard/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	root := &cobra.Command{
		Use:           "spamguard",
		Short:         "Spam detection and enforcement for chat servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newMigrateCommand(), newPolicyCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and moderate messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			store.Close()
			fmt.Printf("database %s is up to date\n", store.Dialect())
			return nil
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireDiscord(); err != nil {
		return err
	}
	if err := validateDefaults(cfg.Policy); err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("storage init failed", zap.Error(err))
		return err
	}
	defer store.Close()

	policies := policy.NewStore(cfg.Policy, store, logger)
	stored, err := store.LoadPolicies(ctx)
	if err != nil {
		logger.Warn("some stored policies could not be read", zap.Error(err))
	}
	if err := policies.Load(stored); err != nil {
		logger.Warn("some stored policies were rejected", zap.Error(err))
	}
	logger.Info("policies loaded", zap.Int("guilds", len(policies.All())), zap.String("mode", cfg.Mode), zap.String("preset", cfg.RulePreset))

	auditLogger := audit.NewLogger(store, logger)
	eval := evaluator.New(policies, cfg.Evaluator, logger)

	botSvc, err := bot.New(cfg, logger, store, policies, eval, auditLogger, analytics.New(store))
	if err != nil {
		logger.Error("bot init failed", zap.Error(err))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return botSvc.Run(gctx)
	})
	g.Go(func() error {
		return eval.Run(gctx)
	})
	g.Go(func() error {
		return cleanupLoop(gctx, store, cfg.RetentionDays, logger)
	})
	if cfg.Health.Enabled {
		g.Go(func() error {
			return serveHealth(gctx, cfg.Health.Addr, store, logger)
		})
	}

	logger.Info("spamguard started")
	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store, nil
}

// cleanupLoop trims the audit trail once an hour.
func cleanupLoop(ctx context.Context, store *storage.Store, retentionDays int, logger *zap.Logger) error {
	if retentionDays <= 0 {
		return nil
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		removed, err := store.CleanupAuditLogs(ctx, retentionDays)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("audit cleanup failed", zap.Error(err))
		case removed > 0:
			logger.Info("audit cleanup", zap.Int64("removed", removed))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func serveHealth(ctx context.Context, addr string, store *storage.Store, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("health endpoint enabled", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
