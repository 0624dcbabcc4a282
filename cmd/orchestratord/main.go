// Package main is the orchestrator daemon entry point: it loads
// configuration, wires the engine and its transport surfaces, and runs
// until an operator signals shutdown.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/config"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/engine"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/security"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/server"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/store"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)
	logger.WithField("environment", cfg.Env).Info("starting orchestrator daemon")

	st, err := store.NewLocalFileStore(cfg.StoreDir)
	if err != nil {
		logger.WithError(err).Fatal("failed to open persistence store")
	}

	eng := engine.New(engine.Config{
		DispatchInterval:     cfg.DispatchInterval,
		TimeoutCheckInterval: cfg.TimeoutCheckInterval,
		PersistInterval:      cfg.PersistInterval,
		DefaultJobTimeout:    cfg.DefaultJobTimeout,
		DedupWindow:          cfg.DedupWindow,
		MaxRetries:           cfg.MaxRetries,
		TokenTTL:             cfg.TokenTTL,
		RateLimit: security.RateLimitConfig{
			Window:   cfg.RateLimitWindow,
			Capacity: cfg.RateLimitCapacity,
			Burst:    cfg.RateLimitBurst,
		},
		Logger: logger,
	}, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start engine")
	}

	if cfg.MetricsEnabled {
		go sampleHostResources(ctx, eng, logger)
	}

	wsServer, admin, err := eng.StartServer(ctx, cfg.RobotListenAddr, cfg.AdminListenAddr)
	if err != nil {
		logger.WithError(err).Fatal("failed to start orchestrator servers")
	}

	if cfg.AdminJWTSecret != "" {
		admin.UseMiddleware(server.JWTAuthMiddleware(cfg.AdminJWTSecret, logger))
		bootstrapToken, err := server.IssueAdminToken(cfg.AdminJWTSecret, "bootstrap", 24*time.Hour)
		if err != nil {
			logger.WithError(err).Warn("failed to mint bootstrap admin token")
		} else {
			logger.WithField("bootstrap_admin_token", bootstrapToken).Info("admin API requires this bearer token until an operator token is issued")
		}
	} else {
		logger.Warn("admin API is running without authentication")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, draining orchestrator")
	cancel()
	eng.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("admin server shutdown error")
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("robot websocket server shutdown error")
	}

	logger.Info("orchestrator daemon stopped")
}

// newLogger configures logrus per the loaded configuration's level and
// output format.
func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}

// sampleHostResources periodically reports the daemon's own host CPU and
// memory utilization, distinct from the per-robot telemetry robots report
// over their own sessions.
func sampleHostResources(ctx context.Context, eng *engine.Engine, logger logrus.FieldLogger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(percents) == 0 {
				logger.WithError(err).Debug("failed to sample host cpu usage")
				continue
			}
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				logger.WithError(err).Debug("failed to sample host memory usage")
				continue
			}
			eng.Metrics.SetHostResourceUsage(percents[0], vm.UsedPercent)
		}
	}
}
