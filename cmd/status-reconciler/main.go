package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/vehicle-rentals/internal/adapters/crdb"
	"github.com/robertarktes/vehicle-rentals/internal/config"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"github.com/robertarktes/vehicle-rentals/internal/reconciler"
	"github.com/robertarktes/vehicle-rentals/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "rentals-status-reconciler")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	rec := reconciler.New(repo, logger)
	sched := scheduler.New("booking-status", rec.Run, cfg.ReconcileInterval, cfg.ReconcileInitialDelay, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsSrv := observability.NewMetricsServer(cfg.MetricsAddr)
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics listener stopped")
		}
	}()

	sched.Start(ctx)
	logger.WithFields(map[string]interface{}{
		"interval":      cfg.ReconcileInterval.String(),
		"initial_delay": cfg.ReconcileInitialDelay.String(),
	}).Info("status reconciler started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown status reconciler")
	sched.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("metrics listener shutdown")
	}
}
