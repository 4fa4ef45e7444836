package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/vehicle-rentals/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/vehicle-rentals/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/vehicle-rentals/internal/adapters/redis"
	"github.com/robertarktes/vehicle-rentals/internal/analytics"
	"github.com/robertarktes/vehicle-rentals/internal/config"
	httphandler "github.com/robertarktes/vehicle-rentals/internal/http"
	"github.com/robertarktes/vehicle-rentals/internal/idempotency"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"github.com/robertarktes/vehicle-rentals/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "rentals-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger().WithField("component", "api")
	observability.InitMetrics()

	if cfg.MigrateOnBoot {
		if err := crdb.Migrate(cfg.CRDBDSN); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		logger.Info("schema migrated")
	}

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	crdbRepo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	auditLog := mongoadapter.NewAuditLogger(mongoClient.Database("rentals"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	engine := analytics.NewEngine(crdbRepo, logger)
	handlers := httphandler.NewHandlers(crdbRepo, idemp, engine, auditLog)

	r := httphandler.SetupRouter(handlers, logger, rl, httphandler.RouterConfig{
		JWTSecret:     cfg.JWTSecret,
		UserRateLimit: 60,
		IPRateLimit:   600,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	logger.Info("Server exiting")
}
