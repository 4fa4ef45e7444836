package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/vehicle-rentals/internal/adapters/mongo"
	"github.com/robertarktes/vehicle-rentals/internal/adapters/rabbit"
	"github.com/robertarktes/vehicle-rentals/internal/audit"
	"github.com/robertarktes/vehicle-rentals/internal/config"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "rentals-audit-consumer")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	auditLog := mongoadapter.NewAuditLogger(mongoClient.Database("rentals"), logger)

	idxCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := auditLog.EnsureIndexes(idxCtx); err != nil {
		log.Fatalf("failed to create indexes: %v", err)
	}
	cancel()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, "rentals.audit.q", "booking.#")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	logger.Info("Audit consumer started")
	if err := audit.NewConsumer(auditLog, logger).Run(ctx, deliveries); err != nil {
		logger.WithError(err).Error("audit consumer stopped")
	}
	logger.Info("Shutdown audit consumer")
}
