package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN       string
	MongoURI      string
	RedisAddr     string
	RabbitURL     string
	JWTSecret     string
	HTTPAddr      string
	MetricsAddr   string
	OTLPEndpoint  string
	MigrateOnBoot bool

	ReconcileInterval     time.Duration
	ReconcileInitialDelay time.Duration
	OutboxInterval        time.Duration
	OutboxBatch           int
	IdempotencyTTL        time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		MetricsAddr:  getenv("METRICS_ADDR", ":9090"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.ReconcileInterval, err = duration("RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, errors.New("RECONCILE_INTERVAL must be positive")
	}
	if cfg.ReconcileInitialDelay, err = duration("RECONCILE_INITIAL_DELAY", 0); err != nil {
		return nil, err
	}
	if cfg.ReconcileInitialDelay < 0 {
		return nil, errors.New("RECONCILE_INITIAL_DELAY must not be negative")
	}
	if cfg.OutboxInterval, err = duration("OUTBOX_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval <= 0 {
		return nil, errors.New("OUTBOX_INTERVAL must be positive")
	}
	if cfg.IdempotencyTTL, err = duration("IDEMPOTENCY_TTL", time.Hour); err != nil {
		return nil, err
	}

	cfg.OutboxBatch = 100
	if v := os.Getenv("OUTBOX_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.Newf("invalid OUTBOX_BATCH %q", v)
		}
		cfg.OutboxBatch = n
	}

	if v := os.Getenv("MIGRATE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid MIGRATE_ON_START %q", v)
		}
		cfg.MigrateOnBoot = b
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, v)
	}
	return d, nil
}
