package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/vehicle-rentals/internal/adapters/crdb"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetUnpublishedOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

const maxAttempts = 3

// Publisher relays outbox records to the broker. A batch is claimed and
// marked inside one transaction. Delivery is at-least-once; consumers dedupe
// on MessageId.
type Publisher struct {
	repo      Store
	rabbitPub Broker
	logger    observability.Logger
	batch     int
	backoff   time.Duration
	now       func() time.Time
}

type Option func(*Publisher)

func WithBackoff(d time.Duration) Option {
	return func(p *Publisher) { p.backoff = d }
}

func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) { p.now = clock }
}

func NewPublisher(repo Store, rabbitPub Broker, logger observability.Logger, batch int, opts ...Option) *Publisher {
	p := &Publisher{
		repo:      repo,
		rabbitPub: rabbitPub,
		logger:    logger.WithField("component", "outbox-publisher"),
		batch:     batch,
		backoff:   200 * time.Millisecond,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run publishes one batch. It has the scheduler task signature.
func (p *Publisher) Run(ctx context.Context) error {
	n, err := p.PublishBatch(ctx)
	if n > 0 {
		p.logger.WithField("published", n).Info("outbox batch published")
	}
	return err
}

// PublishBatch publishes up to batch records. Records published before a
// broker failure are still marked; the rest stay NEW for the next run.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	var published int
	err := p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		published = 0
		records, err := p.repo.GetUnpublishedOutbox(ctx, tx, p.batch)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			observability.OutboxLag.Set(0)
			return nil
		}
		observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:    rec.DedupeKey,
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    rec.CreatedAt,
				Type:         rec.EventType,
				Body:         rec.Payload,
			}
			if err := p.publishWithRetry(ctx, rec.EventType, msg); err != nil {
				p.logger.WithError(err).WithField("outbox_id", rec.ID.String()).Error("failed to publish outbox record")
				break
			}
			if err := p.repo.MarkPublished(ctx, tx, rec.ID, p.now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "publish outbox batch")
	}
	return published, nil
}

func (p *Publisher) publishWithRetry(ctx context.Context, key string, msg amqp.Publishing) error {
	var err error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff * time.Duration(1<<(i-1))):
			}
		}
		if err = p.rabbitPub.Publish(ctx, key, msg); err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "publish %s after %d attempts", key, maxAttempts)
}
