package audit

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
)

// ErrMalformed marks a message that can never be processed.
var ErrMalformed = errors.New("malformed booking event")

type Sink interface {
	LogBookingEvent(ctx context.Context, messageID, action string, ev domain.BookingEvent) error
}

type Consumer struct {
	sink   Sink
	logger observability.Logger
}

func NewConsumer(sink Sink, logger observability.Logger) *Consumer {
	return &Consumer{sink: sink, logger: logger.WithField("component", "audit-consumer")}
}

// Handle stores one delivery. Messages without an id get a fresh one.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) error {
	var ev domain.BookingEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return errors.Wrapf(ErrMalformed, "decode booking event: %v", err)
	}
	if ev.BookingID == 0 || !ev.To.Valid() {
		return errors.Wrapf(ErrMalformed, "routing key %s", d.RoutingKey)
	}
	id := d.MessageId
	if id == "" {
		id = uuid.NewString()
	}
	return c.sink.LogBookingEvent(ctx, id, d.RoutingKey, ev)
}

// Run consumes deliveries until ctx is done or the channel closes. Malformed
// messages are dropped; sink failures are requeued.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			err := c.Handle(ctx, d)
			switch {
			case err == nil:
				d.Ack(false)
			case errors.Is(err, ErrMalformed):
				c.logger.WithError(err).Warn("dropping malformed message")
				d.Nack(false, false)
			default:
				c.logger.WithError(err).Error("failed to store audit event")
				d.Nack(false, true)
			}
		}
	}
}
