package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("booking_audit"),
		logger: logger,
	}
}

// AuditLog is one booking event as stored. ID is the message id, so a
// redelivered message maps onto the same document.
type AuditLog struct {
	ID         string    `bson:"_id"`
	Action     string    `bson:"action"`
	BookingID  int64     `bson:"booking_id"`
	VehicleID  int64     `bson:"vehicle_id"`
	RenterID   int64     `bson:"renter_id"`
	From       string    `bson:"from,omitempty"`
	To         string    `bson:"to"`
	OccurredAt time.Time `bson:"occurred_at"`
	ReceivedAt time.Time `bson:"received_at"`
}

func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "booking_id", Value: 1}, {Key: "occurred_at", Value: 1}},
	})
	return errors.Wrap(err, "create audit index")
}

// LogBookingEvent stores ev. Duplicates of an already stored message are
// ignored.
func (a *AuditLogger) LogBookingEvent(ctx context.Context, messageID, action string, ev domain.BookingEvent) error {
	log := AuditLog{
		ID:         messageID,
		Action:     action,
		BookingID:  ev.BookingID,
		VehicleID:  ev.VehicleID,
		RenterID:   ev.RenterID,
		From:       string(ev.From),
		To:         string(ev.To),
		OccurredAt: ev.At,
		ReceivedAt: time.Now().UTC(),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		a.logger.WithField("message_id", messageID).Debug("duplicate audit event ignored")
		return nil
	}
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

// BookingHistory returns the stored events of one booking in occurrence order.
func (a *AuditLogger) BookingHistory(ctx context.Context, bookingID int64) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"booking_id": bookingID}, options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return logs, nil
}
