package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
)

const bookingColumns = `b.id, b.vehicle_id, b.renter_id, b.start_date, b.end_date, b.total_price, b.status`

// holdingStatuses keep a vehicle reserved for their window.
var holdingStatuses = []string{
	string(domain.BookingPending),
	string(domain.BookingApproved),
	string(domain.BookingActive),
}

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var status string
	err := row.Scan(&b.ID, &b.VehicleID, &b.RenterID, &b.StartDate, &b.EndDate, &b.TotalPrice, &status)
	b.Status = domain.BookingStatus(status)
	b.StartDate = b.StartDate.UTC()
	b.EndDate = b.EndDate.UTC()
	return b, err
}

// CreateBooking inserts a pending booking unless the vehicle already holds an
// overlapping reservation, and queues a booking.created event.
func (r *Repository) CreateBooking(ctx context.Context, tx pgx.Tx, booking *domain.Booking) error {
	var overlapping int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM bookings
		WHERE vehicle_id = $1 AND status = ANY($2) AND start_date <= $4 AND end_date >= $3
	`, booking.VehicleID, holdingStatuses, booking.StartDate, booking.EndDate).Scan(&overlapping)
	if err != nil {
		return errors.Wrap(err, "check overlap")
	}
	if overlapping > 0 {
		return domain.ErrConflict
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO bookings (vehicle_id, renter_id, start_date, end_date, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, booking.VehicleID, booking.RenterID, booking.StartDate, booking.EndDate, booking.TotalPrice, string(booking.Status)).Scan(&booking.ID)
	if err != nil {
		return errors.Wrap(translate(err), "insert booking")
	}

	return r.insertBookingEvent(ctx, tx, domain.EventBookingCreated, domain.BookingEvent{
		BookingID: booking.ID,
		VehicleID: booking.VehicleID,
		RenterID:  booking.RenterID,
		To:        booking.Status,
		At:        time.Now().UTC(),
	})
}

func (r *Repository) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1`, id))
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (r *Repository) FindBookings(ctx context.Context, filter domain.BookingFilter) ([]domain.Booking, error) {
	where, args := bookingWhere(filter, nil)
	rows, err := r.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings b`+where+` ORDER BY b.id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query bookings")
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan booking")
		}
		bookings = append(bookings, b)
	}
	return bookings, errors.Wrap(rows.Err(), "iterate bookings")
}

// UpdateBookingStatus applies one guarded transition inside tx. It reports
// false when the booking is no longer in the transition's source status.
func (r *Repository) UpdateBookingStatus(ctx context.Context, tx pgx.Tx, t domain.Transition) (bool, error) {
	result, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $3 WHERE id = $1 AND status = $2
	`, t.BookingID, string(t.From), string(t.To))
	if err != nil {
		return false, errors.Wrapf(err, "update booking %d", t.BookingID)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	return true, r.insertBookingEvent(ctx, tx, t.EventType(), domain.BookingEvent{
		BookingID: t.BookingID,
		VehicleID: t.VehicleID,
		RenterID:  t.RenterID,
		From:      t.From,
		To:        t.To,
		At:        time.Now().UTC(),
	})
}

// ApplyTransitions commits every transition of a reconciliation cycle in a
// single transaction and returns the ones that changed a row. Transitions
// whose source status no longer matches are skipped, which makes re-applying
// a cycle a no-op.
func (r *Repository) ApplyTransitions(ctx context.Context, transitions []domain.Transition) ([]domain.Transition, error) {
	var applied []domain.Transition
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		applied = applied[:0]
		for _, t := range transitions {
			ok, err := r.UpdateBookingStatus(ctx, tx, t)
			if err != nil {
				return err
			}
			if ok {
				applied = append(applied, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

func (r *Repository) insertBookingEvent(ctx context.Context, tx pgx.Tx, eventType string, ev domain.BookingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal booking event")
	}
	return r.InsertOutbox(ctx, tx, OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "booking",
		AggregateID:   ev.BookingID,
		EventType:     eventType,
		Payload:       payload,
		DedupeKey:     uuid.New().String(),
	})
}
