package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/shopspring/decimal"
)

// The methods below back the analytics engine. Each is a single statement
// against committed data.

func (r *Repository) CountUsers(ctx context.Context, activeOnly bool) (int, error) {
	query := `SELECT count(*) FROM users`
	if activeOnly {
		query += ` WHERE is_active`
	}
	var n int
	err := r.pool.QueryRow(ctx, query).Scan(&n)
	return n, errors.Wrap(err, "count users")
}

func (r *Repository) CountVehicles(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM vehicles`).Scan(&n)
	return n, errors.Wrap(err, "count vehicles")
}

func (r *Repository) CountBookings(ctx context.Context, filter domain.BookingFilter) (int, error) {
	where, args := bookingWhere(filter, nil)
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM bookings b`+where, args...).Scan(&n)
	return n, errors.Wrap(err, "count bookings")
}

func (r *Repository) CountBookedVehicles(ctx context.Context, filter domain.BookingFilter) (int, error) {
	where, args := bookingWhere(filter, nil)
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(DISTINCT b.vehicle_id)
		FROM bookings b JOIN vehicles v ON v.id = b.vehicle_id`+where, args...).Scan(&n)
	return n, errors.Wrap(err, "count booked vehicles")
}

func (r *Repository) SumBookingPrice(ctx context.Context, filter domain.BookingFilter) (decimal.Decimal, error) {
	where, args := bookingWhere(filter, nil)
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(sum(b.total_price), 0) FROM bookings b`+where, args...).Scan(&sum)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "sum booking price")
	}
	return sum, nil
}

func (r *Repository) TopVehicleModels(ctx context.Context, filter domain.BookingFilter, limit int) ([]domain.GroupCount, error) {
	where, args := bookingWhere(filter, []interface{}{limit})
	return r.groupCounts(ctx, `
		SELECT v.make || ' ' || v.model, count(*) AS n
		FROM bookings b JOIN vehicles v ON v.id = b.vehicle_id`+where+`
		GROUP BY v.make, v.model
		ORDER BY n DESC
		LIMIT $1`, args)
}

func (r *Repository) TopVehicleOwners(ctx context.Context, filter domain.BookingFilter, limit int) ([]domain.GroupCount, error) {
	where, args := bookingWhere(filter, []interface{}{limit})
	return r.groupCounts(ctx, `
		SELECT u.name, count(*) AS n
		FROM bookings b
		JOIN vehicles v ON v.id = b.vehicle_id
		JOIN users u ON u.id = v.owner_id`+where+`
		GROUP BY v.owner_id, u.name
		ORDER BY n DESC
		LIMIT $1`, args)
}

func (r *Repository) groupCounts(ctx context.Context, query string, args []interface{}) ([]domain.GroupCount, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "group bookings")
	}
	defer rows.Close()

	var groups []domain.GroupCount
	for rows.Next() {
		var g domain.GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, errors.Wrap(err, "scan group")
		}
		groups = append(groups, g)
	}
	return groups, errors.Wrap(rows.Err(), "iterate groups")
}
