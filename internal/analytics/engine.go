// Package analytics computes system-wide statistics over the booking store.
//
// Each metric is its own query and no transaction spans them, so under
// concurrent writes a snapshot is read-committed: two metrics may reflect
// slightly different instants. Every metric on its own is consistent.
package analytics

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// NotApplicable is reported for grouping metrics with no qualifying data.
const NotApplicable = "N/A"

type Store interface {
	CountUsers(ctx context.Context, activeOnly bool) (int, error)
	CountVehicles(ctx context.Context) (int, error)
	CountBookings(ctx context.Context, filter domain.BookingFilter) (int, error)
	// CountBookedVehicles counts distinct existing vehicles referenced by
	// bookings matching filter.
	CountBookedVehicles(ctx context.Context, filter domain.BookingFilter) (int, error)
	SumBookingPrice(ctx context.Context, filter domain.BookingFilter) (decimal.Decimal, error)
	// TopVehicleModels and TopVehicleOwners return groups ordered by count,
	// descending. Ties come back in storage order. Bookings whose vehicle or
	// owner no longer exists are excluded.
	TopVehicleModels(ctx context.Context, filter domain.BookingFilter, limit int) ([]domain.GroupCount, error)
	TopVehicleOwners(ctx context.Context, filter domain.BookingFilter, limit int) ([]domain.GroupCount, error)
}

type Snapshot struct {
	TotalUsers            int             `json:"total_users"`
	ActiveUsers           int             `json:"active_users"`
	TotalVehicles         int             `json:"total_vehicles"`
	VehiclesAvailable     int             `json:"vehicles_available"`
	VehiclesUnavailable   int             `json:"vehicles_unavailable"`
	TotalBookings         int             `json:"total_bookings"`
	PendingBookings       int             `json:"pending_bookings"`
	ActiveBookings        int             `json:"active_bookings"`
	CompletedBookings     int             `json:"completed_bookings"`
	TotalRevenue          decimal.Decimal `json:"total_revenue"`
	MostBookedModel       string          `json:"most_booked_model"`
	OwnerWithMostBookings string          `json:"owner_with_most_bookings"`
	GeneratedAt           time.Time       `json:"generated_at"`
}

type Engine struct {
	store  Store
	logger observability.Logger
	clock  func() time.Time
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func NewEngine(store Store, logger observability.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: logger.WithField("component", "analytics"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute builds a fresh snapshot. If any query fails the whole call fails;
// a partial snapshot is never returned.
func (e *Engine) Compute(ctx context.Context) (snap *Snapshot, err error) {
	ctx, span := otel.Tracer("analytics").Start(ctx, "analytics.compute")
	defer span.End()

	started := time.Now()
	defer func() {
		observability.AnalyticsDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.WithError(err).Error("failed to compute system analytics")
		}
	}()

	now := e.clock().UTC()
	completed := domain.StatusIn(domain.BookingCompleted)
	reserved := domain.BookingFilter{
		Statuses:      []domain.BookingStatus{domain.BookingApproved, domain.BookingActive},
		EndsNotBefore: &now,
	}
	// Approved bookings whose window is open now. Stored ACTIVE bookings are
	// not counted here.
	activeNow := domain.BookingFilter{
		Statuses:      []domain.BookingStatus{domain.BookingApproved},
		StartsBy:      &now,
		EndsNotBefore: &now,
	}

	s := Snapshot{GeneratedAt: now}
	var (
		unavailable int
		models      []domain.GroupCount
		owners      []domain.GroupCount
	)

	g, gctx := errgroup.WithContext(ctx)
	count := func(name string, dst *int, fn func(context.Context) (int, error)) {
		g.Go(func() error {
			n, err := fn(gctx)
			if err != nil {
				return errors.Wrapf(err, "count %s", name)
			}
			*dst = n
			return nil
		})
	}
	bookings := func(f domain.BookingFilter) func(context.Context) (int, error) {
		return func(ctx context.Context) (int, error) { return e.store.CountBookings(ctx, f) }
	}

	count("users", &s.TotalUsers, func(ctx context.Context) (int, error) { return e.store.CountUsers(ctx, false) })
	count("active users", &s.ActiveUsers, func(ctx context.Context) (int, error) { return e.store.CountUsers(ctx, true) })
	count("vehicles", &s.TotalVehicles, e.store.CountVehicles)
	count("unavailable vehicles", &unavailable, func(ctx context.Context) (int, error) {
		return e.store.CountBookedVehicles(ctx, reserved)
	})
	count("bookings", &s.TotalBookings, bookings(domain.BookingFilter{}))
	count("pending bookings", &s.PendingBookings, bookings(domain.StatusIn(domain.BookingPending)))
	count("active bookings", &s.ActiveBookings, bookings(activeNow))
	count("completed bookings", &s.CompletedBookings, bookings(completed))

	g.Go(func() error {
		sum, err := e.store.SumBookingPrice(gctx, completed)
		if err != nil {
			return errors.Wrap(err, "sum revenue")
		}
		s.TotalRevenue = sum
		return nil
	})
	g.Go(func() error {
		var err error
		models, err = e.store.TopVehicleModels(gctx, completed, 1)
		return errors.Wrap(err, "most booked model")
	})
	g.Go(func() error {
		var err error
		owners, err = e.store.TopVehicleOwners(gctx, completed, 1)
		return errors.Wrap(err, "owner with most bookings")
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.VehiclesUnavailable = unavailable
	if s.VehiclesUnavailable > s.TotalVehicles {
		// Vehicles may be added or removed between the two counts.
		s.VehiclesUnavailable = s.TotalVehicles
	}
	s.VehiclesAvailable = s.TotalVehicles - s.VehiclesUnavailable
	s.MostBookedModel = top(models)
	s.OwnerWithMostBookings = top(owners)

	return &s, nil
}

func top(groups []domain.GroupCount) string {
	if len(groups) == 0 || groups[0].Count == 0 || groups[0].Key == "" {
		return NotApplicable
	}
	return groups[0].Key
}
