// Package reconciler advances bookings across their time boundaries.
//
// Every cycle re-derives its work from the current table state instead of
// remembering earlier attempts: a cycle that fails to commit leaves the
// rows untouched, and the next cycle selects them again. Transitions are
// guarded by their source status, so running the reconciler on several
// instances at once is safe without a distributed lock.
package reconciler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Store is the slice of the booking store the reconciler needs.
type Store interface {
	FindBookings(ctx context.Context, filter domain.BookingFilter) ([]domain.Booking, error)
	// ApplyTransitions commits all transitions as one unit of work and
	// returns the ones that actually changed a row.
	ApplyTransitions(ctx context.Context, transitions []domain.Transition) ([]domain.Transition, error)
}

type CycleResult struct {
	Now       time.Time
	Activated int
	Completed int
	Applied   int
}

type Reconciler struct {
	store  Store
	logger observability.Logger
	clock  func() time.Time
}

type Option func(*Reconciler)

func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) { r.clock = clock }
}

func New(store Store, logger observability.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		logger: logger.WithField("component", "reconciler"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run adapts RunCycle to the scheduler's task signature.
func (r *Reconciler) Run(ctx context.Context) error {
	_, err := r.RunCycle(ctx)
	return err
}

// RunCycle performs one reconciliation pass against a single clock reading.
// Both selections complete before anything is written, so a booking can
// advance at most one status per cycle.
func (r *Reconciler) RunCycle(ctx context.Context) (res CycleResult, err error) {
	ctx, span := otel.Tracer("reconciler").Start(ctx, "reconciler.cycle")
	defer span.End()

	started := time.Now()
	defer func() {
		observability.ReconcileDuration.Observe(time.Since(started).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.ReconcileCycles.WithLabelValues(result).Inc()
	}()

	now := r.clock().UTC()
	res.Now = now
	log := r.logger.WithField("now", now.Format(time.RFC3339))
	log.Debug("reconciliation cycle running")

	toActivate, err := r.store.FindBookings(ctx, domain.DueForActivation(now))
	if err != nil {
		log.WithError(err).Error("failed to select bookings to activate")
		return res, errors.Wrap(err, "select bookings to activate")
	}
	toComplete, err := r.store.FindBookings(ctx, domain.DueForCompletion(now))
	if err != nil {
		log.WithError(err).Error("failed to select bookings to complete")
		return res, errors.Wrap(err, "select bookings to complete")
	}

	transitions := make([]domain.Transition, 0, len(toActivate)+len(toComplete))
	for _, set := range [][]domain.Booking{toActivate, toComplete} {
		for _, b := range set {
			next, ok := domain.NextStatus(b.Status, b.StartDate, b.EndDate, now)
			if !ok {
				continue
			}
			transitions = append(transitions, domain.Transition{
				BookingID: b.ID,
				VehicleID: b.VehicleID,
				RenterID:  b.RenterID,
				From:      b.Status,
				To:        next,
			})
			if next == domain.BookingActive {
				res.Activated++
			} else {
				res.Completed++
			}
		}
	}

	span.SetAttributes(
		attribute.Int("reconciler.activate", res.Activated),
		attribute.Int("reconciler.complete", res.Completed),
	)
	if len(transitions) == 0 {
		return res, nil
	}

	if res.Activated > 0 {
		log.WithField("count", res.Activated).Info("found bookings to set to active")
	}
	if res.Completed > 0 {
		log.WithField("count", res.Completed).Info("found bookings to set to completed")
	}

	applied, err := r.store.ApplyTransitions(ctx, transitions)
	if err != nil {
		log.WithError(err).Error("failed to save updated booking statuses")
		return res, errors.Wrap(err, "apply transitions")
	}
	res.Applied = len(applied)

	for _, t := range applied {
		observability.ReconcileTransitions.WithLabelValues(string(t.To)).Inc()
	}
	log.WithFields(map[string]interface{}{
		"activated": res.Activated,
		"completed": res.Completed,
		"applied":   res.Applied,
	}).Info("updated booking statuses")

	return res, nil
}
