package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// RentalDays is the billable number of days for a window, rounded up and
// never less than one.
func RentalDays(start, end time.Time) int64 {
	d := end.Sub(start)
	days := int64(d / day)
	if d%day != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

func NewBooking(vehicle Vehicle, renterID int64, start, end time.Time) (Booking, error) {
	if vehicle.ID == 0 || renterID == 0 {
		return Booking{}, ErrInvalidInput
	}
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return Booking{}, ErrInvalidInput
	}
	days := RentalDays(start, end)
	return Booking{
		VehicleID:  vehicle.ID,
		RenterID:   renterID,
		StartDate:  start.UTC(),
		EndDate:    end.UTC(),
		TotalPrice: vehicle.PricePerDay.Mul(decimal.NewFromInt(days)).Round(2),
		Status:     BookingPending,
	}, nil
}

func NewVehicle(ownerID int64, vehicleMake, model, plate string, year int, pricePerDay decimal.Decimal) (Vehicle, error) {
	if ownerID == 0 || vehicleMake == "" || model == "" || plate == "" {
		return Vehicle{}, ErrInvalidInput
	}
	if year < 1900 || year > 2100 {
		return Vehicle{}, ErrInvalidInput
	}
	if !pricePerDay.IsPositive() {
		return Vehicle{}, ErrInvalidInput
	}
	return Vehicle{
		OwnerID:     ownerID,
		Make:        vehicleMake,
		Model:       model,
		Plate:       plate,
		Year:        year,
		PricePerDay: pricePerDay.Round(2),
	}, nil
}

// Overlaps reports whether the booking window intersects [start, end].
func (b Booking) Overlaps(start, end time.Time) bool {
	return !b.StartDate.After(end) && !b.EndDate.Before(start)
}

// BookingFilter is a conjunction of predicates over bookings. Nil bounds and
// an empty status list match everything.
type BookingFilter struct {
	Statuses      []BookingStatus
	StartsBy      *time.Time // start <= t
	EndsBy        *time.Time // end <= t
	EndsNotBefore *time.Time // end >= t
}

func (f BookingFilter) Matches(b Booking) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if b.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartsBy != nil && b.StartDate.After(*f.StartsBy) {
		return false
	}
	if f.EndsBy != nil && b.EndDate.After(*f.EndsBy) {
		return false
	}
	if f.EndsNotBefore != nil && b.EndDate.Before(*f.EndsNotBefore) {
		return false
	}
	return true
}

func StatusIn(statuses ...BookingStatus) BookingFilter {
	return BookingFilter{Statuses: statuses}
}

// DueForActivation selects approved bookings whose window has opened.
func DueForActivation(now time.Time) BookingFilter {
	return BookingFilter{Statuses: []BookingStatus{BookingApproved}, StartsBy: &now}
}

// DueForCompletion selects active bookings whose window has closed.
func DueForCompletion(now time.Time) BookingFilter {
	return BookingFilter{Statuses: []BookingStatus{BookingActive}, EndsBy: &now}
}
