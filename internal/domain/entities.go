package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingApproved  BookingStatus = "APPROVED"
	BookingActive    BookingStatus = "ACTIVE"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Rank orders statuses along the happy path. Cancelled sits outside it and
// ranks zero.
func (s BookingStatus) Rank() int {
	switch s {
	case BookingPending:
		return 1
	case BookingApproved:
		return 2
	case BookingActive:
		return 3
	case BookingCompleted:
		return 4
	}
	return 0
}

func (s BookingStatus) Valid() bool {
	return s.Rank() > 0 || s == BookingCancelled
}

type Role string

const (
	RoleRenter     Role = "RENTER"
	RoleOwner      Role = "OWNER"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

type Booking struct {
	ID         int64
	VehicleID  int64
	RenterID   int64
	StartDate  time.Time
	EndDate    time.Time
	TotalPrice decimal.Decimal
	Status     BookingStatus
}

type Vehicle struct {
	ID          int64
	OwnerID     int64
	Make        string
	Model       string
	Plate       string
	Year        int
	PricePerDay decimal.Decimal
}

type User struct {
	ID       int64
	Name     string
	Email    string
	Role     Role
	IsActive bool
}

// Transition is a single status mutation. From guards the write so a
// transition never applies to a booking that has moved on.
type Transition struct {
	BookingID int64
	VehicleID int64
	RenterID  int64
	From      BookingStatus
	To        BookingStatus
}

const (
	EventBookingCreated   = "booking.created"
	EventBookingApproved  = "booking.approved"
	EventBookingActivated = "booking.activated"
	EventBookingCompleted = "booking.completed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingUpdated   = "booking.updated"
)

// EventType is the routing key published for the transition.
func (t Transition) EventType() string {
	switch t.To {
	case BookingApproved:
		return EventBookingApproved
	case BookingActive:
		return EventBookingActivated
	case BookingCompleted:
		return EventBookingCompleted
	case BookingCancelled:
		return EventBookingCancelled
	}
	return EventBookingUpdated
}

// BookingEvent is the payload of every booking.* message.
type BookingEvent struct {
	BookingID int64         `json:"booking_id"`
	VehicleID int64         `json:"vehicle_id"`
	RenterID  int64         `json:"renter_id"`
	From      BookingStatus `json:"from,omitempty"`
	To        BookingStatus `json:"to"`
	At        time.Time     `json:"at"`
}

type GroupCount struct {
	Key   string
	Count int
}
