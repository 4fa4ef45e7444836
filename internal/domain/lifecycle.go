package domain

import "time"

// NextStatus reports the status a booking moves to when observed at now.
// It advances at most one step per call, so a booking whose whole window
// has elapsed still passes through Active before Completed.
func NextStatus(current BookingStatus, start, end, now time.Time) (BookingStatus, bool) {
	switch current {
	case BookingApproved:
		if !now.Before(start) {
			return BookingActive, true
		}
	case BookingActive:
		if !now.Before(end) {
			return BookingCompleted, true
		}
	}
	return current, false
}

// CanTransition reports whether a manual transition from one status to
// another is allowed. Reconciler-driven edges are not included.
func CanTransition(from, to BookingStatus) bool {
	switch to {
	case BookingApproved:
		return from == BookingPending
	case BookingCancelled:
		return from == BookingPending || from == BookingApproved
	}
	return false
}
