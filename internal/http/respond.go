package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/robertarktes/vehicle-rentals/internal/idempotency"
	"github.com/shopspring/decimal"
)

type bookingResponse struct {
	ID         int64           `json:"id"`
	VehicleID  int64           `json:"vehicle_id"`
	RenterID   int64           `json:"renter_id"`
	StartDate  time.Time       `json:"start_date"`
	EndDate    time.Time       `json:"end_date"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     string          `json:"status"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:         b.ID,
		VehicleID:  b.VehicleID,
		RenterID:   b.RenterID,
		StartDate:  b.StartDate,
		EndDate:    b.EndDate,
		TotalPrice: b.TotalPrice,
		Status:     string(b.Status),
	}
}

type vehicleResponse struct {
	ID          int64           `json:"id"`
	OwnerID     int64           `json:"owner_id"`
	Make        string          `json:"make"`
	Model       string          `json:"model"`
	Plate       string          `json:"plate"`
	Year        int             `json:"year"`
	PricePerDay decimal.Decimal `json:"price_per_day"`
}

func toVehicleResponse(v domain.Vehicle) vehicleResponse {
	return vehicleResponse{
		ID:          v.ID,
		OwnerID:     v.OwnerID,
		Make:        v.Make,
		Model:       v.Model,
		Plate:       v.Plate,
		Year:        v.Year,
		PricePerDay: v.PricePerDay,
	}
}

type userResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes. Anything unrecognized is
// logged and reported as 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, "booking cannot move to the requested status", http.StatusConflict)
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, "conflict", http.StatusConflict)
	case errors.Is(err, idempotency.ErrInProgress):
		http.Error(w, "request in progress", http.StatusConflict)
	default:
		loggerFrom(r.Context()).WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrap(domain.ErrInvalidInput, "invalid id")
	}
	return id, nil
}
