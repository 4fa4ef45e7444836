package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	mongoadapter "github.com/robertarktes/vehicle-rentals/internal/adapters/mongo"
	"github.com/robertarktes/vehicle-rentals/internal/analytics"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/robertarktes/vehicle-rentals/internal/idempotency"
	"github.com/shopspring/decimal"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Ping(ctx context.Context) error
	CreateVehicle(ctx context.Context, v *domain.Vehicle) error
	GetVehicle(ctx context.Context, id int64) (*domain.Vehicle, error)
	CreateBooking(ctx context.Context, tx pgx.Tx, b *domain.Booking) error
	GetBooking(ctx context.Context, id int64) (*domain.Booking, error)
	ApplyTransitions(ctx context.Context, transitions []domain.Transition) ([]domain.Transition, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

type Analytics interface {
	Compute(ctx context.Context) (*analytics.Snapshot, error)
}

type AuditTrail interface {
	BookingHistory(ctx context.Context, bookingID int64) ([]mongoadapter.AuditLog, error)
}

type Handlers struct {
	repo      Store
	idemp     *idempotency.Idempotency
	analytics Analytics
	audit     AuditTrail
}

func NewHandlers(repo Store, idemp *idempotency.Idempotency, engine Analytics, audit AuditTrail) *Handlers {
	return &Handlers{
		repo:      repo,
		idemp:     idemp,
		analytics: engine,
		audit:     audit,
	}
}

func (h *Handlers) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req struct {
		Make        string          `json:"make"`
		Model       string          `json:"model"`
		Plate       string          `json:"plate"`
		Year        int             `json:"year"`
		PricePerDay decimal.Decimal `json:"price_per_day"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	v, err := domain.NewVehicle(p.UserID, req.Make, req.Model, req.Plate, req.Year, req.PricePerDay)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.repo.CreateVehicle(r.Context(), &v); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVehicleResponse(v))
}

func (h *Handlers) GetVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.repo.GetVehicle(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVehicleResponse(*v))
}

// CreateBooking books a vehicle for the caller. Replays of a successful
// request with the same Idempotency-Key return the original response.
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req struct {
		VehicleID int64     `json:"vehicle_id"`
		StartDate time.Time `json:"start_date"`
		EndDate   time.Time `json:"end_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := "booking:" + strconv.FormatInt(p.UserID, 10) + ":" + r.Header.Get("Idempotency-Key")
	resp, replayed, err := h.idemp.Do(r.Context(), key, func() (idempotency.Response, error) {
		vehicle, err := h.repo.GetVehicle(r.Context(), req.VehicleID)
		if err != nil {
			return idempotency.Response{}, err
		}
		booking, err := domain.NewBooking(*vehicle, p.UserID, req.StartDate.UTC(), req.EndDate.UTC())
		if err != nil {
			return idempotency.Response{}, err
		}
		err = h.repo.WithTx(r.Context(), func(tx pgx.Tx) error {
			return h.repo.CreateBooking(r.Context(), tx, &booking)
		})
		if err != nil {
			return idempotency.Response{}, err
		}
		data, err := json.Marshal(toBookingResponse(booking))
		if err != nil {
			return idempotency.Response{}, errors.Wrap(err, "marshal booking")
		}
		return idempotency.Response{Status: http.StatusCreated, Result: data}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Result)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, _, err := h.visibleBooking(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(*b))
}

func (h *Handlers) BookingHistory(w http.ResponseWriter, r *http.Request) {
	b, _, err := h.visibleBooking(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logs, err := h.audit.BookingHistory(r.Context(), b.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	type entry struct {
		Action     string    `json:"action"`
		From       string    `json:"from,omitempty"`
		To         string    `json:"to"`
		OccurredAt time.Time `json:"occurred_at"`
	}
	out := make([]entry, 0, len(logs))
	for _, l := range logs {
		out = append(out, entry{Action: l.Action, From: l.From, To: l.To, OccurredAt: l.OccurredAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// ApproveBooking moves a pending booking to approved. Only the owner of the
// booked vehicle may approve.
func (h *Handlers) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.BookingApproved, func(p Principal, b *domain.Booking, v *domain.Vehicle) bool {
		return p.UserID == v.OwnerID
	})
}

// CancelBooking cancels a pending or approved booking on behalf of its
// renter or the vehicle owner.
func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.BookingCancelled, func(p Principal, b *domain.Booking, v *domain.Vehicle) bool {
		return p.UserID == b.RenterID || p.UserID == v.OwnerID
	})
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, to domain.BookingStatus, allowed func(Principal, *domain.Booking, *domain.Vehicle) bool) {
	p, _ := PrincipalFrom(r.Context())
	id, err := idParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.repo.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.repo.GetVehicle(r.Context(), b.VehicleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !allowed(p, b, v) {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	if !domain.CanTransition(b.Status, to) {
		writeError(w, r, domain.ErrInvalidTransition)
		return
	}

	applied, err := h.repo.ApplyTransitions(r.Context(), []domain.Transition{{
		BookingID: b.ID,
		VehicleID: b.VehicleID,
		RenterID:  b.RenterID,
		From:      b.Status,
		To:        to,
	}})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(applied) == 0 {
		// moved by someone else between the read and the guarded write
		writeError(w, r, domain.ErrInvalidTransition)
		return
	}
	b.Status = to
	writeJSON(w, http.StatusOK, toBookingResponse(*b))
}

// visibleBooking loads the booking named in the path if the caller is its
// renter, the vehicle owner or a super admin.
func (h *Handlers) visibleBooking(r *http.Request) (*domain.Booking, *domain.Vehicle, error) {
	p, _ := PrincipalFrom(r.Context())
	id, err := idParam(r)
	if err != nil {
		return nil, nil, err
	}
	b, err := h.repo.GetBooking(r.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	v, err := h.repo.GetVehicle(r.Context(), b.VehicleID)
	if err != nil {
		return nil, nil, err
	}
	if p.Role != domain.RoleSuperAdmin && p.UserID != b.RenterID && p.UserID != v.OwnerID {
		return nil, nil, domain.ErrForbidden
	}
	return b, v, nil
}

func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role), IsActive: u.IsActive})
	}
	writeJSON(w, http.StatusOK, out)
}

// SystemAnalytics computes a fresh snapshot on every call. Any failing
// metric fails the whole request.
func (h *Handlers) SystemAnalytics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.analytics.Compute(r.Context())
	if err != nil {
		loggerFrom(r.Context()).WithError(err).Error("failed to compute analytics")
		http.Error(w, "failed to compute analytics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.repo.Ping(ctx); err != nil {
		loggerFrom(r.Context()).WithError(err).Warn("readiness check failed")
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
