// Package http exposes the booking API: reservation creation and
// cancellation, and the payment gateway's confirmation callback.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	payapp "github.com/eeoos/airbob-sub001/internal/payment/application"
	paydomain "github.com/eeoos/airbob-sub001/internal/payment/domain"
	"github.com/eeoos/airbob-sub001/internal/reservation/application"
	"github.com/eeoos/airbob-sub001/internal/reservation/domain"
)

// memberHeader carries the authenticated guest id, resolved by the edge
// gateway before the request reaches this service.
const memberHeader = "X-Member-Id"

type Handler struct {
	log          *slog.Logger
	reservations *application.Service
	payments     *payapp.Coordinator
	validate     *validator.Validate
	tracer       trace.Tracer
}

func NewHandler(log *slog.Logger, reservations *application.Service, payments *payapp.Coordinator) *Handler {
	return &Handler{
		log:          log,
		reservations: reservations,
		payments:     payments,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		tracer:       otel.Tracer("reservation-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/reservations", h.createReservation)
	r.Get("/reservations/{uid}", h.getReservation)
	r.Post("/reservations/{uid}/cancel", h.cancelReservation)
	r.Post("/payments/confirm", h.confirmPayment)
	return r
}

type createReservationReq struct {
	AccommodationID  int64  `json:"accommodationId" validate:"required,min=1"`
	AccommodationUID string `json:"accommodationUid" validate:"required,uuid"`
	CheckInDate      string `json:"checkInDate" validate:"required,datetime=2006-01-02"`
	CheckOutDate     string `json:"checkOutDate" validate:"required,datetime=2006-01-02"`
	GuestCount       int    `json:"guestCount" validate:"required,min=1"`
	NightlyRateCents int64  `json:"nightlyRateCents" validate:"required,min=1"`
}

type createReservationResp struct {
	ReservationUID string    `json:"reservationUid"`
	ExpiresAt      time.Time `json:"expiresAt"`
	TotalCents     int64     `json:"totalCents"`
}

func (h *Handler) createReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateReservation")
	defer span.End()

	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	var req createReservationReq
	if !h.decode(w, r, &req) {
		return
	}

	accUID, err := uuid.Parse(req.AccommodationUID)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid accommodationUid"})
		return
	}
	checkIn, err := time.Parse(domain.DateLayout, req.CheckInDate)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid checkInDate"})
		return
	}
	checkOut, err := time.Parse(domain.DateLayout, req.CheckOutDate)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid checkOutDate"})
		return
	}

	res, err := h.reservations.CreatePending(ctx, application.CreateInput{
		AccommodationID:  req.AccommodationID,
		AccommodationUID: accUID,
		GuestID:          guestID,
		CheckIn:          checkIn,
		CheckOut:         checkOut,
		GuestCount:       req.GuestCount,
		NightlyRateCents: req.NightlyRateCents,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, createReservationResp{
		ReservationUID: res.ReservationUID.String(),
		ExpiresAt:      res.ExpiresAt,
		TotalCents:     res.TotalCents,
	})
}

type reservationResp struct {
	ReservationUID   string     `json:"reservationUid"`
	AccommodationUID string     `json:"accommodationUid"`
	CheckInDate      string     `json:"checkInDate"`
	CheckOutDate     string     `json:"checkOutDate"`
	GuestCount       int        `json:"guestCount"`
	TotalCents       int64      `json:"totalCents"`
	Status           string     `json:"status"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetReservation")
	defer span.End()

	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	uid, err := uuid.Parse(chi.URLParam(r, "uid"))
	if err != nil {
		h.writeError(w, domain.ErrNotFound)
		return
	}

	res, err := h.reservations.Get(ctx, uid, guestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reservationResp{
		ReservationUID:   res.UID.String(),
		AccommodationUID: res.AccommodationUID.String(),
		CheckInDate:      res.CheckIn.Format(domain.DateLayout),
		CheckOutDate:     res.CheckOut.Format(domain.DateLayout),
		GuestCount:       res.GuestCount,
		TotalCents:       res.TotalCents,
		Status:           string(res.Status),
		ExpiresAt:        res.ExpiresAt,
	})
}

type cancelReservationReq struct {
	CancelReason string `json:"cancelReason" validate:"max=500"`
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelReservation")
	defer span.End()

	guestID, ok := h.guest(w, r)
	if !ok {
		return
	}
	uid, err := uuid.Parse(chi.URLParam(r, "uid"))
	if err != nil {
		h.writeError(w, domain.ErrNotFound)
		return
	}
	var req cancelReservationReq
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.reservations.Cancel(ctx, uid, guestID, req.CancelReason); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusCancelled)})
}

type confirmPaymentReq struct {
	PaymentKey string `json:"paymentKey" validate:"required"`
	OrderID    string `json:"orderId" validate:"required"`
	Status     string `json:"status" validate:"required,oneof=DONE FAILED"`
	Amount     int64  `json:"amount" validate:"required,min=1"`
	Reason     string `json:"reason"`
}

type confirmPaymentResp struct {
	PaymentUID     string `json:"paymentUid"`
	ReservationUID string `json:"reservationUid"`
	Status         string `json:"status"`
	Replayed       bool   `json:"replayed"`
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmPayment")
	defer span.End()

	var req confirmPaymentReq
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.payments.Confirm(ctx, payapp.ConfirmInput{
		PaymentKey:  req.PaymentKey,
		OrderID:     req.OrderID,
		Succeeded:   req.Status == "DONE",
		AmountCents: req.Amount,
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, confirmPaymentResp{
		PaymentUID:     res.PaymentUID.String(),
		ReservationUID: res.ReservationUID.String(),
		Status:         string(res.Status),
		Replayed:       res.Replayed,
	})
}

func (h *Handler) guest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(memberHeader), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing member identity"})
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidDateRange), errors.Is(err, paydomain.ErrAmountMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSlotUnavailable), errors.Is(err, domain.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, paydomain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAccessDenied):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
		h.writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
