package handler

import (
	"net/http"

	"purchase-settlement-api/internal/service"
	"purchase-settlement-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// ReservationHandler handles storefront reservation requests.
type ReservationHandler struct {
	reservations *service.ReservationService
}

// NewReservationHandler creates a reservation handler.
func NewReservationHandler(reservations *service.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservations: reservations}
}

// CreateReservationRequest is the body of POST /api/v1/reservations.
type CreateReservationRequest struct {
	BuyerIdentity string `json:"buyer_identity"`
	ProductID     string `json:"product_id"`
}

// Create handles POST /api/v1/reservations
func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}

	res, created, err := h.reservations.Reserve(r.Context(), req.BuyerIdentity, req.ProductID)
	if err != nil {
		response.Error(w, err)
		return
	}

	if created {
		response.Created(w, res)
		return
	}
	response.OK(w, res)
}

// Get handles GET /api/v1/reservations/{id}
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, res)
}

// Fail handles POST /api/v1/reservations/{id}/fail
func (h *ReservationHandler) Fail(w http.ResponseWriter, r *http.Request) {
	res, err := h.reservations.Fail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, res)
}
