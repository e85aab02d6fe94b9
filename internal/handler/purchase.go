package handler

import (
	"net/http"
	"strconv"

	"purchase-settlement-api/internal/model"
	"purchase-settlement-api/internal/repository"
	"purchase-settlement-api/pkg/apierror"
	"purchase-settlement-api/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// PurchaseHandler serves the buyer-facing read side: purchase status and claims.
type PurchaseHandler struct {
	statuses       repository.PurchaseStatusRepository
	claims         repository.ClaimRepository
	amountDecimals int32
}

// NewPurchaseHandler creates a purchase handler. amountDecimals is how many
// minor-unit digits the provider's integer price carries.
func NewPurchaseHandler(statuses repository.PurchaseStatusRepository, claims repository.ClaimRepository, amountDecimals int32) *PurchaseHandler {
	return &PurchaseHandler{statuses: statuses, claims: claims, amountDecimals: amountDecimals}
}

// PurchaseView is a purchase status with its amount in display units.
type PurchaseView struct {
	*model.PurchaseStatus
	DisplayAmount string `json:"display_amount"`
}

// DisplayAmount converts an integer minor-unit amount into a decimal string.
func DisplayAmount(amount int64, decimals int32) string {
	return decimal.New(amount, -decimals).String()
}

// GetPurchase handles GET /api/v1/purchases/{tx_id}
func (h *PurchaseHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "tx_id")
	if txID == "" {
		response.Error(w, apierror.BadRequest("tx_id is required"))
		return
	}

	status, err := h.statuses.GetPurchaseStatus(r.Context(), txID)
	if err != nil {
		response.Error(w, err)
		return
	}
	if status == nil {
		response.Error(w, apierror.NotFound("no purchase recorded for this transaction"))
		return
	}

	response.OK(w, PurchaseView{
		PurchaseStatus: status,
		DisplayAmount:  DisplayAmount(status.Amount, h.amountDecimals),
	})
}

// ListClaims handles GET /api/v1/claims/{buyer}
func (h *PurchaseHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	buyer := chi.URLParam(r, "buyer")
	if buyer == "" {
		response.Error(w, apierror.BadRequest("buyer is required"))
		return
	}

	limit, err := queryInt(r, "limit", 100, 1, 500)
	if err != nil {
		response.Error(w, err)
		return
	}

	claims, err := h.claims.ListClaimsByBuyer(r.Context(), buyer, limit)
	if err != nil {
		response.Error(w, err)
		return
	}
	if claims == nil {
		claims = []model.Claim{}
	}

	response.OK(w, map[string]interface{}{
		"buyer_identity": buyer,
		"claims":         claims,
	})
}

// queryInt reads an integer query parameter, applying def when absent.
func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, apierror.ValidationError("invalid query parameter", apierror.FieldError{
			Field:   name,
			Message: "must be an integer between " + strconv.Itoa(min) + " and " + strconv.Itoa(max),
		})
	}
	return n, nil
}
