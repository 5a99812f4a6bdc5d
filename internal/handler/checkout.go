package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bloomcore/internal/checkout"
	bloomerrors "bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
	"bloomcore/pkg/validator"
)

// CheckoutHandler exposes the checkout flow to the storefront UI.
type CheckoutHandler struct {
	service   *checkout.Service
	validator *validator.Validator
	logger    logger.Logger
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(service *checkout.Service, val *validator.Validator, log logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Checkout handles a full cart purchase.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkout.CheckoutRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.BuyerID = validator.Sanitize(req.BuyerID)
	req.ResellerID = validator.Sanitize(req.ResellerID)

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Checkout(r.Context(), &req)
	if err != nil {
		if errors.Is(err, bloomerrors.ErrInsufficientInventory) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, bloomerrors.ErrEmptyCart) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Checkout failed", map[string]interface{}{
			"error":    err.Error(),
			"buyer_id": req.BuyerID,
		})
		respondError(w, http.StatusInternalServerError, "Checkout failed")
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}
