package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"bloomcore/internal/network"
	bloomerrors "bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
	"bloomcore/pkg/validator"
)

// NetworkHandler exposes the reseller network for admin and reporting
// surfaces.
type NetworkHandler struct {
	service   *network.Service
	validator *validator.Validator
	logger    logger.Logger
}

// NewNetworkHandler creates a NetworkHandler.
func NewNetworkHandler(service *network.Service, val *validator.Validator, log logger.Logger) *NetworkHandler {
	return &NetworkHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// EnrollRequest adds a reseller node to the forest.
type EnrollRequest struct {
	ResellerID            string          `json:"reseller_id" validate:"required"`
	UplineID              string          `json:"upline_id"`
	PersonalSalesVelocity decimal.Decimal `json:"personal_sales_velocity" validate:"gte=0"`
}

// Enroll registers a reseller under an upline.
func (h *NetworkHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
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

	if err := h.validator.Validate(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	node, err := h.service.Enroll(validator.Sanitize(req.ResellerID), validator.Sanitize(req.UplineID), req.PersonalSalesVelocity)
	if err != nil {
		switch {
		case errors.Is(err, bloomerrors.ErrResellerExists):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, bloomerrors.ErrNetworkCycle):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("Enrollment failed", map[string]interface{}{
				"error":       err.Error(),
				"reseller_id": req.ResellerID,
			})
			respondError(w, http.StatusInternalServerError, "Enrollment failed")
		}
		return
	}

	respondJSON(w, http.StatusCreated, node)
}

// GetStats returns the read-only projection for one reseller.
func (h *NetworkHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	resellerID := mux.Vars(r)["resellerId"]

	stats, err := h.service.NetworkStats(resellerID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// Recalculate re-aggregates downstream volume for a subtree.
func (h *NetworkHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	rootID := mux.Vars(r)["resellerId"]

	volume, err := h.service.RecalculateNetworkVolume(rootID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reseller_id":    rootID,
		"network_volume": volume,
	})
}
