package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"bloomcore/internal/domain"
	"bloomcore/internal/inventory"
	bloomerrors "bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
	"bloomcore/pkg/validator"
)

// InventoryHandler exposes stock queries for admin/reporting surfaces and
// batch management for operators.
type InventoryHandler struct {
	allocator *inventory.Allocator
	validator *validator.Validator
	logger    logger.Logger
}

// NewInventoryHandler creates an InventoryHandler.
func NewInventoryHandler(allocator *inventory.Allocator, val *validator.Validator, log logger.Logger) *InventoryHandler {
	return &InventoryHandler{
		allocator: allocator,
		validator: val,
		logger:    log,
	}
}

// GetStock returns the sellable quantity for a product.
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productId"]

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"product_id": productID,
		"available":  h.allocator.AvailableStock(productID),
	})
}

// GetHealthIndex returns the quantity-weighted shelf-life estimate in hours.
func (h *InventoryHandler) GetHealthIndex(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productId"]

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"product_id":   productID,
		"health_index": h.allocator.HealthIndex(productID),
	})
}

// GetBatches lists a product's batches, including exhausted and spoiled ones.
func (h *InventoryHandler) GetBatches(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productId"]
	batches := h.allocator.Batches(productID)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"product_id": productID,
		"batches":    batches,
		"count":      len(batches),
	})
}

// AddBatchRequest is the restock payload.
type AddBatchRequest struct {
	ProductID       string          `json:"product_id" validate:"required"`
	Quantity        int             `json:"quantity" validate:"required,gt=0"`
	ManufactureDate time.Time       `json:"manufacture_date"`
	ExpiryDate      time.Time       `json:"expiry_date" validate:"required"`
	SpoilageRate    decimal.Decimal `json:"spoilage_rate"`
}

// AddBatch registers a restocked batch.
func (h *InventoryHandler) AddBatch(w http.ResponseWriter, r *http.Request) {
	var req AddBatchRequest

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

	batch := &domain.InventoryBatch{
		ProductID:       validator.Sanitize(req.ProductID),
		InitialQuantity: req.Quantity,
		CurrentQuantity: req.Quantity,
		ManufactureDate: req.ManufactureDate,
		ExpiryDate:      req.ExpiryDate,
		SpoilageRate:    req.SpoilageRate,
	}

	if err := h.allocator.AddBatch(batch); err != nil {
		h.logger.Error("Failed to add batch", map[string]interface{}{
			"error":      err.Error(),
			"product_id": req.ProductID,
		})
		respondError(w, http.StatusInternalServerError, "Failed to add batch")
		return
	}

	respondJSON(w, http.StatusCreated, batch)
}

// WriteOffBatch marks a batch as spoiled (manual administrative write-off).
func (h *InventoryHandler) WriteOffBatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	productID := vars["productId"]
	batchID := vars["batchId"]

	if err := h.allocator.WriteOffBatch(productID, batchID); err != nil {
		switch {
		case errors.Is(err, bloomerrors.ErrProductNotFound), errors.Is(err, bloomerrors.ErrBatchNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, bloomerrors.ErrBatchAlreadySpoiled):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "Failed to write off batch")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"product_id": productID,
		"batch_id":   batchID,
		"status":     string(domain.BatchStatusSpoiled),
	})
}
