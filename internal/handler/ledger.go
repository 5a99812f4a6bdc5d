package handler

import (
	"errors"
	"net/http"

	"bloomcore/internal/ledger"
	bloomerrors "bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
)

// LedgerHandler exposes the read-only ledger surface for invoicing and
// analytics consumers.
type LedgerHandler struct {
	service *ledger.Service
	logger  logger.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(service *ledger.Service, log logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		service: service,
		logger:  log,
	}
}

// GetHistory returns the full ledger in insertion order.
func (h *LedgerHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries := h.service.History()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetAuditBalance replays the history into the audited balance.
func (h *LedgerHandler) GetAuditBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.AuditBalance()
	if err != nil {
		if errors.Is(err, bloomerrors.ErrLedgerReplayInconsistency) {
			h.logger.Error("Audit refused: ledger integrity failure", map[string]interface{}{
				"error": err.Error(),
			})
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "Audit failed")
		return
	}

	respondJSON(w, http.StatusOK, balance)
}
