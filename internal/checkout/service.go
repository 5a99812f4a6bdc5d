// Package checkout orchestrates the commerce flow: reserve stock, commit
// ledger entries, confirm the holds, then fan out notifications and the
// commission cascade.
package checkout

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bloomcore/internal/domain"
	"bloomcore/internal/ledger"
	"bloomcore/internal/notification"
	"bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
)

// InventoryAllocator is the slice of the allocator the checkout flow needs.
type InventoryAllocator interface {
	Allocate(productID string, quantity int) (uuid.UUID, error)
	ReleaseReservation(productID string, reservationID uuid.UUID) error
	ConfirmReservation(productID string, reservationID uuid.UUID) error
}

// LedgerService commits sealed DEBIT entries for purchased lines.
type LedgerService interface {
	CommitTransaction(item *domain.CartLine, extra domain.Metadata) (string, error)
}

// CommissionNetwork receives attributed sales for the upward cascade.
type CommissionNetwork interface {
	ProcessDownlineTransaction(transactionID, sellerID string, amount decimal.Decimal) ([]domain.CommissionVector, error)
	AddPersonalVolume(resellerID string, amount decimal.Decimal) error
}

type Service struct {
	allocator InventoryAllocator
	ledger    LedgerService
	network   CommissionNetwork
	notifier  notification.Service
	logger    logger.Logger
}

func NewService(
	allocator InventoryAllocator,
	ledgerService LedgerService,
	network CommissionNetwork,
	notifier notification.Service,
	log logger.Logger,
) *Service {
	return &Service{
		allocator: allocator,
		ledger:    ledgerService,
		network:   network,
		notifier:  notifier,
		logger:    log,
	}
}

type CheckoutRequest struct {
	BuyerID      string            `json:"buyer_id" validate:"required"`
	BuyerContact string            `json:"buyer_contact"`
	ResellerID   string            `json:"reseller_id"`
	Lines        []domain.CartLine `json:"lines" validate:"required,min=1,dive"`
}

type CheckoutResponse struct {
	OrderID  uuid.UUID       `json:"order_id"`
	TraceIDs []string        `json:"trace_ids"`
	Total    decimal.Decimal `json:"total"`
}

type lineHold struct {
	productID     string
	reservationID uuid.UUID
}

// Checkout reserves every cart line, then commits a DEBIT entry per line and
// confirms the holds. If any line's allocation fails, every hold taken so
// far is released and the whole checkout fails; nothing reaches the ledger.
func (s *Service) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	if len(req.Lines) == 0 {
		return nil, errors.ErrEmptyCart
	}

	orderID := uuid.New()
	s.logger.Info("Checkout started", map[string]interface{}{
		"order_id":    orderID,
		"buyer_id":    req.BuyerID,
		"reseller_id": req.ResellerID,
		"lines":       len(req.Lines),
	})

	// Phase 1: reserve stock for each line, rolling back on first failure.
	holds := make([]lineHold, 0, len(req.Lines))
	for _, line := range req.Lines {
		reservationID, err := s.allocator.Allocate(line.ProductID, line.Quantity)
		if err != nil {
			s.releaseHolds(holds)
			s.logger.Warn("Checkout failed: line allocation rejected", map[string]interface{}{
				"order_id":   orderID,
				"product_id": line.ProductID,
				"quantity":   line.Quantity,
			})
			return nil, errors.Wrap(err, fmt.Sprintf("product %s", line.ProductID))
		}
		holds = append(holds, lineHold{productID: line.ProductID, reservationID: reservationID})
	}

	// Phase 2: commit one DEBIT entry per line with an immutable snapshot.
	traceIDs := make([]string, 0, len(req.Lines))
	total := decimal.Zero
	for i := range req.Lines {
		line := req.Lines[i]
		traceID, err := s.ledger.CommitTransaction(&line, domain.Metadata{
			"order_id":       orderID.String(),
			"buyer_id":       req.BuyerID,
			"reservation_id": holds[i].reservationID.String(),
		})
		if err != nil {
			// Lines before i carry sealed DEBITs; their stock is sold and the
			// holds become permanent draw-downs. Only uncommitted lines revert.
			s.confirmHolds(holds[:i])
			s.releaseHolds(holds[i:])
			return nil, errors.Wrap(err, "ledger commit failed")
		}
		traceIDs = append(traceIDs, traceID)
		total = total.Add(ledger.CalculateLineItemTotal(line.UnitPrice, line.Quantity, line.VariantModifierTotal))
	}

	// Phase 3: the sale is committed; turn the holds into permanent draw-downs.
	s.confirmHolds(holds)

	s.notifyConfirmed(req, orderID, total)
	s.cascadeCommissions(req.ResellerID, orderID, total)

	s.logger.Info("Checkout completed", map[string]interface{}{
		"order_id": orderID,
		"total":    total.String(),
		"entries":  len(traceIDs),
	})

	return &CheckoutResponse{
		OrderID:  orderID,
		TraceIDs: traceIDs,
		Total:    total,
	}, nil
}

func (s *Service) confirmHolds(holds []lineHold) {
	for _, h := range holds {
		if err := s.allocator.ConfirmReservation(h.productID, h.reservationID); err != nil {
			s.logger.Error("Failed to confirm reservation after commit", map[string]interface{}{
				"product_id":     h.productID,
				"reservation_id": h.reservationID,
				"error":          err.Error(),
			})
		}
	}
}

func (s *Service) releaseHolds(holds []lineHold) {
	for _, h := range holds {
		if err := s.allocator.ReleaseReservation(h.productID, h.reservationID); err != nil {
			s.logger.Error("Failed to release reservation during rollback", map[string]interface{}{
				"product_id":     h.productID,
				"reservation_id": h.reservationID,
				"error":          err.Error(),
			})
		}
	}
}

// notifyConfirmed dispatches the confirmation asynchronously; the checkout
// result does not depend on delivery beyond logging.
func (s *Service) notifyConfirmed(req *CheckoutRequest, orderID uuid.UUID, total decimal.Decimal) {
	recipient := req.BuyerContact
	if recipient == "" {
		recipient = req.BuyerID
	}
	go func() {
		result, err := s.notifier.Dispatch(context.Background(), recipient, notification.ChannelEmail, "ORDER_CONFIRMED", domain.Metadata{
			"order_id": orderID.String(),
			"total":    total.String(),
		})
		if err != nil {
			s.logger.Error("Notification dispatch failed", map[string]interface{}{
				"order_id": orderID,
				"error":    err.Error(),
			})
			return
		}
		s.logger.Debug("Notification result", map[string]interface{}{
			"order_id":   orderID,
			"message_id": result.MessageID,
			"success":    result.Success,
		})
	}()
}

// cascadeCommissions attributes the order to the reseller, if any. A failed
// attribution is logged, never surfaced: the buyer's checkout already
// succeeded.
func (s *Service) cascadeCommissions(resellerID string, orderID uuid.UUID, total decimal.Decimal) {
	if resellerID == "" {
		return
	}

	if err := s.network.AddPersonalVolume(resellerID, total); err != nil {
		s.logger.Warn("Checkout attributed to unknown reseller", map[string]interface{}{
			"order_id":    orderID,
			"reseller_id": resellerID,
		})
		return
	}
	if _, err := s.network.ProcessDownlineTransaction(orderID.String(), resellerID, total); err != nil {
		s.logger.Error("Commission cascade failed", map[string]interface{}{
			"order_id":    orderID,
			"reseller_id": resellerID,
			"error":       err.Error(),
		})
	}
}
