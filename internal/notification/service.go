// Package notification implements the outbound notification interface the
// core calls after a successful commit. Delivery is simulated; the core only
// logs the result.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bloomcore/internal/domain"
	"bloomcore/pkg/logger"
)

// ChannelType represents the delivery method.
type ChannelType string

const (
	ChannelEmail ChannelType = "EMAIL"
	ChannelSMS   ChannelType = "SMS"
	ChannelPush  ChannelType = "PUSH"
)

// DispatchResult reports the outcome of a delivery attempt.
type DispatchResult struct {
	Success   bool      `json:"success"`
	MessageID uuid.UUID `json:"message_id"`
}

// Service defines the notification dispatch interface.
type Service interface {
	Dispatch(ctx context.Context, recipient string, channel ChannelType, templateID string, data domain.Metadata) (*DispatchResult, error)
}

// DefaultService renders a small set of templates and simulates delivery.
// A real deployment would plug providers in here (SendGrid, Twilio).
type DefaultService struct {
	logger logger.Logger
}

// NewService creates a notification service.
func NewService(log logger.Logger) *DefaultService {
	return &DefaultService{logger: log}
}

// Dispatch renders the template and simulates sending it on the channel.
func (s *DefaultService) Dispatch(ctx context.Context, recipient string, channel ChannelType, templateID string, data domain.Metadata) (*DispatchResult, error) {
	var subject, body string

	switch templateID {
	case "ORDER_CONFIRMED":
		subject = "Order Confirmed"
		body = fmt.Sprintf("Your order %v for %v is confirmed. Thank you!", data["order_id"], data["total"])

	case "ORDER_FAILED":
		subject = "Order Could Not Be Completed"
		body = fmt.Sprintf("We could not complete your order: %v.", data["reason"])

	case "COMMISSION_EARNED":
		subject = "Commission Earned"
		body = fmt.Sprintf("You earned %v from a downline sale.", data["amount"])

	case "STOCK_LOW":
		subject = "Low Stock Alert"
		body = fmt.Sprintf("Product %v is running low: %v units sellable.", data["product_id"], data["available"])

	default:
		subject = "Notification"
		body = fmt.Sprintf("Event: %s", templateID)
	}

	result := &DispatchResult{
		Success:   true,
		MessageID: uuid.New(),
	}

	s.logger.Info("Notification dispatched", map[string]interface{}{
		"message_id": result.MessageID,
		"recipient":  recipient,
		"channel":    channel,
		"template":   templateID,
		"subject":    subject,
		"body":       body,
		"sent_at":    time.Now().UTC(),
	})

	return result, nil
}
