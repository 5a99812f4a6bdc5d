// Package ledger owns the canonical append-only sequence of monetary events.
// Balances are never stored; every audit replays the full history, so the
// balance is always a pure function of the event log.
package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bloomcore/internal/domain"
	"bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
)

// Volume discount kicks in above this many units of a single line.
const volumeDiscountThreshold = 10

// feeTier maps a subtotal threshold to a service fee rate. Ordered
// descending; the highest threshold at or below the subtotal wins.
type feeTier struct {
	threshold decimal.Decimal
	rate      decimal.Decimal
}

var serviceFeeTiers = []feeTier{
	{decimal.NewFromInt(500_000), decimal.NewFromFloat(0.01)},
	{decimal.NewFromInt(100_000), decimal.NewFromFloat(0.03)},
	{decimal.Zero, decimal.NewFromFloat(0.05)},
}

// Service is the in-memory event-sourced ledger. Append is the only
// mutation; entries are sealed with a checksum and never touched again.
type Service struct {
	currency domain.Currency
	taxRate  decimal.Decimal
	logger   logger.Logger
	now      func() time.Time

	mu      sync.RWMutex
	seq     uint64
	entries []*domain.LedgerEntry
}

// NewService creates an empty ledger for the given settlement currency.
func NewService(currency domain.Currency, taxRate float64, log logger.Logger) *Service {
	return &Service{
		currency: currency,
		taxRate:  decimal.NewFromFloat(taxRate),
		logger:   log,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CalculateLineItemTotal prices one cart line in minor currency units:
// gross = (unitPrice + variantModifierTotal) * quantity, with a logarithmic
// volume discount of gross * log10(quantity) * 0.05 above ten units. The
// result is floored and never negative.
func CalculateLineItemTotal(unitPrice decimal.Decimal, quantity int, variantModifierTotal decimal.Decimal) decimal.Decimal {
	gross := unitPrice.Add(variantModifierTotal).Mul(decimal.NewFromInt(int64(quantity)))

	if quantity > volumeDiscountThreshold {
		factor := decimal.NewFromFloat(math.Log10(float64(quantity)) * 0.05)
		gross = gross.Sub(gross.Mul(factor))
	}

	if gross.IsNegative() {
		return decimal.Zero
	}
	return gross.Floor()
}

// CommitTransaction prices the item, seals a DEBIT entry carrying a deep
// snapshot of the purchased item, appends it, and returns the trace id.
func (s *Service) CommitTransaction(item *domain.CartLine, extra domain.Metadata) (string, error) {
	amount := CalculateLineItemTotal(item.UnitPrice, item.Quantity, item.VariantModifierTotal)

	metadata := domain.Metadata{
		"product_id":             item.ProductID,
		"sku":                    item.SKU,
		"name":                   item.Name,
		"quantity":               item.Quantity,
		"unit_price":             item.UnitPrice.String(),
		"variant_modifier_total": item.VariantModifierTotal.String(),
	}
	for k, v := range extra.Clone() {
		metadata[k] = v
	}

	return s.append(domain.EntryTypeDebit, amount, metadata)
}

// RecordCredit appends a CREDIT entry (refund / reversal of value).
func (s *Service) RecordCredit(amount decimal.Decimal, metadata domain.Metadata) (string, error) {
	return s.append(domain.EntryTypeCredit, amount, metadata.Clone())
}

// RecordAdjustment appends a signed ADJUSTMENT entry. Positive amounts raise
// the audited subtotal, negative amounts lower it.
func (s *Service) RecordAdjustment(amount decimal.Decimal, metadata domain.Metadata) (string, error) {
	return s.append(domain.EntryTypeAdjustment, amount, metadata.Clone())
}

// RecordVoid appends a VOID entry cancelling the entry with the given trace
// id. The voided entry stays in the history but is excluded from replay.
func (s *Service) RecordVoid(targetTraceID string, metadata domain.Metadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *domain.LedgerEntry
	voided := false
	for _, e := range s.entries {
		if e.TraceID == targetTraceID && e.Type != domain.EntryTypeVoid {
			target = e
		}
		if e.Type == domain.EntryTypeVoid {
			if id, _ := e.Metadata["voided_trace_id"].(string); id == targetTraceID {
				voided = true
			}
		}
	}

	if target == nil {
		return "", errors.ErrEntryNotFound
	}
	if voided {
		return "", errors.ErrEntryAlreadyVoided
	}

	meta := metadata.Clone()
	if meta == nil {
		meta = domain.Metadata{}
	}
	meta["voided_trace_id"] = targetTraceID

	return s.appendLocked(domain.EntryTypeVoid, decimal.Zero, meta)
}

func (s *Service) append(entryType domain.EntryType, amount decimal.Decimal, metadata domain.Metadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(entryType, amount, metadata)
}

func (s *Service) appendLocked(entryType domain.EntryType, amount decimal.Decimal, metadata domain.Metadata) (string, error) {
	s.seq++
	entry := &domain.LedgerEntry{
		Sequence:  s.seq,
		TraceID:   "TXN-" + uuid.NewString(),
		Timestamp: s.now(),
		Type:      entryType,
		Amount:    amount,
		Currency:  s.currency,
		Metadata:  metadata,
	}
	entry.Hash = seal(entry)
	s.entries = append(s.entries, entry)

	s.logger.Info("Ledger entry sealed", map[string]interface{}{
		"trace_id": entry.TraceID,
		"sequence": entry.Sequence,
		"type":     entry.Type,
		"amount":   entry.Amount.String(),
		"currency": entry.Currency,
	})
	return entry.TraceID, nil
}

// History returns a defensive, read-only copy of the full ledger in
// insertion order.
func (s *Service) History() []domain.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		copied := *e
		copied.Metadata = e.Metadata.Clone()
		out = append(out, copied)
	}
	return out
}

// AuditBalance is the replayed financial position of the ledger.
type AuditBalance struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	ServiceFee decimal.Decimal `json:"service_fee"`
	Total      decimal.Decimal `json:"total"`
	Entries    int             `json:"entries"`
}

// AuditBalance replays the full history: subtotal = debits - credits plus
// signed adjustments, skipping voided entries. Every entry's checksum is
// recomputed first; a mismatch fails the audit with
// ErrLedgerReplayInconsistency rather than producing a balance from corrupt
// history.
func (s *Service) AuditBalance() (*AuditBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	voided := make(map[string]bool)
	for _, e := range s.entries {
		if e.Type != domain.EntryTypeVoid {
			continue
		}
		if id, ok := e.Metadata["voided_trace_id"].(string); ok {
			voided[id] = true
		}
	}

	subtotal := decimal.Zero
	for _, e := range s.entries {
		if seal(e) != e.Hash {
			s.logger.Error("Ledger checksum mismatch", map[string]interface{}{
				"trace_id": e.TraceID,
				"sequence": e.Sequence,
			})
			return nil, errors.Wrap(errors.ErrLedgerReplayInconsistency, fmt.Sprintf("entry %s", e.TraceID))
		}
		if voided[e.TraceID] {
			continue
		}
		switch e.Type {
		case domain.EntryTypeDebit:
			subtotal = subtotal.Add(e.Amount)
		case domain.EntryTypeCredit:
			subtotal = subtotal.Sub(e.Amount)
		case domain.EntryTypeAdjustment:
			subtotal = subtotal.Add(e.Amount)
		}
	}

	tax := subtotal.Mul(s.taxRate).Floor()

	fee := decimal.Zero
	for _, tier := range serviceFeeTiers {
		if subtotal.GreaterThanOrEqual(tier.threshold) {
			fee = subtotal.Mul(tier.rate).Floor()
			break
		}
	}

	return &AuditBalance{
		Subtotal:   subtotal,
		Tax:        tax,
		ServiceFee: fee,
		Total:      subtotal.Add(tax).Add(fee),
		Entries:    len(s.entries),
	}, nil
}

// VerifyEntry recomputes one entry's checksum, for spot checks from admin
// tooling.
func (s *Service) VerifyEntry(traceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.TraceID == traceID {
			return seal(e) == e.Hash, nil
		}
	}
	return false, errors.ErrEntryNotFound
}

// seal serializes the entry deterministically and computes the rolling
// checksum. The hash detects accidental corruption and seeds idempotency
// keys; it is explicitly not a security primitive.
func seal(e *domain.LedgerEntry) string {
	serialized := fmt.Sprintf("%d|%s|%s|%s|%s|%d|%s",
		e.Sequence, e.TraceID, e.Type, e.Amount.String(), e.Currency,
		e.Timestamp.UnixMilli(), metadataJSON(e.Metadata))
	return checksum(serialized)
}

func metadataJSON(m domain.Metadata) string {
	if m == nil {
		return "{}"
	}
	// encoding/json sorts map keys, so the serialization is deterministic.
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// checksum is a 32-bit rolling hash (h = h*31 + byte), hex encoded.
func checksum(s string) string {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return fmt.Sprintf("%08x", h)
}
