// Package domain defines the core commerce types shared by the engines.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency represents ISO 4217 currency codes
type Currency string

const (
	IDR Currency = "IDR" // Indonesian Rupiah
	USD Currency = "USD" // US Dollar
)

// Metadata holds arbitrary key-value metadata.
type Metadata map[string]interface{}

// Clone returns an independent deep copy produced via a JSON round trip,
// so sealed snapshots cannot alias caller-owned maps.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return Metadata{}
	}
	var out Metadata
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}
	}
	return out
}

// BatchStatus represents the administrative state of an inventory batch.
type BatchStatus string

const (
	BatchStatusAvailable BatchStatus = "AVAILABLE"
	BatchStatusSpoiled   BatchStatus = "SPOILED"
)

// InventoryBatch is a perishable lot of a single product. Batches are created
// at restock, drawn down by confirmed reservations, and never deleted; a batch
// that has run out or spoiled is retained for audit. Time-based expiry is a
// derived predicate (now after ExpiryDate), not a stored status transition.
type InventoryBatch struct {
	BatchID         string          `json:"batch_id"`
	ProductID       string          `json:"product_id"`
	InitialQuantity int             `json:"initial_quantity"`
	CurrentQuantity int             `json:"current_quantity"`
	ManufactureDate time.Time       `json:"manufacture_date"`
	ExpiryDate      time.Time       `json:"expiry_date"`
	SpoilageRate    decimal.Decimal `json:"spoilage_rate"`
	Status          BatchStatus     `json:"status"`
}

// Expired reports whether the batch is past its expiry at the given instant.
func (b *InventoryBatch) Expired(now time.Time) bool {
	return now.After(b.ExpiryDate)
}

// Sellable reports whether the batch may satisfy allocations at the given instant.
func (b *InventoryBatch) Sellable(now time.Time) bool {
	return b.Status != BatchStatusSpoiled && !b.Expired(now)
}

// Reservation is a short-lived hold against one batch. An allocation that
// spans several batches produces several records sharing one ReservationID.
type Reservation struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	ProductID     string    `json:"product_id"`
	BatchID       string    `json:"batch_id"`
	Quantity      int       `json:"quantity"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the hold has lapsed at the given instant.
func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// EntryType classifies ledger entries.
type EntryType string

const (
	EntryTypeDebit      EntryType = "DEBIT"
	EntryTypeCredit     EntryType = "CREDIT"
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
	EntryTypeVoid       EntryType = "VOID"
)

// LedgerEntry is one sealed monetary event. Once appended the entry is
// immutable; Hash is a tamper-evidence checksum over its serialized form,
// not a cryptographic guarantee.
type LedgerEntry struct {
	Sequence  uint64          `json:"sequence"`
	TraceID   string          `json:"trace_id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EntryType       `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  Currency        `json:"currency"`
	Metadata  Metadata        `json:"metadata"`
	Hash      string          `json:"hash"`
}

// ResellerTier is the categorical rank of a reseller node.
type ResellerTier string

const (
	TierStandard ResellerTier = "STANDARD"
	TierSilver   ResellerTier = "SILVER"
	TierGold     ResellerTier = "GOLD"
	TierPlatinum ResellerTier = "PLATINUM"
	TierDiamond  ResellerTier = "DIAMOND"
)

// ResellerNode is one member of the commission forest. UplineID may reference
// a node that was never enrolled locally (a dangling root reference); the
// commission cascade treats that as the top of the chain.
type ResellerNode struct {
	ResellerID            string             `json:"reseller_id"`
	UplineID              string             `json:"upline_id,omitempty"`
	Tier                  ResellerTier       `json:"tier"`
	PersonalSalesVelocity decimal.Decimal    `json:"personal_sales_velocity"`
	DownlineIDs           []string           `json:"downline_ids"`
	TotalNetworkVolume    decimal.Decimal    `json:"total_network_volume"`
	Commissions           []CommissionVector `json:"-"`
	EnrolledAt            time.Time          `json:"enrolled_at"`
}

// CommissionVector is one commission payout attributed to a single
// beneficiary node. Append-only.
type CommissionVector struct {
	SourceTransactionID string          `json:"source_transaction_id"`
	FromResellerID      string          `json:"from_reseller_id"`
	Level               int             `json:"level"`
	Rate                decimal.Decimal `json:"rate"`
	Amount              decimal.Decimal `json:"amount"`
	Timestamp           time.Time       `json:"timestamp"`
}

// CartLine is one purchasable line in a checkout request.
type CartLine struct {
	ProductID            string          `json:"product_id" validate:"required"`
	SKU                  string          `json:"sku"`
	Name                 string          `json:"name"`
	Quantity             int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice            decimal.Decimal `json:"unit_price" validate:"required,gte=0"`
	VariantModifierTotal decimal.Decimal `json:"variant_modifier_total"`
}
