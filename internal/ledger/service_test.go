package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomcore/internal/domain"
	"bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
)

func newTestLedger() *Service {
	s := NewService(domain.IDR, 0.11, logger.NewNop())
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return current })
	return s
}

func TestCalculateLineItemTotal(t *testing.T) {
	// No discount at or below ten units.
	total := CalculateLineItemTotal(decimal.NewFromInt(10000), 10, decimal.Zero)
	assert.True(t, total.Equal(decimal.NewFromInt(100000)), "got %s", total)

	// Variant modifiers are added before multiplying.
	total = CalculateLineItemTotal(decimal.NewFromInt(10000), 2, decimal.NewFromInt(500))
	assert.True(t, total.Equal(decimal.NewFromInt(21000)), "got %s", total)

	// Logarithmic volume discount above ten units:
	// gross=110000, discount=110000*log10(11)*0.05~=5727.66, floored.
	total = CalculateLineItemTotal(decimal.NewFromInt(10000), 11, decimal.Zero)
	assert.True(t, total.Equal(decimal.NewFromInt(104272)), "got %s", total)
}

func TestCommitTransaction_SealsDebitEntry(t *testing.T) {
	s := newTestLedger()

	line := &domain.CartLine{
		ProductID: "TULIP",
		SKU:       "TLP-RED-12",
		Name:      "Red Tulip Bundle",
		Quantity:  11,
		UnitPrice: decimal.NewFromInt(10000),
	}

	traceID, err := s.CommitTransaction(line, domain.Metadata{"order_id": "ORD-1"})
	require.NoError(t, err)
	require.NotEmpty(t, traceID)

	history := s.History()
	require.Len(t, history, 1)

	entry := history[0]
	assert.Equal(t, domain.EntryTypeDebit, entry.Type)
	assert.Equal(t, uint64(1), entry.Sequence)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(104272)))
	assert.Equal(t, "TULIP", entry.Metadata["product_id"])
	assert.Equal(t, "ORD-1", entry.Metadata["order_id"])
	assert.NotEmpty(t, entry.Hash)

	valid, err := s.VerifyEntry(traceID)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestHistory_DefensiveCopy(t *testing.T) {
	s := newTestLedger()
	_, err := s.CommitTransaction(&domain.CartLine{
		ProductID: "ROSE",
		Quantity:  1,
		UnitPrice: decimal.NewFromInt(5000),
	}, nil)
	require.NoError(t, err)

	first := s.History()
	first[0].Metadata["product_id"] = "tampered"
	first[0].Amount = decimal.NewFromInt(1)

	second := s.History()
	assert.Equal(t, "ROSE", second[0].Metadata["product_id"])
	assert.True(t, second[0].Amount.Equal(decimal.NewFromInt(5000)))
}

func TestAuditBalance_DebitsOnly(t *testing.T) {
	s := newTestLedger()

	_, err := s.CommitTransaction(&domain.CartLine{
		ProductID: "TULIP", Quantity: 11, UnitPrice: decimal.NewFromInt(10000),
	}, nil)
	require.NoError(t, err)
	_, err = s.CommitTransaction(&domain.CartLine{
		ProductID: "ROSE", Quantity: 10, UnitPrice: decimal.NewFromInt(5000),
	}, nil)
	require.NoError(t, err)

	balance, err := s.AuditBalance()
	require.NoError(t, err)

	// 104272 + 50000
	assert.True(t, balance.Subtotal.Equal(decimal.NewFromInt(154272)), "subtotal %s", balance.Subtotal)
	// floor(154272 * 0.11)
	assert.True(t, balance.Tax.Equal(decimal.NewFromInt(16969)), "tax %s", balance.Tax)
	// 154272 falls in the 100000 tier: floor(154272 * 0.03)
	assert.True(t, balance.ServiceFee.Equal(decimal.NewFromInt(4628)), "fee %s", balance.ServiceFee)
	assert.True(t, balance.Total.Equal(decimal.NewFromInt(175869)), "total %s", balance.Total)
}

func TestAuditBalance_EmptyLedger(t *testing.T) {
	s := newTestLedger()

	balance, err := s.AuditBalance()
	require.NoError(t, err)
	assert.True(t, balance.Subtotal.IsZero())
	assert.True(t, balance.Tax.IsZero())
	assert.True(t, balance.ServiceFee.IsZero())
	assert.True(t, balance.Total.IsZero())
}

func TestAuditBalance_CreditsAndAdjustments(t *testing.T) {
	s := newTestLedger()

	_, err := s.CommitTransaction(&domain.CartLine{
		ProductID: "TULIP", Quantity: 10, UnitPrice: decimal.NewFromInt(20000),
	}, nil)
	require.NoError(t, err)

	_, err = s.RecordCredit(decimal.NewFromInt(50000), domain.Metadata{"reason": "refund"})
	require.NoError(t, err)

	_, err = s.RecordAdjustment(decimal.NewFromInt(-10000), domain.Metadata{"reason": "breakage"})
	require.NoError(t, err)

	balance, err := s.AuditBalance()
	require.NoError(t, err)
	// 200000 - 50000 - 10000
	assert.True(t, balance.Subtotal.Equal(decimal.NewFromInt(140000)), "subtotal %s", balance.Subtotal)
}

func TestRecordVoid_ExcludesEntryFromReplay(t *testing.T) {
	s := newTestLedger()

	_, err := s.CommitTransaction(&domain.CartLine{
		ProductID: "TULIP", Quantity: 10, UnitPrice: decimal.NewFromInt(10000),
	}, nil)
	require.NoError(t, err)

	drop, err := s.CommitTransaction(&domain.CartLine{
		ProductID: "ROSE", Quantity: 1, UnitPrice: decimal.NewFromInt(30000),
	}, nil)
	require.NoError(t, err)

	_, err = s.RecordVoid(drop, domain.Metadata{"reason": "operator error"})
	require.NoError(t, err)

	balance, err := s.AuditBalance()
	require.NoError(t, err)
	assert.True(t, balance.Subtotal.Equal(decimal.NewFromInt(100000)), "subtotal %s", balance.Subtotal)

	// The voided entry stays in the history.
	history := s.History()
	assert.Len(t, history, 3)

	// Voiding twice or voiding a ghost fails.
	_, err = s.RecordVoid(drop, nil)
	assert.ErrorIs(t, err, errors.ErrEntryAlreadyVoided)
	_, err = s.RecordVoid("TXN-missing", nil)
	assert.ErrorIs(t, err, errors.ErrEntryNotFound)
}

func TestAuditBalance_ChecksumMismatchFailsHard(t *testing.T) {
	s := newTestLedger()

	_, err := s.CommitTransaction(&domain.CartLine{
		ProductID: "TULIP", Quantity: 1, UnitPrice: decimal.NewFromInt(10000),
	}, nil)
	require.NoError(t, err)

	// Corrupt the sealed entry behind the service's back.
	s.entries[0].Amount = decimal.NewFromInt(999999)

	_, err = s.AuditBalance()
	assert.ErrorIs(t, err, errors.ErrLedgerReplayInconsistency)
}

func TestReads_AreIdempotent(t *testing.T) {
	s := newTestLedger()

	_, err := s.CommitTransaction(&domain.CartLine{
		ProductID: "TULIP", Quantity: 3, UnitPrice: decimal.NewFromInt(7000),
	}, nil)
	require.NoError(t, err)

	h1 := s.History()
	h2 := s.History()
	assert.Equal(t, h1, h2)

	b1, err := s.AuditBalance()
	require.NoError(t, err)
	b2, err := s.AuditBalance()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}
