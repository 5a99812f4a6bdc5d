package checkout

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bloomcore/internal/domain"
	"bloomcore/internal/notification"
	"bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
)

// --- Mocks ---

type MockAllocator struct {
	mock.Mock
}

func (m *MockAllocator) Allocate(productID string, quantity int) (uuid.UUID, error) {
	args := m.Called(productID, quantity)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockAllocator) ReleaseReservation(productID string, reservationID uuid.UUID) error {
	args := m.Called(productID, reservationID)
	return args.Error(0)
}

func (m *MockAllocator) ConfirmReservation(productID string, reservationID uuid.UUID) error {
	args := m.Called(productID, reservationID)
	return args.Error(0)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CommitTransaction(item *domain.CartLine, extra domain.Metadata) (string, error) {
	args := m.Called(item, extra)
	return args.String(0), args.Error(1)
}

type MockNetwork struct {
	mock.Mock
}

func (m *MockNetwork) ProcessDownlineTransaction(transactionID, sellerID string, amount decimal.Decimal) ([]domain.CommissionVector, error) {
	args := m.Called(transactionID, sellerID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CommissionVector), args.Error(1)
}

func (m *MockNetwork) AddPersonalVolume(resellerID string, amount decimal.Decimal) error {
	args := m.Called(resellerID, amount)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
	dispatched chan struct{}
}

func (m *MockNotifier) Dispatch(ctx context.Context, recipient string, channel notification.ChannelType, templateID string, data domain.Metadata) (*notification.DispatchResult, error) {
	args := m.Called(recipient, channel, templateID, data)
	if m.dispatched != nil {
		m.dispatched <- struct{}{}
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notification.DispatchResult), args.Error(1)
}

// --- Tests ---

func TestCheckout_Success(t *testing.T) {
	mockAlloc := new(MockAllocator)
	mockLedger := new(MockLedger)
	mockNetwork := new(MockNetwork)
	mockNotifier := &MockNotifier{dispatched: make(chan struct{}, 1)}

	service := NewService(mockAlloc, mockLedger, mockNetwork, mockNotifier, logger.NewNop())

	resA := uuid.New()
	resB := uuid.New()
	mockAlloc.On("Allocate", "TULIP", 11).Return(resA, nil)
	mockAlloc.On("Allocate", "ROSE", 2).Return(resB, nil)
	mockAlloc.On("ConfirmReservation", "TULIP", resA).Return(nil)
	mockAlloc.On("ConfirmReservation", "ROSE", resB).Return(nil)

	mockLedger.On("CommitTransaction", mock.MatchedBy(func(line *domain.CartLine) bool {
		return line.ProductID == "TULIP"
	}), mock.Anything).Return("TXN-1", nil)
	mockLedger.On("CommitTransaction", mock.MatchedBy(func(line *domain.CartLine) bool {
		return line.ProductID == "ROSE"
	}), mock.Anything).Return("TXN-2", nil)

	// line totals: 104272 (volume discount) + 16000
	expectedTotal := decimal.NewFromInt(120272)
	mockNetwork.On("AddPersonalVolume", "SELLER-7", mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(expectedTotal)
	})).Return(nil)
	mockNetwork.On("ProcessDownlineTransaction", mock.Anything, "SELLER-7", mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(expectedTotal)
	})).Return([]domain.CommissionVector{}, nil)

	mockNotifier.On("Dispatch", "buyer@example.com", notification.ChannelEmail, "ORDER_CONFIRMED", mock.Anything).
		Return(&notification.DispatchResult{Success: true, MessageID: uuid.New()}, nil)

	resp, err := service.Checkout(context.Background(), &CheckoutRequest{
		BuyerID:      "BUYER-1",
		BuyerContact: "buyer@example.com",
		ResellerID:   "SELLER-7",
		Lines: []domain.CartLine{
			{ProductID: "TULIP", Quantity: 11, UnitPrice: decimal.NewFromInt(10000)},
			{ProductID: "ROSE", Quantity: 2, UnitPrice: decimal.NewFromInt(8000)},
		},
	})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, []string{"TXN-1", "TXN-2"}, resp.TraceIDs)
	assert.True(t, resp.Total.Equal(expectedTotal), "total %s", resp.Total)

	select {
	case <-mockNotifier.dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was never dispatched")
	}

	mockAlloc.AssertExpectations(t)
	mockLedger.AssertExpectations(t)
	mockNetwork.AssertExpectations(t)
}

func TestCheckout_RollsBackOnFailedLine(t *testing.T) {
	mockAlloc := new(MockAllocator)
	mockLedger := new(MockLedger)
	mockNetwork := new(MockNetwork)
	mockNotifier := new(MockNotifier)

	service := NewService(mockAlloc, mockLedger, mockNetwork, mockNotifier, logger.NewNop())

	resA := uuid.New()
	mockAlloc.On("Allocate", "TULIP", 5).Return(resA, nil)
	mockAlloc.On("Allocate", "ORCHID", 40).Return(uuid.Nil, errors.ErrInsufficientInventory)
	mockAlloc.On("ReleaseReservation", "TULIP", resA).Return(nil)

	resp, err := service.Checkout(context.Background(), &CheckoutRequest{
		BuyerID: "BUYER-1",
		Lines: []domain.CartLine{
			{ProductID: "TULIP", Quantity: 5, UnitPrice: decimal.NewFromInt(10000)},
			{ProductID: "ORCHID", Quantity: 40, UnitPrice: decimal.NewFromInt(25000)},
		},
	})

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, errors.ErrInsufficientInventory)

	// The failing checkout never reaches the ledger or the network.
	mockLedger.AssertNotCalled(t, "CommitTransaction", mock.Anything, mock.Anything)
	mockNetwork.AssertNotCalled(t, "AddPersonalVolume", mock.Anything, mock.Anything)
	mockAlloc.AssertExpectations(t)
}

func TestCheckout_MidCommitFailureSettlesHolds(t *testing.T) {
	mockAlloc := new(MockAllocator)
	mockLedger := new(MockLedger)
	mockNetwork := new(MockNetwork)
	mockNotifier := new(MockNotifier)

	service := NewService(mockAlloc, mockLedger, mockNetwork, mockNotifier, logger.NewNop())

	resA := uuid.New()
	resB := uuid.New()
	mockAlloc.On("Allocate", "TULIP", 3).Return(resA, nil)
	mockAlloc.On("Allocate", "ROSE", 2).Return(resB, nil)

	commitErr := stderrors.New("ledger store offline")
	mockLedger.On("CommitTransaction", mock.MatchedBy(func(line *domain.CartLine) bool {
		return line.ProductID == "TULIP"
	}), mock.Anything).Return("TXN-1", nil)
	mockLedger.On("CommitTransaction", mock.MatchedBy(func(line *domain.CartLine) bool {
		return line.ProductID == "ROSE"
	}), mock.Anything).Return("", commitErr)

	// The committed line keeps its draw-down; only the uncommitted one reverts.
	mockAlloc.On("ConfirmReservation", "TULIP", resA).Return(nil)
	mockAlloc.On("ReleaseReservation", "ROSE", resB).Return(nil)

	resp, err := service.Checkout(context.Background(), &CheckoutRequest{
		BuyerID: "BUYER-1",
		Lines: []domain.CartLine{
			{ProductID: "TULIP", Quantity: 3, UnitPrice: decimal.NewFromInt(10000)},
			{ProductID: "ROSE", Quantity: 2, UnitPrice: decimal.NewFromInt(8000)},
		},
	})

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, commitErr)

	mockAlloc.AssertExpectations(t)
	mockAlloc.AssertNotCalled(t, "ReleaseReservation", "TULIP", resA)
	mockNetwork.AssertNotCalled(t, "AddPersonalVolume", mock.Anything, mock.Anything)
}

func TestCheckout_EmptyCart(t *testing.T) {
	service := NewService(new(MockAllocator), new(MockLedger), new(MockNetwork), new(MockNotifier), logger.NewNop())

	resp, err := service.Checkout(context.Background(), &CheckoutRequest{BuyerID: "BUYER-1"})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, errors.ErrEmptyCart)
}

func TestCheckout_UnknownResellerDoesNotFailOrder(t *testing.T) {
	mockAlloc := new(MockAllocator)
	mockLedger := new(MockLedger)
	mockNetwork := new(MockNetwork)
	mockNotifier := &MockNotifier{dispatched: make(chan struct{}, 1)}

	service := NewService(mockAlloc, mockLedger, mockNetwork, mockNotifier, logger.NewNop())

	resA := uuid.New()
	mockAlloc.On("Allocate", "TULIP", 1).Return(resA, nil)
	mockAlloc.On("ConfirmReservation", "TULIP", resA).Return(nil)
	mockLedger.On("CommitTransaction", mock.Anything, mock.Anything).Return("TXN-1", nil)
	mockNetwork.On("AddPersonalVolume", "GHOST", mock.Anything).Return(errors.ErrResellerNotFound)
	mockNotifier.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&notification.DispatchResult{Success: true, MessageID: uuid.New()}, nil)

	resp, err := service.Checkout(context.Background(), &CheckoutRequest{
		BuyerID:    "BUYER-1",
		ResellerID: "GHOST",
		Lines: []domain.CartLine{
			{ProductID: "TULIP", Quantity: 1, UnitPrice: decimal.NewFromInt(10000)},
		},
	})

	require.NoError(t, err)
	require.NotNil(t, resp)
	mockNetwork.AssertNotCalled(t, "ProcessDownlineTransaction", mock.Anything, mock.Anything, mock.Anything)

	select {
	case <-mockNotifier.dispatched:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was never dispatched")
	}
}
