// Package inventory owns perishable stock batches and short-lived
// reservations, and answers how much of a product can be sold right now.
package inventory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bloomcore/internal/domain"
	"bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
)

// Allocator serializes mutations per product: concurrent allocations for the
// same product cannot double-reserve, while different products proceed
// independently.
type Allocator struct {
	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time

	mu       sync.RWMutex
	products map[string]*productStock
}

type productStock struct {
	mu           sync.Mutex
	batches      []*domain.InventoryBatch // sorted ascending by expiry (FIFO-by-expiry)
	reservations []*domain.Reservation
}

// NewAllocator creates an Allocator with the given reservation TTL.
func NewAllocator(ttl time.Duration, log logger.Logger) *Allocator {
	return &Allocator{
		ttl:      ttl,
		logger:   log,
		now:      time.Now,
		products: make(map[string]*productStock),
	}
}

// SetClock overrides the time source. Tests use this to simulate TTL expiry.
func (a *Allocator) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Allocator) product(productID string, create bool) *productStock {
	a.mu.RLock()
	ps, ok := a.products[productID]
	a.mu.RUnlock()
	if ok || !create {
		return ps
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if ps, ok = a.products[productID]; ok {
		return ps
	}
	ps = &productStock{}
	a.products[productID] = ps
	return ps
}

// AddBatch registers a new perishable batch and re-sorts the product's batch
// list by expiry. Used at hydration and restock.
func (a *Allocator) AddBatch(batch *domain.InventoryBatch) error {
	if batch.BatchID == "" {
		batch.BatchID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = domain.BatchStatusAvailable
	}
	if batch.CurrentQuantity == 0 {
		batch.CurrentQuantity = batch.InitialQuantity
	}

	ps := a.product(batch.ProductID, true)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.batches = append(ps.batches, batch)
	sort.SliceStable(ps.batches, func(i, j int) bool {
		return ps.batches[i].ExpiryDate.Before(ps.batches[j].ExpiryDate)
	})

	a.logger.Info("Inventory batch added", map[string]interface{}{
		"batch_id":   batch.BatchID,
		"product_id": batch.ProductID,
		"quantity":   batch.CurrentQuantity,
		"expires_at": batch.ExpiryDate,
	})
	return nil
}

// AvailableStock returns the sellable quantity for a product right now.
// Expired reservations are pruned first; expired or spoiled batches are
// excluded from the sum.
func (a *Allocator) AvailableStock(productID string) int {
	ps := a.product(productID, false)
	if ps == nil {
		return 0
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := a.now()
	a.pruneLocked(ps, now)
	return a.availableLocked(ps, now)
}

// availableLocked sums max(0, currentQuantity - reserved) over sellable batches.
func (a *Allocator) availableLocked(ps *productStock, now time.Time) int {
	total := 0
	for _, b := range ps.batches {
		if !b.Sellable(now) {
			continue
		}
		free := b.CurrentQuantity - a.reservedForLocked(ps, b.BatchID)
		if free > 0 {
			total += free
		}
	}
	return total
}

func (a *Allocator) reservedForLocked(ps *productStock, batchID string) int {
	reserved := 0
	for _, r := range ps.reservations {
		if r.BatchID == batchID {
			reserved += r.Quantity
		}
	}
	return reserved
}

// Allocate places a 15-minute hold on the requested quantity, consuming the
// soonest-to-expire batches first. If the product cannot cover the request
// the call fails with ErrInsufficientInventory and leaves no side effects.
// One reservation id is returned even when the hold spans several batches.
func (a *Allocator) Allocate(productID string, quantity int) (uuid.UUID, error) {
	ps := a.product(productID, false)
	if ps == nil {
		return uuid.Nil, errors.ErrInsufficientInventory
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := a.now()
	a.pruneLocked(ps, now)

	if a.availableLocked(ps, now) < quantity {
		a.logger.Warn("Allocation rejected: insufficient stock", map[string]interface{}{
			"product_id": productID,
			"requested":  quantity,
		})
		return uuid.Nil, errors.ErrInsufficientInventory
	}

	reservationID := uuid.New()
	expiresAt := now.Add(a.ttl)
	remaining := quantity

	for _, b := range ps.batches {
		if remaining == 0 {
			break
		}
		if !b.Sellable(now) {
			continue
		}
		free := b.CurrentQuantity - a.reservedForLocked(ps, b.BatchID)
		if free <= 0 {
			continue
		}
		take := free
		if take > remaining {
			take = remaining
		}
		ps.reservations = append(ps.reservations, &domain.Reservation{
			ReservationID: reservationID,
			ProductID:     productID,
			BatchID:       b.BatchID,
			Quantity:      take,
			ExpiresAt:     expiresAt,
		})
		remaining -= take
	}

	a.logger.Info("Stock allocated", map[string]interface{}{
		"product_id":     productID,
		"quantity":       quantity,
		"reservation_id": reservationID,
		"expires_at":     expiresAt,
	})
	return reservationID, nil
}

// ReleaseReservation drops an active hold before its TTL, returning the
// capacity to the pool. Callers use this to roll back a checkout line.
func (a *Allocator) ReleaseReservation(productID string, reservationID uuid.UUID) error {
	ps := a.product(productID, false)
	if ps == nil {
		return errors.ErrReservationNotFound
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	kept := ps.reservations[:0]
	released := 0
	for _, r := range ps.reservations {
		if r.ReservationID == reservationID {
			released += r.Quantity
			continue
		}
		kept = append(kept, r)
	}
	ps.reservations = kept

	if released == 0 {
		return errors.ErrReservationNotFound
	}

	a.logger.Info("Reservation released", map[string]interface{}{
		"product_id":     productID,
		"reservation_id": reservationID,
		"quantity":       released,
	})
	return nil
}

// ConfirmReservation converts an active hold into a permanent draw-down of
// the referenced batches. The batch records themselves are retained for
// audit even when drawn to zero.
func (a *Allocator) ConfirmReservation(productID string, reservationID uuid.UUID) error {
	ps := a.product(productID, false)
	if ps == nil {
		return errors.ErrReservationNotFound
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := a.now()
	a.pruneLocked(ps, now)

	byBatch := make(map[string]*domain.InventoryBatch, len(ps.batches))
	for _, b := range ps.batches {
		byBatch[b.BatchID] = b
	}

	kept := ps.reservations[:0]
	confirmed := 0
	for _, r := range ps.reservations {
		if r.ReservationID != reservationID {
			kept = append(kept, r)
			continue
		}
		if b, ok := byBatch[r.BatchID]; ok {
			b.CurrentQuantity -= r.Quantity
			if b.CurrentQuantity < 0 {
				b.CurrentQuantity = 0
			}
		}
		confirmed += r.Quantity
	}
	ps.reservations = kept

	if confirmed == 0 {
		return errors.ErrReservationNotFound
	}

	a.logger.Info("Reservation confirmed", map[string]interface{}{
		"product_id":     productID,
		"reservation_id": reservationID,
		"quantity":       confirmed,
	})
	return nil
}

// PruneExpiredReservations sweeps lapsed holds across every product. Expiry
// is also evaluated lazily at the start of each stock query, so this is
// housekeeping rather than a correctness requirement.
func (a *Allocator) PruneExpiredReservations() {
	a.mu.RLock()
	products := make([]*productStock, 0, len(a.products))
	for _, ps := range a.products {
		products = append(products, ps)
	}
	a.mu.RUnlock()

	now := a.now()
	for _, ps := range products {
		ps.mu.Lock()
		a.pruneLocked(ps, now)
		ps.mu.Unlock()
	}
}

func (a *Allocator) pruneLocked(ps *productStock, now time.Time) {
	kept := ps.reservations[:0]
	for _, r := range ps.reservations {
		if r.Expired(now) {
			continue
		}
		kept = append(kept, r)
	}
	ps.reservations = kept
}

// HealthIndex reports the quantity-weighted average remaining shelf life for
// a product's stock, in whole hours. A product with no batches (or no
// remaining quantity) scores 0.
func (a *Allocator) HealthIndex(productID string) int {
	ps := a.product(productID, false)
	if ps == nil {
		return 0
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := a.now()
	var weighted, totalQty int64
	for _, b := range ps.batches {
		if b.CurrentQuantity <= 0 {
			continue
		}
		timeLeft := b.ExpiryDate.Sub(now).Milliseconds()
		if timeLeft < 0 {
			timeLeft = 0
		}
		weighted += timeLeft * int64(b.CurrentQuantity)
		totalQty += int64(b.CurrentQuantity)
	}
	if totalQty == 0 {
		return 0
	}
	return int(weighted / totalQty / 3_600_000)
}

// WriteOffBatch marks a batch SPOILED, removing it from sellable stock.
// Spoilage by time is a derived predicate; this is the explicit
// administrative transition for manual write-offs.
func (a *Allocator) WriteOffBatch(productID, batchID string) error {
	ps := a.product(productID, false)
	if ps == nil {
		return errors.ErrProductNotFound
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, b := range ps.batches {
		if b.BatchID != batchID {
			continue
		}
		if b.Status == domain.BatchStatusSpoiled {
			return errors.ErrBatchAlreadySpoiled
		}
		b.Status = domain.BatchStatusSpoiled
		a.logger.Warn("Batch written off as spoiled", map[string]interface{}{
			"product_id": productID,
			"batch_id":   batchID,
			"quantity":   b.CurrentQuantity,
		})
		return nil
	}
	return errors.ErrBatchNotFound
}

// Batches returns defensive copies of a product's batches for admin display.
func (a *Allocator) Batches(productID string) []domain.InventoryBatch {
	ps := a.product(productID, false)
	if ps == nil {
		return nil
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]domain.InventoryBatch, 0, len(ps.batches))
	for _, b := range ps.batches {
		out = append(out, *b)
	}
	return out
}
