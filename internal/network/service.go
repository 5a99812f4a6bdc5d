// Package network owns the reseller commission forest: recursive volume
// aggregation, tier evaluation, and the upward commission cascade.
package network

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bloomcore/internal/domain"
	"bloomcore/pkg/errors"
	"bloomcore/pkg/logger"
)

// tierStep maps a qualifying metric threshold to a tier. Ordered ascending;
// the highest threshold at or below the metric wins.
type tierStep struct {
	tier      domain.ResellerTier
	threshold decimal.Decimal
}

var tierTable = []tierStep{
	{domain.TierStandard, decimal.Zero},
	{domain.TierSilver, decimal.NewFromInt(5_000_000)},
	{domain.TierGold, decimal.NewFromInt(15_000_000)},
	{domain.TierPlatinum, decimal.NewFromInt(50_000_000)},
	{domain.TierDiamond, decimal.NewFromInt(150_000_000)},
}

// cascadeRates are the per-level commission rates walking up the tree.
var cascadeRates = []decimal.Decimal{
	decimal.NewFromFloat(0.10),
	decimal.NewFromFloat(0.05),
	decimal.NewFromFloat(0.02),
}

// Service holds the reseller forest as an arena of nodes keyed by id.
// A single RWMutex serializes writers over the whole tree, since volume
// recalculation mutates node state while reading descendant state.
type Service struct {
	logger logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	nodes map[string]*domain.ResellerNode
}

// NewService creates an empty commission network.
func NewService(log logger.Logger) *Service {
	return &Service{
		logger: log,
		now:    time.Now,
		nodes:  make(map[string]*domain.ResellerNode),
	}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Enroll adds a reseller under the given upline. The upline id may reference
// a node that is not enrolled locally (a dangling root reference); the
// cascade treats that as the top of the chain. Enrollment is where the
// acyclic-forest invariant is enforced: a parent chain that would lead back
// to the new id is rejected.
func (s *Service) Enroll(resellerID, uplineID string, personalSalesVelocity decimal.Decimal) (*domain.ResellerNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[resellerID]; exists {
		return nil, errors.ErrResellerExists
	}

	for id := uplineID; id != ""; {
		if id == resellerID {
			return nil, errors.ErrNetworkCycle
		}
		ancestor, ok := s.nodes[id]
		if !ok {
			break
		}
		id = ancestor.UplineID
	}

	node := &domain.ResellerNode{
		ResellerID:            resellerID,
		UplineID:              uplineID,
		Tier:                  domain.TierStandard,
		PersonalSalesVelocity: personalSalesVelocity,
		TotalNetworkVolume:    decimal.Zero,
		EnrolledAt:            s.now(),
	}
	s.nodes[resellerID] = node

	if upline, ok := s.nodes[uplineID]; ok {
		upline.DownlineIDs = append(upline.DownlineIDs, resellerID)
	}

	// A node enrolling after its downlines adopts them, so that volume
	// recalculation sees the subtrees the cascade already pays for.
	for id, existing := range s.nodes {
		if id != resellerID && existing.UplineID == resellerID {
			node.DownlineIDs = append(node.DownlineIDs, id)
		}
	}
	sort.Strings(node.DownlineIDs)

	s.logger.Info("Reseller enrolled", map[string]interface{}{
		"reseller_id": resellerID,
		"upline_id":   uplineID,
		"velocity":    personalSalesVelocity.String(),
	})
	return s.copyNodeLocked(node), nil
}

// RecalculateNetworkVolume re-aggregates downstream sales volume for the
// subtree rooted at rootID with a post-order depth-first walk. Every node in
// the subtree gets its TotalNetworkVolume memoized and its tier re-evaluated
// as a side effect.
func (s *Service) RecalculateNetworkVolume(rootID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[rootID]; !ok {
		return decimal.Zero, errors.ErrResellerNotFound
	}
	total := s.recalculateLocked(rootID)

	s.logger.Info("Network volume recalculated", map[string]interface{}{
		"root_id": rootID,
		"volume":  total.String(),
	})
	return total, nil
}

func (s *Service) recalculateLocked(id string) decimal.Decimal {
	node := s.nodes[id]
	total := decimal.Zero
	for _, childID := range node.DownlineIDs {
		child, ok := s.nodes[childID]
		if !ok {
			continue
		}
		total = total.Add(child.PersonalSalesVelocity).Add(s.recalculateLocked(childID))
	}
	node.TotalNetworkVolume = total
	s.evaluateTierLocked(node)
	return total
}

// evaluateTierLocked applies the qualifying metric
// max(personal, network * 0.5) against the ascending tier table.
func (s *Service) evaluateTierLocked(node *domain.ResellerNode) {
	metric := node.PersonalSalesVelocity
	half := node.TotalNetworkVolume.Mul(decimal.NewFromFloat(0.5))
	if half.GreaterThan(metric) {
		metric = half
	}

	tier := domain.TierStandard
	for _, step := range tierTable {
		if metric.GreaterThanOrEqual(step.threshold) {
			tier = step.tier
		}
	}

	if tier != node.Tier {
		s.logger.Info("Reseller tier changed", map[string]interface{}{
			"reseller_id": node.ResellerID,
			"from":        node.Tier,
			"to":          tier,
		})
		node.Tier = tier
	}
}

// ProcessDownlineTransaction cascades commissions upward from the seller's
// direct upline for up to three levels. The walk stops early, without error,
// when an upline id does not resolve to an enrolled node.
func (s *Service) ProcessDownlineTransaction(transactionID, sellerID string, amount decimal.Decimal) ([]domain.CommissionVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seller, ok := s.nodes[sellerID]
	if !ok {
		return nil, errors.ErrResellerNotFound
	}

	var paid []domain.CommissionVector
	currentID := seller.UplineID
	for level, rate := range cascadeRates {
		if currentID == "" {
			break
		}
		beneficiary, ok := s.nodes[currentID]
		if !ok {
			// Dangling upline reference: the chain ends here even though
			// the level budget is not exhausted.
			s.logger.Warn("Commission cascade stopped at dangling upline", map[string]interface{}{
				"transaction_id": transactionID,
				"upline_id":      currentID,
				"level":          level + 1,
			})
			break
		}

		vector := domain.CommissionVector{
			SourceTransactionID: transactionID,
			FromResellerID:      sellerID,
			Level:               level + 1,
			Rate:                rate,
			Amount:              amount.Mul(rate).Floor(),
			Timestamp:           s.now(),
		}
		beneficiary.Commissions = append(beneficiary.Commissions, vector)
		paid = append(paid, vector)

		s.logger.Info("Commission distributed", map[string]interface{}{
			"transaction_id": transactionID,
			"beneficiary":    beneficiary.ResellerID,
			"level":          vector.Level,
			"amount":         vector.Amount.String(),
		})
		currentID = beneficiary.UplineID
	}

	return paid, nil
}

// AddPersonalVolume credits a completed sale to the seller's own velocity,
// feeding the next volume aggregation.
func (s *Service) AddPersonalVolume(resellerID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[resellerID]
	if !ok {
		return errors.ErrResellerNotFound
	}
	node.PersonalSalesVelocity = node.PersonalSalesVelocity.Add(amount)
	s.evaluateTierLocked(node)
	return nil
}

// Stats is a read-only projection of one reseller node.
type Stats struct {
	ResellerID        string              `json:"reseller_id"`
	Tier              domain.ResellerTier `json:"tier"`
	PersonalVolume    decimal.Decimal     `json:"personal_volume"`
	NetworkVolume     decimal.Decimal     `json:"network_volume"`
	DirectDownlines   int                 `json:"direct_downlines"`
	TotalEarnings     decimal.Decimal     `json:"total_earnings"`
	NextTierThreshold decimal.Decimal     `json:"next_tier_threshold"`
}

// NetworkStats projects tier, volumes, direct (non-recursive) downline
// count, cumulative commission earnings, and the threshold of the next tier
// (zero at the top tier).
func (s *Service) NetworkStats(resellerID string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[resellerID]
	if !ok {
		return nil, errors.ErrResellerNotFound
	}

	earnings := decimal.Zero
	for _, v := range node.Commissions {
		earnings = earnings.Add(v.Amount)
	}

	next := decimal.Zero
	for i, step := range tierTable {
		if step.tier == node.Tier && i+1 < len(tierTable) {
			next = tierTable[i+1].threshold
		}
	}

	return &Stats{
		ResellerID:        node.ResellerID,
		Tier:              node.Tier,
		PersonalVolume:    node.PersonalSalesVelocity,
		NetworkVolume:     node.TotalNetworkVolume,
		DirectDownlines:   len(node.DownlineIDs),
		TotalEarnings:     earnings,
		NextTierThreshold: next,
	}, nil
}

// Node returns a defensive copy of one reseller node for admin display.
func (s *Service) Node(resellerID string) (*domain.ResellerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[resellerID]
	if !ok {
		return nil, errors.ErrResellerNotFound
	}
	return s.copyNodeLocked(node), nil
}

func (s *Service) copyNodeLocked(node *domain.ResellerNode) *domain.ResellerNode {
	copied := *node
	copied.DownlineIDs = append([]string(nil), node.DownlineIDs...)
	copied.Commissions = append([]domain.CommissionVector(nil), node.Commissions...)
	return &copied
}
