// Package domain defines the core entities, store contracts, and sentinel
// errors shared by every layer of the points market.
package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
// Valid transitions are open → closed → resolved and open → resolved;
// nothing transitions out of resolved.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Side identifies one of the two outcomes of a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is one of the two recognised sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Market is a binary-outcome prediction market priced by a constant-product
// market maker. YesShares and NoShares are the two reserve pools; their
// product is preserved by every trade. Both reserves stay strictly positive
// while the market is open or closed, and are only ever adjusted through
// trades or resolution bookkeeping.
type Market struct {
	ID              string
	Title           string
	CreatorID       string
	YesShares       float64
	NoShares        float64
	LiquidityParam  float64 // yes*no at creation; informative only
	Status          MarketStatus
	ResolvedOutcome *Side
	Sequence        int64 // bumped by every reserve or status mutation
	CloseAt         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Expired reports whether the market's optional close time has passed.
func (m Market) Expired(now time.Time) bool {
	return m.CloseAt != nil && !now.Before(*m.CloseAt)
}
