package domain

import "time"

// MarketDelta is the event emitted after every reserve- or status-affecting
// operation on a market. Sequence increases monotonically per market, so
// consumers can detect gaps and ordering. Delivery is best-effort: a publish
// failure never fails the trade or resolution that produced the event.
type MarketDelta struct {
	MarketID  string       `json:"market_id"`
	Status    MarketStatus `json:"status"`
	YesShares float64      `json:"yes_shares"`
	NoShares  float64      `json:"no_shares"`
	PriceYes  float64      `json:"price_yes"`
	PriceNo   float64      `json:"price_no"`
	Sequence  int64        `json:"sequence"`
	Timestamp time.Time    `json:"timestamp"`
}

// Channel returns the pub/sub channel this delta is published on.
func (d MarketDelta) Channel() string {
	return "ch:market:" + d.MarketID
}

// UserPayout is one user's aggregated winnings from a market resolution.
type UserPayout struct {
	UserID string  `json:"user_id"`
	Points float64 `json:"points"`
}

// SettlementRecord is the durable summary of one market resolution, archived
// to cold storage after settlement completes.
type SettlementRecord struct {
	MarketID   string       `json:"market_id"`
	Outcome    Side         `json:"outcome"`
	Payouts    []UserPayout `json:"payouts"`
	Paid       int          `json:"paid"`
	Failed     int          `json:"failed"`
	ResolvedAt time.Time    `json:"resolved_at"`
}
