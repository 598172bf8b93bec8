package domain

import "time"

// Position is a user's claim on a quantity of outcome shares acquired by a
// single trade. Each trade creates its own position row; same-side positions
// by the same user are deliberately not netted. Shares only ever decrease
// through an explicit position close.
type Position struct {
	ID          string
	UserID      string
	MarketID    string
	Side        Side
	Shares      float64
	PointsSpent float64 // cost basis; scaled down proportionally on partial close
	CreatedAt   time.Time
}

// AvgPrice returns the average points paid per share, or 0 for a fully
// closed position.
func (p Position) AvgPrice() float64 {
	if p.Shares <= 0 {
		return 0
	}
	return p.PointsSpent / p.Shares
}
