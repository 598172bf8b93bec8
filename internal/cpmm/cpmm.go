// Package cpmm implements the constant-product market maker used to price
// binary outcome markets. A market holds two reserve pools, YES shares and
// NO shares, and every trade preserves their product k = yes * no.
//
// Buying YES with p points moves the pool along the curve:
//
//	(yes - sharesOut) * (no + p) = yes * no
//	sharesOut = yes - (yes * no) / (no + p)
//
// Buying NO is symmetric with the reserve roles swapped. The instantaneous
// price of YES is no / (yes + no), the opposing reserve's share of total
// liquidity, so priceYes + priceNo == 1 by construction.
//
// All functions are pure: no allocation of shared state, no IO, safe to call
// from any goroutine without synchronization.
package cpmm

import "github.com/openpredict/pointsmarket/internal/domain"

// Quote is the result of pricing a single market order against the curve.
// The order always fills completely at the curve price.
type Quote struct {
	SharesOut float64 // outcome shares issued to the buyer
	NewYes    float64 // YES reserve after the trade
	NewNo     float64 // NO reserve after the trade
	AvgPrice  float64 // points paid per share, points / SharesOut
	PriceYes  float64 // instantaneous YES price after the trade
	PriceNo   float64 // instantaneous NO price after the trade
}

// Buy prices a market order staking points on the given side against the
// reserves (yes, no). It returns ErrInvalidStake when points <= 0,
// ErrInvalidSide for an unknown side, and ErrInvariantViolation if either
// resulting reserve would be non-positive. The algebra cannot produce a
// non-positive reserve for positive inputs, but the check guards against
// corrupted stored reserves reaching the engine.
func Buy(yes, no, points float64, side domain.Side) (Quote, error) {
	if points <= 0 {
		return Quote{}, domain.ErrInvalidStake
	}
	if !side.Valid() {
		return Quote{}, domain.ErrInvalidSide
	}
	if yes <= 0 || no <= 0 {
		return Quote{}, domain.ErrInvariantViolation
	}

	k := yes * no

	var q Quote
	switch side {
	case domain.SideYes:
		sharesOut := yes - k/(no+points)
		q = Quote{
			SharesOut: sharesOut,
			NewYes:    yes - sharesOut,
			NewNo:     no + points,
		}
	case domain.SideNo:
		sharesOut := no - k/(yes+points)
		q = Quote{
			SharesOut: sharesOut,
			NewYes:    yes + points,
			NewNo:     no - sharesOut,
		}
	}

	if q.SharesOut <= 0 || q.NewYes <= 0 || q.NewNo <= 0 {
		return Quote{}, domain.ErrInvariantViolation
	}

	q.AvgPrice = points / q.SharesOut
	q.PriceYes = PriceYes(q.NewYes, q.NewNo)
	q.PriceNo = 1 - q.PriceYes
	return q, nil
}

// PriceYes returns the instantaneous YES price for the given reserves.
func PriceYes(yes, no float64) float64 {
	return no / (yes + no)
}

// Price returns the instantaneous price for the given side.
func Price(yes, no float64, side domain.Side) float64 {
	p := PriceYes(yes, no)
	if side == domain.SideNo {
		return 1 - p
	}
	return p
}
