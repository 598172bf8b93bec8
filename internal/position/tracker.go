// Package position provides read-heavy position accounting on top of the
// position store: mark-to-market valuation against the live curve price and
// the explicit position-close path that realizes gains into the ledger.
package position

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openpredict/pointsmarket/internal/cpmm"
	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/ledger"
	"github.com/openpredict/pointsmarket/internal/lock"
)

// Tracker values positions against the current curve price and handles
// partial and full closes.
type Tracker struct {
	positions domain.PositionStore
	markets   domain.MarketStore
	ledger    *ledger.Service
	locks     *lock.Acquirer
	logger    *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(positions domain.PositionStore, markets domain.MarketStore, ledgerSvc *ledger.Service, locks *lock.Acquirer, logger *slog.Logger) *Tracker {
	return &Tracker{
		positions: positions,
		markets:   markets,
		ledger:    ledgerSvc,
		locks:     locks,
		logger:    logger.With(slog.String("component", "positions")),
	}
}

// View is a position enriched with its mark-to-market valuation.
type View struct {
	domain.Position
	CurrentPrice  float64
	UnrealizedPnL float64
}

// UnrealizedPnL returns (currentPrice - avgPrice) * shares for the position,
// with currentPrice taken from the pricing engine on the position's side.
func (t *Tracker) UnrealizedPnL(ctx context.Context, positionID string) (float64, error) {
	pos, err := t.positions.GetByID(ctx, positionID)
	if err != nil {
		return 0, fmt.Errorf("positions: load %q: %w", positionID, err)
	}

	m, err := t.markets.GetByID(ctx, pos.MarketID)
	if err != nil {
		return 0, fmt.Errorf("positions: load market %q: %w", pos.MarketID, err)
	}

	return pnl(pos, m), nil
}

func pnl(pos domain.Position, m domain.Market) float64 {
	price := cpmm.Price(m.YesShares, m.NoShares, pos.Side)
	return (price - pos.AvgPrice()) * pos.Shares
}

// ListByUser returns the user's positions enriched with current price and
// unrealized PnL. A non-empty marketID restricts the result to that market;
// the store applies the filter before pagination.
func (t *Tracker) ListByUser(ctx context.Context, userID, marketID string, opts domain.ListOpts) ([]View, error) {
	positions, err := t.positions.ListByUser(ctx, userID, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("positions: list for %q: %w", userID, err)
	}

	views := make([]View, 0, len(positions))
	for _, pos := range positions {
		v := View{Position: pos}
		m, err := t.markets.GetByID(ctx, pos.MarketID)
		if err != nil {
			t.logger.WarnContext(ctx, "market lookup failed for position view",
				slog.String("position_id", pos.ID),
				slog.String("market_id", pos.MarketID),
				slog.String("error", err.Error()),
			)
			views = append(views, v)
			continue
		}
		v.CurrentPrice = cpmm.Price(m.YesShares, m.NoShares, pos.Side)
		v.UnrealizedPnL = pnl(pos, m)
		views = append(views, v)
	}
	return views, nil
}

// Close reduces a position by quantity shares at the current curve price,
// realizing the proportional PnL. Positive realized PnL is credited to the
// ledger with reason position_closed; realized losses create no ledger entry,
// mirroring the payout-only crediting model. The cost basis scales down
// proportionally so the average price of the remainder is unchanged.
//
// Only the position's owner may close it (ErrForbidden otherwise), and the
// market must still be open: closed markets await resolution and resolved
// markets settle through payouts instead.
func (t *Tracker) Close(ctx context.Context, positionID, callerID string, quantity float64) (realized float64, err error) {
	pos, err := t.positions.GetByID(ctx, positionID)
	if err != nil {
		return 0, fmt.Errorf("positions: load %q: %w", positionID, err)
	}
	if pos.UserID != callerID {
		return 0, domain.ErrForbidden
	}

	// The close is a read-modify-write on the position and a read of the
	// curve price, so it runs under the same per-market lock as trades and
	// resolution. The first load above only told us which market to lock;
	// reload the position now that the lock is held.
	unlock, err := t.locks.Acquire(ctx, lock.MarketKey(pos.MarketID))
	if err != nil {
		return 0, err
	}
	defer unlock()

	pos, err = t.positions.GetByID(ctx, positionID)
	if err != nil {
		return 0, fmt.Errorf("positions: load %q: %w", positionID, err)
	}
	if quantity <= 0 || quantity > pos.Shares {
		return 0, domain.ErrInvalidAmount
	}

	m, err := t.markets.GetByID(ctx, pos.MarketID)
	if err != nil {
		return 0, fmt.Errorf("positions: load market %q: %w", pos.MarketID, err)
	}
	if m.Status != domain.MarketStatusOpen {
		return 0, domain.ErrMarketNotOpen
	}

	price := cpmm.Price(m.YesShares, m.NoShares, pos.Side)
	realized = (price - pos.AvgPrice()) * quantity

	remaining := pos.Shares - quantity
	newSpent := 0.0
	if pos.Shares > 0 {
		newSpent = pos.PointsSpent * (remaining / pos.Shares)
	}

	if err := t.positions.UpdateAmounts(ctx, positionID, remaining, newSpent); err != nil {
		return 0, fmt.Errorf("positions: update %q: %w", positionID, err)
	}

	if realized > 0 {
		if _, err := t.ledger.Credit(ctx, pos.UserID, realized, domain.ReasonPositionClosed, domain.RefTypePosition, pos.ID); err != nil {
			// Restore the position so the close can be retried; the ledger
			// has not been touched.
			if rbErr := t.positions.UpdateAmounts(ctx, positionID, pos.Shares, pos.PointsSpent); rbErr != nil {
				t.logger.ErrorContext(ctx, "position rollback failed",
					slog.String("position_id", positionID),
					slog.String("error", rbErr.Error()),
				)
			}
			return 0, fmt.Errorf("positions: realize pnl for %q: %w", positionID, err)
		}
	}

	t.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", positionID),
		slog.String("user_id", pos.UserID),
		slog.Float64("quantity", quantity),
		slog.Float64("realized_pnl", realized),
	)
	return realized, nil
}
