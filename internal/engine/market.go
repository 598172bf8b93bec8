// Package engine implements the market lifecycle state machine: creation,
// trading against the constant-product curve, closing, resolution, and
// settlement recovery. Every reserve-mutating operation runs under the
// per-market lock, so trades and resolution are linearized per market while
// different markets proceed fully concurrently.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openpredict/pointsmarket/internal/cpmm"
	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/ledger"
	"github.com/openpredict/pointsmarket/internal/lock"
)

// Service owns all mutating operations on markets. The broadcaster and
// archiver are best-effort collaborators: their failures are logged and
// never propagate into the operation that triggered them.
type Service struct {
	markets   domain.MarketStore
	positions domain.PositionStore
	ledger    *ledger.Service
	locks     *lock.Acquirer
	bus       domain.Broadcaster
	archiver  domain.SettlementArchiver // optional; may be nil
	logger    *slog.Logger
}

// NewService creates the market engine. Pass nil for archiver when
// settlement archival is not configured.
func NewService(
	markets domain.MarketStore,
	positions domain.PositionStore,
	ledgerSvc *ledger.Service,
	locks *lock.Acquirer,
	bus domain.Broadcaster,
	archiver domain.SettlementArchiver,
	logger *slog.Logger,
) *Service {
	return &Service{
		markets:   markets,
		positions: positions,
		ledger:    ledgerSvc,
		locks:     locks,
		bus:       bus,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "engine")),
	}
}

// CreateParams are the inputs for creating a market.
type CreateParams struct {
	Title     string
	CreatorID string
	SeedYes   float64
	SeedNo    float64
	CloseAt   *time.Time
}

// CreateMarket seeds a new open market. Both reserves must be strictly
// positive; the constant product at creation is recorded as the liquidity
// parameter.
func (s *Service) CreateMarket(ctx context.Context, p CreateParams) (domain.Market, error) {
	if p.Title == "" {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", domain.ErrInvalidTitle)
	}
	if p.SeedYes <= 0 || p.SeedNo <= 0 {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", domain.ErrInvariantViolation)
	}

	now := time.Now().UTC()
	m := domain.Market{
		ID:             uuid.New().String(),
		Title:          p.Title,
		CreatorID:      p.CreatorID,
		YesShares:      p.SeedYes,
		NoShares:       p.SeedNo,
		LiquidityParam: p.SeedYes * p.SeedNo,
		Status:         domain.MarketStatusOpen,
		CloseAt:        p.CloseAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.markets.Insert(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("engine: insert market: %w", err)
	}

	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.Float64("seed_yes", p.SeedYes),
		slog.Float64("seed_no", p.SeedNo),
	)
	return m, nil
}

// TradeResult is the outcome of a successfully placed trade.
type TradeResult struct {
	Position   domain.Position
	Quote      cpmm.Quote
	NewBalance float64
	Sequence   int64
}

// PlaceTrade stakes points on one side of an open market. It debits the
// user's ledger (reason bet), issues outcome shares at the curve price,
// persists the new reserves and a position row, and emits a market delta.
// Any failure after the debit rolls the ledger and reserves back, so the
// operation either fully applies or leaves no trace.
func (s *Service) PlaceTrade(ctx context.Context, marketID, userID string, side domain.Side, points float64) (TradeResult, error) {
	if points <= 0 {
		return TradeResult{}, domain.ErrInvalidStake
	}
	if !side.Valid() {
		return TradeResult{}, domain.ErrInvalidSide
	}

	unlock, err := s.locks.Acquire(ctx, lock.MarketKey(marketID))
	if err != nil {
		return TradeResult{}, err
	}
	defer unlock()

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return TradeResult{}, fmt.Errorf("engine: load market %q: %w", marketID, err)
	}
	if m.Status != domain.MarketStatusOpen {
		return TradeResult{}, domain.ErrMarketNotOpen
	}
	if m.Expired(time.Now().UTC()) {
		return TradeResult{}, domain.ErrMarketExpired
	}

	quote, err := cpmm.Buy(m.YesShares, m.NoShares, points, side)
	if err != nil {
		return TradeResult{}, err
	}

	// The debit is the authoritative balance check: it runs under the
	// per-user lock, so a concurrent trade on another market cannot slip
	// past it.
	newBalance, err := s.ledger.Debit(ctx, userID, points, domain.ReasonBet, domain.RefTypeMarket, marketID)
	if err != nil {
		return TradeResult{}, err
	}

	seq, err := s.markets.UpdateReserves(ctx, marketID, quote.NewYes, quote.NewNo)
	if err != nil {
		s.refund(ctx, userID, points, marketID)
		return TradeResult{}, fmt.Errorf("engine: update reserves for %q: %w", marketID, err)
	}

	pos := domain.Position{
		ID:          uuid.New().String(),
		UserID:      userID,
		MarketID:    marketID,
		Side:        side,
		Shares:      quote.SharesOut,
		PointsSpent: points,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.positions.Insert(ctx, pos); err != nil {
		// Roll reserves back under the still-held market lock, then refund.
		if _, rbErr := s.markets.UpdateReserves(ctx, marketID, m.YesShares, m.NoShares); rbErr != nil {
			s.logger.ErrorContext(ctx, "reserve rollback failed",
				slog.String("market_id", marketID),
				slog.String("error", rbErr.Error()),
			)
		}
		s.refund(ctx, userID, points, marketID)
		return TradeResult{}, fmt.Errorf("engine: insert position: %w", err)
	}

	s.publishDelta(ctx, marketID, m.Status, quote.NewYes, quote.NewNo, seq)

	s.logger.InfoContext(ctx, "trade placed",
		slog.String("market_id", marketID),
		slog.String("user_id", userID),
		slog.String("side", string(side)),
		slog.Float64("points", points),
		slog.Float64("shares_out", quote.SharesOut),
		slog.Int64("sequence", seq),
	)

	return TradeResult{
		Position:   pos,
		Quote:      quote,
		NewBalance: newBalance,
		Sequence:   seq,
	}, nil
}

// refund appends the compensating credit for a debit whose trade could not
// complete. A refund failure is logged loudly; the ledger remains the audit
// trail for manual reconciliation.
func (s *Service) refund(ctx context.Context, userID string, points float64, marketID string) {
	if _, err := s.ledger.Credit(ctx, userID, points, domain.ReasonRefund, domain.RefTypeMarket, marketID); err != nil {
		s.logger.ErrorContext(ctx, "compensating refund failed",
			slog.String("user_id", userID),
			slog.String("market_id", marketID),
			slog.Float64("points", points),
			slog.String("error", err.Error()),
		)
	}
}

// CloseMarket transitions an open market to closed, stopping trading ahead
// of resolution. It emits a status-only delta with unchanged reserves.
// Calling it on a closed or resolved market fails with ErrInvalidTransition.
func (s *Service) CloseMarket(ctx context.Context, marketID string) (domain.Market, error) {
	unlock, err := s.locks.Acquire(ctx, lock.MarketKey(marketID))
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: load market %q: %w", marketID, err)
	}
	if m.Status != domain.MarketStatusOpen {
		return domain.Market{}, domain.ErrInvalidTransition
	}

	seq, err := s.markets.UpdateStatus(ctx, marketID, domain.MarketStatusClosed, nil)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: close market %q: %w", marketID, err)
	}

	m.Status = domain.MarketStatusClosed
	m.Sequence = seq
	s.publishDelta(ctx, marketID, m.Status, m.YesShares, m.NoShares, seq)

	s.logger.InfoContext(ctx, "market closed", slog.String("market_id", marketID))
	return m, nil
}

// publishDelta emits a market delta on the market's channel. Best-effort:
// failures are logged at warn level and swallowed.
func (s *Service) publishDelta(ctx context.Context, marketID string, status domain.MarketStatus, yes, no float64, seq int64) {
	priceYes := cpmm.PriceYes(yes, no)
	delta := domain.MarketDelta{
		MarketID:  marketID,
		Status:    status,
		YesShares: yes,
		NoShares:  no,
		PriceYes:  priceYes,
		PriceNo:   1 - priceYes,
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(delta)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal market delta failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, delta.Channel(), payload); err != nil {
		s.logger.WarnContext(ctx, "publish market delta failed",
			slog.String("market_id", marketID),
			slog.Int64("sequence", seq),
			slog.String("error", err.Error()),
		)
	}
}
