package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/lock"
)

// SettlementResult summarizes a resolution or recovery run. Payout credits
// are independent per user: Failed counts users whose credit did not land,
// and FailedUsers names them so operators can drive recovery.
type SettlementResult struct {
	MarketID    string
	Outcome     domain.Side
	Paid        int
	Failed      int
	TotalPoints float64
	Payouts     []domain.UserPayout
	FailedUsers []string
	Sequence    int64
}

// ResolveMarket resolves an open or closed market to the given outcome and
// settles it: every position on the winning side pays one point per share,
// aggregated per user into a single payout ledger entry referencing the
// market. Losing positions pay nothing. A credit failure for one user never
// blocks the others; failed users are reported in the result and picked up
// later by RecoverSettlement. Re-running against a resolved market fails
// with ErrInvalidTransition.
func (s *Service) ResolveMarket(ctx context.Context, marketID string, outcome domain.Side) (SettlementResult, error) {
	if !outcome.Valid() {
		return SettlementResult{}, domain.ErrInvalidSide
	}

	unlock, err := s.locks.Acquire(ctx, lock.MarketKey(marketID))
	if err != nil {
		return SettlementResult{}, err
	}
	defer unlock()

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("engine: load market %q: %w", marketID, err)
	}
	if m.Status != domain.MarketStatusOpen && m.Status != domain.MarketStatusClosed {
		return SettlementResult{}, domain.ErrInvalidTransition
	}

	seq, err := s.markets.UpdateStatus(ctx, marketID, domain.MarketStatusResolved, &outcome)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("engine: resolve market %q: %w", marketID, err)
	}

	result, err := s.settle(ctx, m, outcome, nil)
	if err != nil {
		return SettlementResult{}, err
	}
	result.Sequence = seq

	s.publishDelta(ctx, marketID, domain.MarketStatusResolved, m.YesShares, m.NoShares, seq)
	s.archive(ctx, result)

	s.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.String("outcome", string(outcome)),
		slog.Int("paid", result.Paid),
		slog.Int("failed", result.Failed),
		slog.Float64("total_points", result.TotalPoints),
	)
	return result, nil
}

// RecoverSettlement re-runs payout distribution for an already resolved
// market, crediting only users without an existing payout entry referencing
// it. This is the retry path for credits that failed during ResolveMarket;
// it is idempotent and valid only on resolved markets.
func (s *Service) RecoverSettlement(ctx context.Context, marketID string) (SettlementResult, error) {
	unlock, err := s.locks.Acquire(ctx, lock.MarketKey(marketID))
	if err != nil {
		return SettlementResult{}, err
	}
	defer unlock()

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("engine: load market %q: %w", marketID, err)
	}
	if m.Status != domain.MarketStatusResolved || m.ResolvedOutcome == nil {
		return SettlementResult{}, domain.ErrInvalidTransition
	}
	outcome := *m.ResolvedOutcome

	// Users with a payout entry for this market are already settled.
	paid, err := s.ledger.EntriesByReference(ctx, domain.RefTypeMarket, marketID)
	if err != nil {
		return SettlementResult{}, err
	}
	alreadyPaid := make(map[string]bool)
	for _, e := range paid {
		if e.Reason == domain.ReasonPayout {
			alreadyPaid[e.UserID] = true
		}
	}

	result, err := s.settle(ctx, m, outcome, alreadyPaid)
	if err != nil {
		return SettlementResult{}, err
	}
	result.Sequence = m.Sequence

	s.logger.InfoContext(ctx, "settlement recovery completed",
		slog.String("market_id", marketID),
		slog.Int("paid", result.Paid),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// settle aggregates winning shares per user and credits each user once.
// Users present in skip are excluded. Credits run in deterministic user-id
// order; failures are isolated per user.
func (s *Service) settle(ctx context.Context, m domain.Market, outcome domain.Side, skip map[string]bool) (SettlementResult, error) {
	positions, err := s.positions.ListByMarket(ctx, m.ID)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("engine: list positions for %q: %w", m.ID, err)
	}

	payouts := make(map[string]float64)
	for _, p := range positions {
		if p.Side != outcome || p.Shares <= 0 {
			continue
		}
		payouts[p.UserID] += p.Shares
	}

	users := make([]string, 0, len(payouts))
	for userID := range payouts {
		if !skip[userID] {
			users = append(users, userID)
		}
	}
	sort.Strings(users)

	result := SettlementResult{MarketID: m.ID, Outcome: outcome}
	for _, userID := range users {
		amount := payouts[userID]
		if _, err := s.ledger.Credit(ctx, userID, amount, domain.ReasonPayout, domain.RefTypeMarket, m.ID); err != nil {
			result.Failed++
			result.FailedUsers = append(result.FailedUsers, userID)
			s.logger.ErrorContext(ctx, "payout credit failed",
				slog.String("market_id", m.ID),
				slog.String("user_id", userID),
				slog.Float64("points", amount),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Paid++
		result.TotalPoints += amount
		result.Payouts = append(result.Payouts, domain.UserPayout{UserID: userID, Points: amount})
	}
	return result, nil
}

// archive writes the settlement record to cold storage when an archiver is
// configured. Best-effort.
func (s *Service) archive(ctx context.Context, result SettlementResult) {
	if s.archiver == nil {
		return
	}

	rec := domain.SettlementRecord{
		MarketID:   result.MarketID,
		Outcome:    result.Outcome,
		Payouts:    result.Payouts,
		Paid:       result.Paid,
		Failed:     result.Failed,
		ResolvedAt: time.Now().UTC(),
	}
	if err := s.archiver.Archive(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "settlement archive failed",
			slog.String("market_id", result.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
