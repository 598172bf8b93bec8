// Package ledger implements the append-only points ledger, the single source
// of truth for user balances. Every balance mutation anywhere in the system
// goes through Credit or Debit here; entries are never edited or deleted, and
// corrections are made by appending a compensating entry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/lock"
)

// Service serializes balance mutations per user with a narrow lock scope,
// independent of the per-market lock, so a user paid from several resolving
// markets at once never loses an update to the read-modify-write on their
// latest balance.
type Service struct {
	store  domain.LedgerStore
	locks  *lock.Acquirer
	logger *slog.Logger
}

// NewService creates a ledger Service.
func NewService(store domain.LedgerStore, locks *lock.Acquirer, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		locks:  locks,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Balance returns the user's current balance: the Balance field of their
// most recent entry, or 0 when no entries exist.
func (s *Service) Balance(ctx context.Context, userID string) (float64, error) {
	latest, err := s.store.Latest(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: latest entry for %q: %w", userID, err)
	}
	return latest.Balance, nil
}

// Credit appends an entry increasing the user's balance by amount and
// returns the new balance. Fails with ErrInvalidAmount when amount <= 0.
func (s *Service) Credit(ctx context.Context, userID string, amount float64, reason domain.LedgerReason, refType, refID string) (float64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	return s.apply(ctx, userID, amount, reason, refType, refID)
}

// Debit appends an entry decreasing the user's balance by amount and returns
// the new balance. Fails with ErrInvalidAmount when amount <= 0 and with
// ErrInsufficientBalance (no mutation) when the result would be negative.
func (s *Service) Debit(ctx context.Context, userID string, amount float64, reason domain.LedgerReason, refType, refID string) (float64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	return s.apply(ctx, userID, -amount, reason, refType, refID)
}

// apply performs the locked read-modify-append cycle shared by Credit and
// Debit. delta carries the sign.
func (s *Service) apply(ctx context.Context, userID string, delta float64, reason domain.LedgerReason, refType, refID string) (float64, error) {
	unlock, err := s.locks.Acquire(ctx, lock.UserKey(userID))
	if err != nil {
		return 0, fmt.Errorf("ledger: lock user %q: %w", userID, err)
	}
	defer unlock()

	current, err := s.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}

	newBalance := current + delta
	if newBalance < 0 {
		return 0, domain.ErrInsufficientBalance
	}

	entry := domain.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Delta:     delta,
		Balance:   newBalance,
		Reason:    reason,
		RefType:   refType,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("ledger: append entry for %q: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "ledger entry appended",
		slog.String("user_id", userID),
		slog.Float64("delta", delta),
		slog.Float64("balance", newBalance),
		slog.String("reason", string(reason)),
	)

	return newBalance, nil
}

// History returns the user's ledger entries, most recent first.
func (s *Service) History(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	entries, err := s.store.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: history for %q: %w", userID, err)
	}
	return entries, nil
}

// EntriesByReference returns every entry referencing the given object, e.g.
// all payout entries for a market. Settlement recovery uses this to find
// users already paid.
func (s *Service) EntriesByReference(ctx context.Context, refType, refID string) ([]domain.LedgerEntry, error) {
	entries, err := s.store.ListByReference(ctx, refType, refID)
	if err != nil {
		return nil, fmt.Errorf("ledger: entries for %s %q: %w", refType, refID, err)
	}
	return entries, nil
}
