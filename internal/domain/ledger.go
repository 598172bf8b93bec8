package domain

import "time"

// LedgerReason classifies why a ledger entry was created.
type LedgerReason string

const (
	ReasonBet            LedgerReason = "bet"
	ReasonPayout         LedgerReason = "payout"
	ReasonMonthlyGrant   LedgerReason = "monthly_grant"
	ReasonTip            LedgerReason = "tip"
	ReasonTipReceived    LedgerReason = "tip_received"
	ReasonInitial        LedgerReason = "initial"
	ReasonPositionClosed LedgerReason = "position_closed"
	ReasonRefund         LedgerReason = "refund"
)

// Reference types for ledger entries.
const (
	RefTypeMarket   = "market"
	RefTypePosition = "position"
)

// LedgerEntry is an immutable record of a points balance change. Entries are
// append-only: a user's current balance is the Balance field of their most
// recent entry (0 if none exist), and corrections are made by appending a
// compensating entry, never by editing or deleting.
type LedgerEntry struct {
	ID        string
	UserID    string
	Delta     float64 // signed change applied by this entry
	Balance   float64 // balance after applying Delta; a snapshot, not recomputed
	Reason    LedgerReason
	RefType   string
	RefID     string
	CreatedAt time.Time
}
