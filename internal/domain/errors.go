package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidStake        = errors.New("stake must be a positive number of points")
	ErrInvalidAmount       = errors.New("ledger amount must be positive")
	ErrInvalidTitle        = errors.New("title must not be empty")
	ErrInvalidSide         = errors.New("side must be yes or no")
	ErrInvariantViolation  = errors.New("trade would leave a non-positive reserve")
	ErrMarketNotOpen       = errors.New("market is not open for trading")
	ErrMarketExpired       = errors.New("market is past its close time")
	ErrInvalidTransition   = errors.New("invalid market state transition")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrLockHeld            = errors.New("lock already held")
	ErrLockUnavailable     = errors.New("lock unavailable after retries")
	ErrForbidden           = errors.New("forbidden")
	ErrRateLimited         = errors.New("rate limited")
)
