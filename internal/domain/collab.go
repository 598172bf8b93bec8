package domain

import (
	"context"
	"time"
)

// LockProvider provides cooperative mutual exclusion scoped to a logical key
// (a market id or a user id). Acquire fails fast with ErrLockHeld when the
// key is held by another party; retry policy is layered on top by the lock
// package. The returned unlock function must be called to release the lock
// and is safe to call more than once.
type LockProvider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Broadcaster carries market-delta events to the realtime fan-out transport.
// Publishing is best-effort from the caller's point of view: a failed publish
// is logged, never propagated into the trade or resolution that produced it.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter provides distributed rate limiting for the HTTP surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SettlementArchiver writes a durable record of a completed market
// resolution to cold storage. Archival is best-effort.
type SettlementArchiver interface {
	Archive(ctx context.Context, rec SettlementRecord) error
}
