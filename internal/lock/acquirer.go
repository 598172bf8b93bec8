// Package lock layers a bounded retry policy over a domain.LockProvider and
// provides the in-process provider used for single-instance deployments and
// tests. Exactly one provider strategy is selected by configuration; call
// sites never mix strategies.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// Policy controls lock acquisition: the TTL stamped on each lock and the
// bounded exponential backoff applied while the key is held by someone else.
type Policy struct {
	TTL            time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy returns the policy used when configuration does not override
// it. Lock TTLs are generous relative to trade latency; the backoff ceiling
// keeps worst-case acquisition under a second.
func DefaultPolicy() Policy {
	return Policy{
		TTL:            10 * time.Second,
		MaxAttempts:    5,
		InitialBackoff: 25 * time.Millisecond,
		MaxBackoff:     400 * time.Millisecond,
	}
}

// Acquirer wraps a LockProvider with a retry policy. Providers fail fast with
// domain.ErrLockHeld; the Acquirer retries with exponential backoff up to
// MaxAttempts and then surfaces domain.ErrLockUnavailable.
type Acquirer struct {
	provider domain.LockProvider
	policy   Policy
}

// NewAcquirer creates an Acquirer. Zero policy fields fall back to defaults.
func NewAcquirer(provider domain.LockProvider, policy Policy) *Acquirer {
	def := DefaultPolicy()
	if policy.TTL <= 0 {
		policy.TTL = def.TTL
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	return &Acquirer{provider: provider, policy: policy}
}

// Acquire obtains the lock for key, retrying while it is held elsewhere.
// Provider errors other than ErrLockHeld abort immediately.
func (a *Acquirer) Acquire(ctx context.Context, key string) (func(), error) {
	backoff := a.policy.InitialBackoff

	for attempt := 1; ; attempt++ {
		unlock, err := a.provider.Acquire(ctx, key, a.policy.TTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if attempt >= a.policy.MaxAttempts {
			return nil, fmt.Errorf("lock: acquire %s after %d attempts: %w",
				key, attempt, domain.ErrLockUnavailable)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock: acquire %s: %w", key, ctx.Err())
		case <-timer.C:
		}

		backoff *= 2
		if backoff > a.policy.MaxBackoff {
			backoff = a.policy.MaxBackoff
		}
	}
}
