package lock

import (
	"context"
	"sync"
	"time"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// Local implements domain.LockProvider with an in-process mutex table. It is
// the lock strategy for single-instance deployments and tests; the TTL is
// accepted for interface parity but never enforced, since an in-process lock
// cannot outlive its holder.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty in-process lock provider.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire takes the lock for key or fails fast with domain.ErrLockHeld.
// The returned unlock function is idempotent.
func (l *Local) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockProvider = (*Local)(nil)
