package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// subBufferSize is the per-subscriber channel buffer. Slow subscribers drop
// messages rather than blocking publishers, matching the best-effort
// delivery contract.
const subBufferSize = 128

// Broadcaster implements domain.Broadcaster with in-process channels. It
// supports the same trailing-wildcard channel patterns as the Redis bus
// ("ch:market:*" matches "ch:market:<id>").
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	pattern string
	ch      chan []byte
}

// NewBroadcaster creates an in-process broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every subscriber whose pattern matches the
// channel. Subscribers with full buffers are skipped.
func (b *Broadcaster) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !patternMatch(sub.pattern, channel) {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channels matching the
// given pattern. The subscription ends, and the channel closes, when the
// context is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := &subscriber{pattern: channel, ch: make(chan []byte, subBufferSize)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	out := make(chan []byte, subBufferSize)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-sub.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// patternMatch supports exact channel names plus a trailing "*" wildcard.
func patternMatch(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// Compile-time interface check.
var _ domain.Broadcaster = (*Broadcaster)(nil)
