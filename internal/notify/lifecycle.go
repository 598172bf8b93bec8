package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// Event types emitted by the lifecycle watcher.
const (
	EventMarketClosed   = "market_closed"
	EventMarketResolved = "market_resolved"
)

// LifecycleWatcher subscribes to the market event bus and alerts operators
// when a market leaves the open state. Trade deltas (status open) pass
// through silently; only close and resolve transitions notify.
type LifecycleWatcher struct {
	bus      domain.Broadcaster
	notifier *Notifier
	logger   *slog.Logger
}

// NewLifecycleWatcher creates a watcher bridging the event bus to the
// notifier.
func NewLifecycleWatcher(bus domain.Broadcaster, notifier *Notifier, logger *slog.Logger) *LifecycleWatcher {
	return &LifecycleWatcher{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "lifecycle_watcher")),
	}
}

// Run subscribes to all market channels and dispatches alerts until the
// context is cancelled.
func (w *LifecycleWatcher) Run(ctx context.Context) error {
	ch, err := w.bus.Subscribe(ctx, "ch:market:*")
	if err != nil {
		return fmt.Errorf("notify: subscribe market channels: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			w.handle(ctx, data)
		}
	}
}

func (w *LifecycleWatcher) handle(ctx context.Context, data []byte) {
	var delta domain.MarketDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		w.logger.WarnContext(ctx, "malformed market delta",
			slog.String("error", err.Error()),
		)
		return
	}

	var event, title string
	switch delta.Status {
	case domain.MarketStatusClosed:
		event = EventMarketClosed
		title = "Market closed"
	case domain.MarketStatusResolved:
		event = EventMarketResolved
		title = "Market resolved"
	default:
		return
	}

	msg := fmt.Sprintf("market %s (seq %d, price yes %.3f)",
		delta.MarketID, delta.Sequence, delta.PriceYes)
	if err := w.notifier.Notify(ctx, event, title, msg); err != nil {
		w.logger.WarnContext(ctx, "lifecycle alert failed",
			slog.String("market_id", delta.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
