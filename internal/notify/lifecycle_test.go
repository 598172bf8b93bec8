package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/pointsmarket/internal/domain"
	"github.com/openpredict/pointsmarket/internal/store/memory"
)

type captureSender struct {
	mu     sync.Mutex
	titles []string
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	return nil
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.titles))
	copy(out, c.titles)
	return out
}

func publishDelta(t *testing.T, bus *memory.Broadcaster, delta domain.MarketDelta) {
	t.Helper()
	payload, err := json.Marshal(delta)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), delta.Channel(), payload))
}

func TestLifecycleWatcher_NotifiesOnResolve(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := memory.NewBroadcaster()
	sender := &captureSender{}
	watcher := NewLifecycleWatcher(bus, NewNotifier([]Sender{sender}, nil, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	delta := domain.MarketDelta{
		MarketID: "m1",
		Status:   domain.MarketStatusResolved,
		PriceYes: 1,
		Sequence: 3,
	}
	// The subscription races the first publish; republish until delivered.
	require.Eventually(t, func() bool {
		publishDelta(t, bus, delta)
		return len(sender.captured()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Contains(t, sender.captured(), "Market resolved")
}

func TestLifecycleWatcher_IgnoresTradeDeltas(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := memory.NewBroadcaster()
	sender := &captureSender{}
	watcher := NewLifecycleWatcher(bus, NewNotifier([]Sender{sender}, nil, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	open := domain.MarketDelta{MarketID: "m1", Status: domain.MarketStatusOpen, Sequence: 1}
	closed := domain.MarketDelta{MarketID: "m1", Status: domain.MarketStatusClosed, Sequence: 2}

	// Once the close alert lands we know the earlier open deltas were seen
	// and skipped.
	require.Eventually(t, func() bool {
		publishDelta(t, bus, open)
		publishDelta(t, bus, closed)
		return len(sender.captured()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	for _, title := range sender.captured() {
		assert.Equal(t, "Market closed", title)
	}
}

func TestNotifier_FiltersByEvent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &captureSender{}
	n := NewNotifier([]Sender{sender}, []string{EventMarketResolved}, logger)

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, EventMarketClosed, "Market closed", "m1"))
	require.NoError(t, n.Notify(ctx, EventMarketResolved, "Market resolved", "m1"))

	assert.Equal(t, []string{"Market resolved"}, sender.captured())
}

func TestNotifier_Enabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.False(t, NewNotifier(nil, nil, logger).Enabled())
	assert.True(t, NewNotifier([]Sender{&captureSender{}}, nil, logger).Enabled())
}
