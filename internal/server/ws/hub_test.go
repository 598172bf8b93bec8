package ws

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/pointsmarket/internal/store/memory"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHub(memory.NewBroadcaster(), logger)
}

func TestHub_DisconnectDoesNotBlockAfterShutdown(t *testing.T) {
	hub := newTestHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- hub.Run(ctx) }()

	cancel()
	select {
	case err := <-runErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit on cancel")
	}

	// A connection goroutine that notices its peer went away only after the
	// hub stopped must still be able to finish its teardown.
	c := &client{hub: hub, send: make(chan []byte, 1), subs: make(map[string]bool)}
	done := make(chan struct{})
	go func() {
		hub.dropClient(c)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dropClient blocked after hub shutdown")
	}

	assert.False(t, hub.addClient(c), "late connections must be rejected")
}

func TestHub_RegistersAndUnregistersClients(t *testing.T) {
	hub := newTestHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	c := &client{hub: hub, send: make(chan []byte, 1), subs: make(map[string]bool)}
	require.True(t, hub.addClient(c))
	require.Eventually(t, func() bool { return hub.clientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.dropClient(c)
	require.Eventually(t, func() bool { return hub.clientCount() == 0 },
		time.Second, 5*time.Millisecond)

	// The run loop closed the send channel on unregister.
	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel left open after unregister")
	}
}

func TestIsSubscribed_WildcardAndExact(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:market:*": true}}
	assert.True(t, c.isSubscribed("ch:market:abc123"))
	assert.False(t, c.isSubscribed("ch:other:abc123"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"ch:market:abc123"}})
	assert.True(t, c.isSubscribed("ch:market:abc123"))
	assert.False(t, c.isSubscribed("ch:market:other"), "explicit subscribe replaces the catch-all")
}
