package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := New[string]()
	defer bus.Shutdown()

	ch1, cancel1 := bus.Subscribe(context.Background())
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(context.Background())
	defer cancel2()

	delivered := bus.Publish("ping")
	assert.Equal(t, 2, delivered)

	assert.Equal(t, "ping", <-ch1)
	assert.Equal(t, "ping", <-ch2)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewWithBuffer[int](2)
	defer bus.Shutdown()

	_, cancel := bus.Subscribe(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		bus.Publish(i)
	}

	stats := bus.Stats()
	assert.Equal(t, 1, stats.Subscribers)
	assert.Equal(t, uint64(8), stats.TotalDropped)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New[string]()
	defer bus.Shutdown()

	_, cancel := bus.Subscribe(context.Background())
	cancel()

	assert.Equal(t, 0, bus.Publish("nobody home"))
}

func TestContextCancellationUnsubscribes(t *testing.T) {
	bus := New[string]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	cancel()
	require.Eventually(t, func() bool {
		return bus.Publish("gone") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownIsTerminal(t *testing.T) {
	bus := New[int]()
	bus.Shutdown()

	assert.Equal(t, 0, bus.Publish(1))

	ch, cleanup := bus.Subscribe(context.Background())
	defer cleanup()
	_, open := <-ch
	assert.False(t, open, "subscriptions after shutdown are closed immediately")
	assert.True(t, bus.Stats().IsShutdown)
}
