package livequery

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitDeliveries(t *testing.T, counter *atomic.Int64, atLeast int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return counter.Load() >= atLeast
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeDeliversInitialState(t *testing.T) {
	b := NewBroker()
	var n atomic.Int64
	cancel := b.Subscribe("tickets", func() error {
		n.Add(1)
		return nil
	})
	defer cancel()

	waitDeliveries(t, &n, 1)
}

func TestPublishTriggersRedelivery(t *testing.T) {
	b := NewBroker()
	var n atomic.Int64
	cancel := b.Subscribe("tickets", func() error {
		n.Add(1)
		return nil
	})
	defer cancel()
	waitDeliveries(t, &n, 1)

	b.Publish("tickets")
	waitDeliveries(t, &n, 2)
	b.Publish("tickets")
	waitDeliveries(t, &n, 3)
}

func TestPublishOtherTopicDoesNotDeliver(t *testing.T) {
	b := NewBroker()
	var n atomic.Int64
	cancel := b.Subscribe("tickets", func() error {
		n.Add(1)
		return nil
	})
	defer cancel()
	waitDeliveries(t, &n, 1)

	b.Publish("tickets/42/messages")
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, n.Load())
}

func TestCancelStopsDeliveries(t *testing.T) {
	b := NewBroker()
	var n atomic.Int64
	cancel := b.Subscribe("tickets", func() error {
		n.Add(1)
		return nil
	})
	waitDeliveries(t, &n, 1)

	cancel()
	seen := n.Load()
	b.Publish("tickets")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, seen, n.Load())
}

func TestCancelIsIdempotent(t *testing.T) {
	b := NewBroker()
	cancel := b.Subscribe("tickets", func() error { return nil })
	cancel()
	require.NotPanics(t, func() {
		cancel()
		cancel()
	})
}

func TestDeliverErrorEndsSubscription(t *testing.T) {
	b := NewBroker()
	var n atomic.Int64
	cancel := b.Subscribe("tickets", func() error {
		if n.Add(1) >= 2 {
			return errors.New("query failed")
		}
		return nil
	})
	defer cancel()
	waitDeliveries(t, &n, 1)

	b.Publish("tickets")
	waitDeliveries(t, &n, 2)

	// Подписка завершилась на ошибке: дальнейшие публикации молчат.
	b.Publish("tickets")
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 2, n.Load())
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := NewBroker()
	require.NotPanics(t, func() { b.Publish("tickets") })
}

func TestIndependentSubscriptionsEachDeliver(t *testing.T) {
	b := NewBroker()
	var a, c atomic.Int64
	cancelA := b.Subscribe("tickets", func() error { a.Add(1); return nil })
	defer cancelA()
	cancelC := b.Subscribe("tickets", func() error { c.Add(1); return nil })
	defer cancelC()

	waitDeliveries(t, &a, 1)
	waitDeliveries(t, &c, 1)

	cancelA()
	b.Publish("tickets")
	waitDeliveries(t, &c, 2)
	require.EqualValues(t, 1, a.Load())
}
