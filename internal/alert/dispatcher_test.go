package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	return &Config{
		Plan:               fastPlan(),
		MaxActive:          100,
		RateLimitWindow:    time.Minute,
		RateLimitMaxEvents: 1000,
	}
}

func newTestDispatcher(t *testing.T, registry Registry, cfg *Config) (*Dispatcher, *MemoryTracker) {
	t.Helper()
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	if cfg == nil {
		cfg = fastConfig()
	}
	tracker := NewMemoryTracker()
	d := NewDispatcher(registry, tracker, cfg)
	d.EnsureChannels(t.Context())
	t.Cleanup(d.Stop)
	return d, tracker
}

func TestSendDispatchesImmediateCriticalAlert(t *testing.T) {
	registry := NewMemoryRegistry()
	d, _ := newTestDispatcher(t, registry, nil)

	ev := testOrderEvent("ord-1")
	a, err := d.Send(context.Background(), ev)
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Equal(t, StatePending, a.State)
	assert.Equal(t, 0, a.EscalationLevel)
	require.Len(t, a.ActiveNotificationIDs, 1)

	content, ok := registry.Get(a.ActiveNotificationIDs[0])
	require.True(t, ok)
	assert.Equal(t, PriorityCritical, content.Priority)
	assert.Equal(t, ChannelCritical, content.Channel)
	assert.Equal(t, "ord-1", content.Payload[PayloadKeyOrderID])

	assert.Equal(t, len(d.Scheduler().Plan()), d.Scheduler().ArmedTiers("ord-1"))
}

func TestSendRejectsInvalidEvent(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)

	_, err := d.Send(context.Background(), OrderEvent{OrderNumber: "101"})
	assert.Error(t, err, "events without orderId are rejected")
}

func TestSendSupersedesPriorAlert(t *testing.T) {
	registry := NewMemoryRegistry()
	d, _ := newTestDispatcher(t, registry, nil)
	ctx := context.Background()

	first, err := d.Send(ctx, testOrderEvent("ord-1"))
	require.NoError(t, err)

	second, err := d.Send(ctx, testOrderEvent("ord-1"))
	require.NoError(t, err)

	// Exactly one live notification set for the order.
	ids := registry.IDsForOrder("ord-1")
	require.Len(t, ids, 1)
	assert.Equal(t, second.ActiveNotificationIDs[0], ids[0])
	assert.NotEqual(t, first.ActiveNotificationIDs[0], ids[0])

	// Escalation restarted from tier zero.
	assert.Equal(t, 0, second.EscalationLevel)
	assert.Equal(t, len(d.Scheduler().Plan()), d.Scheduler().ArmedTiers("ord-1"))
	assert.Equal(t, 1, d.store.Len(), "one alert per order")
}

func TestSendSupersedesAcknowledgedAlert(t *testing.T) {
	d, tracker := newTestDispatcher(t, nil, nil)
	ctx := context.Background()

	_, err := d.Send(ctx, testOrderEvent("ord-1"))
	require.NoError(t, err)
	require.NoError(t, d.Acknowledge(ctx, "ord-1"))

	// A genuinely new event for the same order id starts a fresh sequence.
	a, err := d.Send(ctx, testOrderEvent("ord-1"))
	require.NoError(t, err)
	assert.Equal(t, StatePending, a.State)

	state, err := tracker.State("ord-1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, state, "stale acknowledgment must not suppress the new alert")
}

func TestAcknowledgeClearsEverything(t *testing.T) {
	registry := NewMemoryRegistry()
	d, tracker := newTestDispatcher(t, registry, nil)
	ctx := context.Background()

	_, err := d.Send(ctx, testOrderEvent("ord-1"))
	require.NoError(t, err)

	require.NoError(t, d.Acknowledge(ctx, "ord-1"))

	acked, err := tracker.IsAcknowledged("ord-1")
	require.NoError(t, err)
	assert.True(t, acked)

	a, err := d.Get("ord-1")
	require.NoError(t, err)
	assert.Equal(t, StateAcknowledged, a.State)
	assert.Empty(t, a.ActiveNotificationIDs)

	assert.Empty(t, registry.IDsForOrder("ord-1"), "displayed notification dismissed")
	assert.Equal(t, 0, d.Scheduler().ArmedTiers("ord-1"), "timers cancelled")

	// No follow-up fires afterwards.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, registry.IDsForOrder("ord-1"))
}

func TestDismissIsTerminal(t *testing.T) {
	d, tracker := newTestDispatcher(t, nil, nil)
	ctx := context.Background()

	_, err := d.Send(ctx, testOrderEvent("ord-1"))
	require.NoError(t, err)
	require.NoError(t, d.Dismiss(ctx, "ord-1"))

	state, err := tracker.State("ord-1")
	require.NoError(t, err)
	assert.Equal(t, StateDismissed, state)

	a, err := d.Get("ord-1")
	require.NoError(t, err)
	assert.Equal(t, StateDismissed, a.State)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)
	ctx := context.Background()

	_, err := d.Send(ctx, testOrderEvent("ord-1"))
	require.NoError(t, err)

	require.NoError(t, d.Acknowledge(ctx, "ord-1"))
	require.NoError(t, d.Acknowledge(ctx, "ord-1"), "double acknowledge is not an error")
}

func TestAcknowledgeUnknownOrderRecordsState(t *testing.T) {
	d, tracker := newTestDispatcher(t, nil, nil)

	// The durable record is written even when no alert is tracked in memory,
	// so a background tier check for a late-arriving event still sees it.
	require.NoError(t, d.Acknowledge(context.Background(), "ghost"))
	acked, err := tracker.IsAcknowledged("ghost")
	require.NoError(t, err)
	assert.True(t, acked)
}

func TestAcknowledgeEmptyOrderID(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)
	assert.Error(t, d.Acknowledge(context.Background(), ""))
}

func TestSendRateLimited(t *testing.T) {
	cfg := fastConfig()
	cfg.RateLimitMaxEvents = 2
	d, _ := newTestDispatcher(t, nil, cfg)
	ctx := context.Background()

	_, err := d.Send(ctx, testOrderEvent("ord-1"))
	require.NoError(t, err)
	_, err = d.Send(ctx, testOrderEvent("ord-2"))
	require.NoError(t, err)

	_, err = d.Send(ctx, testOrderEvent("ord-3"))
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSendFallbackOnDeliveryFailure(t *testing.T) {
	registry := &flakyRegistry{MemoryRegistry: NewMemoryRegistry(), failures: 1}
	d, _ := newTestDispatcher(t, registry, nil)

	a, err := d.Send(context.Background(), testOrderEvent("ord-1"))
	require.NoError(t, err, "fallback succeeded, no error surfaces")
	require.Len(t, a.ActiveNotificationIDs, 1)

	content, ok := registry.Get(a.ActiveNotificationIDs[0])
	require.True(t, ok)
	assert.Equal(t, PriorityHigh, content.Priority, "fallback is reduced urgency")
	assert.Equal(t, ChannelDefault, content.Channel)
}

func TestSendTotalDeliveryFailureStillArmsEscalation(t *testing.T) {
	registry := &flakyRegistry{MemoryRegistry: NewMemoryRegistry(), failures: 2}
	d, _ := newTestDispatcher(t, registry, nil)

	a, err := d.Send(context.Background(), testOrderEvent("ord-1"))
	require.Error(t, err, "both attempts failed")
	require.NotNil(t, a, "the alert is still recorded")
	assert.Empty(t, a.ActiveNotificationIDs)

	assert.Equal(t, len(d.Scheduler().Plan()), d.Scheduler().ArmedTiers("ord-1"),
		"escalation is armed regardless, follow-ups may still reach the operator")
}

func TestSubscribeReceivesDispatchedNotifications(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)

	ch, _ := d.Subscribe()
	defer d.Unsubscribe(ch)

	_, err := d.Send(context.Background(), testOrderEvent("ord-1"))
	require.NoError(t, err)

	select {
	case n := <-ch:
		require.NotNil(t, n)
		assert.Equal(t, TypeNewOrder, n.Type)
		assert.Equal(t, "ord-1", n.OrderID)
	case <-time.After(time.Second):
		t.Fatal("no notification broadcast")
	}
}

func TestEscalationFollowUpsAreBroadcast(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)

	ch, _ := d.Subscribe()
	defer d.Unsubscribe(ch)

	_, err := d.Send(context.Background(), testOrderEvent("ord-1"))
	require.NoError(t, err)

	types := map[Type]int{}
	deadline := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case n := <-ch:
			types[n.Type]++
		case <-deadline:
			t.Fatalf("expected both notification types, got %v", types)
		}
	}
	assert.Positive(t, types[TypeNewOrder])
	assert.Positive(t, types[TypeEscalation])
}

func TestGetUnknownOrder(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)
	_, err := d.Get("missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

// flakyRegistry fails the first N Schedule calls, then behaves normally.
type flakyRegistry struct {
	*MemoryRegistry
	failures int
}

func (f *flakyRegistry) Schedule(ctx context.Context, content *Content, trigger Trigger, id string) error {
	if f.failures > 0 {
		f.failures--
		return assert.AnError
	}
	return f.MemoryRegistry.Schedule(ctx, content, trigger, id)
}
