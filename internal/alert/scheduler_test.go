package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fastPlan is an escalation ladder compressed to test timescales.
func fastPlan() Plan {
	return Plan{
		{Delay: 20 * time.Millisecond, Label: "High"},
		{Delay: 40 * time.Millisecond, Label: "Very High"},
		{Delay: 60 * time.Millisecond, Label: "Critical"},
	}
}

type schedulerFixture struct {
	scheduler *Scheduler
	registry  *MemoryRegistry
	tracker   *MemoryTracker
	store     *Store
}

func newSchedulerFixture(t *testing.T, plan Plan) *schedulerFixture {
	t.Helper()

	registry := NewMemoryRegistry()
	tracker := NewMemoryTracker()
	store := NewStore(10)
	channels := NewChannels(registry, discardLogger())
	channels.Ensure(t.Context())

	s := NewScheduler(plan, registry, tracker, store, channels, discardLogger())
	t.Cleanup(s.Stop)
	return &schedulerFixture{scheduler: s, registry: registry, tracker: tracker, store: store}
}

func testOrderEvent(orderID string) OrderEvent {
	return OrderEvent{
		OrderID:      orderID,
		OrderNumber:  "101",
		CustomerName: "Jane Doe",
		Amount:       23.50,
		CreatedAt:    time.Now(),
	}
}

func TestSchedulerFiresEveryTierWhileUnacknowledged(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newSchedulerFixture(t, fastPlan())
	ev := testOrderEvent("ord-1")
	f.store.Put(&OrderAlert{OrderID: ev.OrderID, CreatedAt: ev.CreatedAt, State: StatePending})

	f.scheduler.Arm(ev)
	assert.Equal(t, 3, f.scheduler.ArmedTiers(ev.OrderID))

	require.Eventually(t, func() bool {
		return len(f.registry.IDsForOrder(ev.OrderID)) == 3
	}, time.Second, 5*time.Millisecond, "all three follow-ups should fire")

	a, ok := f.store.Get(ev.OrderID)
	require.True(t, ok)
	assert.Equal(t, 3, a.EscalationLevel)
	assert.Equal(t, 0, f.scheduler.ArmedTiers(ev.OrderID), "sequence is consumed after the last tier")
}

func TestSchedulerStopsAfterAcknowledgment(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newSchedulerFixture(t, fastPlan())
	ev := testOrderEvent("ord-1")
	f.store.Put(&OrderAlert{OrderID: ev.OrderID, CreatedAt: ev.CreatedAt, State: StatePending})

	f.scheduler.Arm(ev)

	// Acknowledge before the first tier fires.
	require.NoError(t, f.tracker.Acknowledge(ev.OrderID))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.registry.IDsForOrder(ev.OrderID),
		"tier checks must not issue follow-ups for an acknowledged order")
}

func TestSchedulerCancelStopsPendingTiers(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newSchedulerFixture(t, fastPlan())
	ev := testOrderEvent("ord-1")

	f.scheduler.Arm(ev)
	f.scheduler.Cancel(ev.OrderID)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.registry.IDsForOrder(ev.OrderID))
	assert.Equal(t, 0, f.scheduler.ArmedTiers(ev.OrderID))
}

func TestSchedulerCancelUnknownOrderIsNoOp(t *testing.T) {
	f := newSchedulerFixture(t, fastPlan())
	f.scheduler.Cancel("missing")
}

func TestSchedulerRearmReplacesSequence(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newSchedulerFixture(t, Plan{{Delay: 30 * time.Millisecond, Label: "High"}})
	ev := testOrderEvent("ord-1")
	f.store.Put(&OrderAlert{OrderID: ev.OrderID, CreatedAt: ev.CreatedAt, State: StatePending})

	f.scheduler.Arm(ev)
	f.scheduler.Arm(ev)

	require.Eventually(t, func() bool {
		return len(f.registry.IDsForOrder(ev.OrderID)) > 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, f.registry.IDsForOrder(ev.OrderID), 1,
		"the replaced sequence must not fire a duplicate follow-up")
}

func TestRunTierCheckOutOfRange(t *testing.T) {
	f := newSchedulerFixture(t, fastPlan())
	ev := testOrderEvent("ord-1")

	assert.Error(t, f.scheduler.RunTierCheck(context.Background(), ev, -1))
	assert.Error(t, f.scheduler.RunTierCheck(context.Background(), ev, 3))
}

func TestRunTierCheckEscalatesOnTrackerFailure(t *testing.T) {
	registry := NewMemoryRegistry()
	store := NewStore(10)
	channels := NewChannels(registry, discardLogger())
	channels.Ensure(t.Context())

	s := NewScheduler(fastPlan(), registry, failingTracker{}, store, channels, discardLogger())
	t.Cleanup(s.Stop)

	ev := testOrderEvent("ord-1")
	require.NoError(t, s.RunTierCheck(context.Background(), ev, 0),
		"an unreadable tracker must not suppress the follow-up")
	assert.Len(t, registry.IDsForOrder(ev.OrderID), 1)
}

func TestRunTierCheckFollowUpCarriesTierLabel(t *testing.T) {
	f := newSchedulerFixture(t, fastPlan())
	ev := testOrderEvent("ord-1")
	f.store.Put(&OrderAlert{OrderID: ev.OrderID, CreatedAt: ev.CreatedAt, State: StatePending})

	require.NoError(t, f.scheduler.RunTierCheck(context.Background(), ev, 1))

	ids := f.registry.IDsForOrder(ev.OrderID)
	require.Len(t, ids, 1)
	content, ok := f.registry.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, PriorityCritical, content.Priority)
	assert.Equal(t, "Very High", content.Payload[PayloadKeyLabel])
	assert.Equal(t, 1, content.Payload[PayloadKeyTier])
	assert.Contains(t, content.Body, "Very High")
}

// failingTracker simulates a broken durable store.
type failingTracker struct{}

func (failingTracker) Acknowledge(string) error          { return errTrackerDown }
func (failingTracker) Dismiss(string) error              { return errTrackerDown }
func (failingTracker) IsAcknowledged(string) (bool, error) { return false, errTrackerDown }
func (failingTracker) State(string) (State, error)       { return StatePending, errTrackerDown }
func (failingTracker) Reset(string) error                { return errTrackerDown }

var errTrackerDown = assert.AnError
