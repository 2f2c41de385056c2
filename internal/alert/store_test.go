package alert

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAlert(orderID string, createdAt time.Time) *OrderAlert {
	return &OrderAlert{
		OrderID:     orderID,
		OrderNumber: "101",
		CreatedAt:   createdAt,
		State:       StatePending,
	}
}

func TestStorePutReplacesSameOrder(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	store.Put(newTestAlert("ord-1", time.Now()))
	store.Put(newTestAlert("ord-1", time.Now().Add(time.Second)))

	assert.Equal(t, 1, store.Len(), "one alert per order")
}

func TestStoreTerminalStateIsAbsorbing(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	store.Put(newTestAlert("ord-1", time.Now()))

	require.NoError(t, store.SetState("ord-1", StateAcknowledged))

	err := store.SetState("ord-1", StateDismissed)
	require.Error(t, err, "terminal state must reject further transitions")

	a, ok := store.Get("ord-1")
	require.True(t, ok)
	assert.Equal(t, StateAcknowledged, a.State)
}

func TestStoreTerminalRequiresClearedNotifications(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	store.Put(newTestAlert("ord-1", time.Now()))
	store.AddNotificationID("ord-1", NotificationID("ord-1", 0, time.Now()))

	err := store.SetState("ord-1", StateAcknowledged)
	require.Error(t, err, "active notifications must be cleared first")

	store.ClearNotificationIDs("ord-1")
	require.NoError(t, store.SetState("ord-1", StateAcknowledged))
}

func TestStoreIncrementLevelOnlyWhilePending(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	store.Put(newTestAlert("ord-1", time.Now()))

	level, err := store.IncrementLevel("ord-1")
	require.NoError(t, err)
	assert.Equal(t, 1, level)

	require.NoError(t, store.SetState("ord-1", StateDismissed))

	_, err = store.IncrementLevel("ord-1")
	assert.Error(t, err, "terminal alerts cannot escalate")
}

func TestStoreSetStateUnknownOrder(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	err := store.SetState("missing", StateAcknowledged)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestStoreEvictionPrefersTerminalAlerts(t *testing.T) {
	t.Parallel()

	store := NewStore(3)
	base := time.Now()
	for i := range 3 {
		store.Put(newTestAlert(fmt.Sprintf("ord-%d", i), base.Add(time.Duration(i)*time.Second)))
	}
	// ord-1 resolves; it should be the eviction victim even though ord-0 is older.
	require.NoError(t, store.SetState("ord-1", StateAcknowledged))

	store.Put(newTestAlert("ord-3", base.Add(3*time.Second)))

	assert.Equal(t, 3, store.Len())
	_, evicted := store.Get("ord-1")
	assert.False(t, evicted, "terminal alert should be evicted first")
	_, kept := store.Get("ord-0")
	assert.True(t, kept, "pending alerts survive while a terminal one exists")
}

func TestStoreActiveSortedNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	base := time.Now()
	store.Put(newTestAlert("ord-old", base))
	store.Put(newTestAlert("ord-new", base.Add(time.Minute)))
	store.Put(newTestAlert("ord-done", base.Add(2*time.Minute)))
	require.NoError(t, store.SetState("ord-done", StateDismissed))

	active := store.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "ord-new", active[0].OrderID)
	assert.Equal(t, "ord-old", active[1].OrderID)

	assert.Len(t, store.All(), 3)
}

func TestStoreGetReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewStore(10)
	store.Put(newTestAlert("ord-1", time.Now()))

	a, ok := store.Get("ord-1")
	require.True(t, ok)
	a.State = StateDismissed

	fresh, _ := store.Get("ord-1")
	assert.Equal(t, StatePending, fresh.State, "mutating a copy must not affect the store")
}
