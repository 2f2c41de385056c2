package alert

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersentry/ordersentry/internal/conf"
)

// stubProvider counts sends and fails a configurable number of times.
type stubProvider struct {
	name      string
	failures  int32
	retryable bool
	sends     atomic.Int32
}

func (p *stubProvider) GetName() string        { return p.name }
func (p *stubProvider) ValidateConfig() error  { return nil }
func (p *stubProvider) IsEnabled() bool        { return true }
func (p *stubProvider) SupportsType(Type) bool { return true }

func (p *stubProvider) Send(context.Context, *Notification) error {
	n := p.sends.Add(1)
	if n <= atomic.LoadInt32(&p.failures) {
		return &ProviderError{Err: assert.AnError, Retryable: p.retryable}
	}
	return nil
}

func newStubPushDispatcher(prov PushProvider, filter conf.PushFilterSettings, maxRetries int) *PushDispatcher {
	pd := &PushDispatcher{
		logger:         discardLogger(),
		enabled:        true,
		maxRetries:     maxRetries,
		retryDelay:     time.Millisecond,
		defaultTimeout: time.Second,
	}
	pd.providers = append(pd.providers, registeredProvider{
		prov:    prov,
		breaker: NewPushCircuitBreaker(DefaultCircuitBreakerConfig(), prov.GetName(), discardLogger()),
		filter:  filter,
		name:    prov.GetName(),
	})
	return pd
}

func TestPushDispatcherForwardsNotifications(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)

	prov := &stubProvider{name: "stub"}
	pd := newStubPushDispatcher(prov, conf.PushFilterSettings{}, 0)
	pd.Start(d)
	t.Cleanup(pd.Stop)

	_, err := d.Send(context.Background(), testOrderEvent("ord-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return prov.sends.Load() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestPushDispatcherRetriesRetryableFailures(t *testing.T) {
	prov := &stubProvider{name: "stub", failures: 2, retryable: true}
	pd := newStubPushDispatcher(prov, conf.PushFilterSettings{}, 3)

	pd.dispatch(context.Background(), testNotification())
	pd.wg.Wait()

	assert.Equal(t, int32(3), prov.sends.Load(), "two failures then a success")
}

func TestPushDispatcherDoesNotRetryPermanentFailures(t *testing.T) {
	prov := &stubProvider{name: "stub", failures: 10, retryable: false}
	pd := newStubPushDispatcher(prov, conf.PushFilterSettings{}, 3)

	pd.dispatch(context.Background(), testNotification())
	pd.wg.Wait()

	assert.Equal(t, int32(1), prov.sends.Load())
}

func TestPushDispatcherAppliesFilters(t *testing.T) {
	prov := &stubProvider{name: "stub"}
	pd := newStubPushDispatcher(prov, conf.PushFilterSettings{
		Types: []string{string(TypeEscalation)},
	}, 0)

	pd.dispatch(context.Background(), testNotification()) // TypeNewOrder
	pd.wg.Wait()

	assert.Equal(t, int32(0), prov.sends.Load(), "filtered out by type")
}

func TestMatchesFilter(t *testing.T) {
	t.Parallel()

	n := testNotification() // new-order, critical

	assert.True(t, matchesFilter(&conf.PushFilterSettings{}, n), "empty filter matches everything")
	assert.True(t, matchesFilter(&conf.PushFilterSettings{
		Types:      []string{string(TypeNewOrder)},
		Priorities: []string{string(PriorityCritical)},
	}, n))
	assert.False(t, matchesFilter(&conf.PushFilterSettings{
		Priorities: []string{string(PriorityLow)},
	}, n))
}

func TestNewPushDispatcherSkipsInvalidProviders(t *testing.T) {
	t.Parallel()

	pd := NewPushDispatcher(&conf.PushSettings{
		Enabled: true,
		Providers: []conf.PushProviderSettings{
			{Name: "broken", Type: "webhook", Enabled: true}, // no URLs
			{Name: "mystery", Type: "carrier-pigeon", Enabled: true},
			{Name: "ok", Type: "webhook", Enabled: true, URLs: []string{"https://hooks.example.com"}},
		},
	}, discardLogger())

	assert.Equal(t, []string{"ok"}, pd.Providers())
}
