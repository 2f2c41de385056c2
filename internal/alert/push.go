package alert

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ordersentry/ordersentry/internal/conf"
	"github.com/ordersentry/ordersentry/internal/errors"
	"github.com/ordersentry/ordersentry/internal/observability/metrics"
)

// PushProvider defines an external push delivery backend. Providers must be
// safe for concurrent use.
type PushProvider interface {
	GetName() string
	ValidateConfig() error
	Send(ctx context.Context, notification *Notification) error
	SupportsType(t Type) bool
	IsEnabled() bool
}

// ProviderError lets providers mark errors as retryable or permanent.
type ProviderError struct {
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string { return e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

type registeredProvider struct {
	prov    PushProvider
	breaker *PushCircuitBreaker
	filter  conf.PushFilterSettings
	name    string
}

// PushDispatcher fans engine notifications out to external channels
// (messaging services, webhooks) so escalations reach operators even when
// nobody is looking at the host device. It subscribes to the alert
// dispatcher and forwards asynchronously; push failure never affects the
// host-level alert.
type PushDispatcher struct {
	providers      []registeredProvider
	logger         *slog.Logger
	metrics        *metrics.AlertMetrics
	enabled        bool
	maxRetries     int
	retryDelay     time.Duration
	defaultTimeout time.Duration
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewPushDispatcher builds a push dispatcher from settings. Providers with
// invalid configuration are skipped with an error log, not fatal.
func NewPushDispatcher(settings *conf.PushSettings, logger *slog.Logger) *PushDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	pd := &PushDispatcher{
		logger:         logger,
		enabled:        settings.Enabled,
		maxRetries:     settings.MaxRetries,
		retryDelay:     settings.RetryDelay,
		defaultTimeout: settings.DefaultTimeout,
	}
	if !settings.Enabled {
		return pd
	}

	for i := range settings.Providers {
		pc := &settings.Providers[i]
		prov := buildProvider(pc)
		if prov == nil {
			logger.Error("unknown push provider type", "name", pc.Name, "type", pc.Type)
			continue
		}
		if err := prov.ValidateConfig(); err != nil {
			logger.Error("push provider config invalid",
				"name", pc.Name, "type", pc.Type, "error", err)
			continue
		}
		if !prov.IsEnabled() {
			continue
		}
		pd.providers = append(pd.providers, registeredProvider{
			prov:    prov,
			breaker: NewPushCircuitBreaker(DefaultCircuitBreakerConfig(), prov.GetName(), logger),
			filter:  pc.Filter,
			name:    prov.GetName(),
		})
	}
	return pd
}

func buildProvider(pc *conf.PushProviderSettings) PushProvider {
	switch pc.Type {
	case "shoutrrr":
		return NewShoutrrrProvider(pc.Name, pc.Enabled, pc.URLs, pc.Filter.Types, pc.Timeout)
	case "webhook":
		return NewWebhookProvider(pc.Name, pc.Enabled, pc.URLs, pc.Headers, pc.Filter.Types, pc.Timeout)
	default:
		return nil
	}
}

// SetMetrics attaches optional metrics. Safe to leave unset.
func (d *PushDispatcher) SetMetrics(m *metrics.AlertMetrics) {
	d.metrics = m
}

// Providers returns the names of the registered providers.
func (d *PushDispatcher) Providers() []string {
	names := make([]string, 0, len(d.providers))
	for i := range d.providers {
		names = append(names, d.providers[i].name)
	}
	return names
}

// Start subscribes to the alert dispatcher and forwards its notifications.
func (d *PushDispatcher) Start(dispatcher *Dispatcher) {
	if !d.enabled {
		return
	}
	if len(d.providers) == 0 {
		d.logger.Info("push enabled but no providers configured")
		return
	}

	ch, ctx := dispatcher.Subscribe()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case notif, ok := <-ch:
				if !ok || notif == nil {
					return
				}
				d.wg.Add(1)
				go func() {
					defer d.wg.Done()
					d.dispatch(ctx, notif)
				}()
			case <-ctx.Done():
				return
			}
		}
	}()

	d.logger.Info("push dispatcher started", "providers", len(d.providers))
}

// Stop cancels the forwarding loop and waits for in-flight sends.
func (d *PushDispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *PushDispatcher) dispatch(ctx context.Context, notif *Notification) {
	for i := range d.providers {
		rp := &d.providers[i]
		if !rp.prov.IsEnabled() || !rp.prov.SupportsType(notif.Type) {
			continue
		}
		if !matchesFilter(&rp.filter, notif) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sendWithRetry(ctx, rp, notif)
		}()
	}
}

// sendWithRetry attempts delivery up to maxRetries+1 times, backing off by
// retryDelay, routing every attempt through the provider's circuit breaker.
func (d *PushDispatcher) sendWithRetry(ctx context.Context, rp *registeredProvider, notif *Notification) {
	attempts := 0
	for {
		attempts++

		attemptCtx := ctx
		var cancel context.CancelFunc
		if d.defaultTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, d.defaultTimeout)
		}
		err := rp.breaker.Call(attemptCtx, func(c context.Context) error {
			return rp.prov.Send(c, notif)
		})
		if cancel != nil {
			cancel()
		}
		if err == nil {
			d.logger.Debug("push delivered",
				"provider", rp.name,
				"notification_id", notif.ID,
				"attempts", attempts)
			return
		}

		retryable := false
		var perr *ProviderError
		if errors.As(err, &perr) {
			retryable = perr.Retryable
		}
		if !retryable || attempts > d.maxRetries {
			d.metrics.IncPushFailure(rp.name)
			d.logger.Error("push send failed",
				"provider", rp.name,
				"notification_id", notif.ID,
				"attempts", attempts,
				"error", err)
			return
		}

		select {
		case <-time.After(d.retryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// matchesFilter applies a provider's type/priority filter.
func matchesFilter(f *conf.PushFilterSettings, notif *Notification) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, string(notif.Type)) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, string(notif.Priority)) {
		return false
	}
	return true
}
