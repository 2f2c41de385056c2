package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ordersentry/ordersentry/internal/errors"
	"github.com/ordersentry/ordersentry/internal/observability/metrics"
)

// DefaultChannelBufferSize is the buffer for subscriber channels.
const DefaultChannelBufferSize = 64

// Subscriber receives every notification the engine issues.
type Subscriber struct {
	ch     chan *Notification
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds the dispatcher configuration.
type Config struct {
	// Plan is the escalation ladder
	Plan Plan
	// MaxActive bounds the in-memory alert map
	MaxActive int
	// RateLimitWindow is the time window for the event rate limiter
	RateLimitWindow time.Duration
	// RateLimitMaxEvents is the maximum number of events per window
	RateLimitMaxEvents int
	// Debug enables debug logging
	Debug bool
}

// DefaultConfig returns a default dispatcher configuration.
func DefaultConfig() *Config {
	return &Config{
		Plan:               DefaultPlan(),
		MaxActive:          DefaultMaxAlerts,
		RateLimitWindow:    time.Minute,
		RateLimitMaxEvents: 100,
	}
}

// Dispatcher is the engine facade: it builds and issues the immediate
// maximum-urgency alert for a new order, arms escalation, and carries the
// operator-facing acknowledge/dismiss operations. Collaborators are injected
// so tests can substitute the registry and the tracker.
type Dispatcher struct {
	registry  Registry
	channels  *Channels
	scheduler *Scheduler
	guard     *Guard
	tracker   Tracker
	store     *Store
	limiter   *RateLimiter
	logger    *slog.Logger
	metrics   *metrics.AlertMetrics
	capture   func(err error, component string)
	config    *Config

	subscribers   []*Subscriber
	subscribersMu sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewDispatcher wires the engine over the given host registry and tracker.
func NewDispatcher(registry Registry, tracker Tracker, config *Config) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	}
	if len(config.Plan) == 0 {
		config.Plan = DefaultPlan()
	}

	logger := getLogger(config.Debug)
	ctx, cancel := context.WithCancel(context.Background())

	store := NewStore(config.MaxActive)
	channels := NewChannels(registry, logger)
	scheduler := NewScheduler(config.Plan, registry, tracker, store, channels, logger)
	guard := NewGuard(registry, scheduler, logger)

	d := &Dispatcher{
		registry:  registry,
		channels:  channels,
		scheduler: scheduler,
		guard:     guard,
		tracker:   tracker,
		store:     store,
		limiter:   NewRateLimiter(config.RateLimitWindow, config.RateLimitMaxEvents),
		logger:    logger,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
	}
	scheduler.SetNotifyFunc(d.broadcast)

	logger.Info("alert dispatcher initialized",
		"escalation_tiers", len(config.Plan),
		"max_active", config.MaxActive,
		"rate_limit_window", config.RateLimitWindow,
		"rate_limit_max_events", config.RateLimitMaxEvents)

	return d
}

// SetMetrics attaches optional metrics. Safe to leave unset.
func (d *Dispatcher) SetMetrics(m *metrics.AlertMetrics) {
	d.metrics = m
	d.scheduler.SetMetrics(m)
}

// SetErrorCapture registers an optional hook invoked for delivery failures
// (e.g. Sentry capture).
func (d *Dispatcher) SetErrorCapture(fn func(err error, component string)) {
	d.capture = fn
}

// EnsureChannels declares the engine's notification channels on the host.
// Idempotent; called once at process start and safe to call again.
func (d *Dispatcher) EnsureChannels(ctx context.Context) {
	d.channels.Ensure(ctx)
}

// Scheduler exposes the escalation scheduler for the background bridge.
func (d *Dispatcher) Scheduler() *Scheduler {
	return d.scheduler
}

// Send runs the full dispatch pipeline for an order event: clear stale
// artifacts, issue the immediate Critical alert (with one reduced-urgency
// fallback on failure), record the pending alert, and arm escalation.
// The returned alert is valid even when delivery failed; the error then
// reports the degradation without blocking the event pipeline.
func (d *Dispatcher) Send(ctx context.Context, ev OrderEvent) (*OrderAlert, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	if !d.limiter.Allow() {
		d.metrics.IncRateLimited()
		return nil, ErrRateLimited
	}

	// Supersede: a later event for the same order fully replaces the prior
	// sequence, so escalation restarts from tier zero.
	cleared := d.guard.ClearForOrder(ctx, ev.OrderID)
	if prior, exists := d.store.Get(ev.OrderID); exists && prior.State == StatePending {
		d.metrics.IncSuperseded()
		d.logger.Info("superseding pending alert with newer event",
			"order_id", ev.OrderID,
			"cleared_notifications", cleared)
	}

	// A superseding event starts a new alert instance; any terminal record
	// from the previous instance must not suppress its escalation.
	if err := d.tracker.Reset(ev.OrderID); err != nil {
		d.logger.Error("tracker reset failed, stale acknowledgment may linger",
			"order_id", ev.OrderID,
			"error", err)
		d.captureError(err)
	}

	notification, deliveryErr := d.issueImmediate(ctx, &ev)

	alert := &OrderAlert{
		OrderID:      ev.OrderID,
		OrderNumber:  ev.OrderNumber,
		CustomerName: ev.CustomerName,
		Amount:       ev.Amount,
		CreatedAt:    ev.CreatedAt,
		State:        StatePending,
	}
	if notification != nil {
		alert.ActiveNotificationIDs = []string{notification.ID}
	}
	d.store.Put(alert)
	d.metrics.SetActiveAlerts(len(d.store.Active()))

	d.scheduler.Arm(ev)

	if notification != nil {
		d.metrics.IncDispatched()
		d.broadcast(notification)
	}

	if d.config.Debug {
		d.logger.Debug("order alert dispatched",
			"order_id", ev.OrderID,
			"order_number", ev.OrderNumber,
			"delivery_failed", deliveryErr != nil)
	}

	return alert.Clone(), deliveryErr
}

// issueImmediate issues the maximum-urgency alert, attempting one
// reduced-urgency fallback if the host rejects it. Returns the notification
// that made it into the registry (nil when both attempts failed) and the
// error to surface for a fully failed delivery.
func (d *Dispatcher) issueImmediate(ctx context.Context, ev *OrderEvent) (*Notification, error) {
	now := time.Now()
	payload := eventPayload(ev, TypeNewOrder)

	notification := &Notification{
		ID:        NotificationID(ev.OrderID, 0, now),
		Type:      TypeNewOrder,
		Priority:  PriorityCritical,
		Title:     "New order received!",
		Message:   composeOrderMessage(ev),
		OrderID:   ev.OrderID,
		Channel:   d.channels.Name(PriorityCritical),
		Timestamp: now,
		Metadata:  payload,
	}

	content := &Content{
		Title:    notification.Title,
		Body:     notification.Message,
		Priority: notification.Priority,
		Channel:  notification.Channel,
		Payload:  payload,
	}

	err := d.registry.Schedule(ctx, content, TriggerNow(), notification.ID)
	if err == nil {
		return notification, nil
	}

	d.metrics.IncDispatchFailure("initial")
	d.logger.Error("immediate alert delivery failed, attempting fallback",
		"order_id", ev.OrderID,
		"error", err)

	// One best-effort fallback at reduced urgency on the default channel.
	fallback := notification.Clone()
	fallback.ID = notification.ID + "-fb"
	fallback.Priority = PriorityHigh
	fallback.Channel = ChannelDefault

	fbContent := *content
	fbContent.Priority = PriorityHigh
	fbContent.Channel = ChannelDefault

	fbErr := d.registry.Schedule(ctx, &fbContent, TriggerNow(), fallback.ID)
	if fbErr == nil {
		return fallback, nil
	}

	d.metrics.IncDispatchFailure("fallback")
	combined := errors.New(errors.Join(err, fbErr)).
		Component("alert").
		Category(errors.CategoryDelivery).
		Context("operation", "send_alert").
		Context("order_id", ev.OrderID).
		Build()
	d.logger.Error("fallback alert delivery failed, operator will not be alerted",
		"order_id", ev.OrderID,
		"error", fbErr)
	d.captureError(combined)

	return nil, combined
}

// Acknowledge records the operator acting on the order's alert, clears every
// pending artifact and timer, and transitions the alert to its terminal
// state.
func (d *Dispatcher) Acknowledge(ctx context.Context, orderID string) error {
	return d.finish(ctx, orderID, StateAcknowledged)
}

// Dismiss records the operator dismissing the order's alert.
func (d *Dispatcher) Dismiss(ctx context.Context, orderID string) error {
	return d.finish(ctx, orderID, StateDismissed)
}

func (d *Dispatcher) finish(ctx context.Context, orderID string, state State) error {
	if orderID == "" {
		return errors.Newf("order ID cannot be empty").
			Component("alert").
			Category(errors.CategoryValidation).
			Build()
	}

	// Durable state first: background tier checks must observe the terminal
	// state even if the rest of this call is interrupted.
	var err error
	if state == StateAcknowledged {
		err = d.tracker.Acknowledge(orderID)
	} else {
		err = d.tracker.Dismiss(orderID)
	}
	if err != nil {
		return err
	}

	d.guard.ClearForOrder(ctx, orderID)

	// Notification ids must be gone before the terminal transition.
	d.store.ClearNotificationIDs(orderID)
	if stateErr := d.store.SetState(orderID, state); stateErr != nil && !errors.Is(stateErr, ErrAlertNotFound) {
		// Already terminal: the operator double-acted, nothing to undo.
		d.logger.Debug("terminal transition skipped", "order_id", orderID, "error", stateErr)
	}

	if state == StateAcknowledged {
		d.metrics.IncAcknowledged()
	} else {
		d.metrics.IncDismissed()
	}
	d.metrics.SetActiveAlerts(len(d.store.Active()))

	d.logger.Info("order alert resolved",
		"order_id", orderID,
		"state", state)
	return nil
}

// IsAcknowledged reports whether the order's alert was acknowledged.
func (d *Dispatcher) IsAcknowledged(orderID string) bool {
	acked, err := d.tracker.IsAcknowledged(orderID)
	if err != nil {
		d.logger.Error("tracker read failed", "order_id", orderID, "error", err)
		return false
	}
	return acked
}

// Get returns a copy of the alert for the given order.
func (d *Dispatcher) Get(orderID string) (*OrderAlert, error) {
	alert, exists := d.store.Get(orderID)
	if !exists {
		return nil, ErrAlertNotFound
	}
	return alert, nil
}

// Active returns all pending alerts, newest first.
func (d *Dispatcher) Active() []*OrderAlert {
	return d.store.Active()
}

// All returns every tracked alert, newest first.
func (d *Dispatcher) All() []*OrderAlert {
	return d.store.All()
}

// Subscribe creates a channel receiving every notification the engine
// issues. The subscriber must stop consuming when the returned context is
// cancelled and must not close the channel.
func (d *Dispatcher) Subscribe() (<-chan *Notification, context.Context) {
	d.subscribersMu.Lock()
	defer d.subscribersMu.Unlock()

	ctx, cancel := context.WithCancel(d.ctx)
	sub := &Subscriber{
		ch:     make(chan *Notification, DefaultChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.subscribers = append(d.subscribers, sub)
	return sub.ch, ctx
}

// Unsubscribe removes a notification channel and cancels its context.
func (d *Dispatcher) Unsubscribe(ch <-chan *Notification) {
	d.subscribersMu.Lock()
	defer d.subscribersMu.Unlock()

	for i, sub := range d.subscribers {
		if sub.ch == ch {
			sub.cancel()
			d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
			break
		}
	}
}

// broadcast fans a cloned notification out to every live subscriber.
// Full channels are skipped rather than blocking the dispatch path.
func (d *Dispatcher) broadcast(notification *Notification) {
	d.subscribersMu.Lock()
	defer d.subscribersMu.Unlock()

	active := d.subscribers[:0]
	for _, sub := range d.subscribers {
		select {
		case <-sub.ctx.Done():
			continue
		default:
		}
		active = append(active, sub)

		select {
		case sub.ch <- notification.Clone():
		default:
			d.logger.Debug("notification channel full, skipping subscriber")
		}
	}
	d.subscribers = active
}

// Stop shuts the dispatcher down: cancels armed escalations and subscriber
// contexts.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.scheduler.Stop()

	d.subscribersMu.Lock()
	for _, sub := range d.subscribers {
		sub.cancel()
	}
	d.subscribers = nil
	d.subscribersMu.Unlock()

	d.logger.Info("alert dispatcher stopped")
}

func (d *Dispatcher) captureError(err error) {
	if d.capture != nil {
		d.capture(err, "alert")
	}
}

// composeOrderMessage builds the immediate alert body.
func composeOrderMessage(ev *OrderEvent) string {
	return fmt.Sprintf("Order #%s from %s, total %.2f. Tap to view.",
		ev.OrderNumber, ev.CustomerName, ev.Amount)
}
