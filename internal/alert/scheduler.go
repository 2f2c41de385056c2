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

// armedSequence holds the cancellable timer handles for one order's
// escalation ladder.
type armedSequence struct {
	event     OrderEvent
	timers    []*time.Timer
	armedAt   time.Time
	remaining int
}

// Scheduler arms a bounded sequence of follow-up alerts at increasing
// urgency while an order remains unacknowledged. Timer handles are kept in a
// map keyed by order id so cancellation is O(1) and never depends on naming
// conventions.
type Scheduler struct {
	mu        sync.Mutex
	sequences map[string]*armedSequence

	plan     Plan
	registry Registry
	tracker  Tracker
	store    *Store
	channels *Channels
	logger   *slog.Logger
	metrics  *metrics.AlertMetrics
	notify   func(*Notification)
}

// NewScheduler creates an escalation scheduler over the given plan.
func NewScheduler(plan Plan, registry Registry, tracker Tracker, store *Store, channels *Channels, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sequences: make(map[string]*armedSequence),
		plan:      plan,
		registry:  registry,
		tracker:   tracker,
		store:     store,
		channels:  channels,
		logger:    logger,
	}
}

// SetMetrics attaches optional metrics. Safe to leave unset.
func (s *Scheduler) SetMetrics(m *metrics.AlertMetrics) {
	s.metrics = m
}

// SetNotifyFunc registers the broadcast hook invoked for every follow-up
// notification issued.
func (s *Scheduler) SetNotifyFunc(fn func(*Notification)) {
	s.notify = fn
}

// Plan returns the escalation ladder.
func (s *Scheduler) Plan() Plan {
	return s.plan
}

// Arm schedules one deferred check per tier of the plan. Any previously
// armed sequence for the order is cancelled first; the deduplication guard
// normally does this already, so a replacement here is logged.
func (s *Scheduler) Arm(ev OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sequences[ev.OrderID]; exists {
		s.cancelLocked(ev.OrderID)
		s.logger.Warn("replaced armed escalation sequence", "order_id", ev.OrderID)
	}

	seq := &armedSequence{
		event:     ev,
		armedAt:   time.Now(),
		remaining: len(s.plan),
	}
	seq.timers = make([]*time.Timer, len(s.plan))
	for i, tier := range s.plan {
		index := i
		seq.timers[i] = time.AfterFunc(tier.Delay, func() {
			s.onTier(seq, index)
		})
	}
	s.sequences[ev.OrderID] = seq

	s.logger.Debug("escalation sequence armed",
		"order_id", ev.OrderID,
		"tiers", len(s.plan))
}

// Cancel stops all not-yet-fired deferred checks for the order. Safe to call
// when nothing is armed.
func (s *Scheduler) Cancel(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(orderID)
}

func (s *Scheduler) cancelLocked(orderID string) {
	seq, exists := s.sequences[orderID]
	if !exists {
		return
	}
	for _, timer := range seq.timers {
		timer.Stop()
	}
	delete(s.sequences, orderID)
}

// ArmedTiers returns the number of tiers that have not fired yet for the
// order, zero when no sequence is armed.
func (s *Scheduler) ArmedTiers(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, exists := s.sequences[orderID]; exists {
		return seq.remaining
	}
	return 0
}

// Stop cancels every armed sequence.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for orderID := range s.sequences {
		s.cancelLocked(orderID)
	}
}

// onTier is the deferred action of a single tier. It verifies the firing
// sequence is still the current one for the order (a superseding event swaps
// the sequence out under the same order id) and then runs the shared check.
func (s *Scheduler) onTier(seq *armedSequence, tierIndex int) {
	s.mu.Lock()
	current, exists := s.sequences[seq.event.OrderID]
	if !exists || current != seq {
		s.mu.Unlock()
		return
	}
	seq.remaining--
	if seq.remaining <= 0 {
		delete(s.sequences, seq.event.OrderID)
	}
	s.mu.Unlock()

	// A tier error is isolated to that tier; remaining timers stay armed.
	if err := s.RunTierCheck(context.Background(), seq.event, tierIndex); err != nil {
		s.logger.Error("escalation tier check failed",
			"order_id", seq.event.OrderID,
			"tier", tierIndex,
			"error", err)
	}
}

// RunTierCheck executes one tier's check: consult the tracker, and when the
// order is still unacknowledged issue the follow-up notification. Exported
// so the background re-entry bridge can run the identical logic without
// re-arming a duplicate sequence.
func (s *Scheduler) RunTierCheck(ctx context.Context, ev OrderEvent, tierIndex int) error {
	if tierIndex < 0 || tierIndex >= len(s.plan) {
		return errors.Newf("escalation tier %d out of range", tierIndex).
			Component("alert").
			Category(errors.CategoryScheduling).
			Context("order_id", ev.OrderID).
			Build()
	}
	tier := s.plan[tierIndex]

	tracked, err := s.tracker.State(ev.OrderID)
	if err != nil {
		// Escalate anyway: a missed follow-up is worse than a redundant one.
		s.logger.Error("tracker read failed during tier check",
			"order_id", ev.OrderID,
			"tier", tierIndex,
			"error", err)
		tracked = StatePending
	}

	action := Decide(ReentryEvent{Type: TypeEscalation, Order: ev, Tier: tierIndex}, tracked)
	if action != ActionEscalate {
		s.logger.Debug("escalation stopped, order already handled",
			"order_id", ev.OrderID,
			"tier", tierIndex,
			"state", tracked)
		return nil
	}

	return s.issueFollowUp(ctx, ev, tierIndex, tier)
}

// issueFollowUp composes and issues the follow-up notification for a tier.
func (s *Scheduler) issueFollowUp(ctx context.Context, ev OrderEvent, tierIndex int, tier Tier) error {
	now := time.Now()
	level := tierIndex + 1
	if newLevel, err := s.store.IncrementLevel(ev.OrderID); err == nil {
		level = newLevel
	}

	elapsed := now.Sub(ev.CreatedAt).Round(time.Second)
	payload := eventPayload(&ev, TypeEscalation)
	payload[PayloadKeyTier] = tierIndex
	payload[PayloadKeyLabel] = tier.Label

	notification := &Notification{
		ID:       NotificationID(ev.OrderID, level, now),
		Type:     TypeEscalation,
		Priority: PriorityCritical,
		Title:    fmt.Sprintf("Order #%s still waiting!", ev.OrderNumber),
		Message: fmt.Sprintf("Order #%s from %s (%.2f) has been unacknowledged for %s. Urgency: %s.",
			ev.OrderNumber, ev.CustomerName, ev.Amount, elapsed, tier.Label),
		OrderID:   ev.OrderID,
		Channel:   s.channels.Name(PriorityCritical),
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

	if err := s.registry.Schedule(ctx, content, TriggerNow(), notification.ID); err != nil {
		s.metrics.IncDispatchFailure("escalation")
		return errors.New(err).
			Component("alert").
			Category(errors.CategoryDelivery).
			Context("operation", "issue_follow_up").
			Context("order_id", ev.OrderID).
			Context("tier", tierIndex).
			Build()
	}

	s.store.AddNotificationID(ev.OrderID, notification.ID)
	s.metrics.IncEscalation(tier.Label)

	s.logger.Info("escalation follow-up issued",
		"order_id", ev.OrderID,
		"tier", tierIndex,
		"label", tier.Label,
		"elapsed", elapsed)

	if s.notify != nil {
		s.notify(notification)
	}
	return nil
}
