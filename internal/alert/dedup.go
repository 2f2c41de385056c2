package alert

import (
	"context"
	"log/slog"
)

// Guard cancels every scheduled and displayed notification belonging to an
// order, plus its in-flight escalation timers, before a new alert sequence
// is issued. Clearing is the engine's only synchronization against the host
// notification set: enumerate, then cancel by identifier match.
type Guard struct {
	registry  Registry
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewGuard creates the deduplication guard.
func NewGuard(registry Registry, scheduler *Scheduler, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{registry: registry, scheduler: scheduler, logger: logger}
}

// ClearForOrder cancels all artifacts for the order and returns how many
// host-level notifications were removed. Safe to call when nothing exists
// for the order; individual cancellation failures are treated as no-ops.
func (g *Guard) ClearForOrder(ctx context.Context, orderID string) int {
	g.scheduler.Cancel(orderID)

	cleared := 0

	scheduled, err := g.registry.ListScheduled(ctx)
	if err != nil {
		g.logger.Warn("could not enumerate scheduled notifications",
			"order_id", orderID,
			"error", err)
	}
	for _, id := range scheduled {
		if !BelongsToOrder(id, orderID) {
			continue
		}
		if err := g.registry.Cancel(ctx, id); err != nil {
			// Identifier may have fired or been removed since enumeration.
			g.logger.Debug("cancel of scheduled notification was a no-op",
				"notification_id", id,
				"error", err)
			continue
		}
		cleared++
	}

	displayed, err := g.registry.ListDisplayed(ctx)
	if err != nil {
		g.logger.Warn("could not enumerate displayed notifications",
			"order_id", orderID,
			"error", err)
	}
	for _, id := range displayed {
		if !BelongsToOrder(id, orderID) {
			continue
		}
		if err := g.registry.Dismiss(ctx, id); err != nil {
			g.logger.Debug("dismiss of displayed notification was a no-op",
				"notification_id", id,
				"error", err)
			continue
		}
		cleared++
	}

	if cleared > 0 {
		g.logger.Debug("cleared stale notifications for order",
			"order_id", orderID,
			"cleared", cleared)
	}
	return cleared
}
