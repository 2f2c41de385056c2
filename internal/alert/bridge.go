package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/ordersentry/ordersentry/internal/errors"
)

// Bridge is the background re-entry point. When the host wakes the process
// for a deferred notification (or delivers an order event while the app is
// backgrounded), the callback hands the raw payload here. The bridge
// normalizes it, consults the same Decide function the live scheduler uses,
// and runs the corresponding pipeline. A panic or error inside Handle is
// contained; the host callback must always return normally.
type Bridge struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	capture    func(err error, component string)
}

// NewBridge creates the background re-entry bridge over a dispatcher.
func NewBridge(dispatcher *Dispatcher) *Bridge {
	return &Bridge{
		dispatcher: dispatcher,
		logger:     dispatcher.logger,
		capture:    dispatcher.capture,
	}
}

// Handle processes one background payload. It never panics and never returns
// a fatal condition; the returned error is informational for the caller's
// logging only.
func (b *Bridge) Handle(ctx context.Context, payload map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("background handler panic: %v", r).
				Component("alert").
				Category(errors.CategorySystem).
				Context("operation", "background_handle").
				Build()
			b.logger.Error("recovered panic in background handler", "panic", r)
			if b.capture != nil {
				b.capture(err, "alert")
			}
		}
	}()

	ev, parseErr := parseReentryPayload(payload)
	if parseErr != nil {
		b.logger.Warn("discarding malformed background payload", "error", parseErr)
		return parseErr
	}

	tracked, trackErr := b.dispatcher.tracker.State(ev.Order.OrderID)
	if trackErr != nil {
		b.logger.Error("tracker read failed in background handler",
			"order_id", ev.Order.OrderID,
			"error", trackErr)
		tracked = StatePending
	}

	switch Decide(ev, tracked) {
	case ActionDispatch:
		_, err = b.dispatcher.Send(ctx, ev.Order)
	case ActionEscalate:
		err = b.dispatcher.scheduler.RunTierCheck(ctx, ev.Order, ev.Tier)
	default:
		b.logger.Debug("background payload requires no action",
			"order_id", ev.Order.OrderID,
			"type", ev.Type)
	}
	if err != nil {
		b.logger.Error("background handler action failed",
			"order_id", ev.Order.OrderID,
			"type", ev.Type,
			"error", err)
	}
	return err
}

// parseReentryPayload normalizes a host payload into a ReentryEvent. Numeric
// values arrive as float64 after JSON decoding; both float64 and int forms
// are accepted.
func parseReentryPayload(payload map[string]any) (ReentryEvent, error) {
	fail := func(msg string) (ReentryEvent, error) {
		return ReentryEvent{}, errors.Newf("%s", msg).
			Component("alert").
			Category(errors.CategoryValidation).
			Context("operation", "parse_payload").
			Build()
	}

	rawType, ok := payload[PayloadKeyType].(string)
	if !ok || rawType == "" {
		return fail("payload missing type")
	}
	typ := Type(rawType)
	if typ != TypeNewOrder && typ != TypeEscalation {
		return fail("payload has unknown type " + rawType)
	}

	orderID, ok := payload[PayloadKeyOrderID].(string)
	if !ok || orderID == "" {
		return fail("payload missing order id")
	}

	ev := ReentryEvent{
		Type: typ,
		Order: OrderEvent{
			OrderID: orderID,
		},
	}
	if v, ok := payload[PayloadKeyOrderNumber].(string); ok {
		ev.Order.OrderNumber = v
	}
	if v, ok := payload[PayloadKeyCustomerName].(string); ok {
		ev.Order.CustomerName = v
	}
	ev.Order.Amount, _ = payloadFloat(payload[PayloadKeyAmount])

	ev.Order.CreatedAt = time.Now()
	if raw, ok := payload[PayloadKeyTimestamp].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ev.Order.CreatedAt = ts
		}
	}

	if typ == TypeEscalation {
		tier, ok := payloadFloat(payload[PayloadKeyTier])
		if !ok {
			return fail("escalation payload missing tier")
		}
		ev.Tier = int(tier)
	}
	return ev, nil
}

func payloadFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
