// Package alert implements the critical order-alert escalation engine: when a
// new order arrives an operator is alerted at maximum urgency and re-alerted
// with increasing urgency until the alert is acknowledged, without duplicate
// or runaway notifications. The engine issues notifications through a
// host-provided Registry and keeps acknowledgment state in a durable Tracker
// so background re-entry sees the same decisions as the live process.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/ordersentry/ordersentry/internal/errors"
)

// Type categorizes a notification produced by the engine
type Type string

const (
	// TypeNewOrder is the immediate alert issued when an order event arrives
	TypeNewOrder Type = "new-order"
	// TypeEscalation is a follow-up alert for an unacknowledged order
	TypeEscalation Type = "escalation"
)

// Priority indicates the urgency level of a notification
type Priority string

const (
	// PriorityCritical indicates urgent attention required
	PriorityCritical Priority = "critical"
	// PriorityHigh indicates important but not urgent
	PriorityHigh Priority = "high"
	// PriorityMedium indicates normal priority
	PriorityMedium Priority = "medium"
	// PriorityLow indicates low priority/informational
	PriorityLow Priority = "low"
)

// State is the lifecycle state of an order alert. Pending is the only
// non-terminal state; there is no transition out of a terminal state for a
// given alert instance.
type State string

const (
	// StatePending means the alert is live and escalation may still fire
	StatePending State = "pending"
	// StateAcknowledged means an operator acted on the alert
	StateAcknowledged State = "acknowledged"
	// StateDismissed means an operator dismissed the alert without acting
	StateDismissed State = "dismissed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateAcknowledged || s == StateDismissed
}

// Sentinel errors for alert operations
var (
	ErrAlertNotFound = errors.Newf("alert not found").Component("alert").Category(errors.CategoryNotFound).Build()
	ErrRateLimited   = errors.Newf("order event rate limit exceeded").Component("alert").Category(errors.CategoryLimit).Build()
)

// OrderEvent is the input consumed from the realtime transport.
type OrderEvent struct {
	OrderID      string    `json:"orderId"`
	OrderNumber  string    `json:"orderNumber"`
	CustomerName string    `json:"customerName"`
	Amount       float64   `json:"amount"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

// Validate checks the event carries the fields the engine depends on.
func (e *OrderEvent) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return errors.Newf("order event is missing orderId").
			Component("alert").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// OrderAlert is the unit the engine manages: one live alert per order.
type OrderAlert struct {
	OrderID               string    `json:"orderId"`
	OrderNumber           string    `json:"orderNumber"`
	CustomerName          string    `json:"customerName"`
	Amount                float64   `json:"amount"`
	CreatedAt             time.Time `json:"createdAt"`
	State                 State     `json:"state"`
	EscalationLevel       int       `json:"escalationLevel"`
	ActiveNotificationIDs []string  `json:"activeNotificationIds"`
}

// Clone returns a copy safe to hand to callers.
func (a *OrderAlert) Clone() *OrderAlert {
	if a == nil {
		return nil
	}
	clone := *a
	clone.ActiveNotificationIDs = append([]string(nil), a.ActiveNotificationIDs...)
	return &clone
}

// Tier is one step of the escalation ladder.
type Tier struct {
	Delay time.Duration // after the initial dispatch
	Label string        // urgency label communicated in the follow-up body
}

// Plan is the ordered escalation ladder shared by all alerts. Read-only.
type Plan []Tier

// DefaultPlan returns the standard three-step ladder.
func DefaultPlan() Plan {
	return Plan{
		{Delay: 30 * time.Second, Label: "High"},
		{Delay: 60 * time.Second, Label: "Very High"},
		{Delay: 120 * time.Second, Label: "Critical"},
	}
}

// Notification is a single notification issued by the engine. Instances are
// broadcast to subscribers (SSE clients, push fan-out) after being handed to
// the host registry.
type Notification struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Priority  Priority       `json:"priority"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	OrderID   string         `json:"orderId"`
	Channel   string         `json:"channel"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone creates a copy of the notification with its own metadata map, so
// broadcast recipients cannot race with later mutation.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	clone := *n
	if n.Metadata != nil {
		clone.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Metadata keys embedded in every notification payload. The background bridge
// reads these back out of the triggering notification.
const (
	PayloadKeyType         = "type"
	PayloadKeyOrderID      = "orderId"
	PayloadKeyOrderNumber  = "orderNumber"
	PayloadKeyCustomerName = "customerName"
	PayloadKeyAmount       = "amount"
	PayloadKeyTimestamp    = "timestamp"
	PayloadKeyTier         = "tier"
	PayloadKeyLabel        = "label"
)

// notificationIDPrefix anchors the identifier scheme. Identifiers are unique
// per dispatch but recognizable per order for cancellation by prefix match.
const notificationIDPrefix = "order-"

// NotificationID builds the identifier for a dispatch: unique per issue
// (timestamp suffix) while carrying the order prefix for group cancellation.
func NotificationID(orderID string, level int, ts time.Time) string {
	return fmt.Sprintf("%s%s-L%d-%d", notificationIDPrefix, orderID, level, ts.UnixNano())
}

// OrderPrefix returns the identifier prefix shared by every notification for
// the given order.
func OrderPrefix(orderID string) string {
	return notificationIDPrefix + orderID + "-L"
}

// BelongsToOrder reports whether a notification identifier was issued for the
// given order.
func BelongsToOrder(notificationID, orderID string) bool {
	return strings.HasPrefix(notificationID, OrderPrefix(orderID))
}

// eventPayload builds the metadata payload embedded in a notification.
func eventPayload(ev *OrderEvent, typ Type) map[string]any {
	return map[string]any{
		PayloadKeyType:         string(typ),
		PayloadKeyOrderID:      ev.OrderID,
		PayloadKeyOrderNumber:  ev.OrderNumber,
		PayloadKeyCustomerName: ev.CustomerName,
		PayloadKeyAmount:       ev.Amount,
		PayloadKeyTimestamp:    ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
