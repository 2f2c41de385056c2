package alert

// Action is the outcome of the shared decision function.
type Action int

const (
	// ActionNone means no notification work is required
	ActionNone Action = iota
	// ActionDispatch means run the full dispatch pipeline for a fresh event
	ActionDispatch
	// ActionEscalate means issue the follow-up for an unacknowledged order
	ActionEscalate
)

// ReentryEvent is the normalized input to Decide, whether it originates from
// the live process (a scheduler timer) or from the host's background
// callback (a notification payload).
type ReentryEvent struct {
	Type  Type
	Order OrderEvent
	Tier  int // escalation tier index, valid when Type == TypeEscalation
}

// Decide is the single decision function shared by the foreground tier
// checks and the background re-entry bridge. Keeping it pure — inputs in,
// action out, the durable tracker state passed as a value — prevents the two
// entry points from diverging.
func Decide(ev ReentryEvent, tracked State) Action {
	switch ev.Type {
	case TypeNewOrder:
		// A fresh event always dispatches; supersession of any previous
		// sequence happens inside the pipeline itself.
		return ActionDispatch
	case TypeEscalation:
		if tracked.Terminal() {
			return ActionNone
		}
		return ActionEscalate
	default:
		return ActionNone
	}
}
