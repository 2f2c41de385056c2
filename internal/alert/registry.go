package alert

import (
	"context"
	"sync"
	"time"
)

// Trigger controls when a scheduled notification is delivered. The zero value
// means immediate delivery.
type Trigger struct {
	At time.Time
}

// TriggerNow returns an immediate trigger.
func TriggerNow() Trigger {
	return Trigger{}
}

// TriggerAt returns a deferred trigger.
func TriggerAt(t time.Time) Trigger {
	return Trigger{At: t}
}

// Immediate reports whether the trigger fires right away.
func (t Trigger) Immediate() bool {
	return t.At.IsZero() || !t.At.After(time.Now())
}

// Content is the user-visible body of a notification handed to the registry.
type Content struct {
	Title    string
	Body     string
	Priority Priority
	Channel  string
	Payload  map[string]any
}

// Registry is the host-provided notification delivery primitive. The engine
// depends only on this contract, not on a specific delivery protocol.
// Implementations must serialize their own mutations; the engine's only
// synchronization against the host set is enumerate-then-cancel.
type Registry interface {
	// EnsureChannel declares a notification channel/class. Idempotent.
	EnsureChannel(ctx context.Context, channel Channel) error
	// Schedule issues a notification under the given identifier.
	Schedule(ctx context.Context, content *Content, trigger Trigger, id string) error
	// Cancel removes a scheduled notification. Unknown ids are a no-op.
	Cancel(ctx context.Context, id string) error
	// ListScheduled enumerates identifiers of not-yet-delivered notifications.
	ListScheduled(ctx context.Context) ([]string, error)
	// ListDisplayed enumerates identifiers of currently displayed notifications.
	ListDisplayed(ctx context.Context) ([]string, error)
	// Dismiss removes a displayed notification. Unknown ids are a no-op.
	Dismiss(ctx context.Context, id string) error
}

// registryEntry is one notification held by the in-memory registry.
type registryEntry struct {
	Content   Content
	Trigger   Trigger
	IssuedAt  time.Time
	Displayed bool
}

// MemoryRegistry is an in-process Registry. It backs local development, the
// manual test harness, and the engine tests. Immediate triggers land in the
// displayed set; deferred triggers stay scheduled (the in-memory registry
// does not fire them on its own — the engine's scheduler owns escalation
// timing).
type MemoryRegistry struct {
	mu       sync.Mutex
	entries  map[string]*registryEntry
	channels map[string]Channel
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries:  make(map[string]*registryEntry),
		channels: make(map[string]Channel),
	}
}

// EnsureChannel records the channel definition. Idempotent.
func (m *MemoryRegistry) EnsureChannel(_ context.Context, channel Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.ID] = channel
	return nil
}

// Schedule stores the notification under the given identifier.
func (m *MemoryRegistry) Schedule(_ context.Context, content *Content, trigger Trigger, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[id] = &registryEntry{
		Content:   *content,
		Trigger:   trigger,
		IssuedAt:  time.Now(),
		Displayed: trigger.Immediate(),
	}
	return nil
}

// Cancel removes a scheduled notification. Unknown ids are a no-op.
func (m *MemoryRegistry) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.entries[id]; exists && !entry.Displayed {
		delete(m.entries, id)
	}
	return nil
}

// ListScheduled enumerates not-yet-delivered notification identifiers.
func (m *MemoryRegistry) ListScheduled(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, entry := range m.entries {
		if !entry.Displayed {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ListDisplayed enumerates currently displayed notification identifiers.
func (m *MemoryRegistry) ListDisplayed(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, entry := range m.entries {
		if entry.Displayed {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Dismiss removes a displayed notification. Unknown ids are a no-op.
func (m *MemoryRegistry) Dismiss(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.entries[id]; exists && entry.Displayed {
		delete(m.entries, id)
	}
	return nil
}

// Get returns a copy of the stored entry, if present.
func (m *MemoryRegistry) Get(id string) (Content, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[id]
	if !exists {
		return Content{}, false
	}
	return entry.Content, true
}

// IDsForOrder returns every held identifier belonging to the given order.
func (m *MemoryRegistry) IDsForOrder(orderID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id := range m.entries {
		if BelongsToOrder(id, orderID) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Channel returns the stored channel definition, if declared.
func (m *MemoryRegistry) Channel(id string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel, exists := m.channels[id]
	return channel, exists
}

// Len returns the number of held notifications.
func (m *MemoryRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
