package alert

import (
	"sort"
	"sync"
	"time"

	"github.com/ordersentry/ordersentry/internal/errors"
)

// Store is a thread-safe in-memory map of order alerts, keyed by order id.
// Keying by order id enforces the single-active-alert invariant: installing a
// fresh alert for an order replaces the previous instance.
type Store struct {
	mu      sync.RWMutex
	alerts  map[string]*OrderAlert
	maxSize int
}

// DefaultMaxAlerts bounds the in-memory alert map when no limit is configured.
const DefaultMaxAlerts = 1000

// NewStore creates a new alert store.
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxAlerts
	}
	return &Store{
		alerts:  make(map[string]*OrderAlert),
		maxSize: maxSize,
	}
}

// Put installs an alert, replacing any previous instance for the same order.
func (s *Store) Put(alert *OrderAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[alert.OrderID]; !exists && len(s.alerts) >= s.maxSize {
		s.evictOne()
	}
	s.alerts[alert.OrderID] = alert
}

// evictOne removes the oldest terminal alert, or the oldest alert outright if
// every entry is still pending. Caller holds the lock.
func (s *Store) evictOne() {
	var victimID string
	var victimTime time.Time
	var victimTerminal bool

	for id, a := range s.alerts {
		terminal := a.State.Terminal()
		if victimID == "" ||
			(terminal && !victimTerminal) ||
			(terminal == victimTerminal && a.CreatedAt.Before(victimTime)) {
			victimID = id
			victimTime = a.CreatedAt
			victimTerminal = terminal
		}
	}
	if victimID != "" {
		delete(s.alerts, victimID)
	}
}

// Get returns a copy of the alert for the given order.
func (s *Store) Get(orderID string) (*OrderAlert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, exists := s.alerts[orderID]
	if !exists {
		return nil, false
	}
	return alert.Clone(), true
}

// SetState transitions the alert to the given state. Terminal states are
// absorbing: a second transition attempt is rejected. A terminal transition
// requires the active notification set to have been cleared first.
func (s *Store) SetState(orderID string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, exists := s.alerts[orderID]
	if !exists {
		return ErrAlertNotFound
	}
	if alert.State.Terminal() {
		return errors.Newf("alert for order %s is already %s", orderID, alert.State).
			Component("alert").
			Category(errors.CategoryState).
			Build()
	}
	if state.Terminal() && len(alert.ActiveNotificationIDs) > 0 {
		return errors.Newf("alert for order %s still has %d active notifications", orderID, len(alert.ActiveNotificationIDs)).
			Component("alert").
			Category(errors.CategoryState).
			Build()
	}

	alert.State = state
	return nil
}

// IncrementLevel bumps the escalation level of a pending alert and returns
// the new level. Levels only move while the alert is pending.
func (s *Store) IncrementLevel(orderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, exists := s.alerts[orderID]
	if !exists {
		return 0, ErrAlertNotFound
	}
	if alert.State != StatePending {
		return alert.EscalationLevel, errors.Newf("cannot escalate %s alert for order %s", alert.State, orderID).
			Component("alert").
			Category(errors.CategoryState).
			Build()
	}

	alert.EscalationLevel++
	return alert.EscalationLevel, nil
}

// AddNotificationID records a notification identifier on the alert.
func (s *Store) AddNotificationID(orderID, notificationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert, exists := s.alerts[orderID]; exists {
		alert.ActiveNotificationIDs = append(alert.ActiveNotificationIDs, notificationID)
	}
}

// ClearNotificationIDs empties the active notification set for the alert.
// Must happen before a terminal transition.
func (s *Store) ClearNotificationIDs(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert, exists := s.alerts[orderID]; exists {
		alert.ActiveNotificationIDs = nil
	}
}

// Remove deletes the alert for the given order.
func (s *Store) Remove(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alerts, orderID)
}

// Active returns copies of all pending alerts, newest first.
func (s *Store) Active() []*OrderAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*OrderAlert
	for _, alert := range s.alerts {
		if alert.State == StatePending {
			results = append(results, alert.Clone())
		}
	}
	sortAlertsByTime(results)
	return results
}

// All returns copies of every tracked alert, newest first.
func (s *Store) All() []*OrderAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*OrderAlert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		results = append(results, alert.Clone())
	}
	sortAlertsByTime(results)
	return results
}

// sortAlertsByTime sorts alerts by creation time (newest first).
func sortAlertsByTime(alerts []*OrderAlert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}

// Len returns the number of tracked alerts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
