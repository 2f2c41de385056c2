package alert

import (
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ordersentry/ordersentry/internal/errors"
)

// Tracker records whether an order's alert has been acknowledged or dismissed
// by an operator. The durable implementation survives process restarts, so
// escalation checks running from a background invocation see the same state
// as the live process.
type Tracker interface {
	// Acknowledge records the operator acting on the order's alert.
	Acknowledge(orderID string) error
	// Dismiss records the operator dismissing the order's alert.
	Dismiss(orderID string) error
	// IsAcknowledged reports whether the order's alert was acknowledged.
	IsAcknowledged(orderID string) (bool, error)
	// State returns the recorded state; StatePending when no record exists.
	State(orderID string) (State, error)
	// Reset removes the record so a superseding alert starts unacknowledged.
	Reset(orderID string) error
}

// AckRecord is the persisted acknowledgment row.
type AckRecord struct {
	OrderID   string `gorm:"primaryKey;size:191"`
	State     string
	UpdatedAt time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (AckRecord) TableName() string {
	return "ack_records"
}

// Terminal-state cache TTL. Terminal states never revert within an alert
// instance, so caching them only risks staleness across a Reset, which
// invalidates the entry explicitly.
const trackerCacheTTL = 5 * time.Minute

// SQLiteTracker persists acknowledgment records in a local sqlite file.
type SQLiteTracker struct {
	db     *gorm.DB
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewSQLiteTracker opens (creating if necessary) the acknowledgment database
// at the given path and migrates its schema.
func NewSQLiteTracker(path string, logger *slog.Logger) (*SQLiteTracker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("alert").
			Category(errors.CategoryDatabase).
			Context("operation", "open_tracker").
			Build()
	}

	if err := db.AutoMigrate(&AckRecord{}); err != nil {
		return nil, errors.New(err).
			Component("alert").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate_tracker").
			Build()
	}

	return &SQLiteTracker{
		db:     db,
		cache:  gocache.New(trackerCacheTTL, 2*trackerCacheTTL),
		logger: logger,
	}, nil
}

// Acknowledge records the acknowledged state for the order.
func (t *SQLiteTracker) Acknowledge(orderID string) error {
	return t.setState(orderID, StateAcknowledged)
}

// Dismiss records the dismissed state for the order.
func (t *SQLiteTracker) Dismiss(orderID string) error {
	return t.setState(orderID, StateDismissed)
}

func (t *SQLiteTracker) setState(orderID string, state State) error {
	record := AckRecord{
		OrderID:   orderID,
		State:     string(state),
		UpdatedAt: time.Now(),
	}

	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return errors.New(err).
			Component("alert").
			Category(errors.CategoryDatabase).
			Context("operation", "record_state").
			Context("order_id", orderID).
			Build()
	}

	t.cache.Set(orderID, state, gocache.DefaultExpiration)
	return nil
}

// IsAcknowledged reports whether the order's alert was acknowledged.
func (t *SQLiteTracker) IsAcknowledged(orderID string) (bool, error) {
	state, err := t.State(orderID)
	if err != nil {
		return false, err
	}
	return state == StateAcknowledged, nil
}

// State returns the recorded state, StatePending when no record exists.
// Terminal states are served from cache to keep tier checks off the database.
func (t *SQLiteTracker) State(orderID string) (State, error) {
	if cached, found := t.cache.Get(orderID); found {
		return cached.(State), nil
	}

	var record AckRecord
	err := t.db.First(&record, "order_id = ?", orderID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return StatePending, nil
	case err != nil:
		return StatePending, errors.New(err).
			Component("alert").
			Category(errors.CategoryDatabase).
			Context("operation", "read_state").
			Context("order_id", orderID).
			Build()
	}

	state := State(record.State)
	if state.Terminal() {
		t.cache.Set(orderID, state, gocache.DefaultExpiration)
	}
	return state, nil
}

// Reset removes any record for the order so a superseding alert instance
// starts unacknowledged.
func (t *SQLiteTracker) Reset(orderID string) error {
	t.cache.Delete(orderID)

	err := t.db.Delete(&AckRecord{}, "order_id = ?", orderID).Error
	if err != nil {
		return errors.New(err).
			Component("alert").
			Category(errors.CategoryDatabase).
			Context("operation", "reset_state").
			Context("order_id", orderID).
			Build()
	}
	return nil
}

// Close releases the underlying database handle.
func (t *SQLiteTracker) Close() error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MemoryTracker is a volatile Tracker for tests and foreground-only use.
type MemoryTracker struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{states: make(map[string]State)}
}

// Acknowledge records the acknowledged state for the order.
func (t *MemoryTracker) Acknowledge(orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[orderID] = StateAcknowledged
	return nil
}

// Dismiss records the dismissed state for the order.
func (t *MemoryTracker) Dismiss(orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[orderID] = StateDismissed
	return nil
}

// IsAcknowledged reports whether the order's alert was acknowledged.
func (t *MemoryTracker) IsAcknowledged(orderID string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[orderID] == StateAcknowledged, nil
}

// State returns the recorded state, StatePending when no record exists.
func (t *MemoryTracker) State(orderID string) (State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if state, exists := t.states[orderID]; exists {
		return state, nil
	}
	return StatePending, nil
}

// Reset removes any record for the order.
func (t *MemoryTracker) Reset(orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, orderID)
	return nil
}
