package alert

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Importance mirrors the host notification subsystem's channel importance.
type Importance string

const (
	// ImportanceMax interrupts the operator regardless of device state
	ImportanceMax Importance = "max"
	// ImportanceHigh makes noise but respects quiet hours
	ImportanceHigh Importance = "high"
	// ImportanceDefault is the host's standard behavior
	ImportanceDefault Importance = "default"
)

// Channel is a notification channel/class declaration.
type Channel struct {
	ID               string
	Name             string
	Importance       Importance
	BypassQuietHours bool
	Visibility       string // "public" or "private"
	VibrationPattern []int  // alternating off/on durations in milliseconds
	Sound            string
}

// Channel identifiers used by the engine.
const (
	// ChannelCritical carries the immediate new-order alert and escalations
	ChannelCritical = "order-alerts-critical"
	// ChannelHigh carries reduced-urgency follow-ups and fallbacks
	ChannelHigh = "order-alerts-high"
	// ChannelDefault is the host's fallback when channel setup failed
	ChannelDefault = "default"
)

// Channels declares the engine's notification channels on the host and
// selects the channel for a given priority. If the host rejects channel
// creation, dispatch falls back to the default channel rather than failing.
type Channels struct {
	registry Registry
	logger   *slog.Logger
	usable   atomic.Bool
}

// NewChannels creates the channel configurator.
func NewChannels(registry Registry, logger *slog.Logger) *Channels {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channels{registry: registry, logger: logger}
}

// criticalChannel is the maximum-urgency class: bypasses quiet hours, public
// visibility, strong repeating vibration, dedicated sound.
func criticalChannel() Channel {
	return Channel{
		ID:               ChannelCritical,
		Name:             "Critical Order Alerts",
		Importance:       ImportanceMax,
		BypassQuietHours: true,
		Visibility:       "public",
		VibrationPattern: []int{0, 500, 250, 500, 250, 500, 250, 500},
		Sound:            "order_alarm",
	}
}

// highChannel is the high-urgency class with standard visibility.
func highChannel() Channel {
	return Channel{
		ID:               ChannelHigh,
		Name:             "Order Alerts",
		Importance:       ImportanceHigh,
		BypassQuietHours: false,
		Visibility:       "private",
		VibrationPattern: []int{0, 300, 200, 300},
		Sound:            "order_chime",
	}
}

// Ensure declares the urgency classes on the host notification subsystem.
// Idempotent and safe to call again after a host-side config reinstall.
// Rejection is not fatal: it is logged and later dispatch uses the default
// channel.
func (c *Channels) Ensure(ctx context.Context) {
	ok := true
	for _, channel := range []Channel{criticalChannel(), highChannel()} {
		if err := c.registry.EnsureChannel(ctx, channel); err != nil {
			c.logger.Warn("notification channel setup rejected, dispatch will use default channel",
				"channel", channel.ID,
				"error", err)
			ok = false
		}
	}
	c.usable.Store(ok)

	if ok {
		c.logger.Info("notification channels declared",
			"critical", ChannelCritical,
			"high", ChannelHigh)
	}
}

// Name returns the channel identifier to use for the given priority,
// falling back to the default channel when setup failed.
func (c *Channels) Name(priority Priority) string {
	if !c.usable.Load() {
		return ChannelDefault
	}
	if priority == PriorityCritical {
		return ChannelCritical
	}
	return ChannelHigh
}
