package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers the default value for every setting with viper.
// Defaults produce a runnable local engine with no config file present.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "ordersentry")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "logs/ordersentry.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	// Alert engine
	viper.SetDefault("alerts.debug", false)
	viper.SetDefault("alerts.maxactive", 1000)
	viper.SetDefault("alerts.trackerpath", "ordersentry-acks.db")
	viper.SetDefault("alerts.escalation", []map[string]any{
		{"delay": 30 * time.Second, "label": "High"},
		{"delay": 60 * time.Second, "label": "Very High"},
		{"delay": 120 * time.Second, "label": "Critical"},
	})
	viper.SetDefault("alerts.ratelimit.window", time.Minute)
	viper.SetDefault("alerts.ratelimit.maxevents", 100)

	// MQTT order event source
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "orders/new")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")

	// Operator REST surface
	viper.SetDefault("http.enabled", true)
	viper.SetDefault("http.listen", "0.0.0.0:8090")

	// Push fan-out
	viper.SetDefault("push.enabled", false)
	viper.SetDefault("push.maxretries", 3)
	viper.SetDefault("push.retrydelay", 5*time.Second)
	viper.SetDefault("push.defaulttimeout", 30*time.Second)

	// Sentry
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
