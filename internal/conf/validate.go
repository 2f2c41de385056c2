package conf

import (
	"fmt"
	"sort"
	"strings"
)

// ValidateSettings checks settings for consistency and normalizes the
// escalation ladder. Returns an error describing every problem found.
func ValidateSettings(settings *Settings) error {
	var problems []string

	if settings.Alerts.MaxActive <= 0 {
		problems = append(problems, "alerts.maxactive must be positive")
	}
	if settings.Alerts.RateLimit.Window <= 0 {
		problems = append(problems, "alerts.ratelimit.window must be positive")
	}
	if settings.Alerts.RateLimit.MaxEvents <= 0 {
		problems = append(problems, "alerts.ratelimit.maxevents must be positive")
	}

	for i := range settings.Alerts.Escalation {
		tier := &settings.Alerts.Escalation[i]
		if tier.Delay <= 0 {
			problems = append(problems, fmt.Sprintf("alerts.escalation[%d].delay must be positive", i))
		}
		if strings.TrimSpace(tier.Label) == "" {
			problems = append(problems, fmt.Sprintf("alerts.escalation[%d].label must not be empty", i))
		}
	}

	// The scheduler assumes tiers fire in order of increasing delay.
	sort.SliceStable(settings.Alerts.Escalation, func(i, j int) bool {
		return settings.Alerts.Escalation[i].Delay < settings.Alerts.Escalation[j].Delay
	})

	if settings.MQTT.Enabled {
		if settings.MQTT.Broker == "" {
			problems = append(problems, "mqtt.broker is required when mqtt is enabled")
		}
		if settings.MQTT.Topic == "" {
			problems = append(problems, "mqtt.topic is required when mqtt is enabled")
		}
	}

	if settings.HTTP.Enabled && settings.HTTP.Listen == "" {
		problems = append(problems, "http.listen is required when http is enabled")
	}

	for i := range settings.Push.Providers {
		p := &settings.Push.Providers[i]
		if !p.Enabled {
			continue
		}
		switch strings.ToLower(p.Type) {
		case "shoutrrr", "webhook":
		default:
			problems = append(problems, fmt.Sprintf("push.providers[%d].type %q is not supported", i, p.Type))
		}
		if len(p.URLs) == 0 {
			problems = append(problems, fmt.Sprintf("push.providers[%d] requires at least one URL", i))
		}
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		problems = append(problems, "sentry.dsn is required when sentry is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
