package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestSettings() *Settings {
	return &Settings{
		Main: MainSettings{Name: "ordersentry"},
		Alerts: AlertSettings{
			MaxActive:   100,
			TrackerPath: "acks.db",
			Escalation: []TierSettings{
				{Delay: 30 * time.Second, Label: "High"},
				{Delay: 60 * time.Second, Label: "Very High"},
				{Delay: 120 * time.Second, Label: "Critical"},
			},
			RateLimit: RateLimitSettings{Window: time.Minute, MaxEvents: 100},
		},
		HTTP: HTTPSettings{Enabled: true, Listen: "127.0.0.1:0"},
	}
}

func TestValidateSettingsDefaults(t *testing.T) {
	settings := defaultTestSettings()
	require.NoError(t, ValidateSettings(settings))
}

func TestValidateSettingsSortsEscalation(t *testing.T) {
	settings := defaultTestSettings()
	settings.Alerts.Escalation = []TierSettings{
		{Delay: 120 * time.Second, Label: "Critical"},
		{Delay: 30 * time.Second, Label: "High"},
		{Delay: 60 * time.Second, Label: "Very High"},
	}

	require.NoError(t, ValidateSettings(settings))

	assert.Equal(t, 30*time.Second, settings.Alerts.Escalation[0].Delay)
	assert.Equal(t, 60*time.Second, settings.Alerts.Escalation[1].Delay)
	assert.Equal(t, 120*time.Second, settings.Alerts.Escalation[2].Delay)
}

func TestValidateSettingsRejectsBadTiers(t *testing.T) {
	settings := defaultTestSettings()
	settings.Alerts.Escalation = []TierSettings{{Delay: 0, Label: ""}}

	err := ValidateSettings(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delay must be positive")
	assert.Contains(t, err.Error(), "label must not be empty")
}

func TestValidateSettingsMQTTRequiresBroker(t *testing.T) {
	settings := defaultTestSettings()
	settings.MQTT = MQTTSettings{Enabled: true, Broker: "", Topic: ""}

	err := ValidateSettings(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.broker")
	assert.Contains(t, err.Error(), "mqtt.topic")
}

func TestValidateSettingsPushProvider(t *testing.T) {
	settings := defaultTestSettings()
	settings.Push.Providers = []PushProviderSettings{
		{Name: "ops", Type: "carrier-pigeon", Enabled: true},
	}

	err := ValidateSettings(settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not supported")
	assert.Contains(t, err.Error(), "at least one URL")
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	settings := defaultTestSettings()
	path := filepath.Join(t.TempDir(), "conf", "ordersentry.yaml")

	require.NoError(t, SaveSettings(settings, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "trackerpath: acks.db")
	assert.Contains(t, string(data), "label: Very High")
}
