// Package conf defines the runtime settings for the ordersentry alert engine
// and loads them from config files and environment variables.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig defines the configuration for file logging
type LogConfig struct {
	Enabled    bool   `yaml:"enabled"`    // true to enable file logging
	Path       string `yaml:"path"`       // path to log file
	MaxSizeMB  int    `yaml:"maxsizemb"`  // rotate after this many megabytes
	MaxBackups int    `yaml:"maxbackups"` // number of rotated files to keep
	MaxAgeDays int    `yaml:"maxagedays"` // days to retain rotated files
}

// MainSettings contains general application settings
type MainSettings struct {
	Name string    `yaml:"name"` // instance name, used as client id for transports
	Log  LogConfig `yaml:"log"`  // file logging settings
}

// TierSettings is one step of the escalation ladder
type TierSettings struct {
	Delay time.Duration `yaml:"delay"` // delay after initial dispatch
	Label string        `yaml:"label"` // urgency label for the follow-up body
}

// RateLimitSettings bounds how many order events are accepted per window
type RateLimitSettings struct {
	Window    time.Duration `yaml:"window"`
	MaxEvents int           `yaml:"maxevents"`
}

// AlertSettings configures the escalation engine itself
type AlertSettings struct {
	Debug       bool              `yaml:"debug"`       // enable debug logging for the alert engine
	MaxActive   int               `yaml:"maxactive"`   // maximum tracked alerts kept in memory
	TrackerPath string            `yaml:"trackerpath"` // sqlite file for the acknowledgment tracker
	Escalation  []TierSettings    `yaml:"escalation"`  // escalation ladder, ordered by delay
	RateLimit   RateLimitSettings `yaml:"ratelimit"`
}

// MQTTSettings configures the order event source
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // e.g. tcp://localhost:1883
	Topic    string `yaml:"topic"`  // topic carrying new order events
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HTTPSettings configures the operator REST surface
type HTTPSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // host:port
}

// PushFilterSettings restricts which notifications a provider receives
type PushFilterSettings struct {
	Types      []string `yaml:"types"`
	Priorities []string `yaml:"priorities"`
}

// PushProviderSettings configures a single push delivery backend
type PushProviderSettings struct {
	Name    string             `yaml:"name"`
	Type    string             `yaml:"type"` // "shoutrrr" or "webhook"
	Enabled bool               `yaml:"enabled"`
	URLs    []string           `yaml:"urls"`
	Timeout time.Duration      `yaml:"timeout"`
	Headers map[string]string  `yaml:"headers"` // webhook only
	Filter  PushFilterSettings `yaml:"filter"`
}

// PushSettings configures out-of-process notification fan-out
type PushSettings struct {
	Enabled        bool                   `yaml:"enabled"`
	MaxRetries     int                    `yaml:"maxretries"`
	RetryDelay     time.Duration          `yaml:"retrydelay"`
	DefaultTimeout time.Duration          `yaml:"defaulttimeout"`
	Providers      []PushProviderSettings `yaml:"providers"`
}

// SentrySettings configures optional error capture
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Settings is the root configuration struct
type Settings struct {
	Debug  bool           `yaml:"debug"` // global debug flag
	Main   MainSettings   `yaml:"main"`
	Alerts AlertSettings  `yaml:"alerts"`
	MQTT   MQTTSettings   `yaml:"mqtt"`
	HTTP   HTTPSettings   `yaml:"http"`
	Push   PushSettings   `yaml:"push"`
	Sentry SentrySettings `yaml:"sentry"`
}

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads settings from the config file and environment, applying defaults.
// The config file is optional; defaults produce a runnable local engine.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling settings: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper configures viper search paths, env binding and defaults.
func initViper() error {
	viper.SetConfigName("ordersentry")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("ORDERSENTRY")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, run on defaults
	}

	return nil
}

// Setting returns the current settings instance, loading it if needed.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	settings, err := Load()
	if err != nil {
		return nil
	}
	return settings
}

// SetTestSettings overrides the global settings instance (tests only).
func SetTestSettings(settings *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = settings
}

// GetDefaultConfigPaths returns the directories searched for ordersentry.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "ordersentry"),
		"/etc/ordersentry",
	}, nil
}

// SaveSettings writes the current settings to the given path as YAML.
func SaveSettings(settings *Settings, path string) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}
	return nil
}
