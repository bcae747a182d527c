// Package config loads the core's minimal environment surface.
package config

import (
	"github.com/spf13/viper"
)

// =============================================================================
// CONFIGURATION
// =============================================================================
//
// The core reads exactly four environment variables: STATE_DIR,
// DEFAULT_DAILY_LIMIT, MAX_WEBHOOK_ENDPOINTS_PER_TENANT, and SESSION_KEY.
// Everything else is constructed explicitly by the hosting layer.
//
// =============================================================================

// Config is the resolved process configuration
type Config struct {
	// StateDir is where patterns.json and content-changes.json live
	StateDir string `mapstructure:"state_dir"`

	// DefaultDailyLimit is the per-tenant daily unit budget when the
	// tenant record does not carry one
	DefaultDailyLimit int64 `mapstructure:"default_daily_limit"`

	// MaxWebhookEndpointsPerTenant bounds endpoint creation
	MaxWebhookEndpointsPerTenant int `mapstructure:"max_webhook_endpoints_per_tenant"`

	// SessionKey is the password from which the session-blob encryption
	// key is derived. Never logged.
	SessionKey string `mapstructure:"session_key"`
}

// Load reads configuration from the environment with defaults applied
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("state_dir", "./state")
	v.SetDefault("default_daily_limit", int64(10000))
	v.SetDefault("max_webhook_endpoints_per_tenant", 10)
	v.SetDefault("session_key", "")

	v.AutomaticEnv()
	_ = v.BindEnv("state_dir", "STATE_DIR")
	_ = v.BindEnv("default_daily_limit", "DEFAULT_DAILY_LIMIT")
	_ = v.BindEnv("max_webhook_endpoints_per_tenant", "MAX_WEBHOOK_ENDPOINTS_PER_TENANT")
	_ = v.BindEnv("session_key", "SESSION_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
