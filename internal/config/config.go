package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the bridge configuration
type Config struct {
	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// HTTP API configuration
	APIHost string `mapstructure:"api_host"`
	APIPort int    `mapstructure:"api_port"`

	// Elevator cloud credentials and endpoints
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
	TopologyURL  string `mapstructure:"topology_url"`
	WSEndpoint   string `mapstructure:"ws_endpoint"`

	// Token refresh safety margin in seconds
	TokenSafetyMarginSec int `mapstructure:"token_safety_margin_sec"`

	// Inbound request signing
	AppName          string `mapstructure:"app_name"`
	AppSecret        string `mapstructure:"app_secret"`
	DeviceSecret     string `mapstructure:"device_secret"`
	DisableSignCheck bool   `mapstructure:"disable_sign_check"`

	// Call governor
	RateLimitWindowMs int `mapstructure:"rate_limit_window_ms"`
	RateLimitMaxCalls int `mapstructure:"rate_limit_max_calls"`
	IdempotencyTTLSec int `mapstructure:"idempotency_ttl_sec"`

	// Heartbeat tuning
	HeartbeatAckTimeoutMs   int `mapstructure:"heartbeat_ack_timeout_ms"`
	HeartbeatEventTimeoutMs int `mapstructure:"heartbeat_event_timeout_ms"`
	HeartbeatRetryMs        int `mapstructure:"heartbeat_retry_ms"`
	HeartbeatMaxWaitMs      int `mapstructure:"heartbeat_max_wait_ms"`

	// Door hold scheduler
	HoldMaxHardSec      int  `mapstructure:"hold_max_hard_sec"`
	HoldSoftSec         int  `mapstructure:"hold_soft_sec"`
	HoldIntervalMs      int  `mapstructure:"hold_interval_ms"`
	HoldReleaseOnExpire bool `mapstructure:"hold_release_on_expire"`

	// Terminal selection
	PreferredTerminalTypes []string          `mapstructure:"preferred_terminal_types"`
	DefaultTerminalID      int               `mapstructure:"default_terminal_id"`
	TerminalTypeOverrides  map[string]string `mapstructure:"terminal_type_overrides"`

	// Lift status monitor
	StatusSettleMs       int `mapstructure:"status_settle_ms"`
	StatusTimeoutMs      int `mapstructure:"status_timeout_ms"`
	AvailabilityWaitMs   int `mapstructure:"availability_wait_ms"`
	CallAckTimeoutMs     int `mapstructure:"call_ack_timeout_ms"`
	CallEventTimeoutMs   int `mapstructure:"call_event_timeout_ms"`

	// Device binding store (sqlite3 or postgres)
	BindingDriver string `mapstructure:"binding_driver"`
	BindingDSN    string `mapstructure:"binding_dsn"`

	// Optional shared governor store
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogFile:  "",

		APIHost: "0.0.0.0",
		APIPort: 8080,

		TokenURL:    "https://dev.kone.com/api/v2/oauth2/token",
		TopologyURL: "https://dev.kone.com/api/v2",
		WSEndpoint:  "wss://dev.kone.com/stream-v2",

		TokenSafetyMarginSec: 5,

		RateLimitWindowMs: 10000,
		RateLimitMaxCalls: 3,
		IdempotencyTTLSec: 30,

		HeartbeatAckTimeoutMs:   3000,
		HeartbeatEventTimeoutMs: 3000,
		HeartbeatRetryMs:        1000,
		HeartbeatMaxWaitMs:      15000,

		HoldMaxHardSec:      10,
		HoldSoftSec:         5,
		HoldIntervalMs:      7000,
		HoldReleaseOnExpire: true,

		PreferredTerminalTypes: []string{"virtual"},
		DefaultTerminalID:      1,
		TerminalTypeOverrides:  map[string]string{},

		StatusSettleMs:     200,
		StatusTimeoutMs:    2000,
		AvailabilityWaitMs: 2000,
		CallAckTimeoutMs:   5000,
		CallEventTimeoutMs: 10000,

		BindingDriver: "sqlite3",
		BindingDSN:    "./bindings.db",
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/lift-robot-bridge")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lift-robot-bridge"))
		}
	}

	v.SetEnvPrefix("LIFTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("api_host", cfg.APIHost)
	v.SetDefault("api_port", cfg.APIPort)
	v.SetDefault("token_url", cfg.TokenURL)
	v.SetDefault("topology_url", cfg.TopologyURL)
	v.SetDefault("ws_endpoint", cfg.WSEndpoint)
	v.SetDefault("token_safety_margin_sec", cfg.TokenSafetyMarginSec)
	v.SetDefault("rate_limit_window_ms", cfg.RateLimitWindowMs)
	v.SetDefault("rate_limit_max_calls", cfg.RateLimitMaxCalls)
	v.SetDefault("idempotency_ttl_sec", cfg.IdempotencyTTLSec)
	v.SetDefault("heartbeat_ack_timeout_ms", cfg.HeartbeatAckTimeoutMs)
	v.SetDefault("heartbeat_event_timeout_ms", cfg.HeartbeatEventTimeoutMs)
	v.SetDefault("heartbeat_retry_ms", cfg.HeartbeatRetryMs)
	v.SetDefault("heartbeat_max_wait_ms", cfg.HeartbeatMaxWaitMs)
	v.SetDefault("hold_max_hard_sec", cfg.HoldMaxHardSec)
	v.SetDefault("hold_soft_sec", cfg.HoldSoftSec)
	v.SetDefault("hold_interval_ms", cfg.HoldIntervalMs)
	v.SetDefault("hold_release_on_expire", cfg.HoldReleaseOnExpire)
	v.SetDefault("preferred_terminal_types", cfg.PreferredTerminalTypes)
	v.SetDefault("default_terminal_id", cfg.DefaultTerminalID)
	v.SetDefault("status_settle_ms", cfg.StatusSettleMs)
	v.SetDefault("status_timeout_ms", cfg.StatusTimeoutMs)
	v.SetDefault("availability_wait_ms", cfg.AvailabilityWaitMs)
	v.SetDefault("call_ack_timeout_ms", cfg.CallAckTimeoutMs)
	v.SetDefault("call_event_timeout_ms", cfg.CallEventTimeoutMs)
	v.SetDefault("binding_driver", cfg.BindingDriver)
	v.SetDefault("binding_dsn", cfg.BindingDSN)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.TokenURL == "" {
		return fmt.Errorf("token_url is required")
	}
	if c.TopologyURL == "" {
		return fmt.Errorf("topology_url is required")
	}
	if c.WSEndpoint == "" {
		return fmt.Errorf("ws_endpoint is required")
	}

	if c.RateLimitWindowMs <= 0 {
		return fmt.Errorf("rate_limit_window_ms must be positive")
	}
	if c.RateLimitMaxCalls <= 0 {
		return fmt.Errorf("rate_limit_max_calls must be positive")
	}
	if c.IdempotencyTTLSec <= 0 {
		return fmt.Errorf("idempotency_ttl_sec must be positive")
	}

	// Protocol hard cap: a single hold_open extension may not exceed 10s
	if c.HoldMaxHardSec <= 0 || c.HoldMaxHardSec > 10 {
		return fmt.Errorf("hold_max_hard_sec must be between 1 and 10")
	}
	if c.HoldIntervalMs <= 0 {
		return fmt.Errorf("hold_interval_ms must be positive")
	}

	if c.BindingDriver != "" && c.BindingDriver != "sqlite3" && c.BindingDriver != "postgres" {
		return fmt.Errorf("binding_driver must be one of: sqlite3, postgres")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// HasCredentials returns true if the cloud client credentials are configured
func (c *Config) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// RateLimitWindow returns the rate limit window as a duration
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMs) * time.Millisecond
}

// IdempotencyTTL returns the idempotency TTL as a duration
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSec) * time.Second
}
