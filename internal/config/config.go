// Package config loads the negotiator's runtime settings from environment
// variables, with command-line overrides taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// globalConfig stores the configuration loaded with command-line overrides,
// so packages that don't hold a *Config directly can still read it.
var (
	globalConfig *Config
	configMutex  sync.Mutex
)

// Config holds the negotiator's runtime configuration.
type Config struct {
	Target   TargetConfig   `json:"target"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// LoadOptions holds command-line override options. Bool fields are
// pointers so "flag not passed" (nil) is distinguishable from "flag passed
// as false", letting env vars and defaults apply when a flag is absent.
type LoadOptions struct {
	Host              string
	Port              string
	LogLevel          string
	SkipTLSValidation bool
	TLSServerName     string
	EnableRDP         *bool
	EnableTLS         *bool
	EnableNLA         *bool
}

// TargetConfig identifies the RDP server to negotiate against.
type TargetConfig struct {
	Host           string        `json:"host" env:"RDP_HOST" default:"127.0.0.1"`
	Port           int           `json:"port" env:"RDP_PORT" default:"3389"`
	ConnectTimeout time.Duration `json:"connectTimeout" env:"RDP_CONNECT_TIMEOUT" default:"5s"`
}

// SecurityConfig holds the protocol-enablement and TLS-validation policy
// applied to every negotiation attempt.
type SecurityConfig struct {
	EnableRDP         bool   `json:"enableRDP" env:"ENABLE_RDP" default:"true"`
	EnableTLS         bool   `json:"enableTLS" env:"ENABLE_TLS" default:"true"`
	EnableNLA         bool   `json:"enableNLA" env:"USE_NLA" default:"true"`
	SkipTLSValidation bool   `json:"skipTLSValidation" env:"SKIP_TLS_VALIDATION" default:"false"`
	TLSServerName     string `json:"tlsServerName" env:"TLS_SERVER_NAME" default:""`
	MinTLSVersion     string `json:"minTLSVersion" env:"MIN_TLS_VERSION" default:"1.2"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level        string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format       string `json:"format" env:"LOG_FORMAT" default:"text"`
	EnableCaller bool   `json:"enableCaller" env:"LOG_ENABLE_CALLER" default:"false"`
	File         string `json:"file" env:"LOG_FILE" default:""`
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides.
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	config := &Config{}

	config.Target.Host = getOverrideOrEnv(opts.Host, "RDP_HOST", "127.0.0.1")
	config.Target.Port = getIntWithDefault("RDP_PORT", 3389)
	if opts.Port != "" {
		if port, err := strconv.Atoi(opts.Port); err == nil {
			config.Target.Port = port
		}
	}
	config.Target.ConnectTimeout = getDurationWithDefault("RDP_CONNECT_TIMEOUT", 5*time.Second)

	config.Security.EnableRDP = getBoolOverrideOrEnv(opts.EnableRDP, "ENABLE_RDP", true)
	config.Security.EnableTLS = getBoolOverrideOrEnv(opts.EnableTLS, "ENABLE_TLS", true)
	config.Security.EnableNLA = getBoolOverrideOrEnv(opts.EnableNLA, "USE_NLA", true)
	config.Security.SkipTLSValidation = getBoolWithDefault("SKIP_TLS_VALIDATION", false) || opts.SkipTLSValidation
	config.Security.TLSServerName = getOverrideOrEnv(opts.TLSServerName, "TLS_SERVER_NAME", "")
	config.Security.MinTLSVersion = getEnvWithDefault("MIN_TLS_VERSION", "1.2")

	config.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", "info")
	config.Logging.Format = getEnvWithDefault("LOG_FORMAT", "text")
	config.Logging.EnableCaller = getBoolWithDefault("LOG_ENABLE_CALLER", false)
	config.Logging.File = getEnvWithDefault("LOG_FILE", "")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMutex.Lock()
	globalConfig = config
	configMutex.Unlock()

	return config, nil
}

// GetGlobalConfig returns the most recently loaded configuration, or nil if
// Load/LoadWithOverrides has never been called.
func GetGlobalConfig() *Config {
	configMutex.Lock()
	defer configMutex.Unlock()
	return globalConfig
}

// Validate checks the configuration for internally-consistent values.
func (c *Config) Validate() error {
	if c.Target.Port < 1 || c.Target.Port > 65535 {
		return fmt.Errorf("invalid target port: %d", c.Target.Port)
	}

	if !c.Security.EnableRDP && !c.Security.EnableTLS && !c.Security.EnableNLA {
		return fmt.Errorf("at least one of RDP, TLS, or NLA must be enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getBoolOverrideOrEnv returns *override when set, else the env var, else
// defaultValue.
func getBoolOverrideOrEnv(override *bool, envKey string, defaultValue bool) bool {
	if override != nil {
		return *override
	}
	return getBoolWithDefault(envKey, defaultValue)
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getOverrideOrEnv returns the command-line override value, env value, or
// default, in that order of precedence.
func getOverrideOrEnv(override, envKey, defaultValue string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, defaultValue)
}
