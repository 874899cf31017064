package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"RDP_HOST", "RDP_PORT", "RDP_CONNECT_TIMEOUT",
		"ENABLE_RDP", "ENABLE_TLS", "USE_NLA",
		"SKIP_TLS_VALIDATION", "TLS_SERVER_NAME", "MIN_TLS_VERSION",
		"LOG_LEVEL", "LOG_FORMAT", "LOG_ENABLE_CALLER", "LOG_FILE",
	}
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1", cfg.Target.Host)
	require.Equal(t, 3389, cfg.Target.Port)
	require.Equal(t, 5*time.Second, cfg.Target.ConnectTimeout)

	require.True(t, cfg.Security.EnableRDP)
	require.True(t, cfg.Security.EnableTLS)
	require.True(t, cfg.Security.EnableNLA)
	require.False(t, cfg.Security.SkipTLSValidation)
	require.Equal(t, "1.2", cfg.Security.MinTLSVersion)

	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("RDP_HOST", "10.0.0.5")
	t.Setenv("RDP_PORT", "33890")
	t.Setenv("USE_NLA", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "10.0.0.5", cfg.Target.Host)
	require.Equal(t, 33890, cfg.Target.Port)
	require.False(t, cfg.Security.EnableNLA)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithOverrides_FlagsWinOverEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("RDP_HOST", "10.0.0.5")
	t.Setenv("USE_NLA", "true")

	disableNLA := false
	cfg, err := LoadWithOverrides(LoadOptions{
		Host:      "192.168.1.1",
		Port:      "4489",
		EnableNLA: &disableNLA,
	})
	require.NoError(t, err)

	require.Equal(t, "192.168.1.1", cfg.Target.Host)
	require.Equal(t, 4489, cfg.Target.Port)
	require.False(t, cfg.Security.EnableNLA)
}

func TestLoad_StoresGlobalConfig(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Same(t, cfg, GetGlobalConfig())
}

func TestValidate_RejectsInvalidPort(t *testing.T) {
	cfg := &Config{
		Target:   TargetConfig{Port: 0},
		Security: SecurityConfig{EnableRDP: true},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
	require.Error(t, cfg.Validate())

	cfg.Target.Port = 70000
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsNoProtocolsEnabled(t *testing.T) {
	cfg := &Config{
		Target:  TargetConfig{Port: 3389},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one")
}

func TestValidate_RejectsInvalidLogLevel(t *testing.T) {
	cfg := &Config{
		Target:   TargetConfig{Port: 3389},
		Security: SecurityConfig{EnableRDP: true},
		Logging:  LoggingConfig{Level: "verbose", Format: "text"},
	}
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsInvalidLogFormat(t *testing.T) {
	cfg := &Config{
		Target:   TargetConfig{Port: 3389},
		Security: SecurityConfig{EnableRDP: true},
		Logging:  LoggingConfig{Level: "info", Format: "xml"},
	}
	require.Error(t, cfg.Validate())
}
