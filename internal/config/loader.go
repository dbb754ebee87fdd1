// Package config loads runtime configuration for dxrunner.
//
// Precedence, highest first: runtime overrides passed to Load, environment
// variables (DXRUNNER_ prefix), an optional config file, seeded defaults.
// Load may be called again to reload; GetConfig returns the last loaded
// snapshot.
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/3leaps/dxrunner/pkg/archive"
	"github.com/3leaps/dxrunner/pkg/provider"
	"github.com/3leaps/dxrunner/pkg/scope"
)

// AppName is the identity used for env prefixing and data directories.
const AppName = "dxrunner"

// Config is the complete runtime configuration.
type Config struct {
	Server       ServerConfig               `mapstructure:"server"`
	Logging      LoggingConfig              `mapstructure:"logging"`
	Metrics      MetricsConfig              `mapstructure:"metrics"`
	Health       HealthConfig               `mapstructure:"health"`
	Debug        DebugConfig                `mapstructure:"debug"`
	ArtifactRoot string                     `mapstructure:"artifact_root"`
	Supervisor   SupervisorConfig           `mapstructure:"supervisor"`
	Scope        scope.Config               `mapstructure:"scope"`
	Preflight    PreflightConfig            `mapstructure:"preflight"`
	Providers    map[string]provider.Config `mapstructure:"providers"`
	Archive      archive.Config             `mapstructure:"archive"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the loggers.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// MetricsConfig configures prometheus exposition.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig configures the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig configures debug facilities.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// SupervisorConfig holds the health-classification and restart knobs.
type SupervisorConfig struct {
	StallThreshold   time.Duration `mapstructure:"stall_threshold"`
	StartupGrace     time.Duration `mapstructure:"startup_grace"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval"`
	StopGrace        time.Duration `mapstructure:"stop_grace"`
	MaxRetries       int           `mapstructure:"max_retries"`
}

// PreflightConfig holds the severity boundary overrides
// (sub-check name -> error|warning).
type PreflightConfig struct {
	Severity map[string]string `mapstructure:"severity"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load builds the configuration. Optional override maps take precedence
// over environment variables and file values; later maps win over
// earlier ones. The loaded config becomes the GetConfig snapshot.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvAliases(v)

	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range userConfigPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; a malformed one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, override := range overrides {
		setOverrides(v, "", override)
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()

	return cfg, nil
}

// GetConfig returns the last loaded configuration, or nil before the
// first Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setDefaults seeds every known key so env binding and partial config
// files always decode a complete struct.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("artifact_root", defaultArtifactRoot())

	v.SetDefault("supervisor.stall_threshold", "30m")
	v.SetDefault("supervisor.startup_grace", "90s")
	v.SetDefault("supervisor.watchdog_interval", "60s")
	v.SetDefault("supervisor.stop_grace", "30s")
	v.SetDefault("supervisor.max_retries", 1)

	v.SetDefault("preflight.severity", map[string]string{})
}

// bindEnvAliases maps short operational env vars onto nested keys, so
// DXRUNNER_PORT works alongside the canonical DXRUNNER_SERVER_PORT.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"server.host":                  "DXRUNNER_HOST",
		"server.port":                  "DXRUNNER_PORT",
		"server.read_timeout":          "DXRUNNER_READ_TIMEOUT",
		"server.write_timeout":         "DXRUNNER_WRITE_TIMEOUT",
		"server.shutdown_timeout":      "DXRUNNER_SHUTDOWN_TIMEOUT",
		"logging.level":                "DXRUNNER_LOG_LEVEL",
		"metrics.enabled":              "DXRUNNER_METRICS_ENABLED",
		"metrics.port":                 "DXRUNNER_METRICS_PORT",
		"artifact_root":                "DXRUNNER_ARTIFACT_ROOT",
		"supervisor.stall_threshold":   "DXRUNNER_STALL_THRESHOLD",
		"supervisor.startup_grace":     "DXRUNNER_STARTUP_GRACE",
		"supervisor.watchdog_interval": "DXRUNNER_WATCHDOG_INTERVAL",
		"supervisor.max_retries":       "DXRUNNER_MAX_RETRIES",
	}
	for key, env := range aliases {
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(key, env)
	}
}

// setOverrides promotes override map entries to explicit Sets so they
// outrank environment variables, matching runtime > env precedence.
func setOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

// defaultArtifactRoot places artifact sets under the per-user app data
// directory.
func defaultArtifactRoot() string {
	return filepath.Join(gfconfig.GetAppDataDir(AppName), "jobs")
}

// userConfigPaths lists the per-user directories searched for a config
// file, after the working directory.
func userConfigPaths() []string {
	return []string{gfconfig.GetAppDataDir(AppName)}
}
