// Package config loads application settings (not job manifests) from
// defaults, an optional config file, GRISTMILL_* environment variables,
// and explicit runtime overrides, in ascending precedence.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ConfigName is the application config name, used for file discovery and
// the data directory.
const ConfigName = "gristmill"

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "GRISTMILL"

// Config is the typed application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	RunLog  RunLogConfig  `mapstructure:"runlog"`
	Data    DataConfig    `mapstructure:"data"`
}

// ServerConfig configures the optional status server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the process loggers.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// RunLogConfig configures local run history.
type RunLogConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Path is the run log database path. Empty derives
	// <data dir>/runs.db.
	Path string `mapstructure:"path"`
}

// DataConfig configures local state placement.
type DataConfig struct {
	// Dir is the app data directory. Empty derives the platform default
	// for ConfigName.
	Dir string `mapstructure:"dir"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load builds the effective configuration. Runtime overrides beat
// environment variables, which beat the config file, which beats
// defaults. The loaded config is retained for GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	_ = ctx

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	// Optional config file: user config dir first, then the working
	// directory. A missing file is not an error.
	v.SetConfigName(ConfigName)
	v.SetConfigType("yaml")
	if userDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(userDir, ConfigName))
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Runtime overrides use Set so they outrank env bindings.
	for _, ov := range overrides {
		for key, value := range flatten("", ov) {
			v.Set(key, value)
		}
	}

	cfg := &Config{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDerived(cfg)

	configMu.Lock()
	appConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil before
// the first Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "cli")

	v.SetDefault("runlog.enabled", true)
	v.SetDefault("runlog.path", "")

	v.SetDefault("data.dir", "")
}

// bindEnv wires the flat GRISTMILL_* variable names onto nested keys.
func bindEnv(v *viper.Viper) {
	bind := func(key string, envSuffix string) {
		_ = v.BindEnv(key, EnvPrefix+"_"+envSuffix)
	}
	bind("server.host", "HOST")
	bind("server.port", "PORT")
	bind("server.read_timeout", "READ_TIMEOUT")
	bind("server.write_timeout", "WRITE_TIMEOUT")
	bind("server.idle_timeout", "IDLE_TIMEOUT")
	bind("server.shutdown_timeout", "SHUTDOWN_TIMEOUT")
	bind("logging.level", "LOG_LEVEL")
	bind("logging.profile", "LOG_PROFILE")
	bind("runlog.enabled", "RUNLOG_ENABLED")
	bind("runlog.path", "RUNLOG_PATH")
	bind("data.dir", "DATA_DIR")
}

// applyDerived fills paths that depend on the app data directory.
func applyDerived(cfg *Config) {
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = gfconfig.GetAppDataDir(ConfigName)
	}
	if cfg.RunLog.Path == "" {
		cfg.RunLog.Path = filepath.Join(cfg.Data.Dir, "runs.db")
	}
}

// flatten converts nested override maps to dotted viper keys.
func flatten(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flatten(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}
