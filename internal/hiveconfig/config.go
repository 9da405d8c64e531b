// Package hiveconfig loads the Hive runtime configuration, following the
// teacher's viper-based config loading shape: a named config file searched
// across a set of paths, overridable by environment variables.
package hiveconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration shared by every core component.
type Config struct {
	RootDir                   string        `mapstructure:"root_dir"`
	Workers                   []string      `mapstructure:"workers"`
	DefaultTTL                time.Duration `mapstructure:"default_ttl"`
	LockDefaultTimeout        time.Duration `mapstructure:"lock_default_timeout"`
	DaemonHealthCheckInterval time.Duration `mapstructure:"daemon_health_check_interval"`
	ReadyTokens               []string      `mapstructure:"ready_tokens"`
	ResponseTerminators       []string      `mapstructure:"response_terminators"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		RootDir:                   "./.hive",
		DefaultTTL:                60 * time.Minute,
		LockDefaultTimeout:        30 * time.Second,
		DaemonHealthCheckInterval: 60 * time.Second,
		ReadyTokens:               []string{"claude", ">"},
		ResponseTerminators:       []string{"$", ">"},
	}
}

// Load reads hive.yaml (or hive.json/hive.toml) from configPaths, falling
// back silently to Default() when no config file is found — a missing
// config file is not an error, only a malformed one is.
func Load(configPaths ...string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("hive")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("HIVE")
	v.AutomaticEnv()

	v.SetDefault("root_dir", cfg.RootDir)
	v.SetDefault("default_ttl", cfg.DefaultTTL)
	v.SetDefault("lock_default_timeout", cfg.LockDefaultTimeout)
	v.SetDefault("daemon_health_check_interval", cfg.DaemonHealthCheckInterval)
	v.SetDefault("ready_tokens", cfg.ReadyTokens)
	v.SetDefault("response_terminators", cfg.ResponseTerminators)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("hiveconfig: reading config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("hiveconfig: decoding config: %w", err)
	}

	return cfg, nil
}
