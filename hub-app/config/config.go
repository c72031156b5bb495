package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	apisrv "github.com/compose-network/datahub/server/api"
	"github.com/compose-network/datahub/x/snapshot"
)

// EnvPrefix prefixes every environment override, e.g. DATAHUB_LOG_LEVEL.
const EnvPrefix = "DATAHUB"

// Config holds the complete application configuration
type Config struct {
	Log      LogConfig                      `mapstructure:"log"      yaml:"log"`
	API      apisrv.Config                  `mapstructure:"api"      yaml:"api"`
	Metrics  MetricsConfig                  `mapstructure:"metrics"  yaml:"metrics"`
	Hub      snapshot.HubSettings           `mapstructure:"hub"      yaml:"hub"`
	Adapters map[string]snapshot.RawAdapter `mapstructure:"adapters" yaml:"adapters"`
	Sources  map[string]snapshot.RawSource  `mapstructure:"sources"  yaml:"sources"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// MetricsConfig controls the prometheus endpoint served by the API server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	api := apisrv.DefaultConfig()
	v.SetDefault("api.enabled", api.Enabled)
	v.SetDefault("api.listen_addr", api.ListenAddr)
	v.SetDefault("api.cors", false)
	v.SetDefault("api.read_header_timeout", api.ReadHeaderTimeout)
	v.SetDefault("api.read_timeout", api.ReadTimeout)
	v.SetDefault("api.write_timeout", api.WriteTimeout)
	v.SetDefault("api.idle_timeout", api.IdleTimeout)
	v.SetDefault("api.shutdown_timeout", api.ShutdownTimeout)
	v.SetDefault("api.max_header_bytes", api.MaxHeaderBytes)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	hub := snapshot.DefaultHubSettings()
	v.SetDefault("hub.tick_interval", hub.TickInterval)
	v.SetDefault("hub.reload_interval", hub.ReloadInterval)
	v.SetDefault("hub.construct_retry_max", hub.ConstructRetryMax)
	v.SetDefault("hub.adapter_loop_interval", hub.AdapterLoopInterval)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateHub(); err != nil {
		return err
	}
	if _, err := c.Snapshot(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if !c.Metrics.Enabled {
		return nil
	}
	if !c.API.Enabled {
		return errors.New("metrics: requires api.enabled")
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics: path %q must start with /", c.Metrics.Path)
	}
	return nil
}

func (c *Config) validateHub() error {
	durations := map[string]time.Duration{
		"tick_interval":         c.Hub.TickInterval,
		"reload_interval":       c.Hub.ReloadInterval,
		"construct_retry_max":   c.Hub.ConstructRetryMax,
		"adapter_loop_interval": c.Hub.AdapterLoopInterval,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("hub: %s must not be negative", name)
		}
	}
	return nil
}

// Snapshot builds the immutable view the supervisor runs from. The hub log
// level follows log.level so a reload can change it.
func (c *Config) Snapshot() (*snapshot.Snapshot, error) {
	hub := c.Hub
	hub.LogLevel = c.Log.Level
	return snapshot.Build(hub, c.Adapters, c.Sources)
}
