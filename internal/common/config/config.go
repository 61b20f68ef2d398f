// Package config provides configuration management for the hive.
// It supports loading configuration from defaults, an optional beehive.yaml
// file, and BEEHIVE_-prefixed environment variables, in increasing precedence.
// CLI flags bind on top via cobra at the command layer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Known bee names. The pane mapping and role documents key off these.
const (
	DefaultSessionName = "beehive"
	DefaultDBPath      = "hive/hive_memory.db"
)

// Config holds all configuration sections for the hive.
type Config struct {
	Hive       HiveConfig       `mapstructure:"hive"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Injector   InjectorConfig   `mapstructure:"injector"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// HiveConfig holds the session, store, and pane addressing configuration.
type HiveConfig struct {
	SessionName string            `mapstructure:"session_name"`
	DBPath      string            `mapstructure:"db_path"`
	DBTimeout   int               `mapstructure:"db_timeout"` // seconds, per-operation deadline
	PaneMapping map[string]string `mapstructure:"pane_mapping"`
	RolesDir    string            `mapstructure:"roles_dir"`   // overrides embedded role documents
	BeeCommand  string            `mapstructure:"bee_command"` // interactive process spawned per pane
	// ExtraMessageTypes extends the closed message type set.
	ExtraMessageTypes []string `mapstructure:"extra_message_types"`
}

// SupervisorConfig holds liveness thresholds and duty cadences.
type SupervisorConfig struct {
	TickInterval    int    `mapstructure:"tick_interval"`    // seconds
	TIdle           int    `mapstructure:"t_idle"`           // minutes
	TSilent         int    `mapstructure:"t_silent"`         // minutes
	RemindInterval  int    `mapstructure:"remind_interval"`  // seconds
	ViolationWindow int    `mapstructure:"violation_window"` // seconds
	ObserverBee     string `mapstructure:"observer_bee"`
	AckTimeout      int    `mapstructure:"ack_timeout"` // seconds, role injection ack wait
	PidFile         string `mapstructure:"pid_file"`
	LogFile         string `mapstructure:"log_file"`
}

// InjectorConfig bounds concurrent pane injections.
type InjectorConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// NATSConfig holds the optional NATS event bus configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"client_id"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// TickDuration returns the supervisor tick as a time.Duration.
func (s *SupervisorConfig) TickDuration() time.Duration {
	return time.Duration(s.TickInterval) * time.Second
}

// IdleThreshold returns t_idle as a time.Duration.
func (s *SupervisorConfig) IdleThreshold() time.Duration {
	return time.Duration(s.TIdle) * time.Minute
}

// SilentThreshold returns t_silent as a time.Duration.
func (s *SupervisorConfig) SilentThreshold() time.Duration {
	return time.Duration(s.TSilent) * time.Minute
}

// RemindDuration returns the reminder cadence as a time.Duration.
func (s *SupervisorConfig) RemindDuration() time.Duration {
	return time.Duration(s.RemindInterval) * time.Second
}

// ViolationWindowDuration returns the per-sender alert window.
func (s *SupervisorConfig) ViolationWindowDuration() time.Duration {
	return time.Duration(s.ViolationWindow) * time.Second
}

// AckTimeoutDuration returns the role injection ack wait.
func (s *SupervisorConfig) AckTimeoutDuration() time.Duration {
	return time.Duration(s.AckTimeout) * time.Second
}

// DBTimeoutDuration returns the per-operation store deadline.
func (h *HiveConfig) DBTimeoutDuration() time.Duration {
	return time.Duration(h.DBTimeout) * time.Second
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("hive.session_name", DefaultSessionName)
	v.SetDefault("hive.db_path", DefaultDBPath)
	v.SetDefault("hive.db_timeout", 30)
	v.SetDefault("hive.pane_mapping", map[string]string{
		"queen":     "beehive:0",
		"developer": "beehive:1",
		"qa":        "beehive:2",
		"analyst":   "beehive:3",
	})
	v.SetDefault("hive.roles_dir", "")
	v.SetDefault("hive.bee_command", "claude")
	v.SetDefault("hive.extra_message_types", []string{})

	v.SetDefault("supervisor.tick_interval", 5)
	v.SetDefault("supervisor.t_idle", 2)
	v.SetDefault("supervisor.t_silent", 10)
	v.SetDefault("supervisor.remind_interval", 300)
	v.SetDefault("supervisor.violation_window", 60)
	v.SetDefault("supervisor.observer_bee", "queen")
	v.SetDefault("supervisor.ack_timeout", 60)
	v.SetDefault("supervisor.pid_file", "hive/beehive.pid")
	v.SetDefault("supervisor.log_file", "logs/beehive.log")

	v.SetDefault("injector.concurrency", 4)

	// Empty URL means use the in-memory event bus.
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.client_id", "beehive")
	v.SetDefault("nats.max_reconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_path", "stderr")
}

// Load reads configuration from defaults, beehive.yaml, and BEEHIVE_* env vars.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BEEHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("beehive")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/beehive/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks configuration invariants up front so components can trust
// the values they receive.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Hive.SessionName == "" {
		errs = append(errs, "hive.session_name must not be empty")
	}
	if strings.ContainsAny(cfg.Hive.SessionName, " \t\n:.") {
		errs = append(errs, "hive.session_name contains characters tmux rejects")
	}
	if cfg.Hive.DBPath == "" {
		errs = append(errs, "hive.db_path must not be empty")
	}
	if cfg.Hive.DBTimeout <= 0 {
		errs = append(errs, "hive.db_timeout must be positive")
	}
	if len(cfg.Hive.PaneMapping) == 0 {
		errs = append(errs, "hive.pane_mapping must not be empty")
	}
	for bee, pane := range cfg.Hive.PaneMapping {
		if pane == "" {
			errs = append(errs, fmt.Sprintf("hive.pane_mapping.%s must not be empty", bee))
		}
	}

	if cfg.Supervisor.TickInterval <= 0 {
		errs = append(errs, "supervisor.tick_interval must be positive")
	}
	if cfg.Supervisor.TIdle <= 0 || cfg.Supervisor.TSilent <= cfg.Supervisor.TIdle {
		errs = append(errs, "supervisor thresholds must satisfy 0 < t_idle < t_silent")
	}
	if cfg.Supervisor.ObserverBee == "" {
		errs = append(errs, "supervisor.observer_bee must not be empty")
	}

	if cfg.Injector.Concurrency <= 0 {
		errs = append(errs, "injector.concurrency must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
