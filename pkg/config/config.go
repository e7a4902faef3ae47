// Package config loads the nexusd daemon configuration: a layered
// viper.Viper pulling from a YAML file, NEXUS_*-prefixed environment
// variables, and struct defaults, then validated with go-playground/
// validator struct tags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/nexus-project/nexus/internal/rebuild"
)

// Config is the complete nexusd daemon configuration.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	Rebuild     RebuildConfig     `mapstructure:"rebuild" yaml:"rebuild"`
	Gate        GateConfig        `mapstructure:"gate" yaml:"gate"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
}

// LoggingConfig controls internal/logger.Init.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// TelemetryConfig controls internal/telemetry.Init.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// PersistenceConfig selects and configures the Persistent Info store
// (component B) a Manager hands to every Nexus it creates.
type PersistenceConfig struct {
	// Backend selects the persist.Store implementation: "memory" for a
	// process-local store with no durability (tests, demos), "badger" for
	// the embedded KV-backed store that survives a restart.
	Backend    string `mapstructure:"backend" yaml:"backend" validate:"required,oneof=memory badger"`
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path" validate:"required_if=Backend badger"`
}

// RebuildConfig holds rebuild settings that are loaded and validated with
// the rest of Config. nexusd does not pass them to rebuild jobs: NewJob and
// Nexus.StartRebuild use their own package defaults for segment size, task
// pool size and verify mode.
type RebuildConfig struct {
	SegmentSizeBlocks uint64 `mapstructure:"segment_size_blocks" yaml:"segment_size_blocks" validate:"required,gt=0"`
	TaskPoolSize      int    `mapstructure:"task_pool_size" yaml:"task_pool_size" validate:"required,gt=0"`
	VerifyMode        string `mapstructure:"verify_mode" yaml:"verify_mode" validate:"required,oneof=none readback"`
	DefaultStrategy   string `mapstructure:"default_strategy" yaml:"default_strategy" validate:"required,oneof=full partial partial_sequential"`
}

// VerifyModeValue translates the configured string into a rebuild.VerifyMode.
func (c RebuildConfig) VerifyModeValue() rebuild.VerifyMode {
	if c.VerifyMode == "readback" {
		return rebuild.VerifyReadBack
	}
	return rebuild.VerifyNone
}

// StrategyValue translates the configured string into a rebuild.Strategy.
func (c RebuildConfig) StrategyValue() rebuild.Strategy {
	switch c.DefaultStrategy {
	case "partial":
		return rebuild.Partial
	case "partial_sequential":
		return rebuild.PartialSequential
	default:
		return rebuild.Full
	}
}

// GateConfig holds the diagnostic pause-timeout setting. It is loaded and
// validated, but nexusd does not pass it to internal/iogate.Gate, which
// keeps its built-in 5s default unless SetPauseTimeout is called.
type GateConfig struct {
	PauseTimeout time.Duration `mapstructure:"pause_timeout" yaml:"pause_timeout" validate:"required,gt=0"`
}

// HTTPConfig configures the /healthz and /metrics admin surface.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`
}

// Load reads configuration from configPath (if non-empty and present),
// layers NEXUS_*-prefixed environment variables over it, applies defaults
// for anything left unset, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
			return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
		}
	}
	applyEnvOverrides(v, cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("nexus")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("config: failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides re-applies viper's environment bindings on top of
// whatever the YAML unmarshal (or the defaults) produced, since viper does
// not automatically bind env vars for keys it never saw in the config file.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if val := v.GetString("logging.level"); val != "" {
		cfg.Logging.Level = val
	}
	if val := v.GetString("logging.format"); val != "" {
		cfg.Logging.Format = val
	}
	if val := v.GetString("persistence.backend"); val != "" {
		cfg.Persistence.Backend = val
	}
	if val := v.GetString("http.addr"); val != "" {
		cfg.HTTP.Addr = val
	}
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}
