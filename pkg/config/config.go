// Package config provides configuration loading and validation for the
// distex node process and CLI.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidRank          = errors.New("node rank must be non-negative")
	ErrInvalidDeviceIndex   = errors.New("device index must be non-negative")
	ErrInvalidWorkGroupSize = errors.New("forced work-group size must be positive when set")
	ErrInvalidHorizonPeriod = errors.New("horizon period must be positive")
	ErrUnknownPlatform      = errors.New("unknown platform")
)

// Default configuration values.
const (
	defaultPlatform        = "cpu"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultHorizonPeriod   = 64
	defaultBenchmarkPeriod = 1000
)

// knownPlatforms are the device backends the out-of-scope device queue
// collaborator is expected to support. distex does not talk to the device
// itself; this is used only to fail configuration fast on a typo.
var knownPlatforms = map[string]bool{
	"cpu":    true,
	"cuda":   true,
	"opencl": true,
	"level0": true,
}

// Config holds all configuration for a node process.
type Config struct {
	Runtime       RuntimeConfig       `mapstructure:"runtime"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// RuntimeConfig selects the platform/device this node drives, per the
// host-local rank assigned by the out-of-scope process bring-up collaborator.
type RuntimeConfig struct {
	Platform            string `mapstructure:"platform"`
	Rank                int    `mapstructure:"rank"`
	DeviceIndex         int    `mapstructure:"device_index"`
	ForcedWorkGroupSize int    `mapstructure:"forced_work_group_size"`
	DeviceProfiling     bool   `mapstructure:"device_profiling"`
}

// EngineConfig controls the job engine's scheduling and pruning behavior.
type EngineConfig struct {
	// CompletionStrategy selects how compute jobs observe device-event
	// completion: "future" uses a short-timeout future/promise workaround,
	// "poll" queries device status directly on every engine tick.
	CompletionStrategy string `mapstructure:"completion_strategy"`

	// HorizonPeriod is the number of task flushes between synthetic
	// horizon commands. It is validated (must be positive), but no
	// component of distexd reads it: the run command inserts no horizon
	// commands of its own.
	HorizonPeriod int `mapstructure:"horizon_period"`

	// BenchmarkLogPeriod is the number of completed jobs between
	// benchmark summary log lines. Benchmarking itself is always on. The
	// value is loaded but not read by the engine, which logs a summary
	// for every completed job.
	BenchmarkLogPeriod int `mapstructure:"benchmark_log_period"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ObservabilityConfig holds OpenTelemetry export configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool          `mapstructure:"otlp_insecure"`
	SampleRatio  float64       `mapstructure:"sample_ratio"`
	TraceVerbose bool          `mapstructure:"trace_verbose"`
	ShutdownWait time.Duration `mapstructure:"shutdown_wait"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("distex")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/distex")
	}

	viperCfg.SetEnvPrefix("DISTEX")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("runtime.platform", defaultPlatform)
	viperCfg.SetDefault("runtime.rank", 0)
	viperCfg.SetDefault("runtime.device_index", 0)
	viperCfg.SetDefault("runtime.forced_work_group_size", 0)
	viperCfg.SetDefault("runtime.device_profiling", false)

	viperCfg.SetDefault("engine.completion_strategy", CompletionStrategyFuture)
	viperCfg.SetDefault("engine.horizon_period", defaultHorizonPeriod)
	viperCfg.SetDefault("engine.benchmark_log_period", defaultBenchmarkPeriod)

	viperCfg.SetDefault("logging.level", defaultLogLevel)
	viperCfg.SetDefault("logging.format", defaultLogFormat)
	viperCfg.SetDefault("logging.output", "stdout")

	viperCfg.SetDefault("observability.sample_ratio", 0.0)
	viperCfg.SetDefault("observability.shutdown_wait", "5s")
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Runtime.Rank < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRank, config.Runtime.Rank)
	}

	if config.Runtime.DeviceIndex < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDeviceIndex, config.Runtime.DeviceIndex)
	}

	if config.Runtime.ForcedWorkGroupSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkGroupSize, config.Runtime.ForcedWorkGroupSize)
	}

	if !knownPlatforms[config.Runtime.Platform] {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, config.Runtime.Platform)
	}

	if config.Engine.HorizonPeriod <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidHorizonPeriod, config.Engine.HorizonPeriod)
	}

	return nil
}
