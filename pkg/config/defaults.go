// Package config provides configuration loading and validation for the
// distex node process and CLI.
package config

// Completion strategies recognized by EngineConfig.CompletionStrategy.
const (
	// CompletionStrategyFuture observes device-event completion through a
	// short-timeout future/promise, matching devices whose event objects
	// cannot be polled directly without blocking.
	CompletionStrategyFuture = "future"

	// CompletionStrategyPoll queries device status directly on every
	// engine tick instead of waiting on a future.
	CompletionStrategyPoll = "poll"
)

// Default runtime values, exported for tests and CLI flag defaults.
const (
	DefaultPlatform            = defaultPlatform
	DefaultLogLevel            = defaultLogLevel
	DefaultLogFormat           = defaultLogFormat
	DefaultHorizonPeriod       = defaultHorizonPeriod
	DefaultBenchmarkLogPeriod  = defaultBenchmarkPeriod
	DefaultCompletionStrategy  = CompletionStrategyFuture
	DefaultForcedWorkGroupSize = 0
)
