package types

// Daemon configuration, loaded from madsd.yaml (viper) and published as
// retained config/<section> messages.

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Arbiter   ArbiterConfig   `mapstructure:"arbiter"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Console   ConsoleConfig   `mapstructure:"console"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ArbiterConfig carries the safety-harness bitmask (consumed once at init)
// and the tick cadence.
type ArbiterConfig struct {
	// Flags is the ALT_EXP-style bitmask: 1024 enables MADS, 2048 disables
	// the disengage-lateral-on-brake policy.
	Flags  uint32 `mapstructure:"flags"`
	TickHz uint32 `mapstructure:"tick_hz"`
}

type WatchdogConfig struct {
	CheckEveryMs int64 `mapstructure:"check_every_ms"`
	StaleAfterMs int64 `mapstructure:"stale_after_ms"`
}

type ConsoleConfig struct {
	Listen string `mapstructure:"listen"`
}

type TelemetryConfig struct {
	Listen string `mapstructure:"listen"`
}
