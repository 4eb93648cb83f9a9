// services/config/config.go
package config

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"mads-go/bus"
	"mads-go/mads"
	"mads-go/types"
)

const configPrefix = "config"

// Defaults keep the daemon runnable with no config file at all.
func defaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("arbiter.flags", mads.FlagEnableMADS)
	v.SetDefault("arbiter.tick_hz", 100)
	v.SetDefault("watchdog.check_every_ms", 100)
	v.SetDefault("watchdog.stale_after_ms", 500)
	v.SetDefault("console.listen", "127.0.0.1:9430")
	v.SetDefault("telemetry.listen", "127.0.0.1:9431")
}

// Load reads the daemon config. path=="" searches for madsd.yaml in the
// working directory and /etc/mads; a file not found by that search is not an
// error, while an explicit path that does not exist is. Every key has a
// default and may be overridden via MADS_* environment variables
// (e.g. MADS_ARBITER_TICK_HZ).
func Load(path string) (types.Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("MADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("madsd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mads")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return types.Config{}, err
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// Publish mirrors each config section as a retained config/<section>
// message, so any connection can inspect the running configuration.
func Publish(conn *bus.Connection, log *logrus.Entry, cfg types.Config) {
	sections := map[string]any{
		"arbiter":   cfg.Arbiter,
		"watchdog":  cfg.Watchdog,
		"console":   cfg.Console,
		"telemetry": cfg.Telemetry,
	}
	for name, payload := range sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, name), payload, true))
	}
	conn.Publish(conn.NewMessage(bus.T(configPrefix, "loaded_at"),
		time.Now().UnixMilli(), true))
	log.WithField("sections", len(sections)).Debug("config published")
}
