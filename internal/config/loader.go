package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix; PRESSFLEET_SERVER_PORT
// overrides server.port.
const EnvPrefix = "PRESSFLEET"

// Load builds the configuration. path names an explicit config file; empty
// searches the working directory and /etc/pressfleet for pressfleet.yaml.
// A missing file is fine, defaults and environment apply; a named file that
// does not exist is an error. Later overrides maps win over everything.
func Load(path string, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pressfleet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pressfleet")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for _, o := range overrides {
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.workers", 3)
	v.SetDefault("engine.timeout_multiplier", 3.0)
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.retry_backoff", 5*time.Second)
	v.SetDefault("engine.retry_backoff_max", 5*time.Minute)
	v.SetDefault("engine.dispatch_rate", 0.0)

	v.SetDefault("scheduler.tick_interval", time.Minute)

	v.SetDefault("gate.confirm_expiry", time.Duration(0))
	v.SetDefault("gate.sweep_interval", 30*time.Second)

	v.SetDefault("events.buffer_size", 256)

	v.SetDefault("audit.path", "pressfleet-audit.db")
	v.SetDefault("audit.archive.prefix", "audit/")

	v.SetDefault("catalog.path", "")
	v.SetDefault("fleet.inventory_path", "")
}
