// Package config loads service configuration from defaults, an optional
// YAML file, PRESSFLEET_* environment variables and runtime overrides, in
// that order of increasing precedence.
package config

import (
	"fmt"
	"time"

	"github.com/pressfleet/pressfleet/internal/observability"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Logging   observability.Config `mapstructure:"logging"`
	Engine    EngineConfig         `mapstructure:"engine"`
	Scheduler SchedulerConfig      `mapstructure:"scheduler"`
	Gate      GateConfig           `mapstructure:"gate"`
	Events    EventsConfig         `mapstructure:"events"`
	Audit     AuditConfig          `mapstructure:"audit"`
	Catalog   CatalogConfig        `mapstructure:"catalog"`
	Fleet     FleetConfig          `mapstructure:"fleet"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Host is the bind address.
	// Default: localhost
	Host string `mapstructure:"host"`

	// Port is the listen port. Zero picks an ephemeral port.
	// Default: 8080
	Port int `mapstructure:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig configures the execution engine.
type EngineConfig struct {
	// Workers caps concurrently running tasks across the fleet.
	// Default: 3
	Workers int `mapstructure:"workers"`

	// TimeoutMultiplier scales an operation's upper duration estimate
	// into its per-attempt deadline.
	// Default: 3.0
	TimeoutMultiplier float64 `mapstructure:"timeout_multiplier"`

	// MaxAttempts bounds attempts per task including the first.
	// Default: 3
	MaxAttempts int `mapstructure:"max_attempts"`

	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`

	// DispatchRate limits executor invocations per second, zero for
	// unlimited.
	DispatchRate float64 `mapstructure:"dispatch_rate"`
}

// SchedulerConfig configures the schedule tick loop.
type SchedulerConfig struct {
	// TickInterval is how often due schedules are checked.
	// Default: 60s
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// GateConfig configures confirmation expiry.
type GateConfig struct {
	// ConfirmExpiry auto-expires unconfirmed batches after this long.
	// Zero disables expiry.
	// Default: 0
	ConfirmExpiry time.Duration `mapstructure:"confirm_expiry"`

	// SweepInterval is how often expiry is checked.
	// Default: 30s
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	// BufferSize is the per-subscriber channel depth.
	// Default: 256
	BufferSize int `mapstructure:"buffer_size"`
}

// AuditConfig configures the audit log store and optional S3 archive.
type AuditConfig struct {
	// Path is the SQLite database path.
	// Default: pressfleet-audit.db
	Path string `mapstructure:"path"`

	Archive ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig configures the S3 archive destination for audit exports.
type ArchiveConfig struct {
	// Bucket enables archiving when set.
	Bucket string `mapstructure:"bucket"`

	// Prefix is prepended to archive object keys.
	// Default: audit/
	Prefix string `mapstructure:"prefix"`

	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// CatalogConfig configures the operation catalog source.
type CatalogConfig struct {
	// Path is a YAML catalog file. Empty uses the built-in catalog.
	Path string `mapstructure:"path"`
}

// FleetConfig configures the site inventory source.
type FleetConfig struct {
	// InventoryPath is the YAML site inventory file. Required for serve.
	InventoryPath string `mapstructure:"inventory_path"`
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be >= 1, got %d", c.Engine.Workers)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be >= 1, got %d", c.Engine.MaxAttempts)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive, got %s", c.Scheduler.TickInterval)
	}
	if c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required")
	}
	return nil
}
