package catalog

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk YAML shape.
//
// Example:
//
//	version: "1.0"
//	operations:
//	  - id: update_wp_core
//	    name: WordPress core update
//	    category: updates
//	    impact_level: high
//	    requires_confirmation: true
//	    estimated_duration: {min: 2m, max: 10m}
//	    executor_ref: wpcli.core-update
type catalogFile struct {
	Version    string      `yaml:"version"`
	Operations []Operation `yaml:"operations"`
}

// UnmarshalYAML parses duration bounds from Go duration strings ("90s", "5m").
func (d *DurationRange) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Min string `yaml:"min"`
		Max string `yaml:"max"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	var err error
	if raw.Min != "" {
		if d.Min, err = time.ParseDuration(raw.Min); err != nil {
			return fmt.Errorf("invalid min duration %q: %w", raw.Min, err)
		}
	}
	if raw.Max != "" {
		if d.Max, err = time.ParseDuration(raw.Max); err != nil {
			return fmt.Errorf("invalid max duration %q: %w", raw.Max, err)
		}
	}
	return nil
}

// LoadFile reads an operation catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog file not found: %s", path)
		}
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses an operation catalog from raw YAML.
func LoadBytes(data []byte) (*Catalog, error) {
	if len(data) == 0 {
		return nil, errors.New("catalog file is empty")
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Operations) == 0 {
		return nil, errors.New("catalog defines no operations")
	}
	return New(file.Operations)
}

// Default returns the built-in operation set covering the dashboard's
// maintenance surface. Used when no catalog file is configured.
func Default() *Catalog {
	c, err := New([]Operation{
		{
			ID:                "backup_full",
			Name:              "Full site backup",
			Category:          CategoryBackups,
			Impact:            ImpactLow,
			EstimatedDuration: DurationRange{Min: 2 * time.Minute, Max: 15 * time.Minute},
			ExecutorRef:       "wpcli.backup-full",
		},
		{
			ID:                "backup_database",
			Name:              "Database backup",
			Category:          CategoryBackups,
			Impact:            ImpactLow,
			EstimatedDuration: DurationRange{Min: 30 * time.Second, Max: 5 * time.Minute},
			ExecutorRef:       "wpcli.backup-db",
		},
		{
			ID:                   "update_wp_core",
			Name:                 "WordPress core update",
			Category:             CategoryUpdates,
			Impact:               ImpactHigh,
			RequiresConfirmation: true,
			EstimatedDuration:    DurationRange{Min: 2 * time.Minute, Max: 10 * time.Minute},
			ExecutorRef:          "wpcli.core-update",
		},
		{
			ID:                   "update_plugins",
			Name:                 "Plugin updates",
			Category:             CategoryUpdates,
			Impact:               ImpactMedium,
			RequiresConfirmation: true,
			EstimatedDuration:    DurationRange{Min: 1 * time.Minute, Max: 10 * time.Minute},
			ExecutorRef:          "wpcli.plugin-update",
		},
		{
			ID:                "update_themes",
			Name:              "Theme updates",
			Category:          CategoryUpdates,
			Impact:            ImpactMedium,
			EstimatedDuration: DurationRange{Min: 1 * time.Minute, Max: 8 * time.Minute},
			ExecutorRef:       "wpcli.theme-update",
		},
		{
			ID:                "security_scan",
			Name:              "Security scan",
			Category:          CategorySecurity,
			Impact:            ImpactLow,
			EstimatedDuration: DurationRange{Min: 1 * time.Minute, Max: 20 * time.Minute},
			ExecutorRef:       "scanner.security",
		},
		{
			ID:                "malware_scan",
			Name:              "Malware scan",
			Category:          CategorySecurity,
			Impact:            ImpactLow,
			EstimatedDuration: DurationRange{Min: 5 * time.Minute, Max: 30 * time.Minute},
			ExecutorRef:       "scanner.malware",
		},
		{
			ID:                "clear_cache",
			Name:              "Cache clear",
			Category:          CategoryPerformance,
			Impact:            ImpactLow,
			EstimatedDuration: DurationRange{Min: 5 * time.Second, Max: 1 * time.Minute},
			ExecutorRef:       "wpcli.cache-flush",
		},
		{
			ID:                   "optimize_database",
			Name:                 "Database optimization",
			Category:             CategoryMaintenance,
			Impact:               ImpactMedium,
			RequiresConfirmation: true,
			EstimatedDuration:    DurationRange{Min: 1 * time.Minute, Max: 15 * time.Minute},
			ExecutorRef:          "wpcli.db-optimize",
		},
	})
	if err != nil {
		// Built-in definitions are fixed at compile time.
		panic(err)
	}
	return c
}
