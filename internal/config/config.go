// Package config holds the engine's runtime configuration.
//
// The configuration is a plain value object. Callers resolve it once per
// reconciliation pass through a Source, so a reload that lands mid-pass
// never produces a pass that mixes two configurations.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relance/internal/ir"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Config is the full runtime configuration.
type Config struct {
	// Enabled is the master switch. When false every pass is a no-op.
	Enabled bool `yaml:"enabled"`

	// DisabledTenants lists tenants for which automation is off.
	DisabledTenants []string `yaml:"disabled_tenants"`

	Cooldown      time.Duration `yaml:"cooldown"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ExperimentalRules lists experimental rule ids that are enabled.
	ExperimentalRules []string `yaml:"experimental_rules"`

	DueOffsetsDays map[ir.UrgencyClass]int `yaml:"due_offsets_days"`

	// RulesDir, when set, replaces the built-in catalog with the CUE rules
	// found in that directory.
	RulesDir string `yaml:"rules_dir"`

	Store  StoreConfig `yaml:"store"`
	Listen string      `yaml:"listen"`
}

// StoreConfig selects the persistence adapter.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Enabled:       true,
		Cooldown:      3 * time.Second,
		SweepInterval: 10 * time.Minute,
		DueOffsetsDays: map[ir.UrgencyClass]int{
			ir.UrgencyCritical: 2,
			ir.UrgencyHigh:     3,
			ir.UrgencyMedium:   5,
			ir.UrgencyLow:      14,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "relance.db",
		},
		Listen: ":8080",
	}
}

// Load reads and validates a YAML configuration file.
// Keys absent from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("cooldown must be positive, got %s", c.Cooldown))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval))
	}

	urgencies := make([]string, 0, len(c.DueOffsetsDays))
	for u := range c.DueOffsetsDays {
		urgencies = append(urgencies, string(u))
	}
	sort.Strings(urgencies)
	for _, u := range urgencies {
		if !ir.ValidUrgencies[ir.UrgencyClass(u)] {
			errs = append(errs, fmt.Errorf("due_offsets_days: unknown urgency %q", u))
			continue
		}
		if days := c.DueOffsetsDays[ir.UrgencyClass(u)]; days < 1 {
			errs = append(errs, fmt.Errorf("due_offsets_days.%s must be at least 1, got %d", u, days))
		}
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Store.Driver))
	}

	return errors.Join(errs...)
}

// TenantEnabled reports whether automation runs for tenant.
// It folds in the master switch.
func (c *Config) TenantEnabled(tenant string) bool {
	if !c.Enabled {
		return false
	}
	for _, t := range c.DisabledTenants {
		if t == tenant {
			return false
		}
	}
	return true
}

// ExperimentalSet returns the enabled experimental rule ids as a set.
func (c *Config) ExperimentalSet() map[string]bool {
	set := make(map[string]bool, len(c.ExperimentalRules))
	for _, id := range c.ExperimentalRules {
		set[id] = true
	}
	return set
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.DisabledTenants = append([]string(nil), c.DisabledTenants...)
	out.ExperimentalRules = append([]string(nil), c.ExperimentalRules...)
	if c.DueOffsetsDays != nil {
		out.DueOffsetsDays = make(map[ir.UrgencyClass]int, len(c.DueOffsetsDays))
		for k, v := range c.DueOffsetsDays {
			out.DueOffsetsDays[k] = v
		}
	}
	return &out
}
