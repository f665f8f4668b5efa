package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relance/internal/ir"
)

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
enabled: false
disabled_tenants: [acme]
cooldown: 5s
experimental_rules: [send-invoice]
due_offsets_days:
  low: 10
store:
  driver: pgx
  dsn: postgres://localhost/relance
`))
	require.NoError(t, err)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, []string{"acme"}, cfg.DisabledTenants)
	assert.Equal(t, 5*time.Second, cfg.Cooldown)
	assert.Equal(t, 10*time.Minute, cfg.SweepInterval, "absent keys keep defaults")
	assert.Equal(t, 10, cfg.DueOffsetsDays[ir.UrgencyLow])
	assert.Equal(t, 2, cfg.DueOffsetsDays[ir.UrgencyCritical])
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte("enabeld: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enabeld")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`
cooldown: 0s
due_offsets_days:
  urgent: 1
  high: 0
store:
  driver: mysql
`))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "cooldown must be positive")
	assert.Contains(t, msg, `unknown urgency "urgent"`)
	assert.Contains(t, msg, "due_offsets_days.high must be at least 1")
	assert.Contains(t, msg, `store.driver`)
}

func TestTenantEnabled(t *testing.T) {
	cfg := Default()
	cfg.DisabledTenants = []string{"acme"}

	assert.True(t, cfg.TenantEnabled("globex"))
	assert.False(t, cfg.TenantEnabled("acme"))

	cfg.Enabled = false
	assert.False(t, cfg.TenantEnabled("globex"), "master switch wins")
}

func TestExperimentalSet(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.ExperimentalSet())

	cfg.ExperimentalRules = []string{"send-invoice"}
	assert.Equal(t, map[string]bool{"send-invoice": true}, cfg.ExperimentalSet())
}

func TestClone_Independent(t *testing.T) {
	cfg := Default()
	cfg.DisabledTenants = []string{"acme"}

	c := cfg.Clone()
	c.DisabledTenants[0] = "other"
	c.DueOffsetsDays[ir.UrgencyHigh] = 9

	assert.Equal(t, "acme", cfg.DisabledTenants[0])
	assert.Equal(t, 3, cfg.DueOffsetsDays[ir.UrgencyHigh])
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relance.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cooldown: 1s\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Cooldown)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
