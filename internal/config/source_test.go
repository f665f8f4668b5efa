package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestStatic(t *testing.T) {
	assert.Equal(t, Default(), NewStatic(nil).Current())

	cfg := Default()
	cfg.Enabled = false
	assert.Same(t, cfg, NewStatic(cfg).Current())
}

func TestFileSource_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relance.yaml")
	writeConfig(t, path, "enabled: true\n")

	src, err := NewFileSource(path)
	require.NoError(t, err)
	assert.True(t, src.Current().Enabled)

	var calls atomic.Int32
	src.OnChange(func(*Config) { calls.Add(1) })

	writeConfig(t, path, "enabled: false\n")
	require.NoError(t, src.Reload())
	assert.False(t, src.Current().Enabled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFileSource_BadReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relance.yaml")
	writeConfig(t, path, "cooldown: 4s\n")

	src, err := NewFileSource(path)
	require.NoError(t, err)

	writeConfig(t, path, "cooldown: -1s\n")
	require.Error(t, src.Reload())
	assert.Equal(t, 4*time.Second, src.Current().Cooldown)
}

func TestFileSource_InvalidInitialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relance.yaml")
	writeConfig(t, path, "bogus: 1\n")

	_, err := NewFileSource(path)
	require.Error(t, err)
}

func TestFileSource_WatchPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relance.yaml")
	writeConfig(t, path, "enabled: true\n")

	src, err := NewFileSource(path)
	require.NoError(t, err)

	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	writeConfig(t, path, "enabled: false\n")

	assert.Eventually(t, func() bool {
		return !src.Current().Enabled
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFileSource_StopWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relance.yaml")
	writeConfig(t, path, "")

	src, err := NewFileSource(path)
	require.NoError(t, err)
	src.Stop()
}
