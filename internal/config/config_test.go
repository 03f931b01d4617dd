package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	ctx := context.Background()
	cfg, err := Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Sync.Policy)
	assert.Equal(t, 750, cfg.Sync.AutoBudgetMS)
	assert.Equal(t, []string{"--no-tags", "--prune"}, cfg.Sync.FetchArgs)
	assert.Equal(t, 7, cfg.HotWindowDays)
	assert.Equal(t, "default", cfg.DefaultProfile)
	assert.Equal(t, "origin", cfg.Remote)
	assert.Equal(t, "knots", cfg.Branch)
	assert.Equal(t, 30, cfg.LockTimeoutSeconds)
	assert.Equal(t, 3, cfg.MaxPushAttempts)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("KNOTS_REMOTE", "upstream")
	t.Setenv("KNOTS_SYNC_POLICY", "always")
	t.Setenv("KNOTS_HOT_WINDOW_DAYS", "14")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "upstream", cfg.Remote)
	assert.Equal(t, "always", cfg.Sync.Policy)
	assert.Equal(t, 14, cfg.HotWindowDays)
}

func TestLoadYAMLOverlayAppliesValuesOnTopOfDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "knots.yml")
	require.NoError(t, os.WriteFile(path, []byte("remote: upstream\nhot_window_days: 30\n"), 0o644))

	require.NoError(t, LoadYAMLOverlay(cfg, path))
	assert.Equal(t, "upstream", cfg.Remote)
	assert.Equal(t, 30, cfg.HotWindowDays)
	assert.Equal(t, "knots", cfg.Branch, "fields absent from the overlay keep their loaded value")
}

func TestLoadYAMLOverlayMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	err = LoadYAMLOverlay(cfg, filepath.Join(t.TempDir(), "does-not-exist.yml"))
	assert.NoError(t, err)
}
