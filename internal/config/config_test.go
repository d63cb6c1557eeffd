package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/PQCA/cbomkit-go/internal/config"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(os.TempDir(), "cbomkit"), cfg.CloneDir)
	require.Equal(t, "cbomkit.db", cfg.DBPath)
	require.Empty(t, cfg.DepsDevURL)
	require.False(t, cfg.Verbose)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CBOMKIT_DB_PATH", "/var/lib/cbomkit/scans.db")
	t.Setenv("CBOMKIT_VERBOSE", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "/var/lib/cbomkit/scans.db", cfg.DBPath)
	require.True(t, cfg.Verbose)
}

func TestLoadFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cbomkit.yaml"), []byte("clone_dir: /srv/clones\ndepsdev_url: http://localhost:9000\n"), 0o644))
	t.Chdir(dir)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "/srv/clones", cfg.CloneDir)
	require.Equal(t, "http://localhost:9000", cfg.DepsDevURL)
}

func TestEnvironmentOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cbomkit.yaml"), []byte("db_path: from-file.db\n"), 0o644))
	t.Chdir(dir)
	t.Setenv("CBOMKIT_DB_PATH", "from-env.db")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "from-env.db", cfg.DBPath)
}

func TestLoadRejectsBrokenConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cbomkit.yaml"), []byte(":\tnot yaml"), 0o644))
	t.Chdir(dir)

	_, err := config.Load()
	require.Error(t, err)
}
