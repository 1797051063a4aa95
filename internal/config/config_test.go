package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	viper.Reset()
	cmd := &cobra.Command{}
	Bind(cmd)
	require.NoError(t, cmd.Flags().Set("repo-root", t.TempDir()))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8321, cfg.Port)
	assert.Equal(t, "127.0.0.1:8321", cfg.Addr())
	assert.NotEmpty(t, cfg.LogDir)
}

func TestLoadHonorsExplicitLogDir(t *testing.T) {
	viper.Reset()
	cmd := &cobra.Command{}
	Bind(cmd)
	require.NoError(t, cmd.Flags().Set("repo-root", t.TempDir()))
	require.NoError(t, cmd.Flags().Set("log-dir", "/tmp/custom-log-dir"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-log-dir", cfg.LogDir)
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	viper.Reset()
	cmd := &cobra.Command{}
	Bind(cmd)
	require.NoError(t, cmd.Flags().Set("repo-root", t.TempDir()))
	require.NoError(t, cmd.Flags().Set("port", "70000"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMissingRepoRoot(t *testing.T) {
	viper.Reset()
	cmd := &cobra.Command{}
	Bind(cmd)
	require.NoError(t, cmd.Flags().Set("repo-root", "/nonexistent/path/for/test"))

	_, err := Load()
	assert.Error(t, err)
}
