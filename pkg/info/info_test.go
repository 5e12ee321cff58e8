package info

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolvesPathsFromKurvHomeEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KURV_HOME", dir)
	t.Setenv("KURV_LOGS_DIR", "")

	inf, err := New("127.0.0.1", "58787")
	require.NoError(t, err)

	assert.Equal(t, dir, inf.Paths.KurvHome)
	assert.Equal(t, filepath.Join(dir, ".kurv"), inf.Paths.KurvFile)
	assert.Equal(t, filepath.Join(dir, "plugins"), inf.Paths.PluginsDir)
	assert.Equal(t, filepath.Join(dir, "task_logs"), inf.Paths.LogsDir)
	assert.Equal(t, "127.0.0.1", inf.APIHost)
	assert.Equal(t, "58787", inf.APIPort)
}

func TestNewHonorsExplicitLogsDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KURV_HOME", dir)
	t.Setenv("KURV_LOGS_DIR", "/var/log/kurv")

	inf, err := New("127.0.0.1", "58787")
	require.NoError(t, err)
	assert.Equal(t, "/var/log/kurv", inf.Paths.LogsDir)
}
