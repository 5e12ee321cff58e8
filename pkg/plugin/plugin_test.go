package plugin

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePluginScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func TestDiscoverMissingDirYieldsNoError(t *testing.T) {
	eggs, err := Discover(filepath.Join(t.TempDir(), "nope"), HostEnv{})
	assert.NoError(t, err)
	assert.Nil(t, eggs)
}

func TestDiscoverSkipsNonPrefixedAndNonExecutableFiles(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX executable-bit semantics only")
	}
	dir := t.TempDir()
	writePluginScript(t, dir, "notaplugin", "#!/bin/sh\necho hi\n")
	require.NoError(t, os.Chmod(filepath.Join(dir, "notaplugin"), 0644))
	writePluginScript(t, dir, "kurv-noexec", "#!/bin/sh\necho '{\"name\":\"noexec\",\"command\":\"/bin/true\"}'\n")
	require.NoError(t, os.Chmod(filepath.Join(dir, "kurv-noexec"), 0644))

	eggs, err := Discover(dir, HostEnv{})
	assert.NoError(t, err)
	assert.Empty(t, eggs)
}

func TestDiscoverProbesAndInjectsHostEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shebang scripts only")
	}
	dir := t.TempDir()
	writePluginScript(t, dir, "kurv-demo", `#!/bin/sh
echo '{"name":"demo","command":"/bin/true"}'
`)

	eggs, err := Discover(dir, HostEnv{APIHost: "127.0.0.1", APIPort: "58787", Home: "/home/kurv", LogsDir: "/home/kurv/task_logs"})
	require.NoError(t, err)
	require.Len(t, eggs, 1)

	e := eggs[0]
	assert.Equal(t, "demo", e.Name)
	assert.True(t, e.Plugin)
	assert.Nil(t, e.ID)
	assert.Equal(t, "127.0.0.1", e.Env["KURV_API_HOST"])
	assert.Equal(t, "58787", e.Env["KURV_API_PORT"])
	assert.Equal(t, "/home/kurv", e.Env["KURV_HOME"])
}

func TestDiscoverAggregatesFailuresWithoutAborting(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shebang scripts only")
	}
	dir := t.TempDir()
	writePluginScript(t, dir, "kurv-bad", "#!/bin/sh\nexit 1\n")
	writePluginScript(t, dir, "kurv-good", `#!/bin/sh
echo '{"name":"good","command":"/bin/true"}'
`)

	eggs, err := Discover(dir, HostEnv{})
	require.Error(t, err)
	require.Len(t, eggs, 1)
	assert.Equal(t, "good", eggs[0].Name)
}
