package workers

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startChild(t *testing.T, registry *Registry, id int, name string, args ...string) *Child {
	t.Helper()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = DetachedAttr()
	require.NoError(t, cmd.Start())
	return registry.Add(id, name, cmd)
}

func TestTryWaitObservesExit(t *testing.T) {
	registry := NewRegistry()
	child := startChild(t, registry, 1, "quick", "/bin/true")

	require.Eventually(t, func() bool {
		exited, _, _ := child.TryWait()
		return exited
	}, 2*time.Second, 10*time.Millisecond)

	exited, code, err := child.TryWait()
	assert.True(t, exited)
	assert.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestTryWaitNonBlockingWhileAlive(t *testing.T) {
	registry := NewRegistry()
	child := startChild(t, registry, 1, "sleeper", "/bin/sleep", "5")
	defer child.Kill()

	exited, _, _ := child.TryWait()
	assert.False(t, exited, "a freshly-started long-lived process should not report exited")
}

func TestKillTerminatesProcessGroup(t *testing.T) {
	registry := NewRegistry()
	child := startChild(t, registry, 1, "sleeper", "/bin/sleep", "30")

	require.NoError(t, child.Kill())

	exited, _, _ := child.TryWait()
	assert.True(t, exited)
}

func TestRegistryAddGetMutRemove(t *testing.T) {
	registry := NewRegistry()
	child := startChild(t, registry, 7, "web", "/bin/sleep", "5")
	defer child.Kill()

	assert.True(t, registry.HasActiveWorkers())
	got := registry.GetMut(7)
	require.NotNil(t, got)
	assert.Equal(t, "web", got.Name)

	assert.Nil(t, registry.GetMut(999))

	registry.Remove("web")
	assert.False(t, registry.HasActiveWorkers())
}

func TestExitMessage(t *testing.T) {
	assert.Equal(t, "Exited with code 1", ExitMessage(1, nil))
	assert.Contains(t, ExitMessage(-1, assert.AnError), "Exited with unknown code")
}
