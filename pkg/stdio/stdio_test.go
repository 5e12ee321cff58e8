package stdio

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLogFileHandlesCreatesDirAndFiles(t *testing.T) {
	dir := t.TempDir()
	logsDir := dir + "/task_logs"

	stdoutPath, stderrPath, stdoutFile, stderrFile, err := CreateLogFileHandles("web", logsDir)
	require.NoError(t, err)
	defer stdoutFile.Close()
	defer stderrFile.Close()

	_, err = os.Stat(stdoutPath)
	assert.NoError(t, err)
	_, err = os.Stat(stderrPath)
	assert.NoError(t, err)

	_, err = stdoutFile.WriteString("hello\n")
	assert.NoError(t, err)
}

func TestCleanLogHandlesRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	stdoutPath, stderrPath, stdoutFile, stderrFile, err := CreateLogFileHandles("web", dir)
	require.NoError(t, err)
	stdoutFile.Close()
	stderrFile.Close()

	errs := CleanLogHandles("web", dir)
	assert.Empty(t, errs)

	_, err = os.Stat(stdoutPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(stderrPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanLogHandlesIsBestEffortOnMissingFiles(t *testing.T) {
	errs := CleanLogHandles("never-spawned", t.TempDir())
	assert.Empty(t, errs)
}
