// Package stdio derives and manages the per-egg stdout/stderr log files.
package stdio

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogPaths returns the (stdout, stderr) file paths for the given egg
// name under logsDir.
func LogPaths(name, logsDir string) (stdout, stderr string) {
	return filepath.Join(logsDir, name+".stdout"), filepath.Join(logsDir, name+".stderr")
}

// CreateLogFileHandles derives the log paths for name under logsDir,
// ensures logsDir exists, and opens both files in create-or-append
// mode. Callers are responsible for closing the returned handles once
// the child they're attached to has exited.
func CreateLogFileHandles(name, logsDir string) (stdoutPath, stderrPath string, stdoutFile, stderrFile *os.File, err error) {
	stdoutPath, stderrPath = LogPaths(name, logsDir)

	if err = os.MkdirAll(logsDir, 0755); err != nil {
		return "", "", nil, nil, fmt.Errorf("failed to create log directory %s: %w", logsDir, err)
	}

	stdoutFile, err = openAppend(stdoutPath)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("getting stdout handle: %w", err)
	}

	stderrFile, err = openAppend(stderrPath)
	if err != nil {
		stdoutFile.Close()
		return "", "", nil, nil, fmt.Errorf("getting stderr handle: %w", err)
	}

	return stdoutPath, stderrPath, stdoutFile, stderrFile, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// CleanLogHandles best-effort removes the stdout/stderr files for name
// under logsDir. Errors are returned to the caller to log, never
// propagated as a hard failure — losing a log file should never stop
// the supervisor from recording a spawn failure.
func CleanLogHandles(name, logsDir string) []error {
	stdoutPath, stderrPath := LogPaths(name, logsDir)
	var errs []error

	if _, err := os.Stat(stdoutPath); err == nil {
		if err := os.Remove(stdoutPath); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove stdout file for %s: %w", name, err))
		}
	}
	if _, err := os.Stat(stderrPath); err == nil {
		if err := os.Remove(stderrPath); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove stderr file for %s: %w", name, err))
		}
	}

	return errs
}
