// Package plugin implements the self-registration probe protocol:
// scan a directory for kurv-prefixed executables, invoke each with
// --kurv-cfg, and parse its JSON self-description into an Egg.
package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/multierr"

	"github.com/kurvproject/kurv/pkg/constant"
	"github.com/kurvproject/kurv/pkg/egg"
)

// HostEnv is the host context injected into every discovered plugin's
// env before it is registered as an egg.
type HostEnv struct {
	APIHost string
	APIPort string
	Home    string
	LogsDir string
}

// Discover scans dir for kurv-prefixed executables, probes each of
// them, and returns the eggs they self-describe plus one aggregated
// error summarizing every candidate that failed along the way
// (exec failure after retries, non-zero exit, unparseable JSON). A nil
// error means every candidate in the directory succeeded. A per-candidate
// failure never stops the scan — failures are collected, not fatal; only
// a failure to read dir itself (other than it not existing) returns
// early, with no eggs.
func Discover(dir string, host HostEnv) ([]*egg.Egg, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory %s: %w", dir, err)
	}

	var eggs []*egg.Egg
	var errs error

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, constant.PluginPrefix) {
			continue
		}
		path, err := filepath.Abs(filepath.Join(dir, name))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("plugin %s: failed to resolve absolute path: %w", name, err))
			continue
		}
		if !isExecutable(path, name) {
			continue
		}

		e, err := probe(path)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("plugin %s: %w", name, err))
			continue
		}

		e.Env = injectHostEnv(e.Env, host)
		eggs = append(eggs, e)
	}

	return eggs, errs
}

func injectHostEnv(env map[string]string, host HostEnv) map[string]string {
	if env == nil {
		env = make(map[string]string)
	}
	env["KURV_API_HOST"] = host.APIHost
	env["KURV_API_PORT"] = host.APIPort
	env["KURV_HOME"] = host.Home
	env["KURV_LOGS_DIR"] = host.LogsDir
	return env
}

// probe invokes path (already resolved to an absolute path by Discover)
// with --kurv-cfg and parses its stdout as a JSON Egg. Transient
// failures to even start the subprocess (e.g. ETXTBSY while a package
// manager is mid-write) are retried a small bounded number of times —
// distinct from, and never feeding, the egg crash-retry policy the
// supervisor loop runs, which stays uncapped.
func probe(path string) (*egg.Egg, error) {
	var stdout, stderr bytes.Buffer

	err := retry.Do(
		func() error {
			stdout.Reset()
			stderr.Reset()
			cmd := exec.Command(path, constant.PluginProbeFlag)
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			return cmd.Run()
		},
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.RetryIf(isTransientStartError),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute plugin (stderr: %q): %w", strings.TrimSpace(stderr.String()), err)
	}

	var e egg.Egg
	if err := json.Unmarshal(stdout.Bytes(), &e); err != nil {
		return nil, fmt.Errorf("failed to parse plugin config as JSON (%q): %w", strings.TrimSpace(stdout.String()), err)
	}

	e.ID = nil
	e.Plugin = true
	e.PluginPath = path
	e.Synced = true
	return &e, nil
}

// isTransientStartError reports whether err looks like the subprocess
// failed to even launch (as opposed to launching and exiting non-zero,
// which is never retried).
func isTransientStartError(err error) bool {
	var exitErr *exec.ExitError
	return err != nil && !isExitError(err, &exitErr)
}

func isExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

