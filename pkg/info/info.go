// Package info builds the immutable process snapshot served on
// GET /status: pid, version, important paths, and (supplemental) host
// diagnostics.
package info

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/zcalusic/sysinfo"
)

const kurvHomeEnvKey = "KURV_HOME"
const kurvLogsDirEnvKey = "KURV_LOGS_DIR"

// Version is the build version; overridden at link time in a real
// release build (`-ldflags -X`), left as a placeholder here since
// release packaging is out of scope.
var Version = "dev"

// Paths holds every directory/file location the rest of the process
// derives its I/O from.
type Paths struct {
	Executable string `json:"executable"`
	WorkingDir string `json:"working_dir"`
	KurvHome   string `json:"kurv_home"`
	KurvFile   string `json:"kurv_file"`
	PluginsDir string `json:"plugins_dir"`
	LogsDir    string `json:"logs_dir"`
}

// Host is a supplemental, read-only diagnostics snapshot captured once
// at boot. It enriches GET /status without changing the meaning of any
// documented field.
type Host struct {
	OS     string `json:"os"`
	Kernel string `json:"kernel"`
	CPU    string `json:"cpu"`
}

// Info is the general, immutable-after-construction snapshot of the
// running process.
type Info struct {
	Pid     int    `json:"pid"`
	Version string `json:"version"`
	Paths   Paths  `json:"paths"`
	Host    Host   `json:"host"`

	APIHost string `json:"-"`
	APIPort string `json:"-"`
}

// New builds the Info snapshot: resolves kurv home (KURV_HOME env var,
// falling back to the executable's parent directory, falling back to
// the user's home directory if the executable path can't be resolved),
// the logs directory (KURV_LOGS_DIR, defaulting to
// <kurv_home>/task_logs), and captures host diagnostics.
func New(apiHost, apiPort string) (*Info, error) {
	paths, err := resolvePaths()
	if err != nil {
		return nil, err
	}

	return &Info{
		Pid:     os.Getpid(),
		Version: Version,
		Paths:   *paths,
		Host:    captureHost(),
		APIHost: apiHost,
		APIPort: apiPort,
	}, nil
}

func resolvePaths() (*Paths, error) {
	executable, exeErr := os.Executable()
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("could not get working directory: %w", err)
	}

	var kurvHome string
	if home := os.Getenv(kurvHomeEnvKey); home != "" {
		kurvHome = home
	} else if exeErr == nil {
		kurvHome = filepath.Dir(executable)
	} else {
		home, hdErr := homedir.Dir()
		if hdErr != nil {
			return nil, fmt.Errorf("could not resolve executable path (%v) or home directory: %w", exeErr, hdErr)
		}
		kurvHome = home
	}

	logsDir := os.Getenv(kurvLogsDirEnvKey)
	if logsDir == "" {
		logsDir = filepath.Join(kurvHome, "task_logs")
	}

	return &Paths{
		Executable: executable,
		WorkingDir: workingDir,
		KurvHome:   kurvHome,
		KurvFile:   filepath.Join(kurvHome, ".kurv"),
		PluginsDir: filepath.Join(kurvHome, "plugins"),
		LogsDir:    logsDir,
	}, nil
}

func captureHost() Host {
	var si sysinfo.SysInfo
	si.GetSysInfo()

	return Host{
		OS:     si.OS.Name + " " + si.OS.Version,
		Kernel: si.Kernel.Release,
		CPU:    si.CPU.Model,
	}
}
