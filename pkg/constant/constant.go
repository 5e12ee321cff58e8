/*
Copyright 2021 k0s authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package constant holds the small set of file-mode and timing constants
// shared across the supervisor, state store and log-path manager.
package constant

import (
	"os"
	"time"
)

const (
	// RunDirMode is the permission bits used when creating kurv's home
	// directory.
	RunDirMode os.FileMode = 0755

	// PidFileMode is unused directly by kurv (pids live in the state file,
	// not a standalone pidfile) but kept for parity with the teacher's own
	// pidfile convention, since log files are written with the same mode.
	PidFileMode os.FileMode = 0644

	// StateFileMode is the permission bits for the persisted `.kurv` file.
	StateFileMode os.FileMode = 0644

	// TickInterval is the supervisor loop's reconciliation cadence.
	TickInterval = 500 * time.Millisecond

	// RunningGraceDuration is how long an egg must be continuously Running
	// before its try_count is eligible to be reset back to zero.
	RunningGraceDuration = 5 * time.Second

	// StopTimeout bounds how long Phase C waits for SIGTERM before falling
	// back to a harder kill of the process group.
	StopTimeout = 5 * time.Second

	// DefaultAPIHost and DefaultAPIPort are the control plane's bind
	// defaults, overridable via KURV_API_HOST / KURV_API_PORT.
	DefaultAPIHost = "127.0.0.1"
	DefaultAPIPort = "58787"

	// DefaultWorkerGroup is the sole worker-registry partition kurv
	// currently uses; reserved for future multi-instance grouping.
	DefaultWorkerGroup = "default_kurv"

	// PluginPrefix is the required filename prefix for self-registering
	// plugin executables.
	PluginPrefix = "kurv-"

	// PluginProbeFlag is the argv kurv invokes a plugin with to request
	// its self-description.
	PluginProbeFlag = "--kurv-cfg"

	// LogsDirName is the default subdirectory of kurv home holding
	// per-egg stdout/stderr files, unless overridden by KURV_LOGS_DIR.
	LogsDirName = "task_logs"

	// PluginsDirName is the subdirectory of kurv home scanned at boot.
	PluginsDirName = "plugins"

	// StateFileName is the on-disk filename of the persisted state.
	StateFileName = ".kurv"
)
