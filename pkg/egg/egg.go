// Package egg defines the unit of supervision (the "egg"): its desired
// configuration, its observed runtime state, and the state-machine
// transitions the supervisor loop and HTTP control plane drive it through.
package egg

import "time"

// Status is the typed string enum an egg's EggState.Status takes on.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusRunning        Status = "Running"
	StatusStopped        Status = "Stopped"
	StatusErrored        Status = "Errored"
	StatusPendingRemoval Status = "PendingRemoval"
	StatusRestarting     Status = "Restarting"
)

// Watch is reserved for file-change-triggered restarts. The field is
// carried on the wire for forward compatibility with the CLI-side egg
// manifest format, but no component in this process acts on it.
type Watch struct {
	On     []string `json:"on,omitempty"`
	Except []string `json:"except,omitempty"`
}

// Paths holds the stdout/stderr log file locations assigned the first
// time the supervisor spawns an egg.
type Paths struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// State is an egg's observed runtime state, as distinct from its desired
// configuration.
type State struct {
	Status    Status     `json:"status"`
	Pid       int        `json:"pid"`
	StartTime *time.Time `json:"start_time,omitempty"`
	TryCount  int        `json:"try_count"`
	Error     string     `json:"error,omitempty"`
}

// Egg is the unit of supervision: one child process plus its desired
// configuration and observed state.
type Egg struct {
	ID      *int              `json:"id,omitempty"`
	Name    string            `json:"name" validate:"required"`
	Command string            `json:"command" validate:"required"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Watch   *Watch            `json:"watch,omitempty"`
	Paths   *Paths            `json:"paths,omitempty"`

	Plugin     bool   `json:"plugin,omitempty"`
	PluginPath string `json:"plugin_path,omitempty"`

	State *State `json:"state,omitempty"`

	// Synced is true when the on-disk representation of this egg matches
	// its in-memory representation. Cleared by mutations that don't flow
	// through a status transition (e.g. an env update), so that Phase E
	// of the supervisor tick knows to force a flush.
	Synced bool `json:"-"`
}

func now() time.Time { return time.Now() }

func (e *Egg) ensureState() {
	if e.State == nil {
		e.State = &State{Status: StatusPending}
	}
}

// SetStatus sets the egg's status, creating a fresh State if absent.
func (e *Egg) SetStatus(status Status) {
	e.ensureState()
	e.State.Status = status
}

// IncrementTryCount bumps the consecutive crash-retry counter.
func (e *Egg) IncrementTryCount() {
	e.ensureState()
	e.State.TryCount++
}

// ResetTryCount zeroes the crash-retry counter.
func (e *Egg) ResetTryCount() {
	e.ensureState()
	e.State.TryCount = 0
}

// SetPid records the child's OS process id (0 when not running).
func (e *Egg) SetPid(pid int) {
	e.ensureState()
	e.State.Pid = pid
}

// SetError records the last-failure message.
func (e *Egg) SetError(msg string) {
	e.ensureState()
	e.State.Error = msg
}

// ResetStartTime stamps the egg's start time as now.
func (e *Egg) ResetStartTime() {
	e.ensureState()
	t := now()
	e.State.StartTime = &t
}

// SetStartTime sets (or clears, when nil) the egg's start time.
func (e *Egg) SetStartTime(t *time.Time) {
	e.ensureState()
	e.State.StartTime = t
}

// SetAsRunning marks the egg Running: records pid, resets the start time
// to now, clears any error, and resets the crash-retry counter.
func (e *Egg) SetAsRunning(pid int) {
	e.SetPid(pid)
	e.ResetStartTime()
	e.SetStatus(StatusRunning)
	e.SetError("")
	e.ResetTryCount()
}

// SetAsErrored marks the egg Errored: records the failure, clears the
// pid, and increments the crash-retry counter. There is no ceiling on
// try_count by design; the operator must transition to Stopped to halt
// retries.
func (e *Egg) SetAsErrored(msg string) {
	e.SetError(msg)
	e.SetStatus(StatusErrored)
	e.SetPid(0)
	e.IncrementTryCount()
}

// SetAsStopped marks the egg Stopped (unless it is already
// PendingRemoval, which this never downgrades), clears pid and start
// time, and resets the crash-retry counter. Idempotent.
func (e *Egg) SetAsStopped() {
	if !e.IsPendingRemoval() {
		e.SetStatus(StatusStopped)
	}
	e.SetPid(0)
	e.ResetTryCount()
	e.SetStartTime(nil)
}

// ResetToPending rewrites the egg to a fresh Pending state, clearing
// pid, start time, error and try_count. Used by Phase C when converting
// Restarting back to Pending so Phase A respawns it on the next tick.
func (e *Egg) ResetToPending() {
	e.State = &State{Status: StatusPending}
}

// ShouldSpawn reports whether the supervisor should attempt to spawn
// this egg: true when state is absent, or status is Pending or Errored.
func (e *Egg) ShouldSpawn() bool {
	if e.State == nil {
		return true
	}
	return e.State.Status == StatusPending || e.State.Status == StatusErrored
}

// HasBeenRunningFor reports whether the egg has been continuously
// Running for at least the given duration. False when start_time is
// absent.
func (e *Egg) HasBeenRunningFor(d time.Duration) bool {
	if e.State == nil || e.State.StartTime == nil {
		return false
	}
	return now().Sub(*e.State.StartTime) >= d
}

// IsRunning reports whether the egg's status is Running.
func (e *Egg) IsRunning() bool {
	return e.State != nil && e.State.Status == StatusRunning
}

// IsStopped reports whether the egg's status is Stopped.
func (e *Egg) IsStopped() bool {
	return e.State != nil && e.State.Status == StatusStopped
}

// IsPendingRemoval reports whether the egg's status is PendingRemoval.
func (e *Egg) IsPendingRemoval() bool {
	return e.State != nil && e.State.Status == StatusPendingRemoval
}

// IsRestarting reports whether the egg's status is Restarting.
func (e *Egg) IsRestarting() bool {
	return e.State != nil && e.State.Status == StatusRestarting
}

// IsPlugin reports whether this egg was registered by the plugin loader.
func (e *Egg) IsPlugin() bool {
	return e.Plugin
}

// IsStateUnsynced reports whether this egg carries a mutation not yet
// reflected on disk.
func (e *Egg) IsStateUnsynced() bool {
	return !e.Synced
}

// SetSynced marks this egg's on-disk representation as up to date (or
// stale, when false).
func (e *Egg) SetSynced(synced bool) {
	e.Synced = synced
}
