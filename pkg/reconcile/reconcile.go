// Package reconcile implements the supervisor loop: the single
// goroutine that, once per tick, drives every egg's observed state
// toward its desired state by spawning, observing, stopping, removing
// and restarting child processes.
//
// Each tick runs five phases in a fixed order (A spawn, B observe,
// C enforce, D remove, E flush-unsynced) and persists to disk iff any
// phase reported a mutation. Phase B must run before Phase C so a
// just-exited process is seen as Errored (eligible for retry) rather
// than silently converted to Stopped; Phase C must run before Phase D
// so kill-and-reap completes before the record is dropped.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"

	"github.com/kurvproject/kurv/pkg/constant"
	"github.com/kurvproject/kurv/pkg/egg"
	"github.com/kurvproject/kurv/pkg/state"
	"github.com/kurvproject/kurv/pkg/stdio"
	"github.com/kurvproject/kurv/pkg/workers"
)

// Metrics receives the reconcile loop's observability side effects. The
// httpapi.Router satisfies this interface; it is optional (nil-safe) so
// a Supervisor built without a control plane (e.g. in tests) still runs.
type Metrics interface {
	RespawnObserved()
	RefreshStatusGauges()
}

// Supervisor runs the reconciliation loop against a shared state store
// and its own worker registry.
type Supervisor struct {
	Store      *state.Store
	Workers    *workers.Registry
	StatePath  string
	LogsDir    string
	WorkingDir string

	log     logrus.FieldLogger
	metrics Metrics
}

// New builds a Supervisor. log may be nil, in which case the package
// logger is used.
func New(store *state.Store, statePath, logsDir, workingDir string, log logrus.FieldLogger) *Supervisor {
	if log == nil {
		log = logrus.WithField("component", "reconcile")
	}
	return &Supervisor{
		Store:      store,
		Workers:    workers.NewRegistry(),
		StatePath:  statePath,
		LogsDir:    logsDir,
		WorkingDir: workingDir,
		log:        log,
	}
}

// SetMetrics wires m into the loop: RespawnObserved fires every time
// Phase A spawns an egg, RefreshStatusGauges runs at the end of every
// tick. Passing nil disables both (the default).
func (s *Supervisor) SetMetrics(m Metrics) {
	s.metrics = m
}

// Run executes the tick loop until ctx is cancelled, sleeping
// constant.TickInterval between ticks. If WATCHDOG_USEC is set (the
// process runs under systemd with a configured watchdog), it pings
// sd_notify WATCHDOG=1 once per tick; this is a no-op everywhere else.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(constant.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
			if os.Getenv("WATCHDOG_USEC") != "" {
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					s.log.Debugf("systemd watchdog notify failed: %v", err)
				}
			}
		}
	}
}

// Tick runs phases A through E once and, if any phase mutated the
// store, persists it to StatePath.
func (s *Supervisor) Tick() {
	dirty := false

	dirty = s.phaseSpawnPending() || dirty
	dirty = s.phaseObserveRunning() || dirty
	dirty = s.phaseEnforce() || dirty
	dirty = s.phaseRemove() || dirty
	dirty = s.phaseFlushUnsynced() || dirty

	if dirty {
		if err := s.Store.Save(s.StatePath); err != nil {
			s.log.Errorf("failed to persist state: %v", err)
		}
	}

	if s.metrics != nil {
		s.metrics.RefreshStatusGauges()
	}
}

// phaseSpawnPending is Phase A: spawn every egg with ShouldSpawn() ==
// true. Holds the store's lock for the whole phase, the snapshot and
// every spawn it triggers included, so an HTTP handler can never
// observe (or race a write against) an egg mid-spawn.
func (s *Supervisor) phaseSpawnPending() bool {
	s.Store.Lock()
	defer s.Store.Unlock()

	dirty := false
	for _, e := range s.Store.All() {
		if !e.ShouldSpawn() {
			continue
		}
		s.spawn(e)
		dirty = true
	}
	return dirty
}

func (s *Supervisor) spawn(e *egg.Egg) {
	stdoutPath, stderrPath, stdoutFile, stderrFile, err := stdio.CreateLogFileHandles(e.Name, s.LogsDir)
	if err != nil {
		s.recordSpawnFailure(e, fmt.Sprintf("failed to create log file handles: %v", err))
		return
	}
	e.Paths = &egg.Paths{Stdout: stdoutPath, Stderr: stderrPath}

	cwd := e.Cwd
	if cwd == "" {
		cwd = s.WorkingDir
	}

	cmd := exec.Command(e.Command, e.Args...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(e.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = workers.DetachedAttr()

	if err := cmd.Start(); err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		for _, cleanupErr := range stdio.CleanLogHandles(e.Name, s.LogsDir) {
			s.log.Warn(cleanupErr)
		}
		s.recordSpawnFailure(e, fmt.Sprintf("failed to spawn child %s with err: %v", e.Name, err))
		return
	}

	if id := e.ID; id != nil {
		s.Workers.Add(*id, e.Name, cmd)
	}
	e.SetAsRunning(cmd.Process.Pid)
	s.log.Infof("spawned egg %s (pid %d)", e.Name, cmd.Process.Pid)
	if s.metrics != nil {
		s.metrics.RespawnObserved()
	}
}

func (s *Supervisor) recordSpawnFailure(e *egg.Egg, msg string) {
	s.log.Warn(msg)
	e.SetAsErrored(msg)
}

func mergeEnv(overrides map[string]string) []string {
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// phaseObserveRunning is Phase B: non-blocking-wait every Running egg.
// Holds the store's lock for the whole phase.
func (s *Supervisor) phaseObserveRunning() bool {
	s.Store.Lock()
	defer s.Store.Unlock()

	dirty := false
	for _, e := range s.Store.All() {
		if !e.IsRunning() || e.ID == nil {
			continue
		}
		child := s.Workers.GetMut(*e.ID)
		if child == nil {
			continue
		}

		exited, exitCode, err := child.TryWait()
		switch {
		case err != nil && !exited:
			s.log.Errorf("error while waiting for child process %d: %v", *e.ID, err)
		case !exited:
			if e.HasBeenRunningFor(constant.RunningGraceDuration) && e.State.TryCount != 0 {
				e.ResetTryCount()
				dirty = true
			}
		default:
			msg := workers.ExitMessage(exitCode, err)
			s.log.Warnf("egg %s exited: %s [#%d]", e.Name, msg, e.State.TryCount)
			e.SetAsErrored(msg)
			dirty = true
		}
	}
	return dirty
}

// phaseEnforce is Phase C: enforce Stopped/PendingRemoval/Restarting.
// Holds the store's lock for the whole phase, including each kill it
// performs.
func (s *Supervisor) phaseEnforce() bool {
	s.Store.Lock()
	defer s.Store.Unlock()

	dirty := false
	for _, e := range s.Store.All() {
		if e.State == nil {
			continue
		}
		switch e.State.Status {
		case egg.StatusStopped, egg.StatusPendingRemoval, egg.StatusRestarting:
		default:
			continue
		}

		if e.ID == nil {
			s.settleNeverSpawned(e)
			dirty = true
			continue
		}

		child := s.Workers.GetMut(*e.ID)
		if child == nil {
			s.settleNeverSpawned(e)
			dirty = true
			continue
		}

		exited, _, _ := child.TryWait()
		if !exited {
			if err := child.Kill(); err != nil {
				s.log.Errorf("error killing process group for egg %s: %v", e.Name, err)
			}
		}
		s.Workers.Remove(e.Name)
		s.settleStoppedOrRestarted(e)
		dirty = true
	}
	return dirty
}

func (s *Supervisor) settleNeverSpawned(e *egg.Egg) {
	if e.IsRestarting() {
		e.ResetToPending()
		return
	}
	e.SetAsStopped()
}

func (s *Supervisor) settleStoppedOrRestarted(e *egg.Egg) {
	if e.IsRestarting() {
		e.ResetToPending()
		return
	}
	e.SetAsStopped()
}

// phaseRemove is Phase D: drop every egg marked PendingRemoval. Holds
// the store's lock for the whole phase, the snapshot and every removal
// it performs included.
func (s *Supervisor) phaseRemove() bool {
	s.Store.Lock()
	defer s.Store.Unlock()

	dirty := false
	for _, e := range s.Store.All() {
		if e.State == nil || e.State.Status != egg.StatusPendingRemoval || e.ID == nil {
			continue
		}
		if _, err := s.Store.Remove(*e.ID); err != nil {
			s.log.Errorf("failed to remove egg %s: %v", e.Name, err)
			continue
		}
		dirty = true
	}
	return dirty
}

// phaseFlushUnsynced is Phase E: mark every unsynced egg synced, so
// that mutations which don't change status (e.g. an env update) still
// force a disk flush. Holds the store's lock for the whole phase.
func (s *Supervisor) phaseFlushUnsynced() bool {
	s.Store.Lock()
	defer s.Store.Unlock()

	dirty := false
	for _, e := range s.Store.All() {
		if e.IsStateUnsynced() {
			e.SetSynced(true)
			dirty = true
		}
	}
	return dirty
}
