// Package workers owns the live child-process handles the supervisor
// loop spawns, keyed by egg id. It is exclusively mutated by the
// supervisor loop; the HTTP control plane never touches it directly.
package workers

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/kurvproject/kurv/pkg/constant"
)

// Child wraps a single spawned process, supervised as its own process
// group so a single kill reaches its descendants too.
type Child struct {
	Name string
	ID   int
	Cmd  *exec.Cmd

	mu       sync.Mutex
	waited   bool
	exitCode *int
	waitErr  error
	doneCh   chan struct{}
}

// newChild wraps cmd (already Start()-ed) and launches the background
// goroutine that reaps it exactly once, the way a non-blocking
// try_wait is built on top of a blocking Wait in a language without a
// native non-blocking wait syscall wrapper.
func newChild(name string, id int, cmd *exec.Cmd) *Child {
	c := &Child{Name: name, ID: id, Cmd: cmd, doneCh: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.waited = true
		c.waitErr = err
		if cmd.ProcessState != nil {
			code := cmd.ProcessState.ExitCode()
			c.exitCode = &code
		}
		c.mu.Unlock()
		close(c.doneCh)
	}()
	return c
}

// TryWait performs a non-blocking check of whether the child has
// exited. exited is false and err is nil while the process is still
// alive.
func (c *Child) TryWait() (exited bool, exitCode int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.waited {
		return false, 0, nil
	}
	if c.exitCode != nil {
		return true, *c.exitCode, nil
	}
	return true, -1, c.waitErr
}

// Pid returns the child's OS process id.
func (c *Child) Pid() int {
	if c.Cmd.Process == nil {
		return 0
	}
	return c.Cmd.Process.Pid
}

// Signal sends sig to the child's entire process group.
func (c *Child) Signal(sig syscall.Signal) error {
	if c.Cmd.Process == nil {
		return errors.New("process not started")
	}
	pgid, err := syscall.Getpgid(c.Cmd.Process.Pid)
	if err != nil {
		// the group leader may already be gone; fall back to signalling
		// the process directly.
		return c.Cmd.Process.Signal(sig)
	}
	return syscall.Kill(-pgid, sig)
}

// Kill terminates the child's process group, first with SIGTERM and,
// if it hasn't exited by the time Phase C's stop timeout elapses, with
// SIGKILL. Already-exited is treated as success.
func (c *Child) Kill() error {
	if err := c.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}

	select {
	case <-c.doneCh:
		return nil
	case <-time.After(constant.StopTimeout):
		if err := c.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
		return nil
	}
}

// Registry is the mapping from egg-id to live child-process handle,
// partitioned into named groups (a single default group today,
// reserved for future multi-instance support — invisible to every
// other component).
type Registry struct {
	mu     sync.Mutex
	groups map[string]map[string]*Child // group -> worker name -> child
}

// NewRegistry creates a worker registry with a single default group.
func NewRegistry() *Registry {
	return &Registry{
		groups: map[string]map[string]*Child{
			constant.DefaultWorkerGroup: {},
		},
	}
}

// Add inserts a newly spawned child into the default group. It panics
// if the group hasn't been initialized, matching the teacher lineage's
// "the pool should be initialized when inserting" invariant.
func (r *Registry) Add(id int, name string, cmd *exec.Cmd) *Child {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.groups[constant.DefaultWorkerGroup]
	if !ok {
		panic("worker pool should be initialized when inserting a new child")
	}

	child := newChild(name, id, cmd)
	pool[name] = child
	return child
}

// GetMut returns the live child handle for the given egg id, if any.
func (r *Registry) GetMut(id int) *Child {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pool := range r.groups {
		for _, child := range pool {
			if child.ID == id {
				return child
			}
		}
	}
	return nil
}

// Remove removes the worker entry keyed by name from the default group.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups[constant.DefaultWorkerGroup], name)
}

// HasActiveWorkers reports whether any group has a live entry.
func (r *Registry) HasActiveWorkers() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pool := range r.groups {
		if len(pool) > 0 {
			return true
		}
	}
	return false
}

// DetachedAttr returns the SysProcAttr that makes a spawned child the
// leader of its own process group, so a single Signal reaches every
// descendant it forks.
func DetachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// ExitMessage renders a non-blocking wait's (exitCode, err) pair into
// the human-readable string the egg's error field records.
func ExitMessage(exitCode int, err error) string {
	if err != nil {
		return fmt.Sprintf("Exited with unknown code: %v", err)
	}
	return fmt.Sprintf("Exited with code %d", exitCode)
}
