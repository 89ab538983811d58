package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDGuard keeps two agent processes from sharing one data directory.
// The guard file holds the owning pid; a file left behind by a dead
// process is treated as stale and reclaimed.
type PIDGuard struct {
	path string
}

// NewPIDGuard creates a guard over the given pid file path.
func NewPIDGuard(path string) *PIDGuard {
	return &PIDGuard{path: path}
}

// Acquire claims the guard for the current process. It fails with
// *AlreadyRunningError when another live process holds it.
func (g *PIDGuard) Acquire() error {
	data, err := os.ReadFile(g.path)
	switch {
	case err == nil:
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && processExists(pid) {
			return &AlreadyRunningError{PID: pid}
		}
		// Stale or garbled guard file.
		_ = os.Remove(g.path)
	case !os.IsNotExist(err):
		return fmt.Errorf("read pid file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("create pid file dir: %w", err)
	}
	if err := os.WriteFile(g.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Release removes the guard file. Safe to call when it is already gone.
func (g *PIDGuard) Release() {
	os.Remove(g.path)
}

// AlreadyRunningError reports that another agent owns the data dir.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("another agent is already running (pid %d)", e.PID)
}

// processExists checks whether a process with the given pid is alive.
// On Unix FindProcess always succeeds, so signal 0 does the probing.
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
