package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

// IsProcessAlive probes pid with signal 0. EPERM means the process exists
// but belongs to another user, which still counts as alive. Zombies are dead.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := p.Signal(syscall.Signal(0)); err != nil {
		if !errors.Is(err, syscall.EPERM) {
			return false
		}
	}
	return !isZombie(pid)
}

// isZombie reads the process state from /proc where available
func isZombie(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// The state follows the parenthesised command name
	stat := string(data)
	idx := strings.LastIndex(stat, ")")
	if idx < 0 || idx+2 >= len(stat) {
		return false
	}
	return stat[idx+2] == 'Z'
}

// PIDChecker reports whether a local runner process is alive
type PIDChecker struct {
	PID int
}

// NewPIDChecker creates a new pid liveness checker
func NewPIDChecker(pid int) *PIDChecker {
	return &PIDChecker{PID: pid}
}

// Check performs the signal-0 probe
func (c *PIDChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if c.PID <= 0 {
		return result(start, false, "no pid recorded")
	}
	if !IsProcessAlive(c.PID) {
		return result(start, false, fmt.Sprintf("process %d is not running", c.PID))
	}
	return result(start, true, fmt.Sprintf("process %d is running", c.PID))
}

// Type returns the check type
func (c *PIDChecker) Type() CheckType {
	return CheckTypePID
}
