package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/arenadata/adcm/pkg/health"
)

// pollInterval is how often Terminate re-checks a signalled process
var pollInterval = 100 * time.Millisecond

// TerminateResult reports how a process ended
type TerminateResult struct {
	// AlreadyGone is set when the process did not exist when signalled
	AlreadyGone bool
	// Killed is set when the grace window ran out and SIGKILL was sent
	Killed bool
}

// Terminate sends SIGTERM to pid and waits up to grace for it to exit. If
// it is still alive afterwards its process group receives SIGKILL.
func Terminate(ctx context.Context, pid int, grace time.Duration) (TerminateResult, error) {
	var res TerminateResult
	if pid <= 0 {
		return res, fmt.Errorf("terminate: invalid pid %d", pid)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return res, fmt.Errorf("terminate %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			res.AlreadyGone = true
			return res, nil
		}
		return res, fmt.Errorf("terminate %d: %w", pid, err)
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if !health.IsProcessAlive(pid) {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-deadline.C:
			res.Killed = true
			return res, kill(pid)
		case <-ticker.C:
		}
	}
}

// kill sends SIGKILL to the process group led by pid, falling back to the
// process alone
func kill(pid int) error {
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid {
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err == nil || errors.Is(err, syscall.ESRCH) {
			return nil
		}
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}

// KillGroup sends SIGKILL to process group pgid. A group that no longer
// exists is not an error.
func KillGroup(pgid int) error {
	if pgid <= 0 {
		return fmt.Errorf("kill group: invalid pgid %d", pgid)
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill group %d: %w", pgid, err)
	}
	return nil
}
