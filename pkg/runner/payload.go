package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/arenadata/adcm/pkg/types"
)

// payload describes one payload process invocation
type payload struct {
	Bin     string
	Args    []string
	Dir     string
	Env     []string
	Stdout  string
	Stderr  string
	Timeout time.Duration
	Grace   time.Duration

	// started is called with the child's pid once it runs
	started func(pid int)
}

// outcome is how a payload process ended
type outcome struct {
	Status   types.Status
	ExitCode int
	Signal   syscall.Signal
	TimedOut bool
	Canceled bool
}

// run starts the payload in its own process group and waits for it. A
// cancelled ctx terminates the group and yields aborted; an expired timeout
// terminates it and yields failed.
func (p *payload) run(ctx context.Context) (*outcome, error) {
	stdout, err := os.OpenFile(p.Stdout, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open stdout log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(p.Stderr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open stderr log: %w", err)
	}
	defer stderr.Close()

	cmd := exec.Command(p.Bin, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = p.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = payloadProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", filepath.Base(p.Bin), err)
	}
	if p.started != nil {
		p.started(cmd.Process.Pid)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	out := &outcome{}
	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		out.Canceled = true
		waitErr = p.stop(cmd.Process.Pid, done)
	case <-timeout:
		out.TimedOut = true
		waitErr = p.stop(cmd.Process.Pid, done)
	}

	out.ExitCode, out.Signal = exitInfo(cmd, waitErr)
	switch {
	case out.Canceled:
		out.Status = types.StatusAborted
	case out.TimedOut:
		out.Status = types.StatusFailed
	case out.Signal != 0:
		out.Status = types.StatusAborted
	case out.ExitCode == 0:
		out.Status = types.StatusSuccess
	default:
		out.Status = types.StatusFailed
	}
	return out, nil
}

// stop terminates the payload group and waits for the child to be reaped
func (p *payload) stop(pid int, done <-chan error) error {
	// SIGTERM the whole group so playbook forks see it too
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case <-time.After(p.Grace):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	return <-done
}

func exitInfo(cmd *exec.Cmd, waitErr error) (int, syscall.Signal) {
	if cmd.ProcessState == nil {
		return -1, 0
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal()
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return -1, 0
	}
	return cmd.ProcessState.ExitCode(), 0
}
