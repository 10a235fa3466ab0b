package scheduler

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Command builds the child process running one loop
type Command func(loop string) *exec.Cmd

// SupervisorOptions configures the supervisor
type SupervisorOptions struct {
	Command Command
	// RestartBackoff is the first wait before restarting an exited loop;
	// it doubles on every consecutive restart up to maxBackoff
	RestartBackoff time.Duration
	// Grace is how long children get to exit after SIGTERM on shutdown
	Grace time.Duration
	// OnStatus is told when a loop starts serving or stops
	OnStatus func(loop string, serving bool)
}

// Supervisor runs every loop in its own child process. The recoverer runs
// to completion first; launcher and monitor are restarted whenever they
// exit until the supervisor is stopped.
type Supervisor struct {
	opts SupervisorOptions
}

// NewSupervisor creates a supervisor
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = 2 * time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = 10 * time.Second
	}
	if opts.OnStatus == nil {
		opts.OnStatus = func(string, bool) {}
	}
	return &Supervisor{opts: opts}
}

// Run blocks until ctx is cancelled and every child has exited
func (s *Supervisor) Run(ctx context.Context) error {
	logger := log.WithComponent("supervisor")

	if err := s.runChild(ctx, LoopRecoverer); err != nil {
		metrics.LoopErrors.WithLabelValues(LoopRecoverer).Inc()
		logger.Error().Err(err).Msg("Recoverer failed")
	}
	if ctx.Err() != nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range []string{LoopLauncher, LoopMonitor} {
		g.Go(func() error {
			s.supervise(gctx, loop)
			return nil
		})
	}
	err := g.Wait()
	logger.Info().Msg("All loops stopped")
	return err
}

// supervise keeps one loop running until ctx is cancelled
func (s *Supervisor) supervise(ctx context.Context, loop string) {
	logger := log.WithLoop(loop)
	backoff := s.opts.RestartBackoff

	for {
		started := time.Now()
		err := s.runChild(ctx, loop)
		if ctx.Err() != nil {
			return
		}

		// A loop that ran for a while starts over with the shortest backoff
		if time.Since(started) > maxBackoff {
			backoff = s.opts.RestartBackoff
		}
		metrics.LoopRestarts.WithLabelValues(loop).Inc()
		logger.Warn().Err(err).Dur("backoff", backoff).Msg("Loop exited, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runChild starts the loop's process and waits for it. On cancellation the
// child gets SIGTERM and, after the grace window, SIGKILL.
func (s *Supervisor) runChild(ctx context.Context, loop string) error {
	cmd := s.opts.Command(loop)
	cmd.SysProcAttr = childProcAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", loop, err)
	}

	logger := log.WithLoop(loop)
	logger.Info().Int("pid", cmd.Process.Pid).Msg("Loop process started")
	s.opts.OnStatus(loop, true)
	defer s.opts.OnStatus(loop, false)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s exited: %w", loop, err)
		}
		return nil
	case <-ctx.Done():
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case <-time.After(s.opts.Grace):
		logger.Warn().Dur("grace", s.opts.Grace).Msg("Loop process ignored SIGTERM, killing")
		_ = cmd.Process.Kill()
		return <-done
	}
}
