package worker

import (
	"context"
	"errors"
	"time"

	"github.com/arenadata/adcm/pkg/health"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// RunnerMonitor watches the runners a worker supervises. It terminates a
// runner whose task was asked to abort and breaks a task whose runner
// vanished without being reaped.
type RunnerMonitor struct {
	worker   *Worker
	interval time.Duration
}

// NewRunnerMonitor creates a runner monitor for w
func NewRunnerMonitor(w *Worker) *RunnerMonitor {
	return &RunnerMonitor{worker: w, interval: w.cfg.PollInterval}
}

// Run checks runners every interval until ctx is cancelled
func (rm *RunnerMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.syncRunners(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// syncRunners compares supervised runners with their tasks
func (rm *RunnerMonitor) syncRunners(ctx context.Context) {
	w := rm.worker
	w.runsMu.RLock()
	current := make([]*runnerProcess, 0, len(w.runs))
	for _, rp := range w.runs {
		if !rp.aborting {
			current = append(current, rp)
		}
	}
	w.runsMu.RUnlock()

	for _, rp := range current {
		var task *types.Task
		err := w.store.View(func(tx storage.Tx) error {
			var err error
			task, err = tx.GetTask(rp.taskID)
			return err
		})
		logger := log.WithTaskID(rp.taskID)
		if err != nil {
			if !errors.Is(err, types.ErrNotFound) {
				logger.Error().Err(err).Msg("Failed to read supervised task")
			}
			continue
		}

		switch {
		case task.AbortRequested:
			rm.abort(ctx, rp)
		case !health.NewPIDChecker(rp.pid).Check(ctx).Healthy:
			// Exit is handled by reap once Wait returns
			logger.Debug().Int("pid", rp.pid).Msg("Runner no longer alive")
		}
	}
}

// abort terminates the runner in the background. The task is finalized as
// aborted by the runner itself or by reap.
func (rm *RunnerMonitor) abort(ctx context.Context, rp *runnerProcess) {
	w := rm.worker
	w.runsMu.Lock()
	if rp.aborting {
		w.runsMu.Unlock()
		return
	}
	rp.aborting = true
	w.runsMu.Unlock()

	logger := log.WithTaskID(rp.taskID)
	logger.Info().Int("pid", rp.pid).Msg("Abort requested, terminating runner")

	go func() {
		res, err := lifecycle.Terminate(ctx, rp.pid, w.cfg.Grace)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to terminate runner")
			return
		}
		if res.Killed {
			logger.Warn().Dur("grace", w.cfg.Grace).Msg("Runner ignored SIGTERM, killed")
		}
	}()
}
