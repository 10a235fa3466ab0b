package scheduler

import (
	"context"
	"fmt"

	"github.com/arenadata/adcm/pkg/health"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// executorState is the outcome of probing a launched task's runner
type executorState int

const (
	executorAlive executorState = iota
	// executorForeign runs on another scheduler host which watches it
	executorForeign
	// executorPending has no runner pid recorded yet
	executorPending
	executorGone
)

// probe checks whether the runner of a scheduled or running task is alive.
// For a gone executor it returns the broken reason code and detail.
func (s *Scheduler) probe(ctx context.Context, task *types.Task) (executorState, string, string) {
	exec := task.Executor
	if exec == nil {
		exec = &types.WorkerInfo{Kind: types.ExecutorLocal}
	}

	switch exec.Kind {
	case types.ExecutorLocal:
		if exec.Hostname != "" && exec.Hostname != s.opts.Hostname {
			return executorForeign, "", ""
		}
		pid := task.PID
		if pid <= 0 {
			pid = exec.PID
		}
		if pid <= 0 {
			return executorPending, "", ""
		}
		res := health.NewPIDChecker(pid).Check(ctx)
		if !res.Healthy {
			return executorGone, lifecycle.ReasonExecutorDead, res.Message
		}
		return executorAlive, "", ""

	case types.ExecutorWorker:
		res := health.NewHeartbeatChecker(s.store, exec.Hostname, s.opts.HeartbeatStale).
			WithWorkerID(exec.WorkerID).
			Check(ctx)
		if !res.Healthy {
			return executorGone, lifecycle.ReasonWorkerStale, res.Message
		}
		return executorAlive, "", ""
	}
	return executorGone, lifecycle.ReasonUnknownExecutor, fmt.Sprintf("unknown executor kind %q", exec.Kind)
}

// finalizeGone finishes a task whose runner is gone. A requested abort
// becomes aborted, anything else broken.
func (s *Scheduler) finalizeGone(task *types.Task, code, detail string) (*types.Task, error) {
	if task.AbortRequested {
		return s.manager.Finish(task.ID, types.StatusAborted)
	}
	return s.manager.Broken(task.ID, code, detail)
}

// MonitorOnce checks every launched task once and finalizes those whose
// runner is gone. It returns the tasks it finalized.
func (s *Scheduler) MonitorOnce(ctx context.Context) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.store.View(func(tx storage.Tx) error {
		var err error
		tasks, err = tx.ListUnfinished()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list unfinished tasks: %w", err)
	}

	var finalized []*types.Task
	for _, task := range tasks {
		if ctx.Err() != nil {
			return finalized, nil
		}
		if !task.Status.IsActive() {
			continue
		}

		state, code, detail := s.probe(ctx, task)
		if state != executorGone {
			continue
		}

		logger := log.WithTaskID(task.ID)
		logger.Warn().Str("reason", code).Str("detail", detail).Msg("Runner is gone")
		done, err := s.finalizeGone(task, code, detail)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to finalize task")
			continue
		}
		finalized = append(finalized, done)
	}
	return finalized, nil
}
