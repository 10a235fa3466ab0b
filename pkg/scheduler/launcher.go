package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// LaunchPending launches queued tasks until none is left or a queuer
// reports no capacity. It returns the number of tasks launched.
func (s *Scheduler) LaunchPending(ctx context.Context) (int, error) {
	launched := 0
	for {
		task, err := s.LaunchOne(ctx)
		if err != nil {
			if errors.Is(err, types.ErrWorkerUnavailable) {
				logger := log.WithLoop(LoopLauncher)
				logger.Warn().Err(err).Msg("No worker available, retrying next tick")
				return launched, nil
			}
			return launched, err
		}
		if task == nil {
			return launched, nil
		}
		launched++
	}
}

// LaunchOne claims the oldest queued task, hands it to the queuer and
// records the executor. It returns nil when nothing is queued.
func (s *Scheduler) LaunchOne(ctx context.Context) (*types.Task, error) {
	var task *types.Task
	err := s.store.Update(func(tx storage.Tx) error {
		var err error
		task, err = tx.NextQueued(s.claimer, s.opts.ClaimTTL, s.now().UTC())
		return err
	})
	if err != nil || task == nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Join(err, s.releaseClaim(task.ID))
	}

	logger := log.WithTaskID(task.ID)
	info, err := s.queuer.Queue(ctx, task)
	if err != nil {
		reason := "queue_error"
		if errors.Is(err, types.ErrWorkerUnavailable) {
			reason = "worker_unavailable"
		}
		metrics.LaunchFailures.WithLabelValues(reason).Inc()
		logger.Warn().Err(err).Str("queuer", s.queuer.Name()).Msg("Failed to queue task")
		return nil, errors.Join(err, s.releaseClaim(task.ID))
	}

	var skipped bool
	id := task.ID
	err = s.store.Update(func(tx storage.Tx) error {
		current, err := tx.GetTask(id)
		if err != nil {
			return err
		}
		// Cancelled while the queuer was busy
		if current.Status.IsTerminal() {
			skipped = true
			return nil
		}

		patch := storage.TaskPatch{Executor: info}
		if info.PID > 0 && current.PID == 0 {
			patch.PID = storage.IntPtr(info.PID)
		}
		// The runner may already have moved the task on
		if current.Status == types.StatusCreated {
			patch.Status = storage.StatusPtr(types.StatusScheduled)
		}
		task, err = tx.UpdateTask(id, patch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record executor of task %d: %w", id, err)
	}
	if skipped {
		logger.Info().Msg("Task finished before launch completed")
		return task, nil
	}

	metrics.TasksLaunched.Inc()
	logger.Info().
		Str("queuer", s.queuer.Name()).
		Str("executor", string(info.Kind)).
		Str("hostname", info.Hostname).
		Int("pid", info.PID).
		Str("run_id", info.RunID).
		Msg("Task launched")
	events.Emit(s.events, &events.Event{
		Type:     events.EventTaskLaunched,
		TaskID:   task.ID,
		Status:   string(task.Status),
		Message:  info.Hostname,
		Metadata: map[string]string{"executor": string(info.Kind), "run_id": info.RunID},
	})
	return task, nil
}

func (s *Scheduler) releaseClaim(taskID int64) error {
	return s.store.Update(func(tx storage.Tx) error {
		return tx.ReleaseClaim(taskID, s.claimer)
	})
}
