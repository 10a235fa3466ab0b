package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/arenadata/adcm/pkg/concern"
	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Repair actions
const (
	RepairBroken      = "broken"
	RepairAborted     = "aborted"
	RepairOrphanLock  = "release_orphan_lock"
	RepairDroppedWork = "drop_work_item"
)

// Repair is one fix made by the recoverer
type Repair struct {
	TaskID    int64  `json:"task_id,omitempty"`
	ConcernID int64  `json:"concern_id,omitempty"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
}

// Report lists the repairs of one recovery pass
type Report struct {
	Repairs []Repair `json:"repairs"`
}

func (r *Report) add(rep Repair) {
	r.Repairs = append(r.Repairs, rep)
}

// Log writes one record per repair
func (r *Report) Log(logger zerolog.Logger) {
	for _, rep := range r.Repairs {
		logger.Warn().
			Int64("task_id", rep.TaskID).
			Int64("concern_id", rep.ConcernID).
			Str("action", rep.Action).
			Str("reason", rep.Reason).
			Msg("Recovered")
	}
	logger.Info().Int("repairs", len(r.Repairs)).Msg("Recovery pass complete")
}

// Recover converges state left behind by crashed runners and schedulers:
// unfinished tasks without a live executor or without their lock are
// finalized, locks without an unfinished owner are released and work items
// for finished tasks are dropped.
func (s *Scheduler) Recover(ctx context.Context) (*Report, error) {
	report := &Report{}
	var errs []error

	if err := s.recoverTasks(ctx, report); err != nil {
		errs = append(errs, err)
	}
	if err := s.releaseOrphanLocks(report); err != nil {
		errs = append(errs, err)
	}
	if err := s.dropStaleWork(report); err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

func (s *Scheduler) recoverTasks(ctx context.Context, report *Report) error {
	type pending struct {
		task   *types.Task
		code   string
		detail string
	}
	var (
		todo     []pending
		launched []*types.Task
	)
	err := s.store.View(func(tx storage.Tx) error {
		tasks, err := tx.ListUnfinished()
		if err != nil {
			return err
		}
		for _, task := range tasks {
			switch task.Status {
			case types.StatusCreated, types.StatusLocked:
				held, err := concern.HasLock(tx, task)
				if err != nil {
					return err
				}
				if !held {
					todo = append(todo, pending{task, lifecycle.ReasonNoLock, "queued task lost its lock"})
				}
			case types.StatusScheduled, types.StatusRunning:
				launched = append(launched, task)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list unfinished tasks: %w", err)
	}

	for _, task := range launched {
		state, code, detail := s.probe(ctx, task)
		switch state {
		case executorGone:
			todo = append(todo, pending{task, code, detail})
		case executorPending:
			if task.Executor == nil || task.Executor.Kind == types.ExecutorLocal {
				todo = append(todo, pending{task, lifecycle.ReasonExecutorDead, "no runner pid recorded"})
			}
		}
	}

	var errs []error
	for _, p := range todo {
		done, err := s.finalizeGone(p.task, p.code, p.detail)
		if err != nil {
			errs = append(errs, fmt.Errorf("finalize task %d: %w", p.task.ID, err))
			continue
		}
		action := RepairBroken
		if done.Status == types.StatusAborted {
			action = RepairAborted
		}
		report.add(Repair{TaskID: p.task.ID, Action: action, Reason: p.code + ": " + p.detail})
	}
	return errors.Join(errs...)
}

// releaseOrphanLocks removes lock concerns whose owning task is missing or
// finished
func (s *Scheduler) releaseOrphanLocks(report *Report) error {
	var released []*types.Concern
	err := s.store.Update(func(tx storage.Tx) error {
		locks, err := tx.ListConcerns(types.ConcernLock)
		if err != nil {
			return err
		}
		for _, c := range locks {
			orphan := c.TaskID == 0
			if !orphan {
				task, err := tx.GetTask(c.TaskID)
				switch {
				case errors.Is(err, types.ErrNotFound):
					orphan = true
				case err != nil:
					return err
				default:
					orphan = task.Status.IsTerminal() || task.LockID != c.ID
				}
			}
			if !orphan {
				continue
			}
			if err := concern.Release(tx, c.ID); err != nil {
				return err
			}
			released = append(released, c)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("release orphan locks: %w", err)
	}

	for _, c := range released {
		metrics.OrphanLocksReleased.Inc()
		report.add(Repair{TaskID: c.TaskID, ConcernID: c.ID, Action: RepairOrphanLock, Reason: "lock has no unfinished owner"})
		events.Emit(s.events, &events.Event{
			Type:     events.EventOrphanLock,
			TaskID:   c.TaskID,
			Message:  fmt.Sprintf("%s %d", c.Owner.Kind, c.Owner.ID),
			Metadata: map[string]string{"concern_id": fmt.Sprint(c.ID)},
		})
	}
	return nil
}

// dropStaleWork deletes work items of missing or finished tasks
func (s *Scheduler) dropStaleWork(report *Report) error {
	return s.store.Update(func(tx storage.Tx) error {
		items, err := tx.ListWork()
		if err != nil {
			return err
		}
		for _, item := range items {
			task, err := tx.GetTask(item.TaskID)
			if err != nil && !errors.Is(err, types.ErrNotFound) {
				return err
			}
			if task != nil && !task.Status.IsTerminal() {
				continue
			}
			if err := tx.DeleteWork(item.TaskID); err != nil {
				return err
			}
			report.add(Repair{TaskID: item.TaskID, Action: RepairDroppedWork, Reason: "task is finished or missing"})
		}
		return nil
	})
}
