// Package lifecycle moves tasks into terminal statuses and cancels them.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/arenadata/adcm/pkg/concern"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// Finalize moves a task to a terminal status inside tx. It settles every
// unfinished job, applies the action's outcome effects, commits a
// host-component override on success and releases the task's lock.
//
// Finalizing a task that is already terminal changes nothing and returns
// changed=false, so concurrent finalizers (runner, monitor, worker agent)
// converge on the first one to commit.
func Finalize(tx storage.Tx, taskID int64, status types.Status, reason string) (task *types.Task, changed bool, err error) {
	if !status.IsTerminal() {
		return nil, false, fmt.Errorf("finalize task %d: %s is not a terminal status", taskID, status)
	}

	task, err = tx.GetTask(taskID)
	if err != nil {
		return nil, false, err
	}
	if task.Status.IsTerminal() {
		// Terminal rows must not hold a lock
		if err := concern.ReleaseTaskLock(tx, task); err != nil {
			return nil, false, err
		}
		return task, false, nil
	}

	// Nothing ran yet, so an abort can only revoke
	if status == types.StatusAborted && (task.Status == types.StatusCreated || task.Status == types.StatusLocked) {
		status = types.StatusRevoked
	}

	if err := settleJobs(tx, task.ID, status); err != nil {
		return nil, false, err
	}

	action, err := tx.GetAction(task.ActionID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, false, err
	}
	if action != nil {
		if err := applyOutcome(tx, task, action, status); err != nil {
			return nil, false, err
		}
	}

	patch := storage.TaskPatch{Status: storage.StatusPtr(status)}
	if reason != "" {
		patch.BrokenReason = storage.StringPtr(reason)
	}
	task, err = tx.UpdateTask(task.ID, patch)
	if err != nil {
		return nil, false, err
	}

	if err := concern.ReleaseTaskLock(tx, task); err != nil {
		return nil, false, err
	}
	return task, true, nil
}

// settleJobs revokes jobs that never started and ends the running one with
// the task's outcome
func settleJobs(tx storage.Tx, taskID int64, status types.Status) error {
	jobs, err := tx.ListJobs(taskID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		var to types.Status
		switch {
		case job.Status.IsTerminal():
			continue
		case job.Status == types.StatusCreated || job.Status == types.StatusLocked:
			to = types.StatusRevoked
		case status == types.StatusSuccess || status == types.StatusRevoked:
			// A task cannot succeed or be revoked with a job in flight
			to = types.StatusBroken
		default:
			to = status
		}
		if _, err := tx.UpdateJob(job.ID, storage.JobPatch{Status: storage.StatusPtr(to)}); err != nil {
			return err
		}
	}
	return nil
}

func applyOutcome(tx storage.Tx, task *types.Task, action *types.Action, status types.Status) error {
	switch status {
	case types.StatusSuccess:
		if err := applyEffects(tx, task.Target, action.OnSuccess); err != nil {
			return err
		}
		return commitHostComponent(tx, task)
	case types.StatusFailed:
		return applyEffects(tx, task.Target, action.OnFail)
	}
	return nil
}

// ApplyJobFailHooks applies a failed job's state and multi-state hooks to the task target
func ApplyJobFailHooks(tx storage.Tx, task *types.Task, job *types.Job) error {
	return applyEffects(tx, task.Target, job.OnFail)
}

func applyEffects(tx storage.Tx, target types.EntityRef, effects types.StateEffects) error {
	if effects.IsZero() {
		return nil
	}
	e, err := tx.GetEntity(target)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	effects.Apply(e)
	return tx.PutEntity(e)
}

// commitHostComponent writes an accepted mapping override to the target's cluster
func commitHostComponent(tx storage.Tx, task *types.Task) error {
	if task.HostComponentOverride == nil {
		return nil
	}
	clusterID, err := ClusterOf(tx, task.Target)
	if err != nil {
		return err
	}
	if clusterID == 0 {
		return nil
	}
	return tx.SetHostComponents(clusterID, task.HostComponentOverride)
}

// ClusterOf returns the cluster an entity belongs to, or 0
func ClusterOf(tx storage.Tx, ref types.EntityRef) (int64, error) {
	if ref.Kind == types.EntityCluster {
		return ref.ID, nil
	}
	e, err := tx.GetEntity(ref)
	if err != nil {
		return 0, err
	}
	if ref.Kind == types.EntityHostGroup && e.Owner != nil {
		return ClusterOf(tx, *e.Owner)
	}
	return e.ClusterID, nil
}
