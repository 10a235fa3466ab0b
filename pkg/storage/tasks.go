package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arenadata/adcm/pkg/types"
)

// CreateTask inserts a new task in status created and assigns its id
func (t *boltTx) CreateTask(task *types.Task) error {
	b := t.tx.Bucket(bucketTasks)
	id, err := nextID(b)
	if err != nil {
		return err
	}
	task.ID = id
	if task.Status == "" {
		task.Status = types.StatusCreated
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	return putJSON(b, itob(task.ID), task)
}

func (t *boltTx) GetTask(id int64) (*types.Task, error) {
	var task types.Task
	found, err := getJSON(t.tx.Bucket(bucketTasks), itob(id), &task)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFoundf("task %d", id)
	}
	return &task, nil
}

// ListTasks returns tasks in id order, optionally filtered
func (t *boltTx) ListTasks(filter func(*types.Task) bool) ([]*types.Task, error) {
	var tasks []*types.Task
	err := t.tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
		var task types.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return err
		}
		if filter == nil || filter(&task) {
			tasks = append(tasks, &task)
		}
		return nil
	})
	return tasks, err
}

// ListUnfinished returns every task whose status is non-terminal
func (t *boltTx) ListUnfinished() ([]*types.Task, error) {
	return t.ListTasks(func(task *types.Task) bool {
		return !task.Status.IsTerminal()
	})
}

// PutTask writes a task row as-is. Status changes must go through UpdateTask.
func (t *boltTx) PutTask(task *types.Task) error {
	current, err := t.GetTask(task.ID)
	if err != nil {
		return err
	}
	if current.Status != task.Status {
		return fmt.Errorf("task %d: status change %s -> %s must use UpdateTask", task.ID, current.Status, task.Status)
	}
	return putJSON(t.tx.Bucket(bucketTasks), itob(task.ID), task)
}

// UpdateTask applies a patch, validating any status change against the
// shared state machine. start_date is stamped when the task leaves
// created/scheduled, for running or straight to a terminal status;
// finish_date on every terminal transition.
func (t *boltTx) UpdateTask(id int64, patch TaskPatch) (*types.Task, error) {
	task, err := t.GetTask(id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		to := *patch.Status
		if err := types.CheckTransition("task", id, task.Status, to); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		if leavesQueue(task.Status, to) && task.StartDate == nil && patch.StartDate == nil {
			patch.StartDate = &now
		}
		if to.IsTerminal() && patch.FinishDate == nil {
			patch.FinishDate = &now
		}
		task.Status = to
	}
	if patch.PID != nil {
		task.PID = *patch.PID
	}
	if patch.StartDate != nil {
		task.StartDate = patch.StartDate
	}
	if patch.FinishDate != nil {
		task.FinishDate = patch.FinishDate
	}
	if patch.Executor != nil {
		task.Executor = patch.Executor
	}
	if patch.AbortRequested != nil {
		task.AbortRequested = *patch.AbortRequested
	}
	if patch.BrokenReason != nil {
		task.BrokenReason = *patch.BrokenReason
	}
	if task.Status != types.StatusCreated {
		task.ClaimedBy = ""
		task.ClaimedAt = nil
	}

	if err := putJSON(t.tx.Bucket(bucketTasks), itob(id), task); err != nil {
		return nil, err
	}
	return task, nil
}

// leavesQueue reports whether from -> to takes a task out of
// created/scheduled. locked parks a task in the queue.
func leavesQueue(from, to types.Status) bool {
	switch from {
	case types.StatusCreated, types.StatusScheduled, types.StatusLocked:
	default:
		return false
	}
	return to == types.StatusRunning || to.IsTerminal()
}

// NextQueued claims the lowest-id created task that is not claimed, or whose
// claim is older than ttl. The claim is committed with the transaction, so two
// launchers never receive the same row.
func (t *boltTx) NextQueued(claimer string, ttl time.Duration, now time.Time) (*types.Task, error) {
	b := t.tx.Bucket(bucketTasks)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var task types.Task
		if err := json.Unmarshal(v, &task); err != nil {
			return nil, err
		}
		if task.Status != types.StatusCreated || task.Executor != nil {
			continue
		}
		if task.ClaimedBy != "" && task.ClaimedBy != claimer && task.ClaimedAt != nil && now.Sub(*task.ClaimedAt) < ttl {
			continue
		}
		task.ClaimedBy = claimer
		claimedAt := now
		task.ClaimedAt = &claimedAt
		if err := putJSON(b, k, &task); err != nil {
			return nil, err
		}
		return &task, nil
	}
	return nil, nil
}

// ReleaseClaim drops a launcher's claim so the task is picked up again
func (t *boltTx) ReleaseClaim(id int64, claimer string) error {
	task, err := t.GetTask(id)
	if err != nil {
		return err
	}
	if task.ClaimedBy != claimer {
		return nil
	}
	task.ClaimedBy = ""
	task.ClaimedAt = nil
	return putJSON(t.tx.Bucket(bucketTasks), itob(id), task)
}

// Job operations

// AppendJob inserts a job for its task at the given order
func (t *boltTx) AppendJob(job *types.Job) error {
	if _, err := t.GetTask(job.TaskID); err != nil {
		return err
	}
	idx := t.tx.Bucket(bucketTaskJobs)
	key := append(itob(job.TaskID), itob(int64(job.Order))...)
	if idx.Get(key) != nil {
		return fmt.Errorf("task %d already has a job at order %d", job.TaskID, job.Order)
	}

	b := t.tx.Bucket(bucketJobs)
	id, err := nextID(b)
	if err != nil {
		return err
	}
	job.ID = id
	if job.Status == "" {
		job.Status = types.StatusCreated
	}
	if err := putJSON(b, itob(job.ID), job); err != nil {
		return err
	}
	return idx.Put(key, itob(job.ID))
}

func (t *boltTx) GetJob(id int64) (*types.Job, error) {
	var job types.Job
	found, err := getJSON(t.tx.Bucket(bucketJobs), itob(id), &job)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NotFoundf("job %d", id)
	}
	return &job, nil
}

// ListJobs returns a task's jobs in order
func (t *boltTx) ListJobs(taskID int64) ([]*types.Job, error) {
	prefix := itob(taskID)
	c := t.tx.Bucket(bucketTaskJobs).Cursor()

	var jobs []*types.Job
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		job, err := t.GetJob(btoi(v))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// UpdateJob applies a patch to a job. At most one job of a task may be running.
func (t *boltTx) UpdateJob(id int64, patch JobPatch) (*types.Job, error) {
	job, err := t.GetJob(id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		to := *patch.Status
		if err := types.CheckTransition("job", id, job.Status, to); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		if to == types.StatusRunning && job.Status != types.StatusRunning {
			siblings, err := t.ListJobs(job.TaskID)
			if err != nil {
				return nil, err
			}
			for _, other := range siblings {
				if other.ID != job.ID && other.Status == types.StatusRunning {
					return nil, fmt.Errorf("task %d: job %d is already running", job.TaskID, other.ID)
				}
			}
			if job.StartDate == nil && patch.StartDate == nil {
				patch.StartDate = &now
			}
		}
		if to.IsTerminal() && patch.FinishDate == nil {
			patch.FinishDate = &now
		}
		job.Status = to
	}
	if patch.PID != nil {
		job.PID = *patch.PID
	}
	if patch.StartDate != nil {
		job.StartDate = patch.StartDate
	}
	if patch.FinishDate != nil {
		job.FinishDate = patch.FinishDate
	}

	if err := putJSON(t.tx.Bucket(bucketJobs), itob(id), job); err != nil {
		return nil, err
	}
	return job, nil
}

// Log artifact operations

func (t *boltTx) CreateLog(l *types.LogArtifact) error {
	if _, err := t.GetJob(l.JobID); err != nil {
		return err
	}
	existing, err := t.ListLogs(l.JobID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Name == l.Name && e.Type == l.Type && e.Format == l.Format {
			l.ID = e.ID
			return nil
		}
	}

	b := t.tx.Bucket(bucketLogs)
	id, err := nextID(b)
	if err != nil {
		return err
	}
	l.ID = id
	return putJSON(b, append(itob(l.JobID), itob(l.ID)...), l)
}

func (t *boltTx) ListLogs(jobID int64) ([]*types.LogArtifact, error) {
	prefix := itob(jobID)
	c := t.tx.Bucket(bucketLogs).Cursor()

	var logs []*types.LogArtifact
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var l types.LogArtifact
		if err := json.Unmarshal(v, &l); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, nil
}
