package queuer

import (
	"context"
	"fmt"
	"time"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/google/uuid"
)

// Worker hands tasks to distributed worker agents through the work queue
type Worker struct {
	store storage.Store
	stale time.Duration
	now   func() time.Time
}

// NewWorker creates a distributed worker queuer. Agents whose heartbeat is
// older than stale are not considered.
func NewWorker(store storage.Store, stale time.Duration) *Worker {
	return &Worker{store: store, stale: stale, now: time.Now}
}

// Name returns the queuer name
func (q *Worker) Name() string {
	return "worker"
}

// Queue enqueues the task for the live worker with the fewest assigned tasks
func (q *Worker) Queue(ctx context.Context, task *types.Task) (*types.WorkerInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info *types.WorkerInfo
	err := q.store.Update(func(tx storage.Tx) error {
		workers, err := q.liveWorkers(tx)
		if err != nil {
			return err
		}
		if len(workers) == 0 {
			return fmt.Errorf("no live workers: %w", types.ErrWorkerUnavailable)
		}

		load, err := workerLoad(tx)
		if err != nil {
			return err
		}
		hb := selectWorker(workers, load)

		item := &types.WorkItem{
			TaskID:     task.ID,
			Hostname:   hb.Hostname,
			RunID:      uuid.New().String(),
			EnqueuedAt: q.now().UTC(),
		}
		if err := tx.EnqueueWork(item); err != nil {
			return err
		}
		info = &types.WorkerInfo{
			Kind:     types.ExecutorWorker,
			Hostname: hb.Hostname,
			WorkerID: hb.WorkerID,
			RunID:    item.RunID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (q *Worker) liveWorkers(tx storage.Tx) ([]*types.Heartbeat, error) {
	all, err := tx.ListHeartbeats()
	if err != nil {
		return nil, err
	}
	now := q.now()
	var live []*types.Heartbeat
	for _, hb := range all {
		if now.Sub(hb.Timestamp) <= q.stale {
			live = append(live, hb)
		}
	}
	return live, nil
}

// workerLoad counts queued work items and unfinished tasks per worker host
func workerLoad(tx storage.Tx) (map[string]int, error) {
	load := make(map[string]int)
	items, err := tx.ListWork()
	if err != nil {
		return nil, err
	}
	queued := make(map[int64]bool, len(items))
	for _, item := range items {
		load[item.Hostname]++
		queued[item.TaskID] = true
	}

	tasks, err := tx.ListUnfinished()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Executor != nil && t.Executor.Kind == types.ExecutorWorker && !queued[t.ID] {
			load[t.Executor.Hostname]++
		}
	}
	return load, nil
}

// selectWorker picks the worker with the fewest tasks; ties go to the
// earliest in hostname order
func selectWorker(workers []*types.Heartbeat, load map[string]int) *types.Heartbeat {
	var selected *types.Heartbeat
	minTasks := int(^uint(0) >> 1)

	for _, hb := range workers {
		count := load[hb.Hostname]
		if count < minTasks {
			minTasks = count
			selected = hb
		}
	}
	return selected
}
