package concern

import (
	"errors"
	"fmt"
	"sort"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// LockMessage is the message template of lock concerns created for tasks
const LockMessage = "${target} is locked by task ${task}"

// Attach links concern to every entity. Attaching twice is a no-op. For a
// lock concern, an entity already carrying a lock of another task fails the
// whole call with *types.BusyError before anything is linked.
//
// Callers run Attach inside storage.Store.Update; bbolt admits one writer at
// a time, so check-then-link is a single serialized read-modify-write.
func Attach(tx storage.Tx, c *types.Concern, entities []types.EntityRef) error {
	if c.ID == 0 {
		return fmt.Errorf("concern must be created before it is attached")
	}

	if c.Kind == types.ConcernLock {
		for _, ref := range entities {
			held, err := LockOn(tx, ref)
			if err != nil {
				return err
			}
			if held != nil && held.ID != c.ID {
				return &types.BusyError{Entity: ref, ConcernID: held.ID, TaskID: held.TaskID}
			}
		}
	}

	for _, ref := range entities {
		if err := tx.LinkConcern(ref, c.ID); err != nil {
			return fmt.Errorf("link concern %d to %s: %w", c.ID, ref, err)
		}
	}

	c.Related = mergeRefs(c.Related, entities)
	return tx.PutConcern(c)
}

// Release removes a concern from every entity and deletes it. Releasing an
// unknown concern is a no-op.
func Release(tx storage.Tx, concernID int64) error {
	if concernID == 0 {
		return nil
	}
	if _, err := tx.GetConcern(concernID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	return tx.DeleteConcern(concernID)
}

// LockOn returns the lock concern held on an entity, or nil
func LockOn(tx storage.Tx, ref types.EntityRef) (*types.Concern, error) {
	ids, err := tx.EntityConcerns(ref)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		c, err := tx.GetConcern(id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if c.Kind == types.ConcernLock {
			return c, nil
		}
	}
	return nil, nil
}

// AcquireTaskLock creates the lock concern of a task and attaches it to the
// task's concern set. task.LockID is set on success.
func AcquireTaskLock(tx storage.Tx, task *types.Task, action *types.Action) (*types.Concern, error) {
	set, err := ComputeConcernSet(tx, task.Target, action)
	if err != nil {
		return nil, err
	}

	// Check before creating so a conflict leaves no concern row behind
	for _, ref := range set {
		held, err := LockOn(tx, ref)
		if err != nil {
			return nil, err
		}
		if held != nil && held.TaskID != task.ID {
			return nil, &types.BusyError{Entity: ref, ConcernID: held.ID, TaskID: held.TaskID}
		}
	}

	lock := &types.Concern{
		Kind:            types.ConcernLock,
		Cause:           types.CauseJob,
		MessageTemplate: LockMessage,
		Owner:           task.Target,
		TaskID:          task.ID,
	}
	if err := tx.CreateConcern(lock); err != nil {
		return nil, err
	}
	if err := Attach(tx, lock, set); err != nil {
		return nil, err
	}
	task.LockID = lock.ID
	return lock, nil
}

// ReleaseTaskLock releases the lock held by a task, if any
func ReleaseTaskLock(tx storage.Tx, task *types.Task) error {
	if task.LockID != 0 {
		if err := Release(tx, task.LockID); err != nil {
			return err
		}
	}

	// A lock may still reference the task when the task row lost its LockID
	locks, err := tx.ListConcerns(types.ConcernLock)
	if err != nil {
		return err
	}
	for _, c := range locks {
		if c.TaskID == task.ID {
			if err := tx.DeleteConcern(c.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// HasLock reports whether the task's lock concern still exists
func HasLock(tx storage.Tx, task *types.Task) (bool, error) {
	if task.LockID == 0 {
		return false, nil
	}
	c, err := tx.GetConcern(task.LockID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return c.Kind == types.ConcernLock && c.TaskID == task.ID, nil
}

func mergeRefs(a, b []types.EntityRef) []types.EntityRef {
	seen := make(map[types.EntityRef]bool, len(a)+len(b))
	var out []types.EntityRef
	for _, ref := range append(append([]types.EntityRef(nil), a...), b...) {
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	sortRefs(out)
	return out
}

func kindRank(k types.EntityKind) int {
	for i, known := range types.EntityKinds {
		if k == known {
			return i
		}
	}
	return len(types.EntityKinds)
}

func sortRefs(refs []types.EntityRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return kindRank(refs[i].Kind) < kindRank(refs[j].Kind)
		}
		return refs[i].ID < refs[j].ID
	})
}
