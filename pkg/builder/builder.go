package builder

import (
	"encoding/json"
	"fmt"

	"github.com/arenadata/adcm/pkg/concern"
	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Request asks for one run of an action against a target entity
type Request struct {
	ActionID      int64                 `json:"action_id"`
	Target        types.EntityRef       `json:"target"`
	Config        json.RawMessage       `json:"config,omitempty"`
	Attr          json.RawMessage       `json:"attr,omitempty"`
	HostComponent []types.HostComponent `json:"hostcomponent,omitempty"`
	Verbose       bool                  `json:"verbose,omitempty"`
}

// Result is returned for a successfully built task
type Result struct {
	TaskID int64        `json:"task_id"`
	Status types.Status `json:"status"`
	LockID int64        `json:"lock_id"`
	Jobs   int          `json:"jobs"`
}

// Builder materializes tasks from action requests. Every task it returns
// holds its lock and has its whole job plan written.
type Builder struct {
	store      storage.Store
	events     events.Publisher
	validator  *ConfigValidator
	generators *Registry
	logger     zerolog.Logger
}

// New creates a task builder with the built-in generators
func New(store storage.Store, publisher events.Publisher) *Builder {
	return &Builder{
		store:      store,
		events:     publisher,
		validator:  NewConfigValidator(),
		generators: NewRegistry(),
		logger:     log.WithComponent("builder"),
	}
}

// Generators returns the builder's generator registry
func (b *Builder) Generators() *Registry {
	return b.generators
}

// Build validates the request and commits the task, its lock and its jobs
// in a single transaction. On any error nothing is written.
func (b *Builder) Build(req Request) (*Result, error) {
	var task *types.Task
	var jobs []*types.Job

	err := b.store.Update(func(tx storage.Tx) error {
		action, err := tx.GetAction(req.ActionID)
		if err != nil {
			return err
		}
		target, err := tx.GetEntity(req.Target)
		if err != nil {
			return err
		}

		if err := checkAvailable(tx, action, target); err != nil {
			return err
		}
		if err := b.validator.Validate(action, req.Config); err != nil {
			return err
		}
		if req.HostComponent != nil {
			if err := checkHostComponent(tx, action, req.Target, req.HostComponent); err != nil {
				return err
			}
		}

		task = &types.Task{
			ActionID:              action.ID,
			Target:                req.Target,
			Verbose:               req.Verbose,
			Config:                req.Config,
			Attr:                  req.Attr,
			HostComponentOverride: req.HostComponent,
		}
		if task.HostComponent, err = snapshot(tx, req.Target); err != nil {
			return err
		}
		if err := tx.CreateTask(task); err != nil {
			return err
		}

		if _, err := concern.AcquireTaskLock(tx, task, action); err != nil {
			return err
		}
		if err := tx.PutTask(task); err != nil {
			return err
		}

		jobs, err = b.plan(tx, action, target)
		if err != nil {
			return err
		}
		for i, job := range jobs {
			job.TaskID = task.ID
			job.Order = i + 1
			job.Status = types.StatusCreated
			if err := tx.AppendJob(job); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.logger.Debug().Err(err).
			Int64("action_id", req.ActionID).
			Str("target", req.Target.String()).
			Msg("Task build rejected")
		return nil, err
	}

	taskLogger := log.WithTaskID(task.ID)
	taskLogger.Info().
		Int64("action_id", task.ActionID).
		Str("target", task.Target.String()).
		Int64("lock_id", task.LockID).
		Int("jobs", len(jobs)).
		Msg("Task created")
	events.Emit(b.events, events.NewTaskEvent(events.EventTaskCreated, task.ID, string(task.Status), ""))
	events.Emit(b.events, events.NewTaskEvent(events.EventLockAttached, task.ID, string(task.Status), fmt.Sprintf("lock %d", task.LockID)))

	return &Result{TaskID: task.ID, Status: task.Status, LockID: task.LockID, Jobs: len(jobs)}, nil
}

// plan returns the job list for the action, without ids or order
func (b *Builder) plan(tx storage.Tx, action *types.Action, target *types.Entity) ([]*types.Job, error) {
	switch {
	case action.ScriptType == types.ScriptTypeTaskGenerator:
		gen, ok := b.generators.Get(action.Script)
		if !ok {
			return nil, types.Invalidf("action", "%q: unknown task generator %q", action.Name, action.Script)
		}
		jobs, err := gen(tx, action, target)
		if err != nil {
			return nil, err
		}
		if len(jobs) == 0 {
			return nil, types.Invalidf("action", "%q: generator %q produced no jobs", action.Name, action.Script)
		}
		return jobs, nil

	case action.Type == types.ActionTypeTask:
		if len(action.SubActions) == 0 {
			return nil, types.Invalidf("action", "%q has no sub-actions", action.Name)
		}
		jobs := make([]*types.Job, 0, len(action.SubActions))
		for _, sub := range action.SubActions {
			jobs = append(jobs, &types.Job{
				SubActionID: sub.ID,
				Name:        sub.Name,
				Script:      sub.Script,
				OnFail:      sub.OnFailEffects,
			})
		}
		return jobs, nil

	default:
		return []*types.Job{{Name: action.Name, Script: action.Script}}, nil
	}
}

// snapshot captures the mapping of the target's cluster at build time
func snapshot(tx storage.Tx, target types.EntityRef) ([]types.HostComponent, error) {
	clusterID, err := lifecycle.ClusterOf(tx, target)
	if err != nil {
		return nil, err
	}
	if clusterID == 0 {
		return nil, nil
	}
	return tx.GetHostComponents(clusterID)
}
