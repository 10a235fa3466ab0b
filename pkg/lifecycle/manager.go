package lifecycle

import (
	"context"
	"time"

	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/rs/zerolog"
)

// Reason codes recorded when a task is marked broken
const (
	ReasonExecutorDead    = "executor_dead"
	ReasonWorkerStale     = "worker_stale"
	ReasonUnknownExecutor = "unknown_executor"
	ReasonNoLock          = "no_lock"
	ReasonRunnerError     = "runner_error"
	ReasonWorkerLost      = "worker_lost"
)

// Manager finalizes and cancels tasks, recording metrics and events for
// every transition it commits
type Manager struct {
	store    storage.Store
	events   events.Publisher
	hostname string
	grace    time.Duration
	logger   zerolog.Logger
}

// NewManager creates a lifecycle manager. hostname identifies the local
// host when deciding whether a recorded pid can be signalled from here.
func NewManager(store storage.Store, publisher events.Publisher, hostname string, grace time.Duration) *Manager {
	return &Manager{
		store:    store,
		events:   publisher,
		hostname: hostname,
		grace:    grace,
		logger:   log.WithComponent("lifecycle"),
	}
}

// Finish moves a task to a terminal status. It is a no-op on a task that
// is already terminal. Payloads of the task still running on this host are
// killed before the lock is released.
func (m *Manager) Finish(taskID int64, status types.Status) (*types.Task, error) {
	return m.finish(taskID, status, "", "")
}

// Broken marks a task broken with a reason code and a human-readable detail
func (m *Manager) Broken(taskID int64, code, detail string) (*types.Task, error) {
	return m.finish(taskID, types.StatusBroken, code, detail)
}

func (m *Manager) finish(taskID int64, status types.Status, code, detail string) (*types.Task, error) {
	reason := detail
	if reason == "" {
		reason = code
	}

	m.killPayloads(taskID)

	var (
		task    *types.Task
		changed bool
	)
	err := m.store.Update(func(tx storage.Tx) error {
		var err error
		task, changed, err = Finalize(tx, taskID, status, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return task, nil
	}

	metrics.TasksFinished.WithLabelValues(string(status)).Inc()
	logger := log.WithTaskID(taskID)
	if status == types.StatusBroken {
		metrics.TasksBroken.WithLabelValues(code).Inc()
		logger.Warn().Str("reason", reason).Msg("Task marked broken")
		events.Emit(m.events, events.NewTaskEvent(events.EventTaskBroken, taskID, string(status), reason))
	} else {
		logger.Info().Str("status", string(status)).Msg("Task finished")
		events.Emit(m.events, events.NewTaskEvent(events.EventTaskFinished, taskID, string(status), ""))
	}
	if task.LockID != 0 {
		events.Emit(m.events, events.NewTaskEvent(events.EventLockReleased, taskID, string(status), ""))
	}
	return task, nil
}

// CancelResult describes what a cancel request did
type CancelResult struct {
	Task *types.Task
	// Revoked is set when the task had not been launched yet
	Revoked bool
	// Signalled is set when a local runner process received SIGTERM
	Signalled bool
	// Killed is set when the runner outlived the grace window
	Killed bool
	// Remote is set when the runner lives on another host; its worker
	// agent acts on abort_requested
	Remote bool
}

// Cancel stops a task. A task that has not been launched is revoked and
// its lock released. A launched task gets abort_requested; a runner on this
// host is sent SIGTERM and, after the grace window, SIGKILL.
func (m *Manager) Cancel(ctx context.Context, taskID int64) (*CancelResult, error) {
	res := &CancelResult{}
	var task *types.Task

	err := m.store.Update(func(tx storage.Tx) error {
		var err error
		task, err = tx.GetTask(taskID)
		if err != nil {
			return err
		}
		switch task.Status {
		case types.StatusCreated, types.StatusLocked:
			res.Revoked = true
			return nil
		case types.StatusScheduled, types.StatusRunning:
			task, err = tx.UpdateTask(taskID, storage.TaskPatch{AbortRequested: storage.BoolPtr(true)})
			return err
		default:
			return &types.TransitionError{Entity: "task", ID: taskID, From: task.Status, To: types.StatusAborted}
		}
	})
	if err != nil {
		return nil, err
	}

	logger := log.WithTaskID(taskID)
	if res.Revoked {
		task, err = m.Finish(taskID, types.StatusRevoked)
		if err != nil {
			return nil, err
		}
		res.Task = task
		logger.Info().Msg("Task revoked before launch")
		return res, nil
	}

	events.Emit(m.events, events.NewTaskEvent(events.EventTaskCancel, taskID, string(task.Status), ""))
	res.Task = task

	if !m.isLocal(task) {
		res.Remote = true
		logger.Info().Msg("Abort requested for remote task")
		return res, nil
	}
	if task.PID <= 0 {
		// The runner checks abort_requested before its first job
		logger.Info().Msg("Abort requested before runner start")
		return res, nil
	}

	tr, err := Terminate(ctx, task.PID, m.grace)
	if err != nil {
		return res, err
	}
	res.Signalled = !tr.AlreadyGone
	res.Killed = tr.Killed
	if tr.Killed {
		logger.Warn().Int("pid", task.PID).Dur("grace", m.grace).Msg("Runner ignored SIGTERM, killed")
	}

	// A runner that exited on SIGTERM has already finalized the task
	task, err = m.Finish(taskID, types.StatusAborted)
	if err != nil {
		return res, err
	}
	res.Task = task
	return res, nil
}

// isLocal reports whether the task's runner, if any, was spawned by this
// host's local queuer
func (m *Manager) isLocal(task *types.Task) bool {
	if task.Executor != nil && task.Executor.Kind == types.ExecutorWorker {
		return false
	}
	return m.onThisHost(task)
}

// onThisHost reports whether the task's processes run on this host,
// whichever queuer placed them
func (m *Manager) onThisHost(task *types.Task) bool {
	return task.Executor == nil || task.Executor.Hostname == "" || task.Executor.Hostname == m.hostname
}

// killPayloads sends SIGKILL to the process group of every job of an
// unfinished local task that is still marked running. A payload must not
// outlive the lock its task is about to release.
func (m *Manager) killPayloads(taskID int64) {
	var (
		task *types.Task
		jobs []*types.Job
	)
	err := m.store.View(func(tx storage.Tx) error {
		var err error
		if task, err = tx.GetTask(taskID); err != nil {
			return err
		}
		jobs, err = tx.ListJobs(taskID)
		return err
	})
	if err != nil || task.Status.IsTerminal() || !m.onThisHost(task) {
		return
	}

	logger := log.WithTaskID(taskID)
	for _, job := range jobs {
		if job.Status != types.StatusRunning || job.PID <= 0 {
			continue
		}
		if err := KillGroup(job.PID); err != nil {
			logger.Error().Err(err).Int64("job_id", job.ID).Int("pid", job.PID).Msg("Failed to kill payload")
			continue
		}
		logger.Debug().Int64("job_id", job.ID).Int("pid", job.PID).Msg("Payload group killed")
	}
}
