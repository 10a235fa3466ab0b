package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/arenadata/adcm/pkg/concern"
	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/inventory"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// Command selects how the runner picks its first job
type Command string

const (
	// CommandStart runs every job of a freshly launched task
	CommandStart Command = "start"
	// CommandRestart resumes at the first job that has not succeeded
	CommandRestart Command = "restart"
)

// ParseCommand validates a command name
func ParseCommand(s string) (Command, error) {
	switch Command(s) {
	case CommandStart, CommandRestart:
		return Command(s), nil
	}
	return "", fmt.Errorf("unknown command %q: expected start or restart", s)
}

// Log artifact names recorded for every job
var (
	StdoutLog    = types.LogArtifact{Name: "ansible", Type: "stdout", Format: "txt"}
	StderrLog    = types.LogArtifact{Name: "ansible", Type: "stderr", Format: "txt"}
	InventoryLog = types.LogArtifact{Name: "inventory", Type: "data", Format: "json"}
)

// Options configures a runner
type Options struct {
	JobsDir    string
	RunDir     string
	BundleRoot string
	AnsibleBin string
	VenvRoot   string
	Hostname   string

	// Grace is the window the runner itself gets between SIGTERM and
	// SIGKILL. A payload gets half of it, so it is reaped before the
	// runner can be killed.
	Grace time.Duration
	// Env is passed to every payload in addition to the job variables
	Env []string
}

// Runner executes the jobs of one task in order
type Runner struct {
	store   storage.Store
	manager *lifecycle.Manager
	events  events.Publisher
	opts    Options
}

// New creates a task runner
func New(store storage.Store, manager *lifecycle.Manager, publisher events.Publisher, opts Options) *Runner {
	if opts.Grace <= 0 {
		opts.Grace = 10 * time.Second
	}
	if opts.AnsibleBin == "" {
		opts.AnsibleBin = "ansible-playbook"
	}
	return &Runner{
		store:   store,
		manager: manager,
		events:  publisher,
		opts:    opts,
	}
}

// Report summarises a finished run
type Report struct {
	TaskID   int64
	Status   types.Status
	Jobs     int
	Failed   int
	Canceled bool
}

// Run executes the task and moves it to a terminal status. Cancelling ctx
// aborts the running job and finalizes the task as aborted.
func (r *Runner) Run(ctx context.Context, taskID int64, command Command) (*Report, error) {
	logger := log.WithTaskID(taskID)
	report := &Report{TaskID: taskID}

	task, action, jobs, err := r.begin(taskID, command)
	if err != nil {
		return nil, err
	}
	if task.AbortRequested {
		logger.Info().Msg("Abort requested before first job")
		return r.finish(report, types.StatusAborted, true)
	}

	failed := false
	for _, job := range jobs {
		if ctx.Err() != nil {
			report.Canceled = true
			break
		}
		if aborted, err := r.abortRequested(taskID); err != nil {
			return r.broken(report, err)
		} else if aborted {
			report.Canceled = true
			break
		}

		out, err := r.runJob(ctx, task, action, job)
		if err != nil {
			return r.broken(report, err)
		}
		report.Jobs++

		switch out.Status {
		case types.StatusSuccess:
			continue
		case types.StatusAborted:
			report.Canceled = true
		case types.StatusFailed:
			report.Failed++
			failed = true
			if continueOnFail(action, job) {
				logger.Info().Int64("job_id", job.ID).Msg("Job failed, continuing by sub-action directive")
				continue
			}
		}
		break
	}

	status := types.StatusSuccess
	switch {
	case report.Canceled:
		status = types.StatusAborted
	case failed:
		status = types.StatusFailed
	}
	return r.finish(report, status, report.Canceled)
}

// begin validates the task for the command, records this process as its
// runner and returns the jobs still to run
func (r *Runner) begin(taskID int64, command Command) (*types.Task, *types.Action, []*types.Job, error) {
	var (
		task    *types.Task
		action  *types.Action
		pending []*types.Job
	)
	err := r.store.Update(func(tx storage.Tx) error {
		var err error
		if task, err = tx.GetTask(taskID); err != nil {
			return err
		}

		switch command {
		case CommandStart:
			if task.Status != types.StatusCreated && task.Status != types.StatusScheduled {
				return &types.TransitionError{Entity: "task", ID: taskID, From: task.Status, To: types.StatusRunning}
			}
		case CommandRestart:
			if task.Status != types.StatusScheduled && task.Status != types.StatusRunning {
				return &types.TransitionError{Entity: "task", ID: taskID, From: task.Status, To: types.StatusRunning}
			}
		}

		ok, err := concern.HasLock(tx, task)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %d holds no lock: %w", taskID, types.ErrBrokenTask)
		}

		if action, err = tx.GetAction(task.ActionID); err != nil {
			return err
		}
		jobs, err := tx.ListJobs(taskID)
		if err != nil {
			return err
		}
		if pending, err = cursor(jobs, command); err != nil {
			return err
		}

		pid := os.Getpid()
		patch := storage.TaskPatch{PID: storage.IntPtr(pid)}
		if task.Executor == nil {
			patch.Executor = &types.WorkerInfo{Kind: types.ExecutorLocal, Hostname: r.opts.Hostname, PID: pid}
		}
		task, err = tx.UpdateTask(taskID, patch)
		return err
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return task, action, pending, nil
}

// cursor returns the jobs a command runs. Start runs all jobs; restart
// skips the leading jobs that already succeeded.
func cursor(jobs []*types.Job, command Command) ([]*types.Job, error) {
	if command == CommandStart {
		for _, j := range jobs {
			if j.Status != types.StatusCreated {
				return nil, fmt.Errorf("job %d is %s, cannot start: %w", j.ID, j.Status, types.ErrInvalidTransition)
			}
		}
		return jobs, nil
	}

	for i, j := range jobs {
		if j.Status == types.StatusSuccess {
			continue
		}
		if j.Status.IsTerminal() {
			return nil, &types.TransitionError{Entity: "job", ID: j.ID, From: j.Status, To: types.StatusRunning}
		}
		return jobs[i:], nil
	}
	return nil, nil
}

func (r *Runner) abortRequested(taskID int64) (bool, error) {
	var aborted bool
	err := r.store.View(func(tx storage.Tx) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		aborted = task.AbortRequested
		return nil
	})
	return aborted, err
}

// runJob executes one job's payload and records its terminal status
func (r *Runner) runJob(ctx context.Context, task *types.Task, action *types.Action, job *types.Job) (*outcome, error) {
	logger := log.WithJobID(task.ID, job.ID)
	jobDir := filepath.Join(r.opts.JobsDir, strconv.FormatInt(job.ID, 10))
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}

	var (
		inv       *inventory.Inventory
		prototype *types.Prototype
	)
	firstJob := task.Status != types.StatusRunning
	err := r.store.Update(func(tx storage.Tx) error {
		var err error
		if task, err = tx.UpdateTask(task.ID, storage.TaskPatch{Status: storage.StatusPtr(types.StatusRunning)}); err != nil {
			return err
		}
		if _, err = tx.UpdateJob(job.ID, storage.JobPatch{Status: storage.StatusPtr(types.StatusRunning)}); err != nil {
			return err
		}

		in, err := inventory.Gather(tx, task, job, r.opts.RunDir)
		if err != nil {
			return err
		}
		prototype = in.Prototype
		if inv, err = inventory.Render(in); err != nil {
			return err
		}

		for _, artifact := range []types.LogArtifact{StdoutLog, StderrLog, InventoryLog} {
			a := artifact
			a.JobID = job.ID
			if err := tx.CreateLog(&a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if firstJob {
		events.Emit(r.events, events.NewTaskEvent(events.EventTaskRunning, task.ID, string(types.StatusRunning), ""))
	}
	events.Emit(r.events, events.NewJobEvent(events.EventJobStarted, task.ID, job.ID, string(types.StatusRunning)))
	logger.Info().Str("job", job.Name).Int("order", job.Order).Msg("Job started")

	invPath := filepath.Join(jobDir, InventoryLog.FileName())
	data, err := inv.Marshal()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(invPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write inventory: %w", err)
	}

	p := &payload{
		Bin:     r.ansibleBin(action),
		Args:    r.args(task, job, invPath, prototype),
		Dir:     jobDir,
		Env:     r.env(task, job, jobDir, invPath),
		Stdout:  filepath.Join(jobDir, StdoutLog.FileName()),
		Stderr:  filepath.Join(jobDir, StderrLog.FileName()),
		Timeout: jobTimeout(action, job),
		Grace:   payloadGrace(r.opts.Grace),
		started: func(pid int) {
			if err := r.store.Update(func(tx storage.Tx) error {
				_, err := tx.UpdateJob(job.ID, storage.JobPatch{PID: storage.IntPtr(pid)})
				return err
			}); err != nil {
				logger.Warn().Err(err).Int("pid", pid).Msg("Failed to record payload pid")
			}
		},
	}

	timer := metrics.NewTimer()
	out, err := p.run(ctx)
	if err != nil {
		return nil, err
	}
	timer.ObserveDurationVec(metrics.JobDuration, string(out.Status))

	err = r.store.Update(func(tx storage.Tx) error {
		finished, err := tx.UpdateJob(job.ID, storage.JobPatch{Status: storage.StatusPtr(out.Status)})
		if err != nil {
			return err
		}
		if out.Status == types.StatusFailed {
			return lifecycle.ApplyJobFailHooks(tx, task, finished)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.Emit(r.events, events.NewJobEvent(events.EventJobFinished, task.ID, job.ID, string(out.Status)))

	ev := logger.Info()
	switch out.Status {
	case types.StatusSuccess:
	case types.StatusFailed:
		ev = logger.Warn().Err(fmt.Errorf("job %d: %w", job.ID, types.ErrPayloadFailure))
	default:
		ev = logger.Warn()
	}
	ev.Str("status", string(out.Status)).
		Int("exit_code", out.ExitCode).
		Bool("timed_out", out.TimedOut).
		Dur("duration", timer.Duration()).
		Msg("Job finished")
	return out, nil
}

func (r *Runner) finish(report *Report, status types.Status, canceled bool) (*Report, error) {
	report.Canceled = canceled
	task, err := r.manager.Finish(report.TaskID, status)
	if err != nil {
		return nil, err
	}
	report.Status = task.Status
	return report, nil
}

// broken finalizes the task after an internal error so it never keeps
// running without a runner
func (r *Runner) broken(report *Report, cause error) (*Report, error) {
	task, err := r.manager.Broken(report.TaskID, lifecycle.ReasonRunnerError, cause.Error())
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	report.Status = task.Status
	return report, cause
}

// ansibleBin resolves the payload executable, inside the action's venv when
// it names one
func (r *Runner) ansibleBin(action *types.Action) string {
	if action.Venv == "" || action.Venv == "default" || r.opts.VenvRoot == "" {
		return r.opts.AnsibleBin
	}
	return filepath.Join(r.opts.VenvRoot, action.Venv, "bin", filepath.Base(r.opts.AnsibleBin))
}

func (r *Runner) args(task *types.Task, job *types.Job, invPath string, prototype *types.Prototype) []string {
	playbook := job.Script
	if prototype != nil && prototype.Path != "" && !filepath.IsAbs(playbook) {
		playbook = filepath.Join(r.opts.BundleRoot, prototype.Path, playbook)
	}
	args := []string{"-i", invPath}
	if task.Verbose {
		args = append(args, "-vvvv")
	}
	return append(args, playbook)
}

func (r *Runner) env(task *types.Task, job *types.Job, jobDir, invPath string) []string {
	env := append([]string{}, r.opts.Env...)
	return append(env,
		"ADCM_TASK_ID="+strconv.FormatInt(task.ID, 10),
		"ADCM_JOB_ID="+strconv.FormatInt(job.ID, 10),
		"ADCM_JOB_NAME="+job.Name,
		"ADCM_JOB_DIR="+jobDir,
		"ADCM_INVENTORY="+invPath,
		"ANSIBLE_FORCE_COLOR=0",
	)
}

// payloadGrace is the payload's share of the runner grace window
func payloadGrace(grace time.Duration) time.Duration {
	return grace / 2
}

func jobTimeout(action *types.Action, job *types.Job) time.Duration {
	if sub, ok := action.SubAction(job.SubActionID); ok && sub.Timeout > 0 {
		return time.Duration(sub.Timeout) * time.Second
	}
	if action.Timeout > 0 {
		return time.Duration(action.Timeout) * time.Second
	}
	return 0
}

func continueOnFail(action *types.Action, job *types.Job) bool {
	sub, ok := action.SubAction(job.SubActionID)
	return ok && sub.OnFail == types.OnFailContinue
}
