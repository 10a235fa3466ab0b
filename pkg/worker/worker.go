package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/lock"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Worker is a distributed worker agent. It advertises itself through a
// heartbeat row, claims work items addressed to its host and supervises one
// runner process per claimed task.
type Worker struct {
	hostname string
	workerID string

	store   storage.Store
	manager *lifecycle.Manager
	events  events.Publisher
	cfg     Config
	logger  zerolog.Logger

	runs   map[int64]*runnerProcess
	runsMu sync.RWMutex

	monitor *RunnerMonitor
}

// Config holds worker agent configuration
type Config struct {
	Hostname   string
	RunnerBin  string
	RunnerArgs []string
	Env        []string
	// ErrFile receives every runner's stdout and stderr, appended
	ErrFile           string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	Grace             time.Duration
}

// runnerProcess is a runner spawned for one claimed task
type runnerProcess struct {
	taskID   int64
	runID    string
	pid      int
	done     chan struct{}
	exitErr  error
	aborting bool
}

// NewWorker creates a worker agent with a fresh worker id
func NewWorker(store storage.Store, manager *lifecycle.Manager, publisher events.Publisher, cfg Config) (*Worker, error) {
	if cfg.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname: %w", err)
		}
		cfg.Hostname = h
	}
	if cfg.RunnerBin == "" {
		return nil, fmt.Errorf("runner binary is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Second
	}

	w := &Worker{
		hostname: cfg.Hostname,
		workerID: uuid.New().String(),
		store:    store,
		manager:  manager,
		events:   publisher,
		cfg:      cfg,
		logger:   log.WithComponent("worker").With().Str("hostname", cfg.Hostname).Logger(),
		runs:     make(map[int64]*runnerProcess),
	}
	w.monitor = NewRunnerMonitor(w)
	return w, nil
}

// ID returns the worker incarnation id written to heartbeats
func (w *Worker) ID() string {
	return w.workerID
}

// Hostname returns the host the worker serves
func (w *Worker) Hostname() string {
	return w.hostname
}

// Run sends heartbeats, claims work and supervises runners until ctx is
// cancelled. Runners still alive at shutdown are terminated.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.sendHeartbeat(); err != nil {
		return fmt.Errorf("failed to register heartbeat: %w", err)
	}
	w.logger.Info().Str("worker_id", w.workerID).Msg("Worker agent started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.heartbeatLoop(gctx) })
	g.Go(func() error { return w.executorLoop(gctx) })
	g.Go(func() error { return w.monitor.Run(gctx) })
	err := g.Wait()

	if running := w.Running(); len(running) > 0 {
		w.logger.Info().Ints64("tasks", running).Msg("Terminating runners")
	}
	w.stopRunners()
	w.logger.Info().Msg("Worker agent stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// heartbeatLoop periodically writes the heartbeat row
func (w *Worker) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.sendHeartbeat(); err != nil {
				w.logger.Error().Err(err).Msg("Heartbeat failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) sendHeartbeat() error {
	err := w.store.Update(func(tx storage.Tx) error {
		return tx.PutHeartbeat(&types.Heartbeat{
			Hostname:  w.hostname,
			WorkerID:  w.workerID,
			Timestamp: time.Now().UTC(),
		})
	})
	if err == nil {
		metrics.WorkerHeartbeats.Inc()
	}
	return err
}

// executorLoop claims work items and starts runners
func (w *Worker) executorLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				started, err := w.claimNext(ctx)
				if err != nil {
					w.logger.Error().Err(err).Msg("Failed to claim work")
				}
				if !started || err != nil {
					break
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// claimNext claims one work item and starts its runner. It reports whether
// an item was consumed.
func (w *Worker) claimNext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var (
		item *types.WorkItem
		task *types.Task
	)
	err := w.store.Update(func(tx storage.Tx) error {
		var err error
		if item, err = tx.ClaimWork(w.hostname, time.Now().UTC()); err != nil || item == nil {
			return err
		}
		task, err = tx.GetTask(item.TaskID)
		if errors.Is(err, types.ErrNotFound) {
			task = nil
			return tx.DeleteWork(item.TaskID)
		}
		return err
	})
	if err != nil || item == nil {
		return false, err
	}

	logger := log.WithTaskID(item.TaskID)
	switch {
	case task == nil:
		logger.Warn().Msg("Dropping work item for missing task")
		return true, nil
	case task.Status.IsTerminal():
		logger.Info().Str("status", string(task.Status)).Msg("Dropping work item for finished task")
		return true, w.dropWork(item.TaskID)
	case task.Executor != nil && task.Executor.RunID != "" && task.Executor.RunID != item.RunID:
		logger.Warn().Str("run_id", item.RunID).Msg("Dropping superseded work item")
		return true, w.dropWork(item.TaskID)
	case task.AbortRequested:
		if _, err := w.manager.Finish(task.ID, types.StatusAborted); err != nil {
			return true, err
		}
		return true, w.dropWork(item.TaskID)
	}

	if err := w.startRunner(item); err != nil {
		if _, ferr := w.manager.Broken(item.TaskID, lifecycle.ReasonWorkerLost, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to mark task broken")
		}
		return true, errors.Join(err, w.dropWork(item.TaskID))
	}
	return true, nil
}

func (w *Worker) dropWork(taskID int64) error {
	return w.store.Update(func(tx storage.Tx) error {
		return tx.DeleteWork(taskID)
	})
}

// startRunner spawns `<runner> start <task-id>` and records its pid
func (w *Worker) startRunner(item *types.WorkItem) error {
	args := append(append([]string{}, w.cfg.RunnerArgs...), "start", strconv.FormatInt(item.TaskID, 10))
	cmd := exec.Command(w.cfg.RunnerBin, args...)
	cmd.Env = append(os.Environ(), w.cfg.Env...)
	cmd.SysProcAttr = runnerProcAttr()

	if w.cfg.ErrFile != "" {
		out, err := lock.OpenAppend(w.cfg.ErrFile)
		if err != nil {
			return fmt.Errorf("open runner error file: %w", err)
		}
		defer out.Close()
		cmd.Stdout = out.File()
		cmd.Stderr = out.File()
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start runner: %w", err)
	}
	rp := &runnerProcess{
		taskID: item.TaskID,
		runID:  item.RunID,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
	}

	w.runsMu.Lock()
	w.runs[item.TaskID] = rp
	w.runsMu.Unlock()

	err := w.store.Update(func(tx storage.Tx) error {
		task, err := tx.GetTask(item.TaskID)
		if err != nil {
			return err
		}
		info := &types.WorkerInfo{
			Kind:     types.ExecutorWorker,
			Hostname: w.hostname,
			WorkerID: w.workerID,
			RunID:    item.RunID,
			PID:      rp.pid,
		}
		if task.Executor != nil {
			info.Extra = task.Executor.Extra
		}
		if _, err := tx.UpdateTask(item.TaskID, storage.TaskPatch{Executor: info}); err != nil {
			return err
		}
		return tx.DeleteWork(item.TaskID)
	})

	go func() {
		rp.exitErr = cmd.Wait()
		w.reap(rp)
		close(rp.done)
	}()
	if err != nil {
		return err
	}

	startLogger := log.WithTaskID(item.TaskID)
	startLogger.Info().Int("pid", rp.pid).Str("run_id", item.RunID).Msg("Runner started")
	events.Emit(w.events, &events.Event{
		Type:     events.EventWorkerClaimed,
		TaskID:   item.TaskID,
		Message:  w.hostname,
		Metadata: map[string]string{"run_id": item.RunID, "worker_id": w.workerID},
	})
	return nil
}

// reap finalizes a task whose runner exited without reaching a terminal
// status
func (w *Worker) reap(rp *runnerProcess) {
	w.runsMu.Lock()
	delete(w.runs, rp.taskID)
	w.runsMu.Unlock()

	logger := log.WithTaskID(rp.taskID)
	var task *types.Task
	err := w.store.View(func(tx storage.Tx) error {
		var err error
		task, err = tx.GetTask(rp.taskID)
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read task after runner exit")
		return
	}
	if task.Status.IsTerminal() {
		logger.Debug().Str("status", string(task.Status)).Msg("Runner exited")
		return
	}

	if task.AbortRequested {
		_, err = w.manager.Finish(rp.taskID, types.StatusAborted)
	} else {
		detail := "runner exited without finishing the task"
		if rp.exitErr != nil {
			detail = fmt.Sprintf("%s: %v", detail, rp.exitErr)
		}
		_, err = w.manager.Broken(rp.taskID, lifecycle.ReasonExecutorDead, detail)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to finalize task after runner exit")
	}
}

// stopRunners terminates every supervised runner and waits for it
func (w *Worker) stopRunners() {
	w.runsMu.RLock()
	runs := make([]*runnerProcess, 0, len(w.runs))
	for _, rp := range w.runs {
		runs = append(runs, rp)
	}
	w.runsMu.RUnlock()

	var wg sync.WaitGroup
	for _, rp := range runs {
		wg.Add(1)
		go func(rp *runnerProcess) {
			defer wg.Done()
			if _, err := lifecycle.Terminate(context.Background(), rp.pid, w.cfg.Grace); err != nil {
				logger := log.WithTaskID(rp.taskID)
				logger.Warn().Err(err).Msg("Failed to terminate runner")
			}
			<-rp.done
		}(rp)
	}
	wg.Wait()
}

// Running returns the ids of tasks with a live runner
func (w *Worker) Running() []int64 {
	w.runsMu.RLock()
	defer w.runsMu.RUnlock()
	ids := make([]int64, 0, len(w.runs))
	for id := range w.runs {
		ids = append(ids, id)
	}
	return ids
}
