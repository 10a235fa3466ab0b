package queuer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/arenadata/adcm/pkg/lock"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/google/uuid"
)

// LocalOptions configures the local subprocess queuer
type LocalOptions struct {
	RunnerBin string
	Hostname  string
	Env       []string
	// ErrFile receives the runner's stdout and stderr, appended
	ErrFile string
	// Args are inserted before "start <task-id>"
	Args []string
}

// Local spawns a detached runner process per task on this host
type Local struct {
	opts LocalOptions
}

// NewLocal creates a local queuer
func NewLocal(opts LocalOptions) *Local {
	if opts.Hostname == "" {
		opts.Hostname, _ = os.Hostname()
	}
	return &Local{opts: opts}
}

// Name returns the queuer name
func (q *Local) Name() string {
	return "local"
}

// Queue starts `<runner> start <task-id>` in a new session so the runner
// outlives the launcher. Its output is appended to ErrFile. The child is
// reaped in the background.
func (q *Local) Queue(ctx context.Context, task *types.Task) (*types.WorkerInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append(append([]string{}, q.opts.Args...), "start", strconv.FormatInt(task.ID, 10))
	cmd := exec.Command(q.opts.RunnerBin, args...)
	cmd.Env = append(os.Environ(), q.opts.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if q.opts.ErrFile != "" {
		out, err := lock.OpenAppend(q.opts.ErrFile)
		if err != nil {
			return nil, fmt.Errorf("open runner error file: %w", err)
		}
		defer out.Close()
		cmd.Stdout = out.File()
		cmd.Stderr = out.File()
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn runner for task %d: %w: %w", task.ID, types.ErrWorkerUnavailable, err)
	}

	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		logger := log.WithTaskID(task.ID)
		if err != nil {
			logger.Debug().Err(err).Int("pid", pid).Msg("Runner exited")
			return
		}
		logger.Debug().Int("pid", pid).Msg("Runner exited")
	}()

	return &types.WorkerInfo{
		Kind:     types.ExecutorLocal,
		Hostname: q.opts.Hostname,
		PID:      pid,
		RunID:    uuid.New().String(),
	}, nil
}
