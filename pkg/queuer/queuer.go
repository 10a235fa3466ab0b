// Package queuer places built tasks onto a worker. The local queuer spawns
// a runner process on this host; the worker queuer hands the task to the
// least loaded distributed worker agent through the store's work queue.
package queuer

import (
	"context"
	"fmt"

	"github.com/arenadata/adcm/pkg/config"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
)

// Queuer places a task on a worker and describes where it went
type Queuer interface {
	Queue(ctx context.Context, task *types.Task) (*types.WorkerInfo, error)
	Name() string
}

// New selects a queuer by configuration
func New(cfg *config.Config, store storage.Store) (Queuer, error) {
	switch cfg.Queuer {
	case config.QueuerLocal, "":
		return NewLocal(LocalOptions{
			RunnerBin: cfg.RunnerBin,
			Hostname:  cfg.WorkerHostname,
			Env:       RunnerEnv(cfg),
			ErrFile:   cfg.RunnerErrPath(),
		}), nil
	case config.QueuerWorker:
		return NewWorker(store, cfg.HeartbeatStale), nil
	}
	return nil, fmt.Errorf("unknown queuer %q", cfg.Queuer)
}

// RunnerEnv passes the resolved configuration to a spawned runner so it
// opens the same store and writes to the same directories
func RunnerEnv(cfg *config.Config) []string {
	return []string{
		"DATA_DIR=" + cfg.DataDir,
		"DB_PATH=" + cfg.DBPath,
		"LOG_LEVEL=" + cfg.LogLevel,
		"LOG_DIR=" + cfg.LogDir,
		"JOBS_DIR=" + cfg.JobsDir,
		"RUN_DIR=" + cfg.RunDir,
		"ANSIBLE_BIN=" + cfg.AnsibleBin,
		"VENV_ROOT=" + cfg.VenvRoot,
		"BUNDLE_ROOT=" + cfg.BundleRoot,
		"WORKER_HOSTNAME=" + cfg.WorkerHostname,
		fmt.Sprintf("CANCEL_GRACE=%s", cfg.CancelGrace),
		fmt.Sprintf("STORE_LOCK_TIMEOUT=%s", cfg.StoreLockTimeout),
	}
}
