/*
Package worker implements the ADCM distributed worker agent.

When the scheduler runs with the worker queuer, tasks are not spawned on the
scheduler host. The launcher instead places a work item on the queue of the
least loaded live worker, and the agent on that host picks it up and starts a
task runner for it.

# Architecture

	┌──────────────────────── WORKER HOST ────────────────────────┐
	│                                                              │
	│  ┌────────────────────────────────────────────────┐         │
	│  │                 Worker Agent                    │         │
	│  │  - Heartbeat loop (5s)   -> heartbeats bucket   │         │
	│  │  - Executor loop (1s)    <- work queue bucket   │         │
	│  │  - Runner monitor (1s)   <- task abort flag     │         │
	│  └──────┬──────────────────────────────┬───────────┘         │
	│         │ spawn `task_runner start N`  │ SIGTERM / SIGKILL   │
	│  ┌──────▼──────────────────────────────▼───────────┐         │
	│  │   task_runner (own process group, dies with     │         │
	│  │   the agent)                                    │         │
	│  └─────────────────────────────────────────────────┘         │
	└──────────────────────────────────────────────────────────────┘

# Heartbeats

Every agent incarnation generates a fresh worker id and writes
{hostname, worker_id, timestamp} on start and every HeartbeatInterval. The
scheduler's worker queuer only considers agents whose heartbeat is younger
than the configured staleness window, and the monitor loop breaks tasks whose
agent stopped heartbeating or was replaced by a new incarnation.

# Claiming Work

The executor loop claims the oldest unclaimed item addressed to its host.
Items for finished or missing tasks are dropped, as are items superseded by a
newer run id. A task whose abort was requested before the claim is finalized
as aborted without starting a runner. Otherwise the runner is spawned, the
task's executor is updated with the runner pid and the item is removed.

# Supervision

The runner monitor polls supervised tasks. When abort_requested is set the
runner receives SIGTERM and, after the grace window, its process group
receives SIGKILL. The runner finalizes the task itself on SIGTERM; when it
exits without doing so the agent finalizes the task as aborted if an abort
was requested and as broken otherwise.

On shutdown the agent terminates all supervised runners and waits for them.

# Usage

	w, err := worker.NewWorker(store, manager, broker, worker.Config{
		RunnerBin: "/usr/local/bin/task_runner",
		Grace:     10 * time.Second,
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
*/
package worker
