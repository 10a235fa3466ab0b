/*
Package scheduler dispatches queued tasks to runners and keeps launched tasks
honest about their runners.

The scheduler is three loops under one supervisor. Each loop runs in its own
child process (`adcm-scheduler loop <name>`); the supervisor restarts a loop
that exits and terminates all of them on shutdown.

# Architecture

	┌──────────────────── adcm-scheduler run ────────────────────┐
	│                                                              │
	│  Supervisor                                                  │
	│    1. recoverer (once, to completion)                        │
	│    2. launcher  ─┐  restarted with exponential backoff       │
	│    3. monitor   ─┘  until shutdown                           │
	│                                                              │
	│  ┌────────────┐     ┌────────────┐     ┌────────────┐       │
	│  │  Launcher  │     │  Monitor   │     │ Recoverer  │       │
	│  │ NextQueued │     │ pid probe  │     │ dead exec  │       │
	│  │ rate.Wait  │     │ heartbeat  │     │ lost locks │       │
	│  │ Queue      │     │ staleness  │     │ orphan     │       │
	│  │ executor   │     │            │     │ locks/work │       │
	│  └─────┬──────┘     └─────┬──────┘     └─────┬──────┘       │
	└────────┼──────────────────┼──────────────────┼──────────────┘
	         ▼                  ▼                  ▼
	    ┌─────────────────── bbolt store ──────────────────┐
	    │ tasks · jobs · concerns · heartbeats · work queue │
	    └───────────────────────────────────────────────────┘

# Launcher

Every tick the launcher claims the oldest task in created with
storage.Tx.NextQueued. The claim is a lease: a launcher that crashes after
claiming leaves a claim that expires after ClaimTTL. The task goes to the
configured queuer.Queuer; launches are bounded by a token bucket
(golang.org/x/time/rate). On success the executor and pid are recorded and
the task moves to scheduled unless the runner already moved it on. A queuer
reporting types.ErrWorkerUnavailable leaves the task in created with its
claim released and the launcher retries on the next tick.

# Monitor

Every tick the monitor probes each scheduled or running task:

	executor          check                               on failure
	local, this host  signal-0 pid probe (health.PIDChecker)  executor_dead
	local, other host skipped, that host's monitor owns it
	worker            heartbeat age and worker id             worker_stale
	                  (health.HeartbeatChecker)
	anything else     none                                    unknown_executor

A task whose runner is gone is finalized through lifecycle.Manager: aborted
when an abort was requested, broken otherwise. Finalizing releases the lock
and stamps the finish date. The executor record is left in place.

# Recoverer

The recoverer runs once at boot and returns a Report of its repairs:

  - scheduled or running tasks whose executor fails the monitor's probe, or
    local tasks with no pid at all, are finalized
  - created tasks whose lock concern is missing are marked broken
  - lock concerns whose task is missing, finished or holds another lock are
    released
  - work items of missing or finished tasks are dropped

A second pass over the same state reports nothing.

# Error Handling

Loops never return on a failed tick. The error is logged, counted in
adcm_loop_errors_total and the next tick is delayed by a backoff that
doubles up to 30 seconds and resets after a good tick.

# Metrics

	adcm_tasks_launched_total
	adcm_launch_failures_total{reason}
	adcm_loop_tick_duration_seconds{loop}
	adcm_loop_errors_total{loop}
	adcm_loop_restarts_total{loop}
	adcm_orphan_locks_released_total
*/
package scheduler
