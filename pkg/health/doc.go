/*
Package health provides liveness checks for task executors.

The scheduler's monitor loop needs to know whether the process that owns a
running task still exists. Where that process lives decides how the
question is answered, so the package offers one checker per executor kind
behind a common interface.

# Architecture

	┌──────────────────────────────────────────────────────────┐
	│                    Checker Interface                      │
	│  • Check(ctx) Result                                      │
	│  • Type() CheckType                                       │
	└────────┬─────────────────────────────────────────────────┘
	         │
	    ┌────┴───────────┬──────────────┐
	    ▼                ▼              ▼
	┌─────────┐   ┌────────────┐   ┌────────┐
	│   PID   │   │ Heartbeat  │   │  HTTP  │
	│ Checker │   │  Checker   │   │Checker │
	└─────────┘   └────────────┘   └────────┘
	     │              │               │
	     ▼              ▼               ▼
	  kill(pid,0)   heartbeat row    GET /ready
	  + /proc stat  age < stale      on a scheduler

## PID checks

Used for tasks launched by the local queuer on the same host as the
monitor. The probe sends signal 0: ESRCH means the process is gone, EPERM
means it exists under another user and is treated as alive. On Linux a
process in state Z (exited, not yet reaped) counts as dead.

	checker := health.NewPIDChecker(task.PID)
	if res := checker.Check(ctx); !res.Healthy {
		// finalize the task as broken
	}

A pid is only meaningful on the host that recorded it. Callers compare the
executor hostname with their own before trusting a PID check.

## Heartbeat checks

Used for tasks handed to distributed workers. Each worker agent writes a
heartbeat row keyed by hostname every heartbeat interval. The checker
reads the row and fails when it is older than the stale threshold.

	checker := health.NewHeartbeatChecker(store, exec.Hostname, 30*time.Second).
		WithWorkerID(exec.WorkerID)

Pinning the worker id makes a restarted agent look dead to tasks it
launched in a previous incarnation, since the runner it spawned died with
it.

## HTTP checks

Used by `adcmctl health --ready-addr` to probe a scheduler's /ready. Only
GET is issued and 200-299 counts as healthy. When the endpoint answers
with a JSON status document its status and message are appended, so a
failed probe reads "HTTP 503 not ready: waiting for launcher".

	checker := health.NewHTTPChecker("http://127.0.0.1:9180/ready").
		WithTimeout(2 * time.Second)

# Results

Every check returns a Result carrying the verdict, a human-readable
message, the time the check started and how long it took. Messages are
written into the task's broken_reason when the monitor gives up on a task,
so they name the pid or host involved.
*/
package health
