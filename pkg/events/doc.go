/*
Package events provides an in-process publish/subscribe broker for task,
job and concern transitions.

Every state change the job subsystem makes is published as an Event. The
broker fans events out to subscribers without blocking publishers, and the
AuditSink writes each event as a structured audit record. The audit sink is
the boundary to the external audit collaborator: the subsystem itself never
reads events back.

# Architecture

	┌──────────────────────── EVENT BROKER ────────────────────────┐
	│                                                                │
	│   builder   lifecycle   runner   launcher   recoverer  worker │
	│      │          │         │         │           │        │    │
	│      └──────────┴─────────┴────┬────┴───────────┴────────┘    │
	│                                ▼                              │
	│                     ┌─────────────────────┐                   │
	│                     │  eventCh (cap 100)  │                   │
	│                     └──────────┬──────────┘                   │
	│                                │ run()                        │
	│                ┌───────────────┼───────────────┐              │
	│                ▼               ▼               ▼              │
	│          ┌──────────┐   ┌──────────┐    ┌──────────┐          │
	│          │ sub (50) │   │ sub (50) │    │ sub (50) │          │
	│          └────┬─────┘   └──────────┘    └──────────┘          │
	│               ▼                                               │
	│          AuditSink ──► zerolog (component=audit)              │
	└────────────────────────────────────────────────────────────────┘

Each process (scheduler loop, runner, worker agent, adcmctl) has its own
broker. Events do not cross process boundaries; the store is the only
shared state.

# Delivery

Publish enqueues onto a buffered channel and returns. A slow subscriber
whose buffer is full misses events rather than stalling the broker.

Stop drains every queued event to subscribers before closing their
channels, so a short-lived process such as task_runner loses nothing on a
clean exit:

	broker := events.NewBroker()
	broker.Start()
	audit := events.NewAuditSink(broker, log.Logger)
	go audit.Run()
	defer func() {
		broker.Stop()
		audit.Wait()
	}()

Components accept the narrow Publisher interface and publish through Emit,
which ignores a nil publisher. Tests pass nil when they do not care about
events.

# Event Types

	task.created            builder committed a task and its jobs
	concern.lock_attached   builder attached the task's lock
	task.launched           launcher handed a task to a queuer
	worker.claimed          worker agent spawned a runner for a work item
	task.running            runner started the first job
	job.started             runner started a job payload
	job.finished            job reached a terminal status
	task.cancel_requested   cancel set abort_requested on a launched task
	task.finished           task reached success, failed, aborted or revoked
	task.broken             task was marked broken (metadata: reason)
	concern.lock_released   the task's lock was released
	concern.orphan_released recoverer released a lock without a live owner

# Audit Records

AuditSink flattens an event with Fields: task_id, job_id and status when
set, plus every metadata entry. A finished task looks like:

	{"level":"info","component":"audit","event_id":"5b0c...","event":"task.finished",
	 "at":"2026-03-01T12:00:00Z","task_id":"42","status":"success",
	 "message":"task finished"}
*/
package events
