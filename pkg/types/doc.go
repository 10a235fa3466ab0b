/*
Package types defines the core data structures of the ADCM job subsystem.

This package contains the records every other package passes around: the
entity arena the subsystem reads, the read-only action metadata supplied by
bundles, and the task, job, log and concern rows it owns. It also holds the
status state machine shared by tasks and jobs and the error taxonomy.

# Core Types

Entity arena:
  - Entity: cluster, service, component, host, provider, adcm or action host group
  - EntityRef: polymorphic (kind, id) descriptor, printed as "kind:id"
  - HostComponent: one component instance bound to one host
  - Prototype: bundle type of an entity

Action metadata:
  - Action: a unit of work (type job or task, script type ansible or task-generator)
  - SubAction: one step of a task-type action
  - StateEffects: state and multi-state changes applied on success or failure
  - HostComponentACL: which components an action may add or remove

Execution:
  - Task: one run of an action against one target entity
  - Job: one ordered step of a task
  - LogArtifact: index row for a file under <jobs-dir>/<job-id>/
  - WorkerInfo: executor record (local pid or distributed worker)
  - Heartbeat, WorkItem: distributed worker liveness and queue rows

Concurrency control:
  - Concern: lock, issue or flag marker attached to entities

# Status Machine

Tasks and jobs share one status set:

	created ──► scheduled ──► running ──► success
	   │            │            ├──────► failed
	   │            │            └──────► aborted
	   │            ├──► revoked / aborted
	   ├──► running (runner started before the launcher)
	   ├──► locked ──► created
	   └──► revoked

	any non-terminal ──► broken

success, failed, aborted, broken and revoked are terminal. CheckTransition
returns a *TransitionError (matching ErrInvalidTransition) for any other
change; re-applying the current non-terminal status is accepted as a no-op.

# Errors

	ErrTargetBusy         *BusyError        lock conflict while building
	ErrInvalidTransition  *TransitionError  illegal status change
	ErrValidation         *ValidationError  bad config or mapping
	ErrWorkerUnavailable                    queuer could not place a task
	ErrBrokenTask                           worker vanished
	ErrPayloadFailure                       payload exited non-zero
	ErrNotFound                             missing row

Use errors.Is against the sentinels and errors.As for details:

	var busy *types.BusyError
	if errors.As(err, &busy) {
		fmt.Printf("%s is locked by task %d\n", busy.Entity, busy.TaskID)
	}
*/
package types
