/*
Package storage provides BoltDB-backed persistence for the job subsystem.

The package defines the Store and Tx interfaces used by every component
(builder, runner, scheduler loops, worker agent, operator CLI) and implements
them on top of bbolt. All rows are JSON values in one bucket per record type;
integer ids are stored as big-endian keys so cursor order is id order.

# Bucket Structure

	entities            nested bucket per entity kind (id -> Entity)
	hostcomponents      cluster id -> []HostComponent
	prototypes          id -> Prototype
	actions             id -> Action
	tasks               id -> Task
	jobs                id -> Job
	task_jobs           task id + order -> job id
	logs                job id + log id -> LogArtifact
	concerns            id -> Concern
	entity_concerns     "kind:id/" + concern id -> (empty)
	worker_heartbeats   hostname -> Heartbeat
	work_queue          task id -> WorkItem

# Transactions

Every read goes through Store.View and every mutation through Store.Update.
A function returning an error rolls its transaction back, which is how the
task builder guarantees that a failed build leaves neither rows nor a lock.

# Multi-process access

bbolt takes an exclusive file lock for the lifetime of an open handle. The
runner, the three scheduler loops and the worker agent all run as separate
processes, so they open the store with Options.Shared: the file is opened for
each transaction and closed afterwards. Writers from different processes are
serialized by the file lock and wait up to Options.LockTimeout for it.
Tests and single-process tools keep the handle open (Shared=false).

# Status transitions

UpdateTask and UpdateJob validate every status change with
types.CheckTransition and stamp dates:

  - start_date when a task leaves created/scheduled (to running or a
    terminal status), and when a job first moves to running
  - finish_date on every terminal transition

UpdateJob additionally refuses to start a job while another job of the same
task is running.

# Queue claims

NextQueued returns the lowest-id task in status created that has no executor
and no live claim, and records the caller as its claimer inside the same
transaction. A claim older than the TTL passed by the caller can be taken
over, so a launcher that crashed between claiming and queueing does not strand
the task.

# Usage

	store, err := storage.NewBoltStore("/var/lib/adcm/adcm.db", storage.Options{Shared: true})
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.Update(func(tx storage.Tx) error {
		_, err := tx.UpdateTask(taskID, storage.TaskPatch{
			Status: storage.StatusPtr(types.StatusRunning),
		})
		return err
	})
*/
package storage
