/*
Package metrics provides Prometheus metrics and component health for the
ADCM job processes.

All collectors are registered with the default registry at package init and
exposed by Handler (promhttp) on /metrics of the scheduler, and of a worker
agent started with --metrics.

# Metrics Catalog

Tasks:

	adcm_tasks_total{status}              gauge    non-terminal tasks by status (Collector)
	adcm_tasks_launched_total             counter  tasks handed to a queuer
	adcm_tasks_finished_total{status}     counter  tasks reaching a terminal status
	adcm_tasks_broken_total{reason}       counter  tasks marked broken
	adcm_launch_failures_total{reason}    counter  worker_unavailable | queue_error

Jobs:

	adcm_jobs_duration_seconds{status}    histogram  payload duration by final status

Scheduler loops:

	adcm_loop_tick_duration_seconds{loop} histogram  one launcher/monitor tick or recoverer pass
	adcm_loop_errors_total{loop}          counter    failed ticks
	adcm_loop_restarts_total{loop}        counter    child processes restarted by the supervisor

Concerns and workers:

	adcm_active_locks                     gauge    lock concerns held (Collector)
	adcm_orphan_locks_released_total      counter  locks released by the recoverer
	adcm_worker_heartbeats_total          counter  heartbeats written by this agent
	adcm_workers_alive                    gauge    agents with a fresh heartbeat (Collector)

Counters are incremented in the process that does the work. Runner and
loop processes are short-lived or restarted, so only the supervisor's view
of the store is exported as gauges: Collector re-reads tasks, locks and
heartbeats on an interval.

	collector := metrics.NewCollector(store, cfg.MonitorInterval, cfg.HeartbeatStale)
	collector.Start()
	defer collector.Stop()

# Timing

	timer := metrics.NewTimer()
	report, err := s.Recover(ctx)
	timer.ObserveDurationVec(metrics.LoopTickDuration, "recoverer")

# Component Health

The package also keeps a small registry of component states used by
/ready. The store is critical by default; the scheduler adds its loops:

	metrics.SetCriticalComponents("store", "launcher", "monitor")
	metrics.RegisterComponent("launcher", false, "not started")
	metrics.UpdateComponent("launcher", true, "running")

GetReadiness reports "ready" only when every critical component is
healthy. GetHealth lists every registered component and reports
"unhealthy" as soon as one of them is.
*/
package metrics
