/*
Package log provides structured logging for ADCM's job subsystem using zerolog.

The package holds one global zerolog.Logger, initialized once per process via
Init, plus helpers that derive child loggers carrying component, task, job or
scheduler loop fields.

# Outputs

Each binary picks its output in Init:

	adcm-scheduler   <log-dir>/scheduler.log   rotating (lumberjack)
	task_runner      <log-dir>/task_runner.err shared, flock per write
	adcm-worker      stderr
	adcmctl          stderr

The scheduler's loop processes log to stderr without colors; the supervisor
hands them Output as stdout and stderr, so their records land in
scheduler.log next to its own.

The runner log is appended to by every task_runner process on the host.
SharedFile wraps it in a lock.AppendWriter so each write holds an exclusive
advisory lock and records from concurrent runners never interleave.

# Usage

	if err := log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		SharedFile: filepath.Join(cfg.LogDir, "task_runner.err"),
	}); err != nil {
		return err
	}
	defer log.Close()

	logger := log.WithJobID(task.ID, job.ID)
	logger.Info().Int("exit_code", code).Msg("job finished")
*/
package log
