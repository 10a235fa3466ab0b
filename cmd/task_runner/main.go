// task_runner executes the jobs of one task and exits with the task's
// outcome. It is spawned by the local queuer or a worker agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/arenadata/adcm/pkg/config"
	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/queuer"
	"github.com/arenadata/adcm/pkg/runner"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"

	configFile string
	exitCode   = exitUsage
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitCode == exitSuccess {
			exitCode = exitFailure
		}
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "task_runner <start|restart> <task-id>",
	Short: "Run the jobs of one ADCM task",
	Long: `task_runner executes every job of a launched task in order, records job
statuses and log artifacts, and finalizes the task.

  start     run a freshly launched task from its first job
  restart   resume at the first job that has not succeeded

Exit status is 0 when the task succeeded, 1 when it failed, was aborted or
broke, 2 on usage errors, and 128+N when terminated by signal N.`,
	Args:          cobra.ExactArgs(2),
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runTask,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "Config file (defaults to environment only)")
}

func runTask(cmd *cobra.Command, args []string) error {
	command, err := runner.ParseCommand(args[0])
	if err != nil {
		return err
	}
	taskID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || taskID <= 0 {
		return fmt.Errorf("invalid task id %q", args[1])
	}
	exitCode = exitFailure

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
		SharedFile: cfg.RunnerErrPath(),
	}); err != nil {
		return fmt.Errorf("failed to open runner log: %w", err)
	}
	defer log.Close()

	logger := log.WithTaskID(taskID).With().Str("command", string(command)).Logger()

	store, err := storage.NewBoltStore(cfg.DBPath, storage.Options{
		Shared:      true,
		LockTimeout: cfg.StoreLockTimeout,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open store")
		return err
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	audit := events.NewAuditSink(broker, log.Logger)
	go audit.Run()
	defer func() {
		broker.Stop()
		audit.Wait()
	}()

	manager := lifecycle.NewManager(store, broker, cfg.WorkerHostname, cfg.CancelGrace)
	r := runner.New(store, manager, broker, runner.Options{
		JobsDir:    cfg.JobsDir,
		RunDir:     cfg.RunDir,
		BundleRoot: cfg.BundleRoot,
		AnsibleBin: cfg.AnsibleBin,
		VenvRoot:   cfg.VenvRoot,
		Hostname:   cfg.WorkerHostname,
		Grace:      cfg.CancelGrace,
		Env:        queuer.RunnerEnv(cfg),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var received syscall.Signal
	sigDone := make(chan struct{})
	go func() {
		defer close(sigDone)
		select {
		case sig := <-sigCh:
			received, _ = sig.(syscall.Signal)
			logger.Warn().Str("signal", sig.String()).Msg("Termination requested, aborting task")
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info().Int("pid", os.Getpid()).Msg("Runner started")
	report, err := r.Run(ctx, taskID, command)
	cancel()
	<-sigDone

	if err != nil {
		logger.Error().Err(err).Msg("Runner failed")
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidTransition) {
			exitCode = exitUsage
		}
		return err
	}

	logger.Info().
		Str("status", string(report.Status)).
		Int("jobs", report.Jobs).
		Int("failed", report.Failed).
		Bool("canceled", report.Canceled).
		Msg("Runner finished")

	switch {
	case received != 0:
		exitCode = 128 + int(received)
	case report.Status == types.StatusSuccess:
		exitCode = exitSuccess
	default:
		exitCode = exitFailure
	}
	return nil
}
