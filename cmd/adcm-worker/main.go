// adcm-worker is the distributed worker agent. It heartbeats into the
// store, claims tasks queued for its host and runs them with task_runner.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/arenadata/adcm/pkg/api"
	"github.com/arenadata/adcm/pkg/config"
	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/lock"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/queuer"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/worker"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"

	configFile string
	metricsOn  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "adcm-worker",
	Short:        "ADCM distributed worker agent",
	Version:      Version,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the worker agent",
	Long: `Start the worker agent on this host. The agent writes a heartbeat every
HEARTBEAT_INTERVAL, claims work items addressed to WORKER_HOSTNAME and
spawns one task_runner per claimed task. On SIGINT or SIGTERM its runners
are terminated before the agent exits.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (defaults to environment only)")
	runCmd.Flags().BoolVar(&metricsOn, "metrics", false, "Serve /health, /ready and /metrics on METRICS_ADDR")
	rootCmd.AddCommand(runCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
	}); err != nil {
		return err
	}
	defer log.Close()

	pidLock := lock.NewFileLock(filepath.Join(cfg.RunDir, "adcm-worker.pid"))
	if err := pidLock.TryLock(); err != nil {
		return err
	}
	defer pidLock.Unlock()

	store, err := storage.NewBoltStore(cfg.DBPath, storage.Options{
		Shared:      true,
		LockTimeout: cfg.StoreLockTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
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
	w, err := worker.NewWorker(store, manager, broker, worker.Config{
		Hostname:          cfg.WorkerHostname,
		RunnerBin:         cfg.RunnerBin,
		Env:               queuer.RunnerEnv(cfg),
		ErrFile:           cfg.RunnerErrPath(),
		HeartbeatInterval: cfg.HeartbeatInterval,
		Grace:             cfg.CancelGrace,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if metricsOn {
		api.Version = Version
		metrics.SetVersion(Version)
		metrics.SetCriticalComponents("store")
		hs := api.NewHealthServer(store)
		go func() {
			if err := hs.Serve(ctx, cfg.MetricsAddr); err != nil {
				apiLogger := log.WithComponent("api")
				apiLogger.Error().Err(err).Msg("Metrics endpoint stopped")
			}
		}()
	}

	startLogger := log.WithComponent("adcm-worker")
	startLogger.Info().
		Str("hostname", w.Hostname()).
		Str("worker_id", w.ID()).
		Str("runner", cfg.RunnerBin).
		Msg("Worker agent starting")

	return w.Run(ctx)
}
