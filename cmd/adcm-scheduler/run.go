package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/arenadata/adcm/pkg/api"
	"github.com/arenadata/adcm/pkg/lock"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/metrics"
	"github.com/arenadata/adcm/pkg/scheduler"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the launcher, monitor and recoverer",
	Long: `Start the supervisor. The recoverer runs once to repair the store, then
the launcher and monitor run until the process receives SIGINT or SIGTERM.

Health is served over HTTP on METRICS_ADDR (/health, /ready, /metrics) and
over gRPC on GRPC_ADDR (grpc.health.v1, one service per loop).`,
	Args: cobra.NoArgs,
	RunE: runSupervisor,
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	cfg, store, err := setup(true)
	if err != nil {
		return err
	}
	defer log.Close()
	defer store.Close()

	logger := log.WithComponent("adcm-scheduler")

	pidLock := lock.NewFileLock(filepath.Join(cfg.RunDir, "adcm-scheduler.pid"))
	if err := pidLock.TryLock(); err != nil {
		return err
	}
	defer pidLock.Unlock()

	if !cfg.SupervisorEnabled() {
		logger.Warn().
			Str("feature_job_scheduler", cfg.SchedulerEngine).
			Msg("Legacy scheduler engine requested; running the supervisor anyway")
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	api.Version = Version
	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("store", scheduler.LoopLauncher, scheduler.LoopMonitor)

	srv := api.NewServer(scheduler.Loops...)
	serveAPI(ctx, cfg, api.NewHealthServer(store), srv)

	collector := metrics.NewCollector(store, cfg.MonitorInterval, cfg.HeartbeatStale)
	collector.Start()
	defer collector.Stop()

	sup := scheduler.NewSupervisor(scheduler.SupervisorOptions{
		Command: func(loop string) *exec.Cmd {
			args := []string{"loop", loop}
			if configFile != "" {
				args = append(args, "--config", configFile)
			}
			c := exec.Command(self, args...)
			c.Stdout = log.Output()
			c.Stderr = log.Output()
			return c
		},
		RestartBackoff: cfg.RestartBackoff,
		Grace:          cfg.CancelGrace,
		OnStatus:       srv.SetLoopStatus,
	})

	logger.Info().
		Str("db", cfg.DBPath).
		Str("queuer", cfg.Queuer).
		Str("metrics_addr", cfg.MetricsAddr).
		Str("grpc_addr", cfg.GRPCAddr).
		Msg("Scheduler starting")

	err = sup.Run(ctx)
	logger.Info().Msg("Scheduler stopped")
	return err
}
