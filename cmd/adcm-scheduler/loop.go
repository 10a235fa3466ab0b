package main

import (
	"fmt"

	"github.com/arenadata/adcm/pkg/lifecycle"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/queuer"
	"github.com/arenadata/adcm/pkg/scheduler"
	"github.com/spf13/cobra"
)

// loopCmd is what the supervisor spawns for each child
var loopCmd = &cobra.Command{
	Use:       "loop <launcher|monitor|recoverer>",
	Short:     "Run a single scheduler loop in the foreground",
	Hidden:    true,
	Args:      cobra.ExactArgs(1),
	ValidArgs: scheduler.Loops,
	RunE:      runLoop,
}

func runLoop(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, store, err := setup(false)
	if err != nil {
		return err
	}
	defer log.Close()
	defer store.Close()

	broker, stopEvents := startEvents()
	defer stopEvents()

	var q queuer.Queuer
	if name == scheduler.LoopLauncher {
		if q, err = queuer.New(cfg, store); err != nil {
			return fmt.Errorf("failed to create queuer: %w", err)
		}
	}

	manager := lifecycle.NewManager(store, broker, cfg.WorkerHostname, cfg.CancelGrace)
	sched := scheduler.New(store, manager, q, broker, scheduler.Options{
		Hostname:         cfg.WorkerHostname,
		LauncherInterval: cfg.LauncherInterval,
		MonitorInterval:  cfg.MonitorInterval,
		LaunchRate:       cfg.LaunchRate,
		ClaimTTL:         cfg.ClaimTTL,
		HeartbeatStale:   cfg.HeartbeatStale,
	})

	ctx, cancel := signalContext()
	defer cancel()

	logger := log.WithLoop(name)
	logger.Info().Msg("Loop started")
	if err := sched.RunLoop(ctx, name); err != nil {
		logger.Error().Err(err).Msg("Loop failed")
		return err
	}
	logger.Info().Msg("Loop stopped")
	return nil
}
