// adcm-scheduler supervises the launcher, monitor and recoverer loops
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arenadata/adcm/pkg/api"
	"github.com/arenadata/adcm/pkg/config"
	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"

	configFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "adcm-scheduler",
	Short: "ADCM job scheduler",
	Long: `adcm-scheduler dispatches created tasks to runners, watches launched
tasks for dead executors and repairs the store after a restart.

Every loop runs in its own child process under a supervisor that restarts
it when it exits.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"adcm-scheduler version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (defaults to environment only)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loopCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// setup loads configuration, initializes logging and opens the shared store
func setup(rotate bool) (*config.Config, storage.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	logCfg := log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
		// Loop children write through the supervisor's log
		NoColor: !rotate,
	}
	if rotate {
		logCfg.Rotate = &log.RotateConfig{
			Path:       cfg.SchedulerLogPath(),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		}
		logCfg.Tee = true
	}
	if err := log.Init(logCfg); err != nil {
		return nil, nil, err
	}

	store, err := storage.NewBoltStore(cfg.DBPath, storage.Options{
		Shared:      true,
		LockTimeout: cfg.StoreLockTimeout,
	})
	if err != nil {
		log.Close()
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cfg, store, nil
}

// startEvents starts a broker whose events are written to the audit log.
// The returned stop drains pending events.
func startEvents() (*events.Broker, func()) {
	broker := events.NewBroker()
	broker.Start()
	audit := events.NewAuditSink(broker, log.Logger)
	go audit.Run()
	return broker, func() {
		broker.Stop()
		audit.Wait()
	}
}

// serveAPI runs the HTTP and gRPC health endpoints until ctx is cancelled
func serveAPI(ctx context.Context, cfg *config.Config, hs *api.HealthServer, srv *api.Server) {
	logger := log.WithComponent("api")
	go func() {
		if err := hs.Serve(ctx, cfg.MetricsAddr); err != nil {
			logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics endpoint stopped")
		}
	}()
	go func() {
		if err := srv.Serve(ctx, cfg.GRPCAddr); err != nil {
			logger.Error().Err(err).Str("addr", cfg.GRPCAddr).Msg("gRPC health service stopped")
		}
	}()
}
