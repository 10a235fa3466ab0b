// adcmctl is the operator CLI: it loads fixtures, builds and cancels tasks
// and inspects the store.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arenadata/adcm/pkg/config"
	"github.com/arenadata/adcm/pkg/events"
	"github.com/arenadata/adcm/pkg/log"
	"github.com/arenadata/adcm/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"

	configFile string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "adcmctl",
	Short: "Operate the ADCM job subsystem",
	Long: `adcmctl builds tasks from actions, cancels them and inspects tasks, jobs,
logs and locks in the ADCM store.

Examples:
  # Load bundle metadata and entities
  adcmctl seed fixtures.yaml

  # Run action 1 on cluster 1
  adcmctl task run --action 1 --target cluster:1

  # Follow up
  adcmctl task show 1`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (defaults to environment only)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "debug", "d", false, "Log at debug level")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(storeCmd)
}

// openStore loads configuration, sets up stderr logging and opens the
// shared store
func openStore() (*config.Config, storage.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	level := log.WarnLevel
	if verbose {
		level = log.DebugLevel
	}
	if err := log.Init(log.Config{Level: level, Output: os.Stderr}); err != nil {
		return nil, nil, err
	}

	store, err := storage.NewBoltStore(cfg.DBPath, storage.Options{
		Shared:      true,
		LockTimeout: cfg.StoreLockTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cfg, store, nil
}

// withEvents runs fn with a broker whose events go to the audit log
func withEvents(fn func(events.Publisher) error) error {
	broker := events.NewBroker()
	broker.Start()
	audit := events.NewAuditSink(broker, log.Logger)
	go audit.Run()
	defer func() {
		broker.Stop()
		audit.Wait()
	}()
	return fn(broker)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
