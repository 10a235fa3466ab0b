package main

import (
	"fmt"
	"time"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Maintain the ADCM store",
}

var storeBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a consistent copy of the store",
	Long: `Write a consistent copy of the store while the scheduler and runners keep
working. The default destination is <db-path>.<timestamp>.backup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")

		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if out == "" {
			out = fmt.Sprintf("%s.%s.backup", cfg.DBPath, time.Now().UTC().Format("20060102T150405Z"))
		}
		bs, ok := store.(*storage.BoltStore)
		if !ok {
			return fmt.Errorf("store does not support backups")
		}
		if err := bs.Backup(out); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("✓ Backup written to %s\n", out)
		return nil
	},
}

func init() {
	storeBackupCmd.Flags().String("out", "", "Backup file path")
	storeCmd.AddCommand(storeBackupCmd)
}
