package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/arenadata/adcm/pkg/storage"
	"github.com/arenadata/adcm/pkg/types"
	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect entity locks",
}

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lock concerns and the entities they cover",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var locks []*types.Concern
		err = store.View(func(tx storage.Tx) error {
			locks, err = tx.ListConcerns(types.ConcernLock)
			return err
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTASK\tOWNER\tENTITIES")
		for _, c := range locks {
			fmt.Fprintf(w, "%d\t%d\t%s\t%d\n", c.ID, c.TaskID, c.Owner, len(c.Related))
		}
		return w.Flush()
	},
}

func init() {
	lockCmd.AddCommand(lockListCmd)
}
