package main

import (
	"fmt"

	"github.com/arenadata/adcm/pkg/seed"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Load prototypes, actions, entities and mappings from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := seed.LoadFile(args[0])
		if err != nil {
			return err
		}

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sum, err := f.Apply(store)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Seeded %d prototypes, %d actions, %d entities, %d mappings\n",
			sum.Prototypes, sum.Actions, sum.Entities, sum.HostComponents)
		return nil
	},
}
