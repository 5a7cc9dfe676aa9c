package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caliblab/linearstage/stage"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the supported stage models",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		for _, name := range stage.ProfileNames() {
			p, err := stage.LookupProfile(name)
			if err != nil {
				return err
			}
			fmt.Printf("%-14s %10.3f steps/mm  travel %.0f..%.0f mm\n",
				p.Name, p.StepsPerUnit, p.MinPosition, p.MaxPosition)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
