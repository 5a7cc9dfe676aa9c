package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "Read the current stage position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		ctrl, cleanup, err := connectStage(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		pos, err := ctrl.QueryPosition(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%.3f\n", pos)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(positionCmd)
}
