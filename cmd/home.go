package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Drive the stage to its home reference position",
	Long: `Drives the stage to its physical reference position and waits for the
cycle to finish. Once homed, absolute and relative moves are accepted; a
stage that already reports a retained home reference does not need this.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		ctrl, cleanup, err := connectStage(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if ctrl.Telemetry().Homed {
			fmt.Printf("stage %d already holds a home reference, homing anyway\n", stageIndex)
		}

		if err := ctrl.Home(ctx); err != nil {
			return err
		}

		ms := ctrl.Telemetry()
		fmt.Printf("stage %d homed at %.3f mm\n", stageIndex, ms.Position)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(homeCmd)
}
