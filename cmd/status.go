package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caliblab/linearstage/stage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the motion state of the stage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		ctrl, cleanup, err := connectStage(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		printTelemetry(ctrl.Profile(), ctrl.Telemetry())

		return nil
	},
}

func printTelemetry(profile stage.StageProfile, ms stage.MotionState) {
	fmt.Printf("stage:    %s (%s)\n", profile.Name, profile.AxisLabel)
	fmt.Printf("travel:   %.3f .. %.3f mm\n", profile.MinPosition, profile.MaxPosition)
	fmt.Printf("state:    %s\n", ms.State)
	fmt.Printf("homed:    %t\n", ms.Homed)
	if ms.PositionKnown {
		fmt.Printf("position: %.3f mm\n", ms.Position)
	} else {
		fmt.Printf("position: unknown\n")
	}
	if ms.FaultReason != "" {
		fmt.Printf("fault:    %s\n", ms.FaultReason)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
