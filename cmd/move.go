package cmd

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

var moveRelative bool

var moveCmd = &cobra.Command{
	Use:   "move <position>",
	Short: "Move the stage to a position in millimeters",
	Long: `Moves the stage to an absolute position, or by a signed distance with
--relative. The stage must be homed; targets outside the model's travel
limits are rejected before anything is sent to the device.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[0], err)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		ctrl, cleanup, err := connectStage(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if moveRelative {
			err = ctrl.MoveRelative(ctx, value)
		} else {
			err = ctrl.MoveAbsolute(ctx, value)
		}
		if err != nil {
			return err
		}

		ms := ctrl.Telemetry()
		fmt.Printf("stage %d at %.3f mm\n", stageIndex, ms.Position)

		return nil
	},
}

func init() {
	moveCmd.Flags().BoolVarP(&moveRelative, "relative", "r", false, "Treat the position as a signed distance from the current position")
	rootCmd.AddCommand(moveCmd)
}
