package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll and print the stage position until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if monitorInterval <= 0 {
			return errors.New("interval must be positive")
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		ctrl, cleanup, err := connectStage(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				pos, err := ctrl.QueryPosition(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				fmt.Printf("%s  stage %d  %.3f mm  %s\n",
					time.Now().Format(time.RFC3339), stageIndex, pos, ctrl.State())
			}
		}
	},
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Polling interval")
	rootCmd.AddCommand(monitorCmd)
}
