package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caliblab/linearstage/config"
	"github.com/caliblab/linearstage/logger"
	"github.com/caliblab/linearstage/sim"
	"github.com/caliblab/linearstage/stage"
	"github.com/caliblab/linearstage/zabertcp"
)

var (
	cfgPath    string
	stageIndex int
)

var rootCmd = &cobra.Command{
	Use:   "linearstage",
	Short: "Zaber LST linear stage control",
	Long: `linearstage drives Zaber LST linear stages over their ASCII protocol.

Stages are described in a YAML configuration file; every command targets
one configured stage instance selected with --index. Stages marked
simulate: true run against an emulated device, so the full command set
works without hardware attached.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "stages.yaml", "Path to the stage configuration file")
	rootCmd.PersistentFlags().IntVarP(&stageIndex, "index", "i", 1, "Stage index to operate on")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func parseLevel(name string) logger.Level {
	switch name {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

// buildTransport creates the hardware or simulated transport for one
// configured stage.
func buildTransport(sc *config.StageConfig, profile stage.StageProfile) (stage.Transport, error) {
	if sc.Simulate {
		return sim.NewTransport(profile, sim.WithIndex(sc.Index))
	}

	connCfg, err := zabertcp.NewConnectionConfig(sc.Host, sc.Port,
		zabertcp.WithDeviceAddress(sc.DeviceAddress),
		zabertcp.WithAxis(sc.Axis),
		zabertcp.WithDialTimeout(sc.DialTimeout.Std()),
		zabertcp.WithReplyTimeout(sc.ReplyTimeout.Std()),
		zabertcp.WithRetryPolicy(sc.Retry.Policy()),
	)
	if err != nil {
		return nil, err
	}

	return zabertcp.NewConnection(connCfg)
}

// connectStage loads the configuration, builds the selected stage's
// controller and connects it. The returned cleanup disconnects.
func connectStage(ctx context.Context) (*stage.Controller, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	logger.SetLevel(parseLevel(cfg.LogLevel))

	sc, err := cfg.StageByIndex(stageIndex)
	if err != nil {
		return nil, nil, err
	}

	profile, err := stage.LookupProfile(sc.Stage)
	if err != nil {
		return nil, nil, err
	}

	tr, err := buildTransport(sc, profile)
	if err != nil {
		return nil, nil, err
	}

	ctrl, err := stage.NewController(profile, tr)
	if err != nil {
		return nil, nil, err
	}

	if err := ctrl.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect stage %d: %w", sc.Index, err)
	}

	cleanup := func() { _ = ctrl.Disconnect() }

	return ctrl, cleanup, nil
}
