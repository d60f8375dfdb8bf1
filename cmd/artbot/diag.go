package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timzifer/artbot/protocol"
)

func newDiagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Hardware checks for a freshly set up deck",
	}
	cmd.AddCommand(newDiagTipCmd(), newDiagCenterCmd())
	return cmd
}

// flagDiagDryRun is shared by the diag subcommands.
var flagDiagDryRun bool

func buildDiag() (*protocol.Protocol, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts := []protocol.Option{protocol.WithLogger(logger), protocol.WithCollector(collectorFor(cfg, logger))}
	if flagDiagDryRun {
		opts = append(opts, protocol.WithInstrument(protocol.Simulated))
	}
	p, err := protocol.Build(cfg, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, func() {
		_ = p.Close()
		cleanup()
	}, nil
}

func newDiagTipCmd() *cobra.Command {
	var flagWell string
	cmd := &cobra.Command{
		Use:   "tip",
		Short: "Pick up one tip and eject it again",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, done, err := buildDiag()
			if err != nil {
				return err
			}
			defer done()
			if err := p.TipCheck(context.Background(), flagWell); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s picked up and dropped a tip.\n", p.Instrument().Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&flagWell, "well", "", "tip position in the first rack, e.g. H1 (default: next tip)")
	cmd.Flags().BoolVar(&flagDiagDryRun, "dry-run", false, "use the simulator")
	return cmd
}

func newDiagCenterCmd() *cobra.Command {
	var (
		flagCanvas string
		flagZ      float64
	)
	cmd := &cobra.Command{
		Use:   "center",
		Short: "Move a tip to the centre of a canvas to check its offset",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, done, err := buildDiag()
			if err != nil {
				return err
			}
			defer done()
			target, err := p.CenterCheck(context.Background(), flagCanvas, flagZ)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved to %s.\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagCanvas, "canvas", "", "canvas title (default: first canvas)")
	cmd.Flags().Float64Var(&flagZ, "z", protocol.DefaultCenterHeight, "height as a fraction of the canvas depth above its centre")
	cmd.Flags().BoolVar(&flagDiagDryRun, "dry-run", false, "use the simulator")
	return cmd
}
