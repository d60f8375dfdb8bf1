package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/timzifer/artbot/journal"
)

func newHistoryCmd() *cobra.Command {
	var (
		flagLimit int
		flagRun   string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			j, err := journal.Open(journalPath(cfg))
			if err != nil {
				return err
			}
			defer j.Close()

			ctx := context.Background()
			out := cmd.OutOrStdout()
			if flagRun != "" {
				dists, err := j.Distributions(ctx, flagRun)
				if err != nil {
					return err
				}
				if len(dists) == 0 {
					fmt.Fprintf(out, "No distributions recorded for run %s.\n", flagRun)
					return nil
				}
				for _, d := range dists {
					fmt.Fprintf(out, "reagent %-8s well %-4s %4d/%-4d pixels  %2d tips  %8.2f uL aspirated  %6.2f uL discarded  %s\n",
						d.Reagent, d.Well, d.Dispensed, d.Targets, d.TipsUsed, d.Aspirated, d.Discarded,
						d.FinishedAt.Sub(d.StartedAt).Round(time.Second))
					if d.Error != "" {
						fmt.Fprintf(out, "    error: %s\n", d.Error)
					}
				}
				return nil
			}

			runs, err := j.Runs(ctx, flagLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			for _, run := range runs {
				printRun(out, run)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "number of runs to show, 0 for all")
	cmd.Flags().StringVar(&flagRun, "run", "", "show the distributions of one run")
	return cmd
}
