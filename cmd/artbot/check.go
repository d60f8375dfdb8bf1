package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/protocol"
	"github.com/timzifer/artbot/telemetry"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the palette checklist",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, file := range config.SourceFiles(cfg) {
				fmt.Fprintf(out, "Source: %s\n", file)
			}
			for _, inc := range cfg.Modules {
				if label := describeModule(config.ModuleReference{File: inc.Path, Name: inc.Name, Description: inc.Description}); label != "" {
					fmt.Fprintf(out, "Module: %s\n", label)
				}
			}

			p, err := protocol.Build(cfg,
				protocol.WithCollector(telemetry.Noop()),
				protocol.WithInstrument(protocol.Simulated),
			)
			if err != nil {
				fmt.Fprintln(out, "Configuration check completed with errors.")
				return err
			}
			defer p.Close()
			if err := p.Validate(); err != nil {
				fmt.Fprintln(out, "Configuration check completed with errors.")
				return err
			}

			for _, lw := range p.Deck().Labware() {
				fmt.Fprintf(out, "Slot %2d: %s\n", lw.Slot(), lw.LoadName())
			}
			for _, b := range p.Batches() {
				fmt.Fprintf(out, "Reagent %s: %d pixels at %.4g uL\n", b.Label(), len(b.Targets), b.Dose)
			}
			printChecklist(out, p)
			fmt.Fprintln(out, "Configuration check completed successfully.")
			return nil
		},
	}
}
