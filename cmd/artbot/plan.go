package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/internal/reload"
	"github.com/timzifer/artbot/protocol"
	"github.com/timzifer/artbot/telemetry"
)

func newPlanCmd() *cobra.Command {
	var (
		flagWatch    bool
		flagInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Dry-run the artwork on the simulator and report tips and volumes",
		Long: `plan builds the protocol against a simulated pipette of the configured model and
runs it to completion. With --watch the plan is recomputed whenever one of the
configuration files changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			collector := collectorFor(cfg, logger)
			out := cmd.OutOrStdout()
			if err := plan(out, cfg, logger, collector); err != nil && !flagWatch {
				return err
			} else if err != nil {
				logger.Error().Err(err).Msg("plan failed")
			}
			if !flagWatch {
				return nil
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			err = watchPlan(ctx, out, cfg, flagInterval, logger, collector)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "re-plan when configuration files change")
	cmd.Flags().DurationVar(&flagInterval, "interval", time.Second, "poll interval for --watch")
	return cmd
}

func plan(out io.Writer, cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) error {
	p, err := protocol.Build(cfg,
		protocol.WithLogger(logger),
		protocol.WithCollector(collector),
		protocol.WithInstrument(protocol.Simulated),
	)
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Fprintf(out, "Plan for %s on %s\n", p.Name(), p.Instrument().Name())
	printChecklist(out, p)
	summary, err := p.Run(context.Background())
	printSummary(out, summary)
	return err
}

func watchPlan(ctx context.Context, out io.Writer, cfg *config.Config, interval time.Duration, logger zerolog.Logger, collector telemetry.Collector) error {
	watcher, err := reload.NewWatcher(rootConfig, cfg)
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	logger.Info().Strs("files", watcher.Files()).Msg("watching configuration")
	return watcher.Watch(ctx, rootConfig, interval, func(changed []string) *config.Config {
		for _, file := range changed {
			collector.IncHotReload(file)
		}
		next, err := loadConfig()
		if err != nil {
			logger.Error().Err(err).Strs("changed", changed).Msg("failed to reload configuration")
			return nil
		}
		logger.Info().Strs("changed", changed).Msg("configuration reloaded")
		fmt.Fprintln(out)
		if err := plan(out, next, logger, collector); err != nil {
			logger.Error().Err(err).Msg("plan failed")
		}
		return next
	})
}
