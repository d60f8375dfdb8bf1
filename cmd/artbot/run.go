package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/events"
	"github.com/timzifer/artbot/journal"
	"github.com/timzifer/artbot/protocol"
	"github.com/timzifer/artbot/telemetry"
)

func newRunCmd() *cobra.Command {
	var (
		flagMetricsListen string
		flagDryRun        bool
		flagNoJournal     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Paint the configured artwork",
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

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			opts := []protocol.Option{protocol.WithLogger(logger)}
			if flagDryRun {
				opts = append(opts, protocol.WithInstrument(protocol.Simulated))
			}

			listen := flagMetricsListen
			if listen == "" && cfg.Telemetry.Enabled {
				listen = cfg.Telemetry.Listen
			}
			if listen != "" {
				collector, err := telemetry.NewPrometheusCollector(nil)
				if err != nil {
					return fmt.Errorf("metrics: %w", err)
				}
				opts = append(opts, protocol.WithCollector(collector))
				stop := serveMetrics(listen, logger)
				defer stop()
			}

			if cfg.Journal.Enabled && !flagNoJournal {
				j, err := journal.Open(journalPath(cfg))
				if err != nil {
					return err
				}
				defer j.Close()
				opts = append(opts, protocol.WithJournal(j))
			}

			if cfg.Events.Enabled {
				publisher, err := events.NewMQTT(cfg.Events, logger)
				if err != nil {
					return fmt.Errorf("events: %w", err)
				}
				defer publisher.Close()
				opts = append(opts, protocol.WithPublisher(publisher))
			}

			p, err := protocol.Build(cfg, opts...)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			printChecklist(out, p)
			summary, err := p.Run(ctx)
			printSummary(out, summary)
			return err
		},
	}

	cmd.Flags().StringVar(&flagMetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9100 (default telemetry.listen)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "run against the simulator instead of the configured driver")
	cmd.Flags().BoolVar(&flagNoJournal, "no-journal", false, "do not record the run in the journal")
	return cmd
}

func serveMetrics(addr string, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// collectorFor returns the configured collector, falling back to Noop.
func collectorFor(cfg *config.Config, logger zerolog.Logger) telemetry.Collector {
	collector, err := protocol.NewCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		return telemetry.Noop()
	}
	return collector
}
