package protocol

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/events"
	"github.com/timzifer/artbot/journal"
	"github.com/timzifer/artbot/pipette"
	"github.com/timzifer/artbot/telemetry"
	"github.com/timzifer/artbot/tips"
)

// Option configures a protocol during Build.
type Option func(*settings) error

// Opener creates the instrument for the loaded tip racks. pipette.Open is the
// default.
type Opener func(cfg config.InstrumentConfig, racks []*tips.Rack, logger zerolog.Logger) (pipette.Instrument, error)

// Journal records runs. *journal.Journal implements it.
type Journal interface {
	BeginRun(ctx context.Context, name, configPath, instrument string) (journal.Run, error)
	RecordDistribution(ctx context.Context, d journal.Distribution) error
	FinishRun(ctx context.Context, runID, status string, runErr error) error
}

type settings struct {
	logger    zerolog.Logger
	collector telemetry.Collector
	journal   Journal
	publisher events.Publisher
	open      Opener
}

// WithLogger provides a custom logger instance for the protocol.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		return nil
	}
}

// WithCollector injects a telemetry collector overriding the configuration-based one.
func WithCollector(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.collector = collector
		return nil
	}
}

// WithJournal records every run in j.
func WithJournal(j Journal) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.journal = j
		return nil
	}
}

// WithPublisher publishes run progress through p.
func WithPublisher(p events.Publisher) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if p == nil {
			p = events.Noop()
		}
		cfg.publisher = p
		return nil
	}
}

// WithInstrument replaces the driver registry lookup used to open the pipette.
func WithInstrument(open Opener) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if open == nil {
			return errInstrumentOpener
		}
		cfg.open = open
		return nil
	}
}

// Simulated opens the configured pipette model on the simulator driver,
// whatever driver the configuration names.
func Simulated(cfg config.InstrumentConfig, racks []*tips.Rack, logger zerolog.Logger) (pipette.Instrument, error) {
	cfg.Driver = config.DefaultDriver
	return pipette.Open(cfg, racks, logger)
}
