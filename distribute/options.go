package distribute

import (
	"github.com/rs/zerolog"

	"github.com/timzifer/artbot/telemetry"
)

// Option customises a Distributor.
type Option func(*Distributor)

// WithLogger provides a custom logger instance.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Distributor) {
		d.logger = logger
	}
}

// WithCollector routes dosing metrics to collector.
func WithCollector(collector telemetry.Collector) Option {
	return func(d *Distributor) {
		if collector != nil {
			d.collector = collector
		}
	}
}

// WithTouchTipPolicy selects when the tip is touched off after a refill.
func WithTouchTipPolicy(policy TouchTipPolicy) Option {
	return func(d *Distributor) {
		if policy != nil {
			d.touchTip = policy
		}
	}
}

// WithBatchLimit sets the maximum number of dispenses per tip. Values below
// one keep the default.
func WithBatchLimit(limit int) Option {
	return func(d *Distributor) {
		if limit > 0 {
			d.batchLimit = limit
		}
	}
}

// WithNewTipPerRefill makes every refill start with a fresh tip.
func WithNewTipPerRefill(enabled bool) Option {
	return func(d *Distributor) {
		d.newTipPerRefill = enabled
	}
}
