// Package distribute implements the agar distributor: it doses a reagent onto
// an ordered list of target points, refilling the pipette only as often as
// capacity requires and changing tips at a fixed batch ceiling.
package distribute

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
	"github.com/timzifer/artbot/telemetry"
)

// DefaultBatchLimit is the maximum number of dispenses performed with one tip.
const DefaultBatchLimit = 150

// volumePlaces is the resolution of every volume computation (0.1 nl).
const volumePlaces = 4

// Device is the pipette capability set the distributor needs. It is borrowed
// for one Distribute call and returned without a tip.
type Device interface {
	MaxVolume() float64
	CurrentVolume() float64
	HasTip() bool
	PickUpTip() error
	DropTip() error
	Aspirate(volume float64, source labware.Location) error
	Dispense(volume float64) error
	MoveTo(target labware.Location) error
	TouchTip(source labware.Location, vOffset float64) error
}

// Request is one distribution: the same dose of one reagent onto every target.
type Request struct {
	Reagent        string
	Dose           float64
	DisposalVolume float64
	Source         labware.Location
	Targets        []labware.Location
}

// Result summarises a distribution.
type Result struct {
	Reagent     string
	Targets     int
	Dispensed   int
	Refills     int
	TipsUsed    int
	TouchTips   int
	Aspirations []float64
	Aspirated   float64
	// Discarded is the volume left in tips when they were dropped.
	Discarded   float64
}

// Distributor schedules aspirations, dispenses and tip changes.
type Distributor struct {
	logger          zerolog.Logger
	collector       telemetry.Collector
	touchTip        TouchTipPolicy
	batchLimit      int
	newTipPerRefill bool
}

// New returns a distributor with the gated touch-tip policy and a batch
// ceiling of DefaultBatchLimit.
func New(opts ...Option) *Distributor {
	d := &Distributor{
		logger:     zerolog.Nop(),
		collector:  telemetry.Noop(),
		touchTip:   TouchTipBelowDose(DefaultTouchTipThreshold),
		batchLimit: DefaultBatchLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// BatchLimit returns the configured batch ceiling.
func (d *Distributor) BatchLimit() int { return d.batchLimit }

// Validate checks the request against dev without touching the hardware.
func (d *Distributor) Validate(dev Device, req Request) error {
	_, _, _, err := volumes(dev, req)
	return err
}

func volumes(dev Device, req Request) (dose, disposal, maxVolume decimal.Decimal, err error) {
	if dev == nil {
		return dose, disposal, maxVolume, faults.Configuration("distribution of %q needs a device", req.Reagent)
	}
	dose = quantize(req.Dose)
	disposal = quantize(req.DisposalVolume)
	maxVolume = quantize(dev.MaxVolume())
	switch {
	case req.Dose <= 0:
		err = faults.Configuration("reagent %q: dose must be positive, got %v", req.Reagent, req.Dose)
	case !exact(req.Dose):
		err = faults.Configuration("reagent %q: dose %v is finer than the %s ul volume resolution", req.Reagent, req.Dose, resolution)
	case !exact(req.DisposalVolume):
		err = faults.Configuration("reagent %q: disposal volume %v is finer than the %s ul volume resolution",
			req.Reagent, req.DisposalVolume, resolution)
	case disposal.IsNegative():
		err = faults.Configuration("reagent %q: disposal volume must not be negative, got %v", req.Reagent, req.DisposalVolume)
	case dose.Add(disposal).GreaterThan(maxVolume):
		err = faults.Configuration("reagent %q: dose %v plus disposal %v exceeds pipette capacity %v",
			req.Reagent, req.Dose, req.DisposalVolume, dev.MaxVolume())
	}
	return dose, disposal, maxVolume, err
}

// Distribute doses req.Dose at every target in order. On success the device
// holds no tip. Device errors abort the call and are returned wrapped; no
// action is retried.
func (d *Distributor) Distribute(dev Device, req Request) (Result, error) {
	res := Result{Reagent: req.Reagent, Targets: len(req.Targets)}
	dose, disposal, maxVolume, err := volumes(dev, req)
	if err != nil {
		return res, err
	}
	logger := d.logger.With().Str("reagent", req.Reagent).Logger()
	run := &batch{
		Distributor: d,
		dev:         dev,
		req:         req,
		res:         &res,
		logger:      logger,
		dose:        dose,
		disposal:    disposal,
		maxVolume:   maxVolume,
		instrument:  instrumentName(dev),
	}
	err = run.execute()
	res.Aspirated = run.aspirated.InexactFloat64()
	res.Discarded = run.discarded.InexactFloat64()
	if err != nil {
		d.collector.IncFault(faults.Kind(err))
		logger.Error().Err(err).Int("dispensed", res.Dispensed).Msg("distribution aborted")
		return res, fmt.Errorf("distribute %q: %w", req.Reagent, err)
	}
	logger.Info().
		Int("targets", res.Targets).
		Int("refills", res.Refills).
		Int("tips", res.TipsUsed).
		Float64("aspirated", res.Aspirated).
		Msg("distribution complete")
	return res, nil
}

// batch is the state of one Distribute call.
type batch struct {
	*Distributor
	dev        Device
	req        Request
	res        *Result
	logger     zerolog.Logger
	instrument string

	dose, disposal, maxVolume decimal.Decimal
	aspirated, discarded      decimal.Decimal
	needsNewTip               bool
}

func (b *batch) execute() error {
	b.needsNewTip = true
	refillLevel := b.dose.Add(b.disposal)
	for i, target := range b.req.Targets {
		if (i+1)%b.batchLimit == 0 {
			b.needsNewTip = true
		}
		if b.needsNewTip || b.current().LessThan(refillLevel) {
			if err := b.refill(i); err != nil {
				return err
			}
		}
		if err := b.dev.MoveTo(target); err != nil {
			return fmt.Errorf("target %d: move: %w", i+1, err)
		}
		if err := b.dev.Dispense(b.dose.InexactFloat64()); err != nil {
			return fmt.Errorf("target %d: dispense: %w", i+1, err)
		}
		b.res.Dispensed++
		b.collector.IncDispense(b.req.Reagent)
	}
	if b.dev.HasTip() {
		if err := b.dropTip(); err != nil {
			return fmt.Errorf("final drop tip: %w", err)
		}
	}
	return nil
}

func (b *batch) refill(i int) error {
	if b.newTipPerRefill {
		b.needsNewTip = true
	}
	newTip := b.needsNewTip
	if b.needsNewTip {
		if b.dev.HasTip() {
			if err := b.dropTip(); err != nil {
				return fmt.Errorf("target %d: drop tip: %w", i+1, err)
			}
		}
		if err := b.dev.PickUpTip(); err != nil {
			return fmt.Errorf("target %d: pick up tip: %w", i+1, err)
		}
		b.needsNewTip = false
		b.res.TipsUsed++
		b.collector.IncTipPickup(b.instrument)
	}

	current := b.current()
	remaining := len(b.req.Targets) - i
	fill := b.dose.Mul(decimal.NewFromInt(int64(remaining))).Add(b.disposal)
	if fill.GreaterThan(b.maxVolume) {
		doses := b.maxVolume.Sub(b.disposal).Div(b.dose).Floor()
		fill = doses.Mul(b.dose).Add(b.disposal)
	}
	amount := fill.Sub(current)
	if !amount.IsPositive() {
		return nil
	}
	if err := b.dev.Aspirate(amount.InexactFloat64(), b.req.Source); err != nil {
		return fmt.Errorf("target %d: aspirate %s: %w", i+1, amount, err)
	}
	b.aspirated = b.aspirated.Add(amount)
	b.res.Refills++
	b.res.Aspirations = append(b.res.Aspirations, amount.InexactFloat64())
	b.collector.AddAspirated(b.req.Reagent, amount.InexactFloat64())
	b.logger.Debug().
		Int("target", i+1).
		Str("volume", amount.String()).
		Bool("new_tip", newTip).
		Msg("refill")

	touch, vOffset, err := b.touchTip.Decide(Refill{
		Index:     i,
		Dose:      b.dose.InexactFloat64(),
		Disposal:  b.disposal.InexactFloat64(),
		Aspirated: amount.InexactFloat64(),
		Current:   fill.InexactFloat64(),
		MaxVolume: b.maxVolume.InexactFloat64(),
		Remaining: remaining,
		NewTip:    newTip,
	})
	if err != nil {
		return fmt.Errorf("target %d: %w", i+1, err)
	}
	if touch {
		if err := b.dev.TouchTip(b.req.Source, vOffset); err != nil {
			return fmt.Errorf("target %d: touch tip: %w", i+1, err)
		}
		b.res.TouchTips++
	}
	return nil
}

func (b *batch) dropTip() error {
	held := b.current()
	if err := b.dev.DropTip(); err != nil {
		return err
	}
	b.discarded = b.discarded.Add(held)
	return nil
}

func (b *batch) current() decimal.Decimal {
	return quantize(b.dev.CurrentVolume())
}

func instrumentName(dev Device) string {
	if named, ok := dev.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "device"
}

// resolution is the smallest representable volume step.
var resolution = decimal.New(1, -volumePlaces)

// exact reports whether v survives quantize unchanged.
func exact(v float64) bool {
	raw := decimal.NewFromFloat(v)
	return raw.Equal(raw.Round(volumePlaces))
}

func quantize(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(volumePlaces)
}
