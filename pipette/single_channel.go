package pipette

import (
	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
	"github.com/timzifer/artbot/tips"
)

// SingleChannelOptions configures the SingleChannel adapter.
type SingleChannelOptions struct {
	// ReverseTipOrder serves tips back to front through a tips.Sequencer per
	// rack. Without it tips are taken in native rack order.
	ReverseTipOrder bool
	// Presses is used for pickups that do not set their own count. Zero means one.
	Presses int
	// MinY rejects targets below this Y coordinate. Nil disables the check.
	MinY *float64
}

// SingleChannel drives a multi-channel pipette as if it had one channel:
// every pickup takes exactly one tip, chosen by the adapter, and is pressed
// on once by default.
type SingleChannel struct {
	Instrument
	sources []tips.Source
	presses int
	minY    *float64
}

// NewSingleChannel wraps inner. racks must be the racks inner draws from;
// with ReverseTipOrder they have to be fresh.
func NewSingleChannel(inner Instrument, racks []*tips.Rack, opts SingleChannelOptions) (*SingleChannel, error) {
	if inner == nil {
		return nil, faults.Configuration("single-channel adapter needs an instrument")
	}
	if len(racks) == 0 {
		return nil, faults.Configuration("single-channel adapter for %s needs at least one tip rack", inner.Name())
	}
	sources := make([]tips.Source, 0, len(racks))
	for _, rack := range racks {
		if !opts.ReverseTipOrder {
			sources = append(sources, rack)
			continue
		}
		seq, err := tips.NewSequencer(rack)
		if err != nil {
			return nil, err
		}
		sources = append(sources, seq)
	}
	presses := opts.Presses
	if presses <= 0 {
		presses = 1
	}
	return &SingleChannel{Instrument: inner, sources: sources, presses: presses, minY: opts.MinY}, nil
}

// Name implements Instrument.
func (s *SingleChannel) Name() string { return s.Instrument.Name() + "/single" }

// Channels always reports one channel.
func (s *SingleChannel) Channels() int { return 1 }

// Unwrap returns the wrapped instrument.
func (s *SingleChannel) Unwrap() Instrument { return s.Instrument }

// PickUpTip implements Instrument.
func (s *SingleChannel) PickUpTip() error {
	return s.PickUpTipWith(PickUpOptions{})
}

// PickUpTipWith picks up one tip. Without an explicit location the next tip
// from the adapter's sources is used.
func (s *SingleChannel) PickUpTipWith(opts PickUpOptions) error {
	if s.Instrument.HasTip() {
		return faults.Hardwaref(OpPickUpTip, "%s already holds a tip", s.Name())
	}
	if opts.Location == nil {
		tip, ok := s.nextTip()
		if !ok {
			return faults.Exhausted("tips", "%s has no tips left", s.Name())
		}
		opts.Location = tip
	}
	if opts.Presses <= 0 {
		opts.Presses = s.presses
	}
	opts.NumTips = 1
	return s.Instrument.PickUpTipWith(opts)
}

func (s *SingleChannel) nextTip() (*labware.Well, bool) {
	for _, src := range s.sources {
		if tip, ok := src.NextTip(1, nil); ok {
			return tip, true
		}
	}
	return nil, false
}

// MoveTo implements Instrument.
func (s *SingleChannel) MoveTo(target labware.Location) error {
	if err := s.Reachable(target); err != nil {
		return err
	}
	return s.Instrument.MoveTo(target)
}

// Aspirate implements Instrument.
func (s *SingleChannel) Aspirate(volume float64, source labware.Location) error {
	if err := s.Reachable(source); err != nil {
		return err
	}
	return s.Instrument.Aspirate(volume, source)
}

// TouchTip implements Instrument.
func (s *SingleChannel) TouchTip(source labware.Location, vOffset float64) error {
	if err := s.Reachable(source); err != nil {
		return err
	}
	return s.Instrument.TouchTip(source, vOffset)
}

// Reachable returns a ConfigurationError when loc lies below the minimum Y.
func (s *SingleChannel) Reachable(loc labware.Location) error {
	if s.minY == nil || loc.Point.Y >= *s.minY {
		return nil
	}
	return faults.Configuration("single-channel pipette cannot reach y=%.2f (minimum %.2f) at %s", loc.Point.Y, *s.minY, loc)
}

// CheckReach asks inst, or the first instrument it wraps that limits its
// reach, whether loc can be visited. Instruments without a limit accept
// every location.
func CheckReach(inst Instrument, loc labware.Location) error {
	for inst != nil {
		if r, ok := inst.(interface{ Reachable(labware.Location) error }); ok {
			return r.Reachable(loc)
		}
		wrapper, ok := inst.(interface{ Unwrap() Instrument })
		if !ok {
			return nil
		}
		inst = wrapper.Unwrap()
	}
	return nil
}
