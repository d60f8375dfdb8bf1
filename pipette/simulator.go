package pipette

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
	"github.com/timzifer/artbot/tips"
)

// Action names recorded by the Simulator and used for fault injection.
const (
	OpPickUpTip = "pick_up_tip"
	OpDropTip   = "drop_tip"
	OpAspirate  = "aspirate"
	OpDispense  = "dispense"
	OpMoveTo    = "move_to"
	OpTouchTip  = "touch_tip"
)

// DefaultPresses is the pickup press count used when the caller does not set one.
const DefaultPresses = 3

// volumePlaces is the resolution of tracked volumes (0.1 nl).
const volumePlaces = 4

// Action is one entry of the simulator's action log.
type Action struct {
	Op       string
	Volume   float64
	Location string
	Point    labware.Point
	Tip      string
	Presses  int
	NumTips  int
	VOffset  float64
}

func (a Action) String() string {
	switch a.Op {
	case OpAspirate, OpDispense:
		return fmt.Sprintf("%s %.4g uL %s", a.Op, a.Volume, a.Location)
	case OpPickUpTip:
		return fmt.Sprintf("%s %s (%d presses)", a.Op, a.Tip, a.Presses)
	case OpTouchTip:
		return fmt.Sprintf("%s %s v_offset=%.2f", a.Op, a.Location, a.VOffset)
	default:
		return fmt.Sprintf("%s %s", a.Op, a.Location)
	}
}

type injectedFault struct {
	after int
	err   error
}

// Simulator is an in-memory instrument. It enforces the physical constraints
// of a real pipette and records every action, which makes it the instrument
// for dry runs and tests.
type Simulator struct {
	mu      sync.Mutex
	model   Model
	tracker *TipTracker
	logger  zerolog.Logger

	tip     *labware.Well
	volume  decimal.Decimal
	actions []Action
	calls   map[string]int
	inject  map[string]injectedFault
}

// NewSimulator returns a simulated pipette of the given model drawing tips from racks.
func NewSimulator(model Model, racks []*tips.Rack, logger zerolog.Logger) *Simulator {
	return &Simulator{
		model:   model,
		tracker: NewTipTracker(racks),
		logger:  logger.With().Str("instrument", model.Name).Logger(),
		volume:  decimal.Zero,
		calls:   make(map[string]int),
		inject:  make(map[string]injectedFault),
	}
}

// Name implements Instrument.
func (s *Simulator) Name() string { return s.model.Name }

// Channels implements Instrument.
func (s *Simulator) Channels() int { return s.model.Channels }

// MaxVolume implements Instrument.
func (s *Simulator) MaxVolume() float64 { return s.model.MaxVolume }

// CurrentVolume implements Instrument.
func (s *Simulator) CurrentVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume.InexactFloat64()
}

// HasTip implements Instrument.
func (s *Simulator) HasTip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip != nil
}

// Tip returns the well the attached tip came from.
func (s *Simulator) Tip() *labware.Well {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tip
}

// InjectFault makes the call of op following `after` successful calls fail
// with err. The fault fires once.
func (s *Simulator) InjectFault(op string, after int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inject[op] = injectedFault{after: after, err: err}
}

// Actions returns a copy of the action log.
func (s *Simulator) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.actions...)
}

// Count returns how many times op succeeded.
func (s *Simulator) Count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.actions {
		if a.Op == op {
			n++
		}
	}
	return n
}

// PickUpTip implements Instrument.
func (s *Simulator) PickUpTip() error {
	return s.PickUpTipWith(PickUpOptions{})
}

// PickUpTipWith implements Instrument.
func (s *Simulator) PickUpTipWith(opts PickUpOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fire(OpPickUpTip); err != nil {
		return err
	}
	if s.tip != nil {
		return faults.Hardwaref(OpPickUpTip, "%s already holds a tip from %s", s.model.Name, s.tip)
	}
	numTips := opts.NumTips
	if numTips <= 0 {
		numTips = s.model.Channels
	}
	presses := opts.Presses
	if presses <= 0 {
		presses = DefaultPresses
	}
	tip, rack, err := s.tracker.Select(opts.Location, numTips)
	if err != nil {
		return err
	}
	s.tracker.Use(rack, tip, numTips)
	s.tip = tip
	s.volume = decimal.Zero
	s.record(Action{Op: OpPickUpTip, Tip: tip.Name(), Location: tip.String(), Point: tip.Top(0).Point, Presses: presses, NumTips: numTips})
	s.logger.Debug().Str("tip", tip.String()).Int("presses", presses).Msg("picked up tip")
	return nil
}

// DropTip implements Instrument. Liquid left in the tip is discarded with it.
func (s *Simulator) DropTip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fire(OpDropTip); err != nil {
		return err
	}
	if s.tip == nil {
		return faults.Hardwaref(OpDropTip, "%s has no tip to drop", s.model.Name)
	}
	if s.volume.IsPositive() {
		s.logger.Debug().Str("volume", s.volume.String()).Msg("discarding residual volume")
	}
	s.record(Action{Op: OpDropTip, Tip: s.tip.Name(), Volume: s.volume.InexactFloat64(), Location: "trash"})
	s.tip = nil
	s.volume = decimal.Zero
	return nil
}

// Aspirate implements Instrument.
func (s *Simulator) Aspirate(volume float64, source labware.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fire(OpAspirate); err != nil {
		return err
	}
	if s.tip == nil {
		return faults.Hardwaref(OpAspirate, "cannot aspirate without a tip")
	}
	v := quantize(volume)
	if !v.IsPositive() {
		return faults.Hardwaref(OpAspirate, "aspirate volume must be positive, got %v", volume)
	}
	next := s.volume.Add(v)
	if next.GreaterThan(quantize(s.model.MaxVolume)) {
		return faults.Hardwaref(OpAspirate, "aspirating %s uL would exceed %s capacity (%s uL held, max %v)",
			v, s.model.Name, s.volume, s.model.MaxVolume)
	}
	if volume < s.model.MinVolume {
		s.logger.Debug().Float64("volume", volume).Float64("min", s.model.MinVolume).Msg("aspirating below rated minimum")
	}
	s.volume = next
	s.record(Action{Op: OpAspirate, Volume: v.InexactFloat64(), Location: source.String(), Point: source.Point})
	return nil
}

// Dispense implements Instrument at the current position.
func (s *Simulator) Dispense(volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fire(OpDispense); err != nil {
		return err
	}
	if s.tip == nil {
		return faults.Hardwaref(OpDispense, "cannot dispense without a tip")
	}
	v := quantize(volume)
	if !v.IsPositive() {
		return faults.Hardwaref(OpDispense, "dispense volume must be positive, got %v", volume)
	}
	if v.GreaterThan(s.volume) {
		return faults.Hardwaref(OpDispense, "dispensing %s uL but only %s uL held", v, s.volume)
	}
	s.volume = s.volume.Sub(v)
	location, point := s.position()
	s.record(Action{Op: OpDispense, Volume: v.InexactFloat64(), Location: location, Point: point})
	return nil
}

// MoveTo implements Instrument.
func (s *Simulator) MoveTo(target labware.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fire(OpMoveTo); err != nil {
		return err
	}
	s.record(Action{Op: OpMoveTo, Location: target.String(), Point: target.Point})
	return nil
}

// TouchTip implements Instrument.
func (s *Simulator) TouchTip(source labware.Location, vOffset float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fire(OpTouchTip); err != nil {
		return err
	}
	if s.tip == nil {
		return faults.Hardwaref(OpTouchTip, "cannot touch tip without a tip")
	}
	s.record(Action{Op: OpTouchTip, Location: source.String(), Point: source.Point, VOffset: vOffset})
	return nil
}

// position returns the last location the pipette moved to or aspirated from.
func (s *Simulator) position() (string, labware.Point) {
	for i := len(s.actions) - 1; i >= 0; i-- {
		switch s.actions[i].Op {
		case OpMoveTo, OpAspirate, OpTouchTip:
			return s.actions[i].Location, s.actions[i].Point
		}
	}
	return "", labware.Point{}
}

func (s *Simulator) fire(op string) error {
	s.calls[op]++
	f, ok := s.inject[op]
	if !ok || s.calls[op] <= f.after {
		return nil
	}
	delete(s.inject, op)
	return faults.Hardware(op, f.err)
}

func (s *Simulator) record(a Action) {
	s.actions = append(s.actions, a)
}

func quantize(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(volumePlaces)
}
