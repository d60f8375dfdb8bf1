package remote

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
	"github.com/timzifer/artbot/pipette"
	"github.com/timzifer/artbot/tips"
)

// Holding register layout of the gantry controller.
//
// Parameters are written first, then the command code. The controller sets
// the status register to StatusDone or StatusFault once the action finished;
// the host acknowledges by writing CommandNone.
const (
	RegCommand   uint16 = 0
	RegParams    uint16 = 1
	ParamCount   uint16 = 9
	RegStatus    uint16 = 100
	RegFaultCode uint16 = 101
	RegHasTip    uint16 = 102
)

// Command codes written to RegCommand.
const (
	CommandNone uint16 = iota
	CommandPickUpTip
	CommandDropTip
	CommandAspirate
	CommandDispense
	CommandMoveTo
	CommandTouchTip
)

// Controller status values read from RegStatus.
const (
	StatusIdle uint16 = iota
	StatusBusy
	StatusDone
	StatusFault
)

// Scaling of the parameter registers: coordinates in 0.01 mm, volumes in 0.1 nl.
const (
	coordinateScale = 100
	volumeScale     = 10000
	volumePlaces    = 4
)

const (
	defaultPollInterval  = 50 * time.Millisecond
	defaultActionTimeout = 2 * time.Minute
)

// params is the decoded content of the parameter registers.
type params struct {
	X, Y, Z int32
	Volume  int32
	Aux     int16
}

func (p params) encode() []byte {
	buf := make([]byte, 2*ParamCount)
	binary.BigEndian.PutUint32(buf[0:], uint32(p.X))
	binary.BigEndian.PutUint32(buf[4:], uint32(p.Y))
	binary.BigEndian.PutUint32(buf[8:], uint32(p.Z))
	binary.BigEndian.PutUint32(buf[12:], uint32(p.Volume))
	binary.BigEndian.PutUint16(buf[16:], uint16(p.Aux))
	return buf
}

func decodeParams(buf []byte) params {
	return params{
		X:      int32(binary.BigEndian.Uint32(buf[0:])),
		Y:      int32(binary.BigEndian.Uint32(buf[4:])),
		Z:      int32(binary.BigEndian.Uint32(buf[8:])),
		Volume: int32(binary.BigEndian.Uint32(buf[12:])),
		Aux:    int16(binary.BigEndian.Uint16(buf[16:])),
	}
}

func pointParams(p labware.Point) params {
	return params{
		X: int32(math.Round(p.X * coordinateScale)),
		Y: int32(math.Round(p.Y * coordinateScale)),
		Z: int32(math.Round(p.Z * coordinateScale)),
	}
}

// Gantry is a pipette on a Modbus controlled gantry. Tip selection and held
// volume are tracked on the host; the controller only executes motions.
type Gantry struct {
	mu       sync.Mutex
	client   Client
	model    pipette.Model
	tracker  *pipette.TipTracker
	logger   zerolog.Logger
	poll     time.Duration
	deadline time.Duration
	sleep    func(time.Duration)

	tip    *labware.Well
	volume decimal.Decimal
}

// NewGantry drives the gantry behind client as a pipette of the given model.
func NewGantry(client Client, model pipette.Model, racks []*tips.Rack, cfg config.ModbusConfig, logger zerolog.Logger) *Gantry {
	poll := cfg.PollInterval.Duration
	if poll <= 0 {
		poll = defaultPollInterval
	}
	deadline := cfg.ActionTimeout.Duration
	if deadline <= 0 {
		deadline = defaultActionTimeout
	}
	return &Gantry{
		client:   client,
		model:    model,
		tracker:  pipette.NewTipTracker(racks),
		logger:   logger.With().Str("instrument", model.Name).Str("driver", "modbus").Logger(),
		poll:     poll,
		deadline: deadline,
		sleep:    time.Sleep,
		volume:   decimal.Zero,
	}
}

// Close releases the Modbus connection.
func (g *Gantry) Close() error {
	return g.client.Close()
}

// Name implements pipette.Instrument.
func (g *Gantry) Name() string { return g.model.Name }

// Channels implements pipette.Instrument.
func (g *Gantry) Channels() int { return g.model.Channels }

// MaxVolume implements pipette.Instrument.
func (g *Gantry) MaxVolume() float64 { return g.model.MaxVolume }

// CurrentVolume implements pipette.Instrument.
func (g *Gantry) CurrentVolume() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.volume.InexactFloat64()
}

// HasTip implements pipette.Instrument.
func (g *Gantry) HasTip() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tip != nil
}

// PickUpTip implements pipette.Instrument.
func (g *Gantry) PickUpTip() error {
	return g.PickUpTipWith(pipette.PickUpOptions{})
}

// PickUpTipWith implements pipette.Instrument.
func (g *Gantry) PickUpTipWith(opts pipette.PickUpOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tip != nil {
		return faults.Hardwaref(pipette.OpPickUpTip, "%s already holds a tip", g.model.Name)
	}
	numTips := opts.NumTips
	if numTips <= 0 {
		numTips = g.model.Channels
	}
	presses := opts.Presses
	if presses <= 0 {
		presses = pipette.DefaultPresses
	}
	tip, rack, err := g.tracker.Select(opts.Location, numTips)
	if err != nil {
		return err
	}
	p := pointParams(tip.Top(0).Point)
	p.Aux = int16(presses)
	if err := g.execute(pipette.OpPickUpTip, CommandPickUpTip, p); err != nil {
		return err
	}
	g.tracker.Use(rack, tip, numTips)
	g.tip = tip
	g.volume = decimal.Zero
	g.logger.Debug().Str("tip", tip.String()).Msg("picked up tip")
	return nil
}

// DropTip implements pipette.Instrument.
func (g *Gantry) DropTip() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tip == nil {
		return faults.Hardwaref(pipette.OpDropTip, "%s has no tip to drop", g.model.Name)
	}
	if err := g.execute(pipette.OpDropTip, CommandDropTip, params{}); err != nil {
		return err
	}
	g.tip = nil
	g.volume = decimal.Zero
	return nil
}

// Aspirate implements pipette.Instrument.
func (g *Gantry) Aspirate(volume float64, source labware.Location) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tip == nil {
		return faults.Hardwaref(pipette.OpAspirate, "cannot aspirate without a tip")
	}
	v := decimal.NewFromFloat(volume).Round(volumePlaces)
	if !v.IsPositive() {
		return faults.Hardwaref(pipette.OpAspirate, "aspirate volume must be positive, got %v", volume)
	}
	next := g.volume.Add(v)
	if next.GreaterThan(decimal.NewFromFloat(g.model.MaxVolume)) {
		return faults.Hardwaref(pipette.OpAspirate, "aspirating %s uL would exceed %v uL", v, g.model.MaxVolume)
	}
	p := pointParams(source.Point)
	p.Volume = int32(v.Shift(volumePlaces).IntPart())
	if err := g.execute(pipette.OpAspirate, CommandAspirate, p); err != nil {
		return err
	}
	g.volume = next
	return nil
}

// Dispense implements pipette.Instrument at the current position.
func (g *Gantry) Dispense(volume float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tip == nil {
		return faults.Hardwaref(pipette.OpDispense, "cannot dispense without a tip")
	}
	v := decimal.NewFromFloat(volume).Round(volumePlaces)
	if !v.IsPositive() || v.GreaterThan(g.volume) {
		return faults.Hardwaref(pipette.OpDispense, "cannot dispense %s uL with %s uL held", v, g.volume)
	}
	if err := g.execute(pipette.OpDispense, CommandDispense, params{Volume: int32(v.Shift(volumePlaces).IntPart())}); err != nil {
		return err
	}
	g.volume = g.volume.Sub(v)
	return nil
}

// MoveTo implements pipette.Instrument.
func (g *Gantry) MoveTo(target labware.Location) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.execute(pipette.OpMoveTo, CommandMoveTo, pointParams(target.Point))
}

// TouchTip implements pipette.Instrument.
func (g *Gantry) TouchTip(source labware.Location, vOffset float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tip == nil {
		return faults.Hardwaref(pipette.OpTouchTip, "cannot touch tip without a tip")
	}
	p := pointParams(source.Point)
	p.Aux = int16(math.Round(vOffset * coordinateScale))
	return g.execute(pipette.OpTouchTip, CommandTouchTip, p)
}

// execute writes the parameters and the command, then polls the status
// register until the controller reports completion.
func (g *Gantry) execute(op string, command uint16, p params) error {
	if _, err := g.client.WriteMultipleRegisters(RegParams, ParamCount, p.encode()); err != nil {
		return faults.Hardware(op, fmt.Errorf("write parameters: %w", err))
	}
	if _, err := g.client.WriteSingleRegister(RegCommand, command); err != nil {
		return faults.Hardware(op, fmt.Errorf("write command %d: %w", command, err))
	}
	waited := time.Duration(0)
	for {
		regs, err := g.client.ReadHoldingRegisters(RegStatus, 3)
		if err != nil {
			return faults.Hardware(op, fmt.Errorf("read status: %w", err))
		}
		if len(regs) < 6 {
			return faults.Hardwaref(op, "short status response (%d bytes)", len(regs))
		}
		status := binary.BigEndian.Uint16(regs[0:])
		switch status {
		case StatusDone:
			if err := g.acknowledge(op); err != nil {
				return err
			}
			hasTip := binary.BigEndian.Uint16(regs[4:]) != 0
			if command == CommandPickUpTip && !hasTip {
				return faults.Hardwaref(op, "controller reports no tip after pickup")
			}
			return nil
		case StatusFault:
			code := binary.BigEndian.Uint16(regs[2:])
			if err := g.acknowledge(op); err != nil {
				g.logger.Error().Err(err).Str("op", op).Uint16("code", code).
					Msg("fault not acknowledged, controller may stay latched")
			}
			return faults.Hardwaref(op, "controller fault code %d", code)
		}
		if waited >= g.deadline {
			return faults.Hardwaref(op, "controller did not finish within %s", g.deadline)
		}
		g.sleep(g.poll)
		waited += g.poll
	}
}

func (g *Gantry) acknowledge(op string) error {
	if _, err := g.client.WriteSingleRegister(RegCommand, CommandNone); err != nil {
		return faults.Hardware(op, fmt.Errorf("acknowledge: %w", err))
	}
	return nil
}

func init() {
	factory := NewTCPClientFactory()
	pipette.RegisterDriver("modbus", func(cfg config.InstrumentConfig, model pipette.Model, racks []*tips.Rack, logger zerolog.Logger) (pipette.Instrument, error) {
		client, err := factory(cfg.Modbus)
		if err != nil {
			return nil, faults.Hardware("connect", err)
		}
		return NewGantry(client, model, racks, cfg.Modbus, logger), nil
	})
}
