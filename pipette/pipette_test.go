package pipette

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
	"github.com/timzifer/artbot/tips"
)

type fixture struct {
	deck    *labware.Deck
	racks   []*tips.Rack
	palette *labware.Labware
	canvas  *labware.Labware
}

func newFixture(t *testing.T, rackSlots ...int) fixture {
	t.Helper()
	deck := labware.NewDeck()
	var racks []*tips.Rack
	for _, slot := range rackSlots {
		lw, err := deck.Load("opentrons_96_tiprack_20ul", slot)
		require.NoError(t, err)
		rack, err := tips.NewRack(lw)
		require.NoError(t, err)
		racks = append(racks, rack)
	}
	palette, err := deck.Load("cryo_35_tuberack_2000ul", 11)
	require.NoError(t, err)
	canvas, err := deck.Load("bioartbot_petriplate_90mm_round", 1)
	require.NoError(t, err)
	return fixture{deck: deck, racks: racks, palette: palette, canvas: canvas}
}

func (f fixture) source(t *testing.T) labware.Location {
	t.Helper()
	well, ok := f.palette.Well("A1")
	require.True(t, ok)
	return well.Bottom(1)
}

func (f fixture) target(t *testing.T, x, y float64) labware.Location {
	t.Helper()
	well, ok := f.canvas.Well("A1")
	require.True(t, ok)
	return well.FromCenterCartesian(x, y, 0)
}

func newSim(t *testing.T, model string, racks []*tips.Rack) *Simulator {
	t.Helper()
	m, ok := LookupModel(model)
	require.True(t, ok)
	return NewSimulator(m, racks, zerolog.Nop())
}

func TestModels(t *testing.T) {
	m, ok := LookupModel("p10_multi")
	require.True(t, ok)
	require.Equal(t, 8, m.Channels)
	require.Equal(t, 10.0, m.MaxVolume)
	require.Contains(t, Models(), "p20_single_gen2")
	_, ok = LookupModel("p1000_single")
	require.False(t, ok)
}

func TestSimulatorTracksVolumeAndActions(t *testing.T) {
	f := newFixture(t, 7)
	sim := newSim(t, "p20_single_gen2", f.racks)

	require.False(t, sim.HasTip())
	require.NoError(t, sim.PickUpTip())
	require.True(t, sim.HasTip())
	require.Equal(t, "A1", sim.Tip().Name())

	require.NoError(t, sim.Aspirate(20, f.source(t)))
	require.Equal(t, 20.0, sim.CurrentVolume())
	for i := 0; i < 45; i++ {
		require.NoError(t, sim.MoveTo(f.target(t, 0.1, 0.1)))
		require.NoError(t, sim.Dispense(0.4))
	}
	// 45 * 0.4 leaves exactly the disposal volume.
	require.Equal(t, 2.0, sim.CurrentVolume())
	require.NoError(t, sim.TouchTip(f.source(t), -15))
	require.NoError(t, sim.DropTip())
	require.Zero(t, sim.CurrentVolume())

	require.Equal(t, 1, sim.Count(OpPickUpTip))
	require.Equal(t, 45, sim.Count(OpDispense))
	require.Equal(t, 1, sim.Count(OpTouchTip))
	actions := sim.Actions()
	require.Equal(t, OpPickUpTip, actions[0].Op)
	require.Equal(t, DefaultPresses, actions[0].Presses)
	require.Equal(t, OpDropTip, actions[len(actions)-1].Op)
	require.Equal(t, 1, f.racks[0].UsedCount())
}

func TestSimulatorRejectsImpossibleActions(t *testing.T) {
	f := newFixture(t, 7)
	sim := newSim(t, "p20_single_gen2", f.racks)
	src := f.source(t)

	require.True(t, faults.IsHardware(sim.Aspirate(1, src)))
	require.True(t, faults.IsHardware(sim.Dispense(1)))
	require.True(t, faults.IsHardware(sim.DropTip()))
	require.True(t, faults.IsHardware(sim.TouchTip(src, 0)))

	require.NoError(t, sim.PickUpTip())
	require.True(t, faults.IsHardware(sim.PickUpTip()))
	require.True(t, faults.IsHardware(sim.Aspirate(20.5, src)))
	require.True(t, faults.IsHardware(sim.Aspirate(0, src)))
	require.NoError(t, sim.Aspirate(1, src))
	require.True(t, faults.IsHardware(sim.Dispense(1.5)))
	require.Equal(t, 1.0, sim.CurrentVolume())
}

func TestSimulatorExhaustsRacks(t *testing.T) {
	f := newFixture(t, 7)
	sim := newSim(t, "p10_multi", f.racks)
	for i := 0; i < 12; i++ {
		require.NoError(t, sim.PickUpTip(), "column %d", i+1)
		require.NoError(t, sim.DropTip())
	}
	err := sim.PickUpTip()
	require.True(t, faults.IsExhausted(err))
	require.Equal(t, 96, f.racks[0].UsedCount())
}

func TestSimulatorExplicitLocation(t *testing.T) {
	f := newFixture(t, 7, 8)
	sim := newSim(t, "p20_single_gen2", f.racks)

	c3, _ := f.racks[1].Labware().Well("C3")
	require.NoError(t, sim.PickUpTipWith(PickUpOptions{Location: c3, Presses: 1}))
	require.Same(t, c3, sim.Tip())
	require.False(t, f.racks[1].HasTip(c3))
	require.NoError(t, sim.DropTip())

	// The same position cannot be used twice.
	require.True(t, faults.IsHardware(sim.PickUpTipWith(PickUpOptions{Location: c3})))

	foreign, _ := f.palette.Well("A1")
	require.True(t, faults.IsConfiguration(sim.PickUpTipWith(PickUpOptions{Location: foreign})))
}

func TestSimulatorInjectedFault(t *testing.T) {
	f := newFixture(t, 7)
	sim := newSim(t, "p20_single_gen2", f.racks)
	boom := errors.New("plunger stalled")
	sim.InjectFault(OpDispense, 2, boom)

	require.NoError(t, sim.PickUpTip())
	require.NoError(t, sim.Aspirate(5, f.source(t)))
	require.NoError(t, sim.Dispense(1))
	require.NoError(t, sim.Dispense(1))
	err := sim.Dispense(1)
	require.True(t, faults.IsHardware(err))
	require.ErrorIs(t, err, boom)
	// Fires once.
	require.NoError(t, sim.Dispense(1))
}

func TestSingleChannelServesReversedSingleTips(t *testing.T) {
	f := newFixture(t, 7)
	inner := newSim(t, "p10_multi", f.racks)
	sc, err := NewSingleChannel(inner, f.racks, SingleChannelOptions{ReverseTipOrder: true})
	require.NoError(t, err)
	require.Equal(t, 1, sc.Channels())
	require.Equal(t, 10.0, sc.MaxVolume())

	var names []string
	for i := 0; i < 9; i++ {
		require.NoError(t, sc.PickUpTip())
		names = append(names, inner.Tip().Name())
		require.NoError(t, sc.DropTip())
	}
	require.Equal(t, []string{"H12", "G12", "F12", "E12", "D12", "C12", "B12", "A12", "H11"}, names)
	for _, a := range inner.Actions() {
		if a.Op == OpPickUpTip {
			require.Equal(t, 1, a.Presses)
			require.Equal(t, 1, a.NumTips)
		}
	}
	require.Equal(t, 9, f.racks[0].UsedCount())
}

func TestSingleChannelExhaustionAndPresses(t *testing.T) {
	f := newFixture(t, 7)
	inner := newSim(t, "p10_multi", f.racks)
	sc, err := NewSingleChannel(inner, f.racks, SingleChannelOptions{ReverseTipOrder: true, Presses: 2})
	require.NoError(t, err)

	require.NoError(t, sc.PickUpTipWith(PickUpOptions{Presses: 4}))
	require.True(t, faults.IsHardware(sc.PickUpTip()))
	require.NoError(t, sc.DropTip())
	for i := 1; i < 96; i++ {
		require.NoError(t, sc.PickUpTip())
		require.NoError(t, sc.DropTip())
	}
	require.True(t, faults.IsExhausted(sc.PickUpTip()))

	actions := inner.Actions()
	require.Equal(t, 4, actions[0].Presses)
	require.Equal(t, 2, actions[2].Presses)
}

func TestSingleChannelNativeOrder(t *testing.T) {
	f := newFixture(t, 7)
	inner := newSim(t, "p10_multi", f.racks)
	sc, err := NewSingleChannel(inner, f.racks, SingleChannelOptions{})
	require.NoError(t, err)
	require.NoError(t, sc.PickUpTip())
	require.Equal(t, "A1", inner.Tip().Name())
	require.NoError(t, sc.DropTip())
	require.NoError(t, sc.PickUpTip())
	require.Equal(t, "B1", inner.Tip().Name())
}

func TestSingleChannelMinYGuard(t *testing.T) {
	f := newFixture(t, 7)
	inner := newSim(t, "p10_multi", f.racks)
	minY := 100.0
	sc, err := NewSingleChannel(inner, f.racks, SingleChannelOptions{ReverseTipOrder: true, MinY: &minY})
	require.NoError(t, err)

	// The canvas in slot 1 sits below the reachable band.
	err = sc.MoveTo(f.target(t, 0, 0))
	require.True(t, faults.IsConfiguration(err))
	require.Zero(t, inner.Count(OpMoveTo))

	require.NoError(t, sc.PickUpTip())
	require.NoError(t, sc.Aspirate(5, f.source(t)))
	require.NoError(t, sc.TouchTip(f.source(t), -15))
}

func TestCheckReachFollowsWrappers(t *testing.T) {
	f := newFixture(t, 7)
	inner := newSim(t, "p10_multi", f.racks)
	require.NoError(t, CheckReach(inner, f.target(t, 0, 0)))

	minY := 100.0
	sc, err := NewSingleChannel(inner, f.racks, SingleChannelOptions{MinY: &minY})
	require.NoError(t, err)
	require.True(t, faults.IsConfiguration(CheckReach(sc, f.target(t, 0, 0))))
	require.NoError(t, CheckReach(sc, f.source(t)))
	require.Empty(t, inner.Actions())
}

func TestSingleChannelRequiresFreshRacksWhenReversing(t *testing.T) {
	f := newFixture(t, 7)
	tip, _ := f.racks[0].NextTip(1, nil)
	f.racks[0].UseTips(tip, 1)
	_, err := NewSingleChannel(newSim(t, "p10_multi", f.racks), f.racks, SingleChannelOptions{ReverseTipOrder: true})
	require.True(t, faults.IsConfiguration(err))
}

func TestOpenWrapsMultiChannelModels(t *testing.T) {
	f := newFixture(t, 7)
	inst, err := Open(config.InstrumentConfig{Model: "p10_multi"}, f.racks, zerolog.Nop())
	require.NoError(t, err)
	sc, ok := inst.(*SingleChannel)
	require.True(t, ok)
	require.Equal(t, 1, sc.Channels())
	require.NoError(t, inst.PickUpTip())
	require.Equal(t, "H12", sc.Unwrap().(*Simulator).Tip().Name())

	f = newFixture(t, 7)
	inst, err = Open(config.InstrumentConfig{}, f.racks, zerolog.Nop())
	require.NoError(t, err)
	_, ok = inst.(*Simulator)
	require.True(t, ok)
	require.Equal(t, "p20_single_gen2", inst.Name())
}

func TestOpenHonoursSingleChannelConfig(t *testing.T) {
	f := newFixture(t, 7)
	off := false
	inst, err := Open(config.InstrumentConfig{
		Model:         "p10_multi",
		SingleChannel: &config.SingleChannelConfig{Enabled: &off},
	}, f.racks, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 8, inst.Channels())

	f = newFixture(t, 7)
	on := true
	minY := -2000.0
	inst, err = Open(config.InstrumentConfig{
		Model:         "p20_single_gen2",
		SingleChannel: &config.SingleChannelConfig{Enabled: &on, ReverseTipOrder: &off, Presses: 2, MinY: &minY},
	}, f.racks, zerolog.Nop())
	require.NoError(t, err)
	sc := inst.(*SingleChannel)
	require.NoError(t, sc.PickUpTip())
	sim := sc.Unwrap().(*Simulator)
	require.Equal(t, "A1", sim.Tip().Name())
	require.Equal(t, 2, sim.Actions()[0].Presses)
}

func TestOpenRejectsBadConfiguration(t *testing.T) {
	f := newFixture(t, 7)
	_, err := Open(config.InstrumentConfig{Model: "p1000"}, f.racks, zerolog.Nop())
	require.True(t, faults.IsConfiguration(err))

	_, err = Open(config.InstrumentConfig{Driver: "teleport"}, f.racks, zerolog.Nop())
	require.True(t, faults.IsConfiguration(err))

	_, err = Open(config.InstrumentConfig{MaxVolume: 50}, f.racks, zerolog.Nop())
	require.True(t, faults.IsConfiguration(err))

	inst, err := Open(config.InstrumentConfig{MaxVolume: 15}, f.racks, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 15.0, inst.MaxVolume())
}

func TestRegisterDriverPanicsOnDuplicate(t *testing.T) {
	require.Contains(t, RegisteredDrivers(), config.DefaultDriver)
	require.Panics(t, func() {
		RegisterDriver(config.DefaultDriver, func(config.InstrumentConfig, Model, []*tips.Rack, zerolog.Logger) (Instrument, error) {
			return nil, nil
		})
	})
}
