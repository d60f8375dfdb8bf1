package distribute

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
	"github.com/timzifer/artbot/pipette"
	"github.com/timzifer/artbot/tips"
)

type bench struct {
	sim     *pipette.Simulator
	source  labware.Location
	targets func(n int) []labware.Location
}

func newBench(t *testing.T, model string, rackCount int) bench {
	t.Helper()
	deck := labware.NewDeck()
	var racks []*tips.Rack
	for i := 0; i < rackCount; i++ {
		lw, err := deck.Load("opentrons_96_tiprack_20ul", 7+i)
		require.NoError(t, err)
		rack, err := tips.NewRack(lw)
		require.NoError(t, err)
		racks = append(racks, rack)
	}
	palette, err := deck.Load("cryo_35_tuberack_2000ul", 11)
	require.NoError(t, err)
	canvas, err := deck.Load("bioartbot_petriplate_90mm_round", 1)
	require.NoError(t, err)
	m, ok := pipette.LookupModel(model)
	require.True(t, ok)

	well, _ := palette.Well("A1")
	plate, _ := canvas.Well("A1")
	return bench{
		sim:    pipette.NewSimulator(m, racks, zerolog.Nop()),
		source: well.Bottom(1),
		targets: func(n int) []labware.Location {
			out := make([]labware.Location, n)
			for i := range out {
				x := float64(i%20)/20 - 0.5
				y := float64(i/20)/20 - 0.5
				out[i] = plate.FromCenterCartesian(x, y, 0)
			}
			return out
		},
	}
}

func (b bench) request(dose, disposal float64, n int) Request {
	return Request{Reagent: "1", Dose: dose, DisposalVolume: disposal, Source: b.source, Targets: b.targets(n)}
}

func dispensedPoints(sim *pipette.Simulator) []labware.Point {
	var points []labware.Point
	for _, a := range sim.Actions() {
		if a.Op == pipette.OpDispense {
			points = append(points, a.Point)
		}
	}
	return points
}

func TestEndToEndWithNewTipPerRefill(t *testing.T) {
	b := newBench(t, "p20_single_gen2", 1)
	req := b.request(0.4, 2, 50)

	res, err := New(WithNewTipPerRefill(true)).Distribute(b.sim, req)
	require.NoError(t, err)

	require.Equal(t, []float64{20, 4}, res.Aspirations)
	require.Equal(t, 2, res.TipsUsed)
	require.Equal(t, 2, res.Refills)
	require.Equal(t, 50, res.Dispensed)
	require.Equal(t, 2, b.sim.Count(pipette.OpPickUpTip))
	require.Equal(t, 2, b.sim.Count(pipette.OpDropTip))
	require.False(t, b.sim.HasTip())

	// The second refill happens right before target 46.
	var dispensedBefore []int
	n := 0
	for _, a := range b.sim.Actions() {
		switch a.Op {
		case pipette.OpAspirate:
			dispensedBefore = append(dispensedBefore, n)
		case pipette.OpDispense:
			require.Equal(t, 0.4, a.Volume)
			n++
		}
	}
	require.Equal(t, []int{0, 45}, dispensedBefore)

	points := dispensedPoints(b.sim)
	require.Len(t, points, 50)
	for i, target := range req.Targets {
		require.Equal(t, target.Point, points[i], "target %d", i)
	}
}

func TestEndToEndReusesTipByDefault(t *testing.T) {
	b := newBench(t, "p20_single_gen2", 1)

	res, err := New().Distribute(b.sim, b.request(0.4, 2, 50))
	require.NoError(t, err)

	require.Equal(t, []float64{20, 2}, res.Aspirations)
	require.Equal(t, 1, res.TipsUsed)
	require.Equal(t, 1, b.sim.Count(pipette.OpPickUpTip))
	require.Equal(t, 1, b.sim.Count(pipette.OpDropTip))
	require.Equal(t, 22.0, res.Aspirated)
	require.Equal(t, 2.0, res.Discarded)
	require.Zero(t, res.TouchTips)
}

func TestConservationOfVolume(t *testing.T) {
	for _, dose := range []float64{0.2, 0.4, 0.7, 1.5} {
		for _, disposal := range []float64{0, 2} {
			for _, count := range []int{0, 1, 7, 45, 46, 149, 151, 451} {
				for _, perRefill := range []bool{false, true} {
					name := fmt.Sprintf("d=%v/v=%v/T=%d/newtip=%v", dose, disposal, count, perRefill)
					t.Run(name, func(t *testing.T) {
						b := newBench(t, "p20_single_gen2", 2)
						res, err := New(WithNewTipPerRefill(perRefill)).Distribute(b.sim, b.request(dose, disposal, count))
						require.NoError(t, err)
						require.Equal(t, count, res.Dispensed)
						require.False(t, b.sim.HasTip())

						d := decimal.NewFromFloat(dose)
						v := decimal.NewFromFloat(disposal)
						sum := decimal.Zero
						for _, a := range res.Aspirations {
							sum = sum.Add(decimal.NewFromFloat(a))
						}
						require.True(t, sum.Equal(decimal.NewFromFloat(res.Aspirated)), "sum %s aspirated %v", sum, res.Aspirated)

						dispensed := d.Mul(decimal.NewFromInt(int64(count)))
						require.True(t, sum.Equal(dispensed.Add(decimal.NewFromFloat(res.Discarded))),
							"aspirated %s dispensed %s discarded %v", sum, dispensed, res.Discarded)

						if perRefill && count < DefaultBatchLimit {
							want := dispensed.Add(v.Mul(decimal.NewFromInt(int64(res.Refills))))
							require.True(t, sum.Equal(want), "aspirated %s want %s", sum, want)
						}
						if count > 0 {
							require.Equal(t, res.TipsUsed, b.sim.Count(pipette.OpDropTip))
						}
					})
				}
			}
		}
	}
}

func TestBatchCeilingForcesTipChange(t *testing.T) {
	b := newBench(t, "p20_single_gen2", 1)
	// 0.1 uL doses fit 200 times into one tip, so only the ceiling changes tips.
	res, err := New().Distribute(b.sim, b.request(0.1, 0, 451))
	require.NoError(t, err)
	require.Equal(t, 4, res.TipsUsed)

	var pickupAt []int
	n := 0
	for _, a := range b.sim.Actions() {
		switch a.Op {
		case pipette.OpPickUpTip:
			pickupAt = append(pickupAt, n+1)
		case pipette.OpDispense:
			n++
		}
	}
	require.Equal(t, []int{1, 150, 300, 450}, pickupAt)
}

func TestBatchLimitOption(t *testing.T) {
	b := newBench(t, "p20_single_gen2", 1)
	d := New(WithBatchLimit(10), WithBatchLimit(0))
	require.Equal(t, 10, d.BatchLimit())
	res, err := d.Distribute(b.sim, b.request(0.4, 2, 25))
	require.NoError(t, err)
	// Changes before targets 1, 10 and 20.
	require.Equal(t, 3, res.TipsUsed)
}

func TestEmptyTargetsDropHeldTip(t *testing.T) {
	b := newBench(t, "p20_single_gen2", 1)
	require.NoError(t, b.sim.PickUpTip())

	res, err := New().Distribute(b.sim, b.request(0.4, 2, 0))
	require.NoError(t, err)
	require.Zero(t, res.Dispensed)
	require.False(t, b.sim.HasTip())

	res, err = New().Distribute(b.sim, b.request(0.4, 2, 0))
	require.NoError(t, err)
	require.Equal(t, 1, b.sim.Count(pipette.OpDropTip))
}

func TestHeldTipIsReplacedAtStart(t *testing.T) {
	b := newBench(t, "p20_single_gen2", 1)
	require.NoError(t, b.sim.PickUpTip())
	_, err := New().Distribute(b.sim, b.request(0.4, 2, 3))
	require.NoError(t, err)
	require.Equal(t, 2, b.sim.Count(pipette.OpPickUpTip))
	require.False(t, b.sim.HasTip())
}

func TestTouchTipGating(t *testing.T) {
	small := newBench(t, "p20_single_gen2", 1)
	res, err := New().Distribute(small.sim, small.request(0.2, 2, 200))
	require.NoError(t, err)
	require.Greater(t, res.Refills, 1)
	require.Equal(t, res.Refills, res.TouchTips)
	require.Equal(t, res.Refills, small.sim.Count(pipette.OpTouchTip))
	for _, a := range small.sim.Actions() {
		if a.Op == pipette.OpTouchTip {
			require.Equal(t, DefaultTouchTipVOffset, a.VOffset)
		}
	}

	large := newBench(t, "p20_single_gen2", 1)
	res, err = New().Distribute(large.sim, large.request(0.5, 2, 200))
	require.NoError(t, err)
	require.Zero(t, res.TouchTips)
	require.Zero(t, large.sim.Count(pipette.OpTouchTip))
}

func TestAlwaysAndNeverTouchTip(t *testing.T) {
	b := newBench(t, "p20_single_gen2", 1)
	res, err := New(WithTouchTipPolicy(AlwaysTouchTip(-15))).Distribute(b.sim, b.request(0.4, 2, 50))
	require.NoError(t, err)
	require.Equal(t, 2, res.TouchTips)
	for _, a := range b.sim.Actions() {
		if a.Op == pipette.OpTouchTip {
			require.Equal(t, -15.0, a.VOffset)
			require.Equal(t, b.source.Point, a.Point)
		}
	}

	b = newBench(t, "p20_single_gen2", 1)
	res, err = New(WithTouchTipPolicy(NoTouchTip())).Distribute(b.sim, b.request(0.1, 2, 20))
	require.NoError(t, err)
	require.Zero(t, res.TouchTips)
}

func TestExpressionTouchTip(t *testing.T) {
	policy, err := ExpressionTouchTip("new_tip && remaining > 10", -5)
	require.NoError(t, err)

	b := newBench(t, "p20_single_gen2", 1)
	res, err := New(WithTouchTipPolicy(policy), WithNewTipPerRefill(true)).Distribute(b.sim, b.request(0.4, 2, 50))
	require.NoError(t, err)
	// Only the first refill has more than ten targets left.
	require.Equal(t, 1, res.TouchTips)

	_, err = ExpressionTouchTip("", 0)
	require.Error(t, err)
	_, err = ExpressionTouchTip("dose +", 0)
	require.Error(t, err)
	_, err = ExpressionTouchTip("dose * 2", 0)
	require.Error(t, err)

	touch, offset, err := policy.Decide(Refill{NewTip: true, Remaining: 11})
	require.NoError(t, err)
	require.True(t, touch)
	require.Equal(t, -5.0, offset)
}

func TestPreconditionsFailBeforeHardware(t *testing.T) {
	cases := map[string]Request{
		"zero dose":           {Dose: 0, DisposalVolume: 2},
		"negative disposal":   {Dose: 0.4, DisposalVolume: -1},
		"exceeds capacity":    {Dose: 19, DisposalVolume: 2},
		"dose alone too big":  {Dose: 25},
		"sub-resolution dose": {Dose: 0.00001, DisposalVolume: 2},
		"dose too fine":       {Dose: 0.12345, DisposalVolume: 2},
		"disposal too fine":   {Dose: 0.4, DisposalVolume: 2.00005},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			b := newBench(t, "p20_single_gen2", 1)
			req.Source = b.source
			req.Targets = b.targets(3)
			d := New()
			require.True(t, faults.IsConfiguration(d.Validate(b.sim, req)))
			_, err := d.Distribute(b.sim, req)
			require.True(t, faults.IsConfiguration(err))
			require.Empty(t, b.sim.Actions())
		})
	}

	err := New().Validate(newBench(t, "p20_single_gen2", 1).sim, Request{Reagent: "1", Dose: 0.12345})
	require.Contains(t, err.Error(), "dose 0.12345 is finer than the 0.0001 ul volume resolution")

	_, err = New().Distribute(nil, Request{Dose: 1})
	require.True(t, faults.IsConfiguration(err))

	// Exactly at capacity is allowed.
	b := newBench(t, "p20_single_gen2", 1)
	res, err := New().Distribute(b.sim, b.request(18, 2, 2))
	require.NoError(t, err)
	require.Equal(t, []float64{20, 18}, res.Aspirations)
}

func TestDeviceErrorAbortsWithoutRetry(t *testing.T) {
	b := newBench(t, "p20_single_gen2", 1)
	boom := errors.New("clot detected")
	b.sim.InjectFault(pipette.OpDispense, 10, boom)
	rec := &recordingCollector{}

	res, err := New(WithCollector(rec)).Distribute(b.sim, b.request(0.4, 2, 50))
	require.Error(t, err)
	require.True(t, faults.IsHardware(err))
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "target 11")
	require.Equal(t, 10, res.Dispensed)
	require.Equal(t, 10, b.sim.Count(pipette.OpDispense))
	require.Equal(t, []string{"hardware"}, rec.faults)
}

func TestTipExhaustionPropagates(t *testing.T) {
	b := newBench(t, "p10_multi", 1)
	// Twelve columns, one new tip per refill of 10 uL (dose 1, no disposal).
	res, err := New(WithNewTipPerRefill(true)).Distribute(b.sim, b.request(1, 0, 200))
	require.Error(t, err)
	require.True(t, faults.IsExhausted(err))
	require.Equal(t, 120, res.Dispensed)
	require.Equal(t, 12, res.TipsUsed)
}

func TestCollectorReceivesDosingEvents(t *testing.T) {
	b := newBench(t, "p20_single_gen2", 1)
	rec := &recordingCollector{}
	_, err := New(WithCollector(rec), WithNewTipPerRefill(true)).Distribute(b.sim, b.request(0.4, 2, 50))
	require.NoError(t, err)
	require.Equal(t, []string{"p20_single_gen2", "p20_single_gen2"}, rec.pickups)
	require.Equal(t, 24.0, rec.aspirated)
	require.Equal(t, 50, rec.dispenses)
	require.Empty(t, rec.faults)
}

type recordingCollector struct {
	pickups   []string
	aspirated float64
	dispenses int
	faults    []string
}

func (r *recordingCollector) IncHotReload(string) {}

func (r *recordingCollector) IncTipPickup(instrument string) {
	r.pickups = append(r.pickups, instrument)
}

func (r *recordingCollector) AddAspirated(_ string, v float64) {
	r.aspirated += v
}

func (r *recordingCollector) IncDispense(string) {
	r.dispenses++
}

func (r *recordingCollector) IncFault(kind string) {
	r.faults = append(r.faults, kind)
}
