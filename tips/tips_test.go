package tips

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
)

func newTestRack(t *testing.T) *Rack {
	t.Helper()
	lw, err := labware.NewDeck().Load("opentrons_96_tiprack_20ul", 7)
	require.NoError(t, err)
	rack, err := NewRack(lw)
	require.NoError(t, err)
	return rack
}

func nativeOrder(t *testing.T, rack *Rack) []*labware.Well {
	t.Helper()
	scratch := rack.Clone()
	var order []*labware.Well
	for {
		tip, ok := scratch.NextTip(1, nil)
		if !ok {
			return order
		}
		order = append(order, tip)
		scratch.UseTips(tip, 1)
	}
}

func TestRackNativeAllocation(t *testing.T) {
	rack := newTestRack(t)

	tip, ok := rack.NextTip(1, nil)
	require.True(t, ok)
	require.Equal(t, "A1", tip.Name())

	// NextTip alone does not consume.
	again, _ := rack.NextTip(1, nil)
	require.Same(t, tip, again)

	rack.UseTips(tip, 1)
	tip, _ = rack.NextTip(1, nil)
	require.Equal(t, "B1", tip.Name())

	// Eight tips need a full free column.
	tip, _ = rack.NextTip(8, nil)
	require.Equal(t, "A2", tip.Name())
	rack.UseTips(tip, 8)
	require.Equal(t, 9, rack.UsedCount())

	b1, _ := rack.Labware().Well("B1")
	require.True(t, rack.HasTip(b1))
	a2, _ := rack.Labware().Well("A2")
	require.False(t, rack.HasTip(a2))

	c5, _ := rack.Labware().Well("C5")
	tip, _ = rack.NextTip(1, c5)
	require.Equal(t, "C5", tip.Name())

	rack.Reset()
	require.Zero(t, rack.UsedCount())
}

func TestRackRejectsNonTipRack(t *testing.T) {
	lw, err := labware.NewDeck().Load("nest_12_reservoir_15ml", 5)
	require.NoError(t, err)
	_, err = NewRack(lw)
	require.Error(t, err)
}

func TestSequencerServesReverseNativeOrder(t *testing.T) {
	rack := newTestRack(t)
	native := nativeOrder(t, rack)
	require.Len(t, native, 96)

	seq, err := NewSequencer(rack)
	require.NoError(t, err)
	require.Equal(t, 96, seq.Len())
	require.Zero(t, rack.UsedCount(), "construction must not touch the rack")

	n := len(native)
	seen := make(map[*labware.Well]bool, n)
	for k := 1; k <= n; k++ {
		tip, ok := seq.NextTip(8, nil)
		require.True(t, ok)
		require.Same(t, native[n-k], tip, "tip %d", k)
		require.False(t, seen[tip], "tip %s served twice", tip.Name())
		seen[tip] = true
	}
	require.Zero(t, seq.Remaining())

	tip, ok := seq.NextTip(1, nil)
	require.False(t, ok)
	require.Nil(t, tip)
}

func TestSequencerFirstTipsAreFromTheBackColumn(t *testing.T) {
	seq, err := NewSequencer(newTestRack(t))
	require.NoError(t, err)

	names := make([]string, 0, 9)
	for i := 0; i < 9; i++ {
		tip, ok := seq.NextTip(1, nil)
		require.True(t, ok)
		names = append(names, tip.Name())
	}
	require.Equal(t, []string{"H12", "G12", "F12", "E12", "D12", "C12", "B12", "A12", "H11"}, names)
	require.Equal(t, 87, seq.Remaining())
}

func TestSequencerIgnoresStartingTip(t *testing.T) {
	rack := newTestRack(t)
	seq, err := NewSequencer(rack)
	require.NoError(t, err)

	a1, _ := rack.Labware().Well("A1")
	tip, ok := seq.NextTip(3, a1)
	require.True(t, ok)
	require.Equal(t, "H12", tip.Name())
}

func TestSequencerRequiresFreshRack(t *testing.T) {
	rack := newTestRack(t)
	tip, _ := rack.NextTip(1, nil)
	rack.UseTips(tip, 1)

	_, err := NewSequencer(rack)
	require.True(t, faults.IsConfiguration(err))

	_, err = NewSequencer(nil)
	require.Error(t, err)
}

func TestSequencerSatisfiesSource(t *testing.T) {
	var _ Source = (*Sequencer)(nil)
	var _ Source = (*Rack)(nil)
	var _ Marker = (*Rack)(nil)
}
