package pipette

import (
	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
	"github.com/timzifer/artbot/tips"
)

// TipTracker allocates tips for an instrument from its racks, in rack order.
// Drivers that select tips on the host share it.
type TipTracker struct {
	racks []*tips.Rack
}

// NewTipTracker returns a tracker over racks.
func NewTipTracker(racks []*tips.Rack) *TipTracker {
	return &TipTracker{racks: append([]*tips.Rack(nil), racks...)}
}

// Racks returns the tracked racks.
func (t *TipTracker) Racks() []*tips.Rack {
	return append([]*tips.Rack(nil), t.racks...)
}

// Select resolves the tip for a pickup of numTips tips. A nil location takes
// the first available position of the first rack that has one.
func (t *TipTracker) Select(location *labware.Well, numTips int) (*labware.Well, *tips.Rack, error) {
	if location == nil {
		for _, rack := range t.racks {
			if tip, ok := rack.NextTip(numTips, nil); ok {
				return tip, rack, nil
			}
		}
		return nil, nil, faults.Exhausted("tips", "no rack has %d unused tip(s) left", numTips)
	}
	for _, rack := range t.racks {
		if rack.Labware() != location.Labware() {
			continue
		}
		if !rack.HasTip(location) {
			return nil, nil, faults.Hardwaref("pick_up_tip", "no tip at %s", location)
		}
		return location, rack, nil
	}
	return nil, nil, faults.Configuration("%s is not in a tip rack assigned to this pipette", location)
}

// Use marks numTips tips starting at tip as used.
func (t *TipTracker) Use(rack *tips.Rack, tip *labware.Well, numTips int) {
	if rack == nil {
		return
	}
	rack.UseTips(tip, numTips)
}

// Available counts the unused tips across all racks.
func (t *TipTracker) Available() int {
	total := 0
	for _, rack := range t.racks {
		total += rack.Capacity() - rack.UsedCount()
	}
	return total
}
