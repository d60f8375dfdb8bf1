package tips

import (
	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
)

// Sequencer serves the tips of a rack in reverse native order, exactly one
// per request.
//
// An 8-channel pipette driven as a single channel picks with its last nozzle,
// so the native front-to-back order would collide with positions it cannot
// reach cleanly; picking from the opposite end avoids that.
type Sequencer struct {
	rack   *Rack
	order  []*labware.Well
	cursor int
}

// NewSequencer enumerates rack's native allocation order on a private copy and
// stores it reversed. The rack itself is not modified.
//
// The rack must be fresh: racks with used tips are rejected.
func NewSequencer(rack *Rack) (*Sequencer, error) {
	if rack == nil {
		return nil, faults.Configuration("tip sequencer needs a rack")
	}
	if used := rack.UsedCount(); used > 0 {
		return nil, faults.Configuration("tip rack %s already has %d used tips", rack.Labware(), used)
	}
	scratch := rack.Clone()
	order := make([]*labware.Well, 0, rack.Capacity())
	for {
		tip, ok := scratch.NextTip(1, nil)
		if !ok {
			break
		}
		order = append(order, tip)
		scratch.UseTips(tip, 1)
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return &Sequencer{rack: rack, order: order}, nil
}

// NextTip returns the next tip and advances by one. numTips and start are
// ignored. It returns false once every tip was served.
func (s *Sequencer) NextTip(numTips int, start *labware.Well) (*labware.Well, bool) {
	if s.cursor >= len(s.order) {
		return nil, false
	}
	tip := s.order[s.cursor]
	s.cursor++
	return tip, true
}

// Rack returns the wrapped rack.
func (s *Sequencer) Rack() *Rack { return s.rack }

// Len returns the total number of tips the sequencer serves.
func (s *Sequencer) Len() int { return len(s.order) }

// Remaining returns how many tips are left.
func (s *Sequencer) Remaining() int { return len(s.order) - s.cursor }
