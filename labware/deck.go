package labware

import (
	"fmt"
	"sort"

	"github.com/timzifer/artbot/faults"
)

// slotOrigins holds the front-left corner of each labware slot on an OT-2 style deck.
var slotOrigins = map[int]Point{
	1:  {X: 0, Y: 0},
	2:  {X: 132.5, Y: 0},
	3:  {X: 265, Y: 0},
	4:  {X: 0, Y: 90.5},
	5:  {X: 132.5, Y: 90.5},
	6:  {X: 265, Y: 90.5},
	7:  {X: 0, Y: 181},
	8:  {X: 132.5, Y: 181},
	9:  {X: 265, Y: 181},
	10: {X: 0, Y: 271.5},
	11: {X: 132.5, Y: 271.5},
}

// Deck tracks which labware occupies which slot.
type Deck struct {
	slots map[int]*Labware
}

// NewDeck returns an empty deck.
func NewDeck() *Deck {
	return &Deck{slots: make(map[int]*Labware)}
}

// Load places a labware of the given type into slot.
func (d *Deck) Load(loadName string, slot int) (*Labware, error) {
	def, ok := LookupDefinition(loadName)
	if !ok {
		return nil, faults.Configuration("unknown labware %q", loadName)
	}
	origin, ok := slotOrigins[slot]
	if !ok {
		return nil, faults.Configuration("slot %d is not a labware slot", slot)
	}
	if existing, taken := d.slots[slot]; taken {
		return nil, faults.Configuration("slot %d already holds %s", slot, existing.LoadName())
	}
	lw := newLabware(def, slot, origin)
	d.slots[slot] = lw
	return lw, nil
}

// Slot returns the labware in slot, if any.
func (d *Deck) Slot(slot int) (*Labware, bool) {
	lw, ok := d.slots[slot]
	return lw, ok
}

// Labware returns every loaded labware ordered by slot.
func (d *Deck) Labware() []*Labware {
	slots := make([]int, 0, len(d.slots))
	for slot := range d.slots {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	out := make([]*Labware, 0, len(slots))
	for _, slot := range slots {
		out = append(out, d.slots[slot])
	}
	return out
}

func (d *Deck) String() string {
	return fmt.Sprintf("deck with %d labware", len(d.slots))
}

// WellSequence hands out the wells of a labware one at a time in column-major
// order. It is finite and cannot be restarted.
type WellSequence struct {
	wells []*Well
	next  int
}

// NewWellSequence creates a sequence over lw's wells.
func NewWellSequence(lw *Labware) *WellSequence {
	return &WellSequence{wells: lw.Wells()}
}

// Next returns the following well, or false when the labware is used up.
func (s *WellSequence) Next() (*Well, bool) {
	if s.next >= len(s.wells) {
		return nil, false
	}
	w := s.wells[s.next]
	s.next++
	return w, true
}

// Remaining returns the number of wells not yet handed out.
func (s *WellSequence) Remaining() int { return len(s.wells) - s.next }
