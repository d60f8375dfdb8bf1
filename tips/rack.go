// Package tips allocates disposable pipette tips from tip racks.
//
// Rack is the tip-rack resource with the platform's native allocation policy:
// columns are scanned front to back (A1, B1, ... H1, A2, ...) and a pickup of
// n tips needs n consecutive unused tips inside one column. Sequencer wraps a
// rack and serves its tips one at a time in reverse order.
package tips

import (
	"fmt"

	"github.com/timzifer/artbot/labware"
)

// Source hands out tip positions to an instrument.
//
// NextTip does not need to consume the returned tip; instruments call UseTips
// on sources that implement Marker after a successful pickup.
type Source interface {
	NextTip(numTips int, start *labware.Well) (*labware.Well, bool)
}

// Marker is implemented by sources that track used tips separately from
// allocation.
type Marker interface {
	UseTips(start *labware.Well, numTips int)
}

// Rack tracks which tips of a tip-rack labware were already used.
type Rack struct {
	labware *labware.Labware
	columns [][]*labware.Well
	used    map[*labware.Well]bool
}

// NewRack wraps a loaded tip-rack labware. All tips start unused.
func NewRack(lw *labware.Labware) (*Rack, error) {
	if lw == nil {
		return nil, fmt.Errorf("tip rack labware must not be nil")
	}
	if !lw.IsTipRack() {
		return nil, fmt.Errorf("%s is not a tip rack", lw)
	}
	return &Rack{
		labware: lw,
		columns: lw.Columns(),
		used:    make(map[*labware.Well]bool),
	}, nil
}

// Labware returns the underlying labware.
func (r *Rack) Labware() *labware.Labware { return r.labware }

// Capacity returns the number of tip positions in the rack.
func (r *Rack) Capacity() int { return r.labware.Definition().WellCount() }

// UsedCount returns the number of tips marked used.
func (r *Rack) UsedCount() int { return len(r.used) }

// HasTip reports whether the tip at w is still available.
func (r *Rack) HasTip(w *labware.Well) bool {
	if w == nil || w.Labware() != r.labware {
		return false
	}
	return !r.used[w]
}

// NextTip returns the first well that starts a run of numTips unused tips
// within one column, scanning columns from start (or A1) onwards.
func (r *Rack) NextTip(numTips int, start *labware.Well) (*labware.Well, bool) {
	if numTips <= 0 {
		numTips = 1
	}
	startCol := 0
	if start != nil {
		if start.Labware() != r.labware {
			return nil, false
		}
		startCol = start.Column()
	}
	for c := startCol; c < len(r.columns); c++ {
		column := r.columns[c]
		for i := 0; i+numTips <= len(column); i++ {
			if start != nil && c == startCol && i < start.Row() {
				continue
			}
			if r.runAvailable(column[i : i+numTips]) {
				return column[i], true
			}
		}
	}
	return nil, false
}

func (r *Rack) runAvailable(wells []*labware.Well) bool {
	for _, w := range wells {
		if r.used[w] {
			return false
		}
	}
	return true
}

// UseTips marks numTips tips used, starting at start and moving down its column.
func (r *Rack) UseTips(start *labware.Well, numTips int) {
	if start == nil || start.Labware() != r.labware {
		return
	}
	if numTips <= 0 {
		numTips = 1
	}
	column := r.columns[start.Column()]
	for i := start.Row(); i < len(column) && i < start.Row()+numTips; i++ {
		r.used[column[i]] = true
	}
}

// Reset returns every tip to the rack, e.g. after an operator swapped racks.
func (r *Rack) Reset() {
	r.used = make(map[*labware.Well]bool)
}

// Clone returns an independent copy sharing the labware but not the used set.
func (r *Rack) Clone() *Rack {
	used := make(map[*labware.Well]bool, len(r.used))
	for w, v := range r.used {
		used[w] = v
	}
	return &Rack{labware: r.labware, columns: r.columns, used: used}
}
