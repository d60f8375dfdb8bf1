// Package labware models the deck of a liquid-handling robot: slot
// bookkeeping, labware geometry and the addressable locations the pipette
// moves to.
package labware

import (
	"fmt"
	"strconv"
)

// Point is an absolute deck coordinate in millimetres.
type Point struct {
	X float64
	Y float64
	Z float64
}

// Add returns the component-wise sum of p and o.
func (p Point) Add(o Point) Point {
	return Point{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Sub returns the component-wise difference p - o.
func (p Point) Sub(o Point) Point {
	return Point{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

func (p Point) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
}

// Location is an addressable point the pipette can move to, aspirate from or
// dispense at. Labware and Well are informational and may be nil.
type Location struct {
	Point   Point
	Labware *Labware
	Well    *Well
}

func (l Location) String() string {
	switch {
	case l.Well != nil:
		return fmt.Sprintf("%s %s", l.Well, l.Point)
	case l.Labware != nil:
		return fmt.Sprintf("%s %s", l.Point, l.Labware)
	default:
		return l.Point.String()
	}
}

// Labware is a definition placed in a deck slot.
type Labware struct {
	def     Definition
	slot    int
	origin  Point
	wells   []*Well
	byName  map[string]*Well
	columns [][]*Well
}

func newLabware(def Definition, slot int, origin Point) *Labware {
	lw := &Labware{
		def:     def,
		slot:    slot,
		origin:  origin,
		wells:   make([]*Well, 0, def.WellCount()),
		byName:  make(map[string]*Well, def.WellCount()),
		columns: make([][]*Well, def.Columns),
	}
	for col := 0; col < def.Columns; col++ {
		column := make([]*Well, 0, def.Rows)
		for row := 0; row < def.Rows; row++ {
			w := &Well{
				labware: lw,
				name:    string(rune('A'+row)) + strconv.Itoa(col+1),
				row:     row,
				column:  col,
				index:   len(lw.wells),
				center: origin.Add(Point{
					X: def.A1X + float64(col)*def.XSpacing,
					Y: def.A1Y - float64(row)*def.YSpacing,
					Z: def.ZDimension - def.WellDepth/2,
				}),
			}
			lw.wells = append(lw.wells, w)
			lw.byName[w.name] = w
			column = append(column, w)
		}
		lw.columns[col] = column
	}
	return lw
}

// Definition returns the geometry the labware was created from.
func (l *Labware) Definition() Definition { return l.def }

// LoadName returns the definition identifier.
func (l *Labware) LoadName() string { return l.def.LoadName }

// Slot returns the deck slot the labware occupies.
func (l *Labware) Slot() int { return l.slot }

// IsTipRack reports whether the labware holds pipette tips.
func (l *Labware) IsTipRack() bool { return l.def.TipRack }

// Wells returns all wells in column-major order (A1, B1, ... A2, ...).
func (l *Labware) Wells() []*Well {
	return append([]*Well(nil), l.wells...)
}

// Columns returns the wells grouped by column.
func (l *Labware) Columns() [][]*Well {
	out := make([][]*Well, len(l.columns))
	for i, col := range l.columns {
		out[i] = append([]*Well(nil), col...)
	}
	return out
}

// Well looks a well up by name, e.g. "H1".
func (l *Labware) Well(name string) (*Well, bool) {
	w, ok := l.byName[name]
	return w, ok
}

func (l *Labware) String() string {
	return fmt.Sprintf("%s on %d", l.def.LoadName, l.slot)
}

// Well is a single addressable well (or tip position) of a labware.
type Well struct {
	labware *Labware
	name    string
	row     int
	column  int
	index   int
	center  Point
}

// Name returns the well name such as "A1".
func (w *Well) Name() string { return w.name }

// Labware returns the parent labware.
func (w *Well) Labware() *Labware { return w.labware }

// Row returns the zero-based row index.
func (w *Well) Row() int { return w.row }

// Column returns the zero-based column index.
func (w *Well) Column() int { return w.column }

// Index returns the position of the well in column-major order.
func (w *Well) Index() int { return w.index }

// Center returns the geometric centre of the well volume.
func (w *Well) Center() Location {
	return Location{Point: w.center, Labware: w.labware, Well: w}
}

// Top returns a location at the top of the well shifted by z millimetres.
func (w *Well) Top(z float64) Location {
	p := w.center
	p.Z += w.labware.def.WellDepth/2 + z
	return Location{Point: p, Labware: w.labware, Well: w}
}

// Bottom returns a location at the bottom of the well shifted by z millimetres.
func (w *Well) Bottom(z float64) Location {
	p := w.center
	p.Z -= w.labware.def.WellDepth/2 - z
	return Location{Point: p, Labware: w.labware, Well: w}
}

// FromCenterCartesian converts an offset expressed as fractions of the well's
// half-dimensions into an absolute location. (0, 0, 0) is the well centre and
// (1, 1, 1) the back-right-top corner of its bounding box.
func (w *Well) FromCenterCartesian(x, y, z float64) Location {
	def := w.labware.def
	p := w.center.Add(Point{
		X: x * def.WellXDim / 2,
		Y: y * def.WellYDim / 2,
		Z: z * def.WellDepth / 2,
	})
	return Location{Point: p, Labware: w.labware, Well: w}
}

func (w *Well) String() string {
	return fmt.Sprintf("%s of %s", w.name, w.labware)
}
