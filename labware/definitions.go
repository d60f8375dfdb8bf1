package labware

import (
	"fmt"
	"sort"
	"sync"
)

// Shape describes the horizontal cross-section of a well.
type Shape string

const (
	ShapeCircular    Shape = "circular"
	ShapeRectangular Shape = "rectangular"
)

// Definition describes the geometry of a labware type. All lengths are in
// millimetres and relative to the labware's front-left-bottom corner.
type Definition struct {
	LoadName    string
	DisplayName string
	Rows        int
	Columns     int
	XDimension  float64
	YDimension  float64
	ZDimension  float64
	// A1X and A1Y locate the centre of well A1.
	A1X      float64
	A1Y      float64
	XSpacing float64
	YSpacing float64
	Shape    Shape
	// WellXDim and WellYDim are the diameter for circular wells.
	WellXDim  float64
	WellYDim  float64
	WellDepth float64
	TipRack   bool
	TipLength float64
}

// WellCount returns the number of wells the definition declares.
func (d Definition) WellCount() int { return d.Rows * d.Columns }

func (d Definition) validate() error {
	if d.LoadName == "" {
		return fmt.Errorf("labware definition without load name")
	}
	if d.Rows <= 0 || d.Columns <= 0 {
		return fmt.Errorf("labware %s: rows and columns must be positive", d.LoadName)
	}
	if d.Rows > 26 {
		return fmt.Errorf("labware %s: at most 26 rows supported", d.LoadName)
	}
	if d.WellDepth <= 0 || d.WellXDim <= 0 || d.WellYDim <= 0 {
		return fmt.Errorf("labware %s: well dimensions must be positive", d.LoadName)
	}
	return nil
}

var (
	definitionsMu sync.RWMutex
	definitions   = make(map[string]Definition)
)

// RegisterDefinition makes a labware type available to Deck.Load.
func RegisterDefinition(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	definitionsMu.Lock()
	defer definitionsMu.Unlock()
	if _, exists := definitions[def.LoadName]; exists {
		return fmt.Errorf("labware definition %s already registered", def.LoadName)
	}
	definitions[def.LoadName] = def
	return nil
}

// LookupDefinition returns the registered definition for loadName.
func LookupDefinition(loadName string) (Definition, bool) {
	definitionsMu.RLock()
	defer definitionsMu.RUnlock()
	def, ok := definitions[loadName]
	return def, ok
}

// RegisteredDefinitions returns all registered load names in sorted order.
func RegisteredDefinitions() []string {
	definitionsMu.RLock()
	defer definitionsMu.RUnlock()
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mustRegister(def Definition) {
	if err := RegisterDefinition(def); err != nil {
		panic(err)
	}
}

func init() {
	mustRegister(Definition{
		LoadName: "opentrons_96_tiprack_20ul", DisplayName: "Opentrons 96 Tip Rack 20 µL",
		Rows: 8, Columns: 12, XDimension: 127.76, YDimension: 85.48, ZDimension: 64.69,
		A1X: 14.38, A1Y: 74.24, XSpacing: 9, YSpacing: 9,
		Shape: ShapeCircular, WellXDim: 3.27, WellYDim: 3.27, WellDepth: 39.2,
		TipRack: true, TipLength: 39.2,
	})
	mustRegister(Definition{
		LoadName: "opentrons_96_tiprack_300ul", DisplayName: "Opentrons 96 Tip Rack 300 µL",
		Rows: 8, Columns: 12, XDimension: 127.76, YDimension: 85.48, ZDimension: 64.49,
		A1X: 14.38, A1Y: 74.24, XSpacing: 9, YSpacing: 9,
		Shape: ShapeCircular, WellXDim: 5.23, WellYDim: 5.23, WellDepth: 59.3,
		TipRack: true, TipLength: 59.3,
	})
	mustRegister(Definition{
		LoadName: "cryo_35_tuberack_2000ul", DisplayName: "Cryo 35 Tube Rack 2000 µL",
		Rows: 5, Columns: 7, XDimension: 127.76, YDimension: 85.48, ZDimension: 63.5,
		A1X: 10.88, A1Y: 78.74, XSpacing: 17.5, YSpacing: 17.5,
		Shape: ShapeCircular, WellXDim: 10.5, WellYDim: 10.5, WellDepth: 42,
	})
	mustRegister(Definition{
		LoadName: "nest_12_reservoir_15ml", DisplayName: "NEST 12 Well Reservoir 15 mL",
		Rows: 1, Columns: 12, XDimension: 127.76, YDimension: 85.48, ZDimension: 31.4,
		A1X: 14.38, A1Y: 42.78, XSpacing: 9, YSpacing: 9,
		Shape: ShapeRectangular, WellXDim: 8.2, WellYDim: 71.2, WellDepth: 26.85,
	})
	mustRegister(Definition{
		LoadName: "nest_96_wellplate_200ul_flat", DisplayName: "NEST 96 Well Plate 200 µL Flat",
		Rows: 8, Columns: 12, XDimension: 127.76, YDimension: 85.48, ZDimension: 15.7,
		A1X: 14.38, A1Y: 74.24, XSpacing: 9, YSpacing: 9,
		Shape: ShapeCircular, WellXDim: 6.96, WellYDim: 6.96, WellDepth: 10.9,
	})
	mustRegister(Definition{
		LoadName: "bioartbot_petriplate_90mm_round", DisplayName: "BioArtBot 90 mm Petri Plate",
		Rows: 1, Columns: 1, XDimension: 127.76, YDimension: 85.48, ZDimension: 15.5,
		A1X: 63.88, A1Y: 42.74, XSpacing: 0, YSpacing: 0,
		Shape: ShapeCircular, WellXDim: 90, WellYDim: 90, WellDepth: 15,
	})
}
