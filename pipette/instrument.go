// Package pipette defines the pipette capability set used by the distributor
// and provides the built-in instruments: a Simulator and the SingleChannel
// adapter that drives an 8-channel pipette with a single tip.
package pipette

import (
	"sort"

	"github.com/timzifer/artbot/labware"
)

// PickUpOptions refines a tip pickup.
type PickUpOptions struct {
	// Location picks up the tip at a specific well instead of the next one
	// the instrument's racks would hand out.
	Location *labware.Well
	// Presses is the number of times the nozzle is pressed into the tip.
	// Zero selects the instrument default.
	Presses int
	// NumTips is the number of rack positions consumed by the pickup. Zero
	// means one per channel.
	NumTips int
}

// Instrument is a pipette mounted on the robot.
//
// Volumes are microlitres. The instrument tracks whether a tip is attached
// and how much liquid it holds; every method fails with a faults error when
// the action cannot be carried out.
type Instrument interface {
	Name() string
	Channels() int
	MaxVolume() float64
	CurrentVolume() float64
	HasTip() bool
	PickUpTip() error
	PickUpTipWith(opts PickUpOptions) error
	DropTip() error
	Aspirate(volume float64, source labware.Location) error
	Dispense(volume float64) error
	MoveTo(target labware.Location) error
	TouchTip(source labware.Location, vOffset float64) error
}

// Model describes a pipette type.
type Model struct {
	Name      string
	MaxVolume float64
	MinVolume float64
	Channels  int
}

var models = map[string]Model{
	"p10_single":       {Name: "p10_single", MaxVolume: 10, MinVolume: 1, Channels: 1},
	"p10_multi":        {Name: "p10_multi", MaxVolume: 10, MinVolume: 1, Channels: 8},
	"p20_single_gen2":  {Name: "p20_single_gen2", MaxVolume: 20, MinVolume: 1, Channels: 1},
	"p300_single_gen2": {Name: "p300_single_gen2", MaxVolume: 300, MinVolume: 20, Channels: 1},
}

// LookupModel returns the model with the given name.
func LookupModel(name string) (Model, bool) {
	m, ok := models[name]
	return m, ok
}

// Models lists the known model names.
func Models() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
