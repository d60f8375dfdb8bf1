package config

import (
	"fmt"
	"strings"

	"github.com/timzifer/artbot/faults"
)

const (
	// DefaultDriver is the instrument driver used when none is configured.
	DefaultDriver = "simulator"
	// DefaultModel is the pipette model used when none is configured.
	DefaultModel = "p20_single_gen2"
	// DefaultPaletteSlot is the slot of the reagent palette.
	DefaultPaletteSlot = 11
	// DefaultJournalPath is where the run journal lives when enabled without a path.
	DefaultJournalPath = "artbot.db"
	// DefaultTopicPrefix prefixes every published event topic.
	DefaultTopicPrefix = "artbot"
)

// Touch-tip modes accepted in distribution.touch_tip.mode.
const (
	TouchTipBelowDose  = "below_dose"
	TouchTipAlways     = "always"
	TouchTipNever      = "never"
	TouchTipExpression = "expression"
)

// DriverOrDefault returns the configured driver name.
func (i InstrumentConfig) DriverOrDefault() string {
	if d := strings.TrimSpace(i.Driver); d != "" {
		return d
	}
	return DefaultDriver
}

// ModelOrDefault returns the configured pipette model.
func (i InstrumentConfig) ModelOrDefault() string {
	if m := strings.TrimSpace(i.Model); m != "" {
		return m
	}
	return DefaultModel
}

// LoadNameOrDefault returns the palette labware type.
func (p PaletteConfig) LoadNameOrDefault() string {
	if p.LoadName != "" {
		return p.LoadName
	}
	return DefaultPaletteLoadName
}

// SlotOrDefault returns the palette slot.
func (p PaletteConfig) SlotOrDefault() int {
	if p.Slot != 0 {
		return p.Slot
	}
	return DefaultPaletteSlot
}

// LoadNameOrDefault returns the canvas labware type.
func (c CanvasConfig) LoadNameOrDefault() string {
	if c.LoadName != "" {
		return c.LoadName
	}
	return DefaultCanvasLoadName
}

// PathOrDefault returns the journal database path.
func (j JournalConfig) PathOrDefault() string {
	if j.Path != "" {
		return j.Path
	}
	return DefaultJournalPath
}

// TopicPrefixOrDefault returns the event topic prefix without trailing slash.
func (e EventsConfig) TopicPrefixOrDefault() string {
	prefix := strings.TrimRight(strings.TrimSpace(e.TopicPrefix), "/")
	if prefix == "" {
		return DefaultTopicPrefix
	}
	return prefix
}

// Validate performs the semantic checks the document schema cannot express.
// All problems are reported together as one ConfigurationError.
func (c *Config) Validate() error {
	if c == nil {
		return faults.Configuration("configuration is nil")
	}
	var problems []string
	report := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.TipRacks) == 0 {
		report("at least one tip rack is required")
	}

	slots := make(map[int]string)
	claim := func(slot int, owner string) {
		if prev, ok := slots[slot]; ok {
			report("slot %d is used by %s and %s", slot, prev, owner)
			return
		}
		slots[slot] = owner
	}
	for i, rack := range c.TipRacks {
		if rack.LoadName == "" {
			report("tip_racks[%d]: load_name is required", i)
		}
		claim(rack.Slot, fmt.Sprintf("tip rack %d", i))
	}
	claim(c.Palette.SlotOrDefault(), "the palette")

	canvases := make(map[string]struct{}, len(c.Canvases))
	for i, canvas := range c.Canvases {
		title := strings.TrimSpace(canvas.Title)
		if title == "" {
			report("canvases[%d]: title is required", i)
			continue
		}
		if _, dup := canvases[title]; dup {
			report("canvas %q is declared twice", title)
		}
		canvases[title] = struct{}{}
		claim(canvas.Slot, fmt.Sprintf("canvas %q", title))
	}

	reagents := make(map[string]struct{}, len(c.Reagents))
	wells := make(map[string]string)
	for i, reagent := range c.Reagents {
		id := strings.TrimSpace(reagent.ID)
		if id == "" {
			report("reagents[%d]: id is required", i)
			continue
		}
		if _, dup := reagents[id]; dup {
			report("reagent %q is declared twice", id)
		}
		reagents[id] = struct{}{}
		if reagent.Dose < 0 {
			report("reagent %q: dose must be positive", id)
		}
		if reagent.Well != "" {
			if prev, taken := wells[reagent.Well]; taken {
				report("palette well %s is assigned to %q and %q", reagent.Well, prev, id)
			}
			wells[reagent.Well] = id
		}
	}

	for i, art := range c.Artwork {
		if _, ok := reagents[art.Reagent]; !ok {
			report("artwork[%d]: unknown reagent %q", i, art.Reagent)
		}
		for j, piece := range art.Pieces {
			if _, ok := canvases[piece.Canvas]; !ok {
				report("artwork[%d].pieces[%d]: unknown canvas %q", i, j, piece.Canvas)
			}
		}
	}

	d := c.Distribution
	if d.Dose < 0 {
		report("distribution.dose must be positive")
	}
	if d.DisposalVolume != nil && *d.DisposalVolume < 0 {
		report("distribution.disposal_volume must not be negative")
	}
	if d.BatchLimit < 0 {
		report("distribution.batch_limit must be positive")
	}
	switch d.TouchTip.Mode {
	case "", TouchTipBelowDose, TouchTipAlways, TouchTipNever:
	case TouchTipExpression:
		if strings.TrimSpace(d.TouchTip.When) == "" {
			report("distribution.touch_tip: mode expression requires when")
		}
	default:
		report("distribution.touch_tip: unknown mode %q", d.TouchTip.Mode)
	}

	if sc := c.Instrument.SingleChannel; sc != nil && sc.Presses < 0 {
		report("instrument.single_channel.presses must be positive")
	}
	if c.Events.Enabled && strings.TrimSpace(c.Events.Broker) == "" {
		report("events: broker is required when enabled")
	}
	if c.Events.QoS > 2 {
		report("events: qos must be 0, 1 or 2")
	}

	if len(problems) > 0 {
		return faults.Configuration("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
