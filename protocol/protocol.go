// Package protocol turns an artwork configuration into deck setup, a palette
// assignment and one distribution batch per reagent, and runs them.
package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/distribute"
	"github.com/timzifer/artbot/events"
	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
	"github.com/timzifer/artbot/pipette"
	"github.com/timzifer/artbot/telemetry"
	"github.com/timzifer/artbot/tips"
)

// aspirateHeight is the height above the palette well bottom, in mm, at which
// reagent is drawn.
const aspirateHeight = 1.0

var errInstrumentOpener = errors.New("instrument opener must not be nil")

// Batch is the work for one reagent: its palette well and every pixel it
// covers, in artwork order.
type Batch struct {
	Reagent config.ReagentConfig
	Well    *labware.Well
	Dose    float64
	Targets []labware.Location
}

// Label is the reagent name, or its id when unnamed.
func (b Batch) Label() string {
	if b.Reagent.Name != "" {
		return b.Reagent.Name
	}
	return b.Reagent.ID
}

// Protocol is a deck ready to paint.
type Protocol struct {
	cfg         *config.Config
	deck        *labware.Deck
	racks       []*tips.Rack
	palette     *labware.Labware
	canvases    map[string]*labware.Labware
	instrument  pipette.Instrument
	distributor *distribute.Distributor
	batches     []Batch

	logger    zerolog.Logger
	collector telemetry.Collector
	journal   Journal
	publisher events.Publisher
}

// Build validates cfg, lays out the deck and opens the instrument.
func Build(cfg *config.Config, opts ...Option) (*Protocol, error) {
	if cfg == nil {
		return nil, errors.New("configuration must not be nil")
	}
	s := settings{
		logger:    zerolog.Nop(),
		publisher: events.Noop(),
		open:      pipette.Open,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&s); err != nil {
			return nil, err
		}
	}
	if s.collector == nil {
		collector, err := NewCollector(cfg.Telemetry)
		if err != nil {
			s.logger.Warn().Err(err).Msg("telemetry disabled")
			collector = telemetry.Noop()
		}
		s.collector = collector
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Protocol{
		cfg:       cfg,
		deck:      labware.NewDeck(),
		canvases:  make(map[string]*labware.Labware, len(cfg.Canvases)),
		logger:    s.logger,
		collector: s.collector,
		journal:   s.journal,
		publisher: s.publisher,
	}
	for _, rc := range cfg.TipRacks {
		lw, err := p.deck.Load(rc.LoadName, rc.Slot)
		if err != nil {
			return nil, fmt.Errorf("tip rack: %w", err)
		}
		if !lw.IsTipRack() {
			return nil, faults.Configuration("%s in slot %d is not a tip rack", rc.LoadName, rc.Slot)
		}
		rack, err := tips.NewRack(lw)
		if err != nil {
			return nil, err
		}
		p.racks = append(p.racks, rack)
	}
	palette, err := p.deck.Load(cfg.Palette.LoadNameOrDefault(), cfg.Palette.SlotOrDefault())
	if err != nil {
		return nil, fmt.Errorf("palette: %w", err)
	}
	p.palette = palette
	for _, cc := range cfg.Canvases {
		lw, err := p.deck.Load(cc.LoadNameOrDefault(), cc.Slot)
		if err != nil {
			return nil, fmt.Errorf("canvas %q: %w", cc.Title, err)
		}
		p.canvases[cc.Title] = lw
	}

	if p.distributor, err = distributor(cfg.Distribution, s); err != nil {
		return nil, err
	}
	if p.batches, err = plan(cfg, palette, p.canvases); err != nil {
		return nil, err
	}

	inst, err := s.open(cfg.Instrument, p.racks, s.logger)
	if err != nil {
		return nil, err
	}
	p.instrument = inst
	p.logger.Info().
		Str("instrument", inst.Name()).
		Int("reagents", len(p.batches)).
		Int("targets", p.Targets()).
		Msg("protocol ready")
	return p, nil
}

// plan assigns palette wells in artwork order and converts pixels into
// canvas locations. Reagents with an explicit well keep it; the others take
// the next free palette well.
func plan(cfg *config.Config, palette *labware.Labware, canvases map[string]*labware.Labware) ([]Batch, error) {
	reserved := make(map[*labware.Well]bool)
	for _, r := range cfg.Reagents {
		if r.Well == "" {
			continue
		}
		well, ok := palette.Well(r.Well)
		if !ok {
			return nil, faults.Configuration("reagent %q: %s has no well %s", r.ID, palette, r.Well)
		}
		reserved[well] = true
	}

	free := labware.NewWellSequence(palette)
	index := make(map[string]int)
	var batches []Batch
	for _, art := range cfg.Artwork {
		i, ok := index[art.Reagent]
		if !ok {
			reagent, found := cfg.Reagent(art.Reagent)
			if !found {
				return nil, faults.Configuration("artwork references unknown reagent %q", art.Reagent)
			}
			well, err := paletteWell(reagent, palette, free, reserved)
			if err != nil {
				return nil, err
			}
			batches = append(batches, Batch{Reagent: reagent, Well: well, Dose: cfg.DoseFor(reagent)})
			i = len(batches) - 1
			index[art.Reagent] = i
		}
		for _, piece := range art.Pieces {
			canvas, found := canvases[piece.Canvas]
			if !found {
				return nil, faults.Configuration("artwork references unknown canvas %q", piece.Canvas)
			}
			origin := canvas.Wells()[0]
			for _, px := range piece.Pixels {
				loc := origin.FromCenterCartesian(px[0], px[1], px[2])
				loc.Well = nil
				batches[i].Targets = append(batches[i].Targets, loc)
			}
		}
	}
	return batches, nil
}

func paletteWell(reagent config.ReagentConfig, palette *labware.Labware, free *labware.WellSequence, reserved map[*labware.Well]bool) (*labware.Well, error) {
	if reagent.Well != "" {
		well, _ := palette.Well(reagent.Well)
		return well, nil
	}
	for {
		well, ok := free.Next()
		if !ok {
			return nil, faults.Exhausted("palette wells", "%s has no free well for reagent %q", palette, reagent.ID)
		}
		if !reserved[well] {
			reserved[well] = true
			return well, nil
		}
	}
}

// Checklist lists which reagent has to be loaded into which palette well.
func (p *Protocol) Checklist() []string {
	lines := make([]string, 0, len(p.batches))
	for _, b := range p.batches {
		lines = append(lines, fmt.Sprintf("%s -> %s", b.Label(), b.Well))
	}
	return lines
}

// Batches returns the per-reagent work in run order.
func (p *Protocol) Batches() []Batch { return p.batches }

// Targets returns the number of pixels over all batches.
func (p *Protocol) Targets() int {
	n := 0
	for _, b := range p.batches {
		n += len(b.Targets)
	}
	return n
}

// Deck returns the deck layout.
func (p *Protocol) Deck() *labware.Deck { return p.deck }

// Racks returns the tip racks in configuration order.
func (p *Protocol) Racks() []*tips.Rack { return p.racks }

// Instrument returns the opened pipette.
func (p *Protocol) Instrument() pipette.Instrument { return p.instrument }

// Canvas returns the labware of the canvas with the given title.
func (p *Protocol) Canvas(title string) (*labware.Labware, bool) {
	lw, ok := p.canvases[title]
	return lw, ok
}

// Name is the configured protocol name.
func (p *Protocol) Name() string {
	if p.cfg.Name != "" {
		return p.cfg.Name
	}
	return "artbot"
}

// Close releases the instrument connection, if it holds one.
func (p *Protocol) Close() error {
	inst := p.instrument
	for inst != nil {
		if closer, ok := inst.(io.Closer); ok {
			return closer.Close()
		}
		wrapper, ok := inst.(interface{ Unwrap() pipette.Instrument })
		if !ok {
			return nil
		}
		inst = wrapper.Unwrap()
	}
	return nil
}

func (p *Protocol) request(b Batch) distribute.Request {
	return distribute.Request{
		Reagent:        b.Reagent.ID,
		Dose:           b.Dose,
		DisposalVolume: p.cfg.Distribution.Disposal(),
		Source:         b.Well.Bottom(aspirateHeight),
		Targets:        b.Targets,
	}
}
