package protocol

import (
	"context"
	"fmt"

	"github.com/timzifer/artbot/faults"
	"github.com/timzifer/artbot/labware"
	"github.com/timzifer/artbot/pipette"
)

// DefaultCenterHeight is the z fraction used by CenterCheck, just below the
// top of the canvas.
const DefaultCenterHeight = 0.99

// TipCheck picks up one tip and drops it again. An empty well takes the next
// tip; otherwise the named position of the first rack is used.
func (p *Protocol) TipCheck(ctx context.Context, well string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := pipette.PickUpOptions{}
	if well != "" {
		if len(p.racks) == 0 {
			return faults.Configuration("no tip rack loaded")
		}
		w, ok := p.racks[0].Labware().Well(well)
		if !ok {
			return faults.Configuration("%s has no well %s", p.racks[0].Labware(), well)
		}
		opts.Location = w
	}
	if err := p.instrument.PickUpTipWith(opts); err != nil {
		return fmt.Errorf("tip check: %w", err)
	}
	p.logger.Info().Str("instrument", p.instrument.Name()).Msg("tip picked up")
	if err := p.instrument.DropTip(); err != nil {
		return fmt.Errorf("tip check: %w", err)
	}
	return nil
}

// CenterCheck picks up a tip, moves to the centre of a canvas at height z and
// drops the tip. An empty title uses the first canvas.
func (p *Protocol) CenterCheck(ctx context.Context, title string, z float64) (labware.Location, error) {
	if err := ctx.Err(); err != nil {
		return labware.Location{}, err
	}
	if title == "" && len(p.cfg.Canvases) > 0 {
		title = p.cfg.Canvases[0].Title
	}
	canvas, ok := p.canvases[title]
	if !ok {
		return labware.Location{}, faults.Configuration("unknown canvas %q", title)
	}
	target := canvas.Wells()[0].FromCenterCartesian(0, 0, z)
	if err := p.instrument.PickUpTip(); err != nil {
		return target, fmt.Errorf("center check: %w", err)
	}
	if err := p.instrument.MoveTo(target); err != nil {
		return target, fmt.Errorf("center check: %w", err)
	}
	p.logger.Info().Str("canvas", title).Str("target", target.String()).Msg("moved to canvas centre")
	if err := p.instrument.DropTip(); err != nil {
		return target, fmt.Errorf("center check: %w", err)
	}
	return target, nil
}
