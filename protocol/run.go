package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/artbot/distribute"
	"github.com/timzifer/artbot/events"
	"github.com/timzifer/artbot/journal"
	"github.com/timzifer/artbot/pipette"
)

// Summary totals a run.
type Summary struct {
	RunID     string
	Results   []distribute.Result
	Targets   int
	Dispensed int
	Refills   int
	TipsUsed  int
	TouchTips int
	Aspirated float64
	Discarded float64
}

func (s *Summary) add(res distribute.Result) {
	s.Results = append(s.Results, res)
	s.Targets += res.Targets
	s.Dispensed += res.Dispensed
	s.Refills += res.Refills
	s.TipsUsed += res.TipsUsed
	s.TouchTips += res.TouchTips
	s.Aspirated += res.Aspirated
	s.Discarded += res.Discarded
}

// Run paints every batch in order. All batches are checked against the
// instrument before the first hardware action. ctx is consulted between
// batches only; a batch in progress always completes or fails on its own.
// The first error aborts the run.
func (p *Protocol) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if err := p.Validate(); err != nil {
		p.publish(ctx, events.KindProtocolRejected, p.runEvent(summary, "", err))
		return summary, err
	}

	if p.journal != nil {
		run, err := p.journal.BeginRun(ctx, p.Name(), p.cfg.Source.File, p.instrument.Name())
		if err != nil {
			return summary, fmt.Errorf("begin run: %w", err)
		}
		summary.RunID = run.ID
	}
	logger := p.logger
	if summary.RunID != "" {
		logger = logger.With().Str("run", summary.RunID).Logger()
	}
	logger.Info().Str("name", p.Name()).Int("reagents", len(p.batches)).Int("targets", p.Targets()).Msg("run started")
	p.publish(ctx, events.KindRunStarted, p.runEvent(summary, journal.StatusRunning, nil))

	for _, b := range p.batches {
		if err := ctx.Err(); err != nil {
			return summary, p.finish(ctx, logger, &summary, journal.StatusCancelled, err)
		}
		p.publish(ctx, events.KindReagentStarted, reagentEvent(summary.RunID, b, distribute.Result{}, nil))
		started := time.Now()
		res, err := p.distributor.Distribute(p.instrument, p.request(b))
		summary.add(res)
		p.record(ctx, logger, summary.RunID, b, res, err, started)
		p.publish(ctx, events.KindReagentFinished, reagentEvent(summary.RunID, b, res, err))
		if err != nil {
			return summary, p.finish(ctx, logger, &summary, journal.StatusFailed, err)
		}
	}
	return summary, p.finish(ctx, logger, &summary, journal.StatusCompleted, nil)
}

// Validate checks every batch against the instrument without moving it:
// volumes against capacity, and the palette well and every target against
// the instrument's reach.
func (p *Protocol) Validate() error {
	for _, b := range p.batches {
		req := p.request(b)
		if err := p.distributor.Validate(p.instrument, req); err != nil {
			return err
		}
		if err := pipette.CheckReach(p.instrument, req.Source); err != nil {
			return fmt.Errorf("reagent %q source: %w", req.Reagent, err)
		}
		for i, target := range req.Targets {
			if err := pipette.CheckReach(p.instrument, target); err != nil {
				return fmt.Errorf("reagent %q target %d: %w", req.Reagent, i+1, err)
			}
		}
	}
	return nil
}

// finish closes the journal entry and returns runErr. The bookkeeping outlives
// a cancelled ctx.
func (p *Protocol) finish(ctx context.Context, logger zerolog.Logger, summary *Summary, status string, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	if p.journal != nil && summary.RunID != "" {
		if err := p.journal.FinishRun(ctx, summary.RunID, status, runErr); err != nil {
			logger.Error().Err(err).Msg("journal: finish run failed")
			if runErr == nil {
				runErr = err
			}
		}
	}
	p.publish(ctx, events.KindRunFinished, p.runEvent(*summary, status, runErr))

	event := logger.Info()
	if runErr != nil {
		event = logger.Error().Err(runErr)
	}
	event.Str("status", status).
		Int("dispensed", summary.Dispensed).
		Int("tips", summary.TipsUsed).
		Float64("aspirated", summary.Aspirated).
		Msg("run finished")
	return runErr
}

// record journals one distribution. A failing journal does not stop the robot
// mid-painting; the failure is logged.
func (p *Protocol) record(ctx context.Context, logger zerolog.Logger, runID string, b Batch, res distribute.Result, runErr error, started time.Time) {
	if p.journal == nil || runID == "" {
		return
	}
	d := journal.Distribution{
		RunID:      runID,
		Reagent:    b.Reagent.ID,
		Well:       b.Well.Name(),
		Targets:    res.Targets,
		Dispensed:  res.Dispensed,
		Refills:    res.Refills,
		TipsUsed:   res.TipsUsed,
		TouchTips:  res.TouchTips,
		Aspirated:  res.Aspirated,
		Discarded:  res.Discarded,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		d.Error = runErr.Error()
	}
	if err := p.journal.RecordDistribution(context.WithoutCancel(ctx), d); err != nil {
		logger.Error().Err(err).Str("reagent", b.Reagent.ID).Msg("journal: record distribution failed")
	}
}

// publish sends an event. Broker trouble is logged and never aborts a run.
func (p *Protocol) publish(ctx context.Context, kind string, payload any) {
	if err := p.publisher.Publish(ctx, kind, payload); err != nil {
		p.logger.Warn().Err(err).Str("event", kind).Msg("publish event failed")
	}
}

func (p *Protocol) runEvent(summary Summary, status string, err error) events.Run {
	ev := events.Run{
		RunID:      summary.RunID,
		Name:       p.Name(),
		Instrument: p.instrument.Name(),
		Reagents:   len(p.batches),
		Targets:    p.Targets(),
		Status:     status,
		At:         time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func reagentEvent(runID string, b Batch, res distribute.Result, err error) events.Reagent {
	ev := events.Reagent{
		RunID:     runID,
		Reagent:   b.Reagent.ID,
		Name:      b.Reagent.Name,
		Well:      b.Well.Name(),
		Targets:   len(b.Targets),
		Dispensed: res.Dispensed,
		TipsUsed:  res.TipsUsed,
		Aspirated: res.Aspirated,
		Discarded: res.Discarded,
		At:        time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
