package protocol

import (
	"github.com/timzifer/artbot/config"
	"github.com/timzifer/artbot/distribute"
	"github.com/timzifer/artbot/faults"
)

func touchTipPolicy(cfg config.TouchTipConfig) (distribute.TouchTipPolicy, error) {
	vOffset := cfg.VOffsetOrDefault()
	switch cfg.Mode {
	case "", config.TouchTipBelowDose:
		return distribute.BelowDose{Threshold: cfg.ThresholdOrDefault(), VOffset: vOffset}, nil
	case config.TouchTipAlways:
		return distribute.AlwaysTouchTip(vOffset), nil
	case config.TouchTipNever:
		return distribute.NoTouchTip(), nil
	case config.TouchTipExpression:
		policy, err := distribute.ExpressionTouchTip(cfg.When, vOffset)
		if err != nil {
			return nil, faults.Configuration("touch_tip.when: %v", err)
		}
		return policy, nil
	default:
		return nil, faults.Configuration("unknown touch_tip mode %q", cfg.Mode)
	}
}

func distributor(cfg config.DistributionConfig, s settings) (*distribute.Distributor, error) {
	policy, err := touchTipPolicy(cfg.TouchTip)
	if err != nil {
		return nil, err
	}
	return distribute.New(
		distribute.WithLogger(s.logger),
		distribute.WithCollector(s.collector),
		distribute.WithTouchTipPolicy(policy),
		distribute.WithBatchLimit(cfg.BatchLimitOrDefault()),
		distribute.WithNewTipPerRefill(cfg.NewTipPerRefill),
	), nil
}
