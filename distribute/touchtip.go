package distribute

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultTouchTipThreshold is the dose below which TouchTipBelowDose touches off.
const DefaultTouchTipThreshold = 0.3

// DefaultTouchTipVOffset is the touch-off height relative to the well top.
const DefaultTouchTipVOffset = -1.0

// Refill describes an aspiration that just completed.
type Refill struct {
	// Index is the 0-based target index the refill serves.
	Index     int
	Dose      float64
	Disposal  float64
	Aspirated float64
	// Current is the volume held after aspirating.
	Current   float64
	MaxVolume float64
	// Remaining counts the targets left, including Index.
	Remaining int
	NewTip    bool
}

// TouchTipPolicy decides whether the tip is brushed against the source well
// after a refill, and at which vertical offset from the well top.
type TouchTipPolicy interface {
	Decide(r Refill) (touch bool, vOffset float64, err error)
}

type noTouchTip struct{}

// NoTouchTip never touches off.
func NoTouchTip() TouchTipPolicy { return noTouchTip{} }

func (noTouchTip) Decide(Refill) (bool, float64, error) { return false, 0, nil }

// BelowDose touches off when the dose is smaller than Threshold, where drops
// tend to cling to the outside of the tip.
type BelowDose struct {
	Threshold float64
	VOffset   float64
}

// TouchTipBelowDose returns the gated policy 1 mm below the well top.
func TouchTipBelowDose(threshold float64) BelowDose {
	return BelowDose{Threshold: threshold, VOffset: DefaultTouchTipVOffset}
}

// Decide implements TouchTipPolicy.
func (b BelowDose) Decide(r Refill) (bool, float64, error) {
	return r.Dose < b.Threshold, b.VOffset, nil
}

type alwaysTouchTip struct {
	vOffset float64
}

// AlwaysTouchTip touches off after every refill.
func AlwaysTouchTip(vOffset float64) TouchTipPolicy {
	return alwaysTouchTip{vOffset: vOffset}
}

func (a alwaysTouchTip) Decide(Refill) (bool, float64, error) { return true, a.vOffset, nil }

// expressionTouchTip evaluates a boolean expression per refill.
type expressionTouchTip struct {
	source  string
	program *vm.Program
	vOffset float64
}

func refillEnv(r Refill) map[string]interface{} {
	return map[string]interface{}{
		"dose":       r.Dose,
		"disposal":   r.Disposal,
		"aspirated":  r.Aspirated,
		"current":    r.Current,
		"max_volume": r.MaxVolume,
		"remaining":  r.Remaining,
		"index":      r.Index,
		"new_tip":    r.NewTip,
	}
}

// ExpressionTouchTip compiles when, e.g. `dose < 0.3 || new_tip`. The
// expression sees dose, disposal, aspirated, current, max_volume, remaining,
// index and new_tip and must yield a bool.
func ExpressionTouchTip(when string, vOffset float64) (TouchTipPolicy, error) {
	source := strings.TrimSpace(when)
	if source == "" {
		return nil, fmt.Errorf("touch-tip expression must not be empty")
	}
	program, err := expr.Compile(source, expr.Env(refillEnv(Refill{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile touch-tip expression %q: %w", source, err)
	}
	return &expressionTouchTip{source: source, program: program, vOffset: vOffset}, nil
}

func (e *expressionTouchTip) Decide(r Refill) (bool, float64, error) {
	out, err := vm.Run(e.program, refillEnv(r))
	if err != nil {
		return false, 0, fmt.Errorf("evaluate touch-tip expression %q: %w", e.source, err)
	}
	touch, ok := out.(bool)
	if !ok {
		return false, 0, fmt.Errorf("touch-tip expression %q returned %T", e.source, out)
	}
	return touch, e.vOffset, nil
}
