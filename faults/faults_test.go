package faults

import (
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPredicatesSurviveWrapping(t *testing.T) {
	cfgErr := fmt.Errorf("batch red: %w", Configuration("dose %.1f exceeds %.1f", 30.0, 20.0))
	require.True(t, IsConfiguration(cfgErr))
	require.False(t, IsHardware(cfgErr))
	require.Contains(t, cfgErr.Error(), "dose 30.0 exceeds 20.0")

	exhausted := pkgerrors.Wrap(Exhausted("tips", "all %d racks empty", 2), "pick up tip")
	require.True(t, IsExhausted(exhausted))
	require.Equal(t, "exhausted", Kind(exhausted))

	hw := fmt.Errorf("target 3: %w", Hardwaref("dispense", "pump stalled"))
	require.True(t, IsHardware(hw))
	require.Equal(t, "hardware", Kind(hw))
}

func TestHardwareKeepsCauseAndDoesNotDoubleWrap(t *testing.T) {
	cause := errors.New("timeout")
	err := Hardware("aspirate", cause)
	require.ErrorIs(t, err, cause)

	again := Hardware("move", err)
	var fault *HardwareFault
	require.True(t, errors.As(again, &fault))
	require.Equal(t, "aspirate", fault.Op)

	require.NoError(t, Hardware("noop", nil))
}

func TestKind(t *testing.T) {
	require.Equal(t, "", Kind(nil))
	require.Equal(t, "other", Kind(errors.New("boom")))
	require.Equal(t, "configuration", Kind(Configuration("x")))
}
