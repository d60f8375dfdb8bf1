// Package faults defines the error taxonomy shared by the instrument drivers,
// the tip sequencer and the distributor.
//
// Three classes exist:
//
//   - ConfigurationError: a request can never be satisfied with the configured
//     hardware (for example a dose larger than the pipette capacity). Detected
//     before any hardware action.
//   - ResourceExhaustedError: a consumable ran out (no tip left in any rack).
//   - HardwareFault: the instrument reported a failed action.
//
// None of them is retried. Errors may be wrapped freely; the predicates use
// errors.As and keep working through fmt.Errorf("%w") and pkg/errors wrapping.
package faults

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ConfigurationError reports a request that is incompatible with the hardware setup.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.msg }

// ResourceExhaustedError reports an empty consumable source.
type ResourceExhaustedError struct {
	Resource string
	msg      string
}

func (e *ResourceExhaustedError) Error() string {
	if e.Resource == "" {
		return "resource exhausted: " + e.msg
	}
	return fmt.Sprintf("resource exhausted (%s): %s", e.Resource, e.msg)
}

// HardwareFault reports an instrument action that failed.
type HardwareFault struct {
	Op  string
	err error
}

func (e *HardwareFault) Error() string {
	return fmt.Sprintf("hardware fault during %s: %v", e.Op, e.err)
}

// Unwrap exposes the underlying cause.
func (e *HardwareFault) Unwrap() error { return e.err }

// Configuration returns a ConfigurationError carrying a stack trace.
func Configuration(format string, args ...interface{}) error {
	return pkgerrors.WithStack(&ConfigurationError{msg: fmt.Sprintf(format, args...)})
}

// Exhausted returns a ResourceExhaustedError for the named resource.
func Exhausted(resource, format string, args ...interface{}) error {
	return pkgerrors.WithStack(&ResourceExhaustedError{Resource: resource, msg: fmt.Sprintf(format, args...)})
}

// Hardware wraps err as a HardwareFault raised by op. A nil err yields nil.
func Hardware(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *HardwareFault
	if errors.As(err, &existing) {
		return err
	}
	return pkgerrors.WithStack(&HardwareFault{Op: op, err: err})
}

// Hardwaref builds a HardwareFault from a message.
func Hardwaref(op, format string, args ...interface{}) error {
	return Hardware(op, pkgerrors.Errorf(format, args...))
}

// IsConfiguration reports whether err contains a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsExhausted reports whether err contains a ResourceExhaustedError.
func IsExhausted(err error) bool {
	var target *ResourceExhaustedError
	return errors.As(err, &target)
}

// IsHardware reports whether err contains a HardwareFault.
func IsHardware(err error) bool {
	var target *HardwareFault
	return errors.As(err, &target)
}

// Kind returns a short label for metrics and journal rows.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsConfiguration(err):
		return "configuration"
	case IsExhausted(err):
		return "exhausted"
	case IsHardware(err):
		return "hardware"
	default:
		return "other"
	}
}
