package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common lifecycle errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConfiguration     = errors.New("invalid system configuration")
	ErrNonConforming     = errors.New("system does not conform")
	ErrDependencyFailed  = errors.New("dependency not ready")
	ErrInitTimeout       = errors.New("initialization timed out")
	ErrPhaseFailed       = errors.New("phase failed")
	ErrPanic             = errors.New("system panicked")
)

// ConfigError is a fatal configuration problem detected before any system
// is initialized.
type ConfigError struct {
	System string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.System == "" {
		return "configuration error: " + e.Detail
	}
	return fmt.Sprintf("configuration error: %s: %s", e.System, e.Detail)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// PhaseError reports the systems that failed in a gated phase.
type PhaseError struct {
	Phase    string
	Failures map[string]error
}

func (e *PhaseError) Error() string {
	names := e.failedSystems()
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", n, e.Failures[n]))
	}
	return fmt.Sprintf("phase %s failed: %s", e.Phase, strings.Join(parts, "; "))
}

// Is matches ErrPhaseFailed.
func (e *PhaseError) Is(target error) bool { return target == ErrPhaseFailed }

// Unwrap exposes the individual system failures.
func (e *PhaseError) Unwrap() []error {
	names := e.failedSystems()
	errs := make([]error, 0, len(names))
	for _, n := range names {
		errs = append(errs, e.Failures[n])
	}
	return errs
}

func (e *PhaseError) failedSystems() []string {
	names := make([]string, 0, len(e.Failures))
	for n := range e.Failures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
