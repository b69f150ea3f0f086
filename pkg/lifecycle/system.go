package lifecycle

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// System is the set of lifecycle operations every managed system provides.
type System interface {
	// Initialize brings the system up. It must honor ctx cancellation.
	Initialize(ctx context.Context) error

	// UpdateAnimation advances per-frame state by delta.
	UpdateAnimation(delta time.Duration)

	// HealthCheck reports the current health of the system.
	HealthCheck(ctx context.Context) HealthResult

	// Destroy releases resources. It must be safe after a partial or failed
	// Initialize and must not panic on repeated calls.
	Destroy(ctx context.Context) error
}

// Degradable is implemented by systems that want to know when the
// coordinator moves them in or out of degraded mode.
type Degradable interface {
	OnDegraded(reason string)
	OnRecovered()
}

// HealthResult is the outcome of one health check.
type HealthResult struct {
	Healthy bool
	Issues  []string
	Details map[string]string
}

// Healthy returns a passing HealthResult.
func Healthy() HealthResult {
	return HealthResult{Healthy: true}
}

// Unhealthy returns a failing HealthResult with the given issues.
func Unhealthy(issues ...string) HealthResult {
	return HealthResult{Healthy: false, Issues: issues}
}

type initializer interface {
	Initialize(ctx context.Context) error
}

type animator interface {
	UpdateAnimation(delta time.Duration)
}

type healthChecker interface {
	HealthCheck(ctx context.Context) HealthResult
}

type destroyer interface {
	Destroy(ctx context.Context) error
}

// ConformanceError names the lifecycle operations a value is missing.
type ConformanceError struct {
	Type    string
	Missing []string
}

func (e *ConformanceError) Error() string {
	return fmt.Sprintf("lifecycle: %s does not implement %s", e.Type, strings.Join(e.Missing, ", "))
}

func (e *ConformanceError) Unwrap() error { return ErrNonConforming }

// Conform checks that v provides every lifecycle operation and returns it as
// a System. The error lists all missing operations, not just the first.
// A nil pointer is rejected even when its type has every method.
func Conform(v any) (System, error) {
	if v == nil {
		return nil, &ConformanceError{Type: "<nil>", Missing: []string{"Initialize", "UpdateAnimation", "HealthCheck", "Destroy"}}
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, &ConformanceError{Type: fmt.Sprintf("nil %T", v), Missing: []string{"Initialize", "UpdateAnimation", "HealthCheck", "Destroy"}}
	}
	var missing []string
	if _, ok := v.(initializer); !ok {
		missing = append(missing, "Initialize")
	}
	if _, ok := v.(animator); !ok {
		missing = append(missing, "UpdateAnimation")
	}
	if _, ok := v.(healthChecker); !ok {
		missing = append(missing, "HealthCheck")
	}
	if _, ok := v.(destroyer); !ok {
		missing = append(missing, "Destroy")
	}
	if len(missing) > 0 {
		return nil, &ConformanceError{Type: fmt.Sprintf("%T", v), Missing: missing}
	}
	return v.(System), nil
}
