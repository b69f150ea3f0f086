package lifecycle

import (
	"time"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/log"
)

// PhaseID identifies an initialization phase.
type PhaseID int

const (
	PhaseCoreServices PhaseID = iota + 1
	PhaseSharedServices
	PhaseFeatureSystems
	PhaseIntegration
)

// Phase is an ordered group of systems initialized concurrently. A zero
// Timeout means the phase has no deadline of its own.
type Phase struct {
	ID      PhaseID
	Name    string
	Timeout time.Duration
}

// DefaultPhases returns the standard four phases with the given timeout.
func DefaultPhases(timeout time.Duration) []Phase {
	return []Phase{
		{ID: PhaseCoreServices, Name: "core-services", Timeout: timeout},
		{ID: PhaseSharedServices, Name: "shared-services", Timeout: timeout},
		{ID: PhaseFeatureSystems, Name: "feature-systems", Timeout: timeout},
		{ID: PhaseIntegration, Name: "integration", Timeout: timeout},
	}
}

// Resolver looks up shared services by key.
type Resolver interface {
	Get(name string) (any, error)
}

// Deps is handed to every Factory. Factories run before anything is
// initialized, so they may keep these handles but must not use Services or
// emit events until Initialize.
type Deps struct {
	Bus      *event.Bus
	Logger   log.Logger
	Services Resolver
	Now      func() time.Time
}

// Factory builds a system instance. The result is checked with Conform.
type Factory func(Deps) (any, error)

// Descriptor declares one managed system.
type Descriptor struct {
	Name      string
	Phase     PhaseID
	DependsOn []string

	// Service is the registry key the instance is published under once it
	// is ready. Empty means the system is not a shared service.
	Service string

	// Critical systems fail startup even when sequential enforcement is off.
	Critical bool

	// Timeout overrides the sequencer's per-system timeout when non-zero.
	Timeout time.Duration

	Factory Factory
}
