// Package lifecycle sequences the startup, health monitoring and teardown
// of managed systems.
//
// Systems are declared with a Descriptor naming their phase and
// dependencies. NewGraph rejects configuration problems before anything
// runs: duplicate or unknown names, dependency cycles, and dependencies that
// are not in an earlier phase.
//
// # Usage
//
//	g, err := lifecycle.NewGraph(lifecycle.DefaultPhases(10*time.Second), descriptors)
//	if err != nil {
//	    return err // *ConfigError
//	}
//
//	seq, err := lifecycle.NewSequencer(g, systems,
//	    lifecycle.WithLogger(logger),
//	    lifecycle.WithSystemTimeout(5*time.Second),
//	)
//	if err := seq.Run(ctx); err != nil {
//	    return err // *PhaseError when gated
//	}
//	defer seq.Teardown(context.Background())
//
// # State Machine
//
// Valid state transitions:
//   - uninitialized -> initializing, failed, destroyed
//   - initializing -> ready, failed, destroyed
//   - ready -> degraded, failed, destroyed
//   - degraded -> ready, failed, destroyed
//   - failed -> destroyed
//   - destroyed -> uninitialized
//
// # Version
//
// Current version: 2.0.0
// Minimum compatible version: 2.0.0
//
// See version.go for version constants that can be used programmatically.
package lifecycle
