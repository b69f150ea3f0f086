// Package ports defines the interfaces (ports) that connect chromasync's
// managed systems to infrastructure adapters.
//
// # Port Interfaces
//
//   - [SettingsRepository]: Persists and loads user preferences
//   - [ThemeSink]: Publishes theme variables to the presentation layer
//
// # Usage
//
// The services depend only on these interfaces. Infrastructure adapters
// (internal/adapters) implement them with concrete implementations (files,
// memory). This keeps services testable with in-memory fakes.
package ports
