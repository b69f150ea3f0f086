// Package log provides the logging abstraction used by every chromasync
// component.
//
// Components depend on the Logger interface only. A zerolog-backed adapter
// is provided for real output and a no-op logger is the default everywhere a
// logger is optional.
//
// # Usage
//
//	logger := log.NewZerologAdapter(log.LevelInfo)
//	busLogger := logger.With(log.String("component", "bus"))
//
// Or discard everything:
//
//	logger := log.NewNoopLogger()
//
// # Custom Loggers
//
// Implement Logger to route chromasync logs into an existing pipeline:
//
//	type MyLogger struct { ... }
//
//	func (l *MyLogger) Debug(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Info(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Warn(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Error(msg string, fields ...log.Field) { ... }
package log
