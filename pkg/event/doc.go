// Package event implements the unified event bus.
//
// Every event is a typed payload struct whose EventType method is the
// discriminant. Handlers are registered per Type with a subscriber name so
// that all subscriptions of one owner can be removed at once:
//
//	bus := event.NewBus(event.WithLogger(logger))
//	defer bus.Destroy()
//
//	event.Listen(bus, "theme", func(e event.ColorsHarmonizedEvent) error {
//	    return apply(e.ProcessedColors)
//	})
//
//	bus.EmitSync(event.ColorsHarmonizedEvent{AccentHex: "#cba6f7"})
//	bus.UnsubscribeAll("theme")
//
// # Ordering
//
// Handlers of one Type run in subscription order. EmitSync dispatches on the
// caller's goroutine and returns once every handler ran, so a handler may emit
// the next pipeline stage synchronously and that stage is complete before the
// outer EmitSync returns. Emit queues the event for a single dispatcher
// goroutine; deferred events keep their relative order.
//
// Only one cascade runs at a time. A dispatch started on another goroutine,
// deferred or not, waits until the running one and every EmitSync nested in
// its handlers has returned, so handlers never run in parallel.
//
// # Failures
//
// A handler that returns an error or panics is logged with its subscriber
// and event type, counted in Metrics, and recorded in RecentErrors. The
// remaining handlers still run and the emitter never sees the failure.
package event
