package event

import "fmt"

// Listen subscribes a typed handler. The event type is taken from T, so the
// handler can never be registered under the wrong discriminant.
//
//	event.Listen(bus, "palette", func(e event.ColorsExtractedEvent) error {
//	    ...
//	})
func Listen[T Event](b *Bus, subscriber string, fn func(T) error) (SubscriptionID, error) {
	if fn == nil {
		return "", ErrNilHandler
	}
	var zero T
	return b.Subscribe(zero.EventType(), func(e Event) error {
		v, ok := e.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", e, zero.EventType())
		}
		return fn(v)
	}, subscriber)
}
