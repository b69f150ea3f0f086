package event

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bft-labs/chromasync/internal/metrics"
	"github.com/bft-labs/chromasync/pkg/log"
)

// Handler receives a unified event. A returned error is reported exactly
// like a panic: logged, counted and never propagated to the emitter.
type Handler func(Event) error

// SubscriptionID identifies one subscription for individual removal.
type SubscriptionID string

// Approximate per-item footprints used by Metrics.MemoryUsage.
const (
	subscriptionOverhead = 96
	queuedEventOverhead  = 128
	recentErrorLimit     = 32
)

type subscription struct {
	id         SubscriptionID
	eventType  Type
	subscriber string
	handler    Handler
}

// Metrics is a point-in-time view of the bus.
type Metrics struct {
	ActiveSubscriptions int
	Subscribers         int
	TotalEvents         uint64
	HandlerErrors       uint64
	Pending             int
	MemoryUsage         int64
	EventsByType        map[Type]uint64
}

// Bus is the unified, ordered publish/subscribe hub.
//
// Handlers for one Type run in subscription order. Dispatch iterates over a
// snapshot taken at emission time, so handlers may subscribe, unsubscribe or
// emit re-entrantly. A subscription removed during a dispatch still receives
// the event being dispatched.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Type][]subscription
	index     map[SubscriptionID]subscription
	destroyed bool

	totalEvents   atomic.Uint64
	handlerErrors atomic.Uint64

	countsMu sync.Mutex
	byType   map[Type]uint64

	errMu  sync.Mutex
	recent []HandlerError

	logger    log.Logger
	metrics   *metrics.Bus
	errorHook func(HandlerError)

	dispatching *dispatchLock
	deferred    deferredQueue
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report handler failures.
func WithLogger(l log.Logger) BusOption {
	return func(b *Bus) { b.logger = log.OrNoop(l) }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Bus) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// WithErrorHook registers a callback invoked for every handler failure,
// after it has been logged.
func WithErrorHook(fn func(HandlerError)) BusOption {
	return func(b *Bus) { b.errorHook = fn }
}

// NewBus creates an empty bus. No goroutine is started until the first
// deferred Emit.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:        make(map[Type][]subscription),
		index:       make(map[SubscriptionID]subscription),
		byType:      make(map[Type]uint64),
		logger:      log.NoopLogger{},
		dispatching: newDispatchLock(),
		deferred:    newDeferredQueue(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for t on behalf of subscriber.
func (b *Bus) Subscribe(t Type, handler Handler, subscriber string) (SubscriptionID, error) {
	if !IsKnown(t) {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
	if handler == nil {
		return "", ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return "", ErrBusDestroyed
	}

	sub := subscription{
		id:         SubscriptionID(uuid.NewString()),
		eventType:  t,
		subscriber: subscriber,
		handler:    handler,
	}
	b.subs[t] = append(b.subs[t], sub)
	b.index[sub.id] = sub
	b.setSubscriptionGauge()

	return sub.id, nil
}

// Unsubscribe removes one subscription. Unknown ids are ignored; the return
// value reports whether anything was removed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.index[id]
	if !ok {
		return false
	}
	delete(b.index, id)
	b.subs[sub.eventType] = slices.DeleteFunc(b.subs[sub.eventType], func(s subscription) bool {
		return s.id == id
	})
	if len(b.subs[sub.eventType]) == 0 {
		delete(b.subs, sub.eventType)
	}
	b.setSubscriptionGauge()
	return true
}

// UnsubscribeAll removes every subscription held by subscriber and returns
// how many were removed.
func (b *Bus) UnsubscribeAll(subscriber string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for t, subs := range b.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.subscriber == subscriber {
				delete(b.index, s.id)
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(b.subs, t)
		} else {
			b.subs[t] = kept
		}
	}
	if removed > 0 {
		b.setSubscriptionGauge()
	}
	return removed
}

// Subscriptions returns the ids held by subscriber, oldest first per type.
func (b *Bus) Subscriptions(subscriber string) []SubscriptionID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ids []SubscriptionID
	for _, t := range KnownTypes() {
		for _, s := range b.subs[t] {
			if s.subscriber == subscriber {
				ids = append(ids, s.id)
			}
		}
	}
	return ids
}

// EmitSync dispatches e to every current subscriber of its type before
// returning. It returns the number of handlers invoked. Dispatches from
// different goroutines, deferred ones included, never overlap: EmitSync
// waits for a running cascade to finish unless it is called from one of
// that cascade's handlers.
func (b *Bus) EmitSync(e Event) int {
	return b.dispatch(e, "sync", nil)
}

// EmitSyncTo dispatches e synchronously, but only to handlers owned by the
// named subscribers. Subscription order is preserved.
func (b *Bus) EmitSyncTo(e Event, subscribers ...string) int {
	if len(subscribers) == 0 {
		return 0
	}
	only := make(map[string]struct{}, len(subscribers))
	for _, s := range subscribers {
		only[s] = struct{}{}
	}
	return b.dispatch(e, "targeted", only)
}

func (b *Bus) dispatch(e Event, mode string, only map[string]struct{}) int {
	if e == nil {
		return 0
	}
	t := e.EventType()
	if !IsKnown(t) {
		b.logger.Warn("dropping event with unknown type", log.String("event", string(t)))
		return 0
	}

	b.dispatching.acquire()
	defer b.dispatching.release()

	b.mu.RLock()
	if b.destroyed {
		b.mu.RUnlock()
		return 0
	}
	snapshot := slices.Clone(b.subs[t])
	b.mu.RUnlock()

	b.totalEvents.Add(1)
	b.countsMu.Lock()
	b.byType[t]++
	b.countsMu.Unlock()
	if b.metrics != nil {
		b.metrics.EventsTotal.WithLabelValues(string(t), mode).Inc()
	}

	invoked := 0
	for _, s := range snapshot {
		if only != nil {
			if _, ok := only[s.subscriber]; !ok {
				continue
			}
		}
		b.safeCall(s, e)
		invoked++
	}
	return invoked
}

// safeCall invokes a handler, converting both returned errors and panics
// into a reported HandlerError.
func (b *Bus) safeCall(s subscription, e Event) {
	var (
		err      error
		panicked bool
		stack    []byte
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("%v", r)
				stack = debug.Stack()
			}
		}()
		err = s.handler(e)
	}()
	if err == nil {
		return
	}
	b.report(HandlerError{
		Subscriber: s.subscriber,
		EventType:  s.eventType,
		Err:        err,
		Panicked:   panicked,
	}, stack)
}

func (b *Bus) report(he HandlerError, stack []byte) {
	b.handlerErrors.Add(1)
	if b.metrics != nil {
		b.metrics.HandlerErrors.WithLabelValues(string(he.EventType), he.Subscriber).Inc()
	}

	b.errMu.Lock()
	b.recent = append(b.recent, he)
	if len(b.recent) > recentErrorLimit {
		b.recent = b.recent[len(b.recent)-recentErrorLimit:]
	}
	b.errMu.Unlock()

	fields := []log.Field{
		log.String("subscriber", he.Subscriber),
		log.String("event", string(he.EventType)),
		log.Bool("panicked", he.Panicked),
		log.Err(he.Err),
	}
	if len(stack) > 0 {
		fields = append(fields, log.String("stack", string(stack)))
	}
	b.logger.Error("event handler failed", fields...)

	if b.errorHook != nil {
		func() {
			defer func() { _ = recover() }()
			b.errorHook(he)
		}()
	}
}

// RecentErrors returns the most recent handler failures, oldest first.
func (b *Bus) RecentErrors() []HandlerError {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return slices.Clone(b.recent)
}

// Metrics returns a snapshot of bus bookkeeping. It is safe to call at any
// time, including before any subscription exists and after Destroy.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	active := len(b.index)
	subscribers := make(map[string]struct{})
	var mem int64
	for t, subs := range b.subs {
		for _, s := range subs {
			subscribers[s.subscriber] = struct{}{}
			mem += int64(subscriptionOverhead + len(s.id) + len(s.subscriber) + len(t))
		}
	}
	b.mu.RUnlock()

	pending := b.deferred.len()
	mem += int64(pending * queuedEventOverhead)

	b.countsMu.Lock()
	byType := make(map[Type]uint64, len(b.byType))
	for t, n := range b.byType {
		byType[t] = n
	}
	b.countsMu.Unlock()

	return Metrics{
		ActiveSubscriptions: active,
		Subscribers:         len(subscribers),
		TotalEvents:         b.totalEvents.Load(),
		HandlerErrors:       b.handlerErrors.Load(),
		Pending:             pending,
		MemoryUsage:         mem,
		EventsByType:        byType,
	}
}

// Destroyed reports whether Destroy has been called.
func (b *Bus) Destroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}

// Destroy removes every subscription, drops queued deferred events and stops
// the dispatcher goroutine. Later emits are no-ops. Destroy is idempotent.
func (b *Bus) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	removed := len(b.index)
	b.subs = make(map[Type][]subscription)
	b.index = make(map[SubscriptionID]subscription)
	b.setSubscriptionGauge()
	b.mu.Unlock()

	dropped := b.stopDeferred()
	b.logger.Debug("event bus destroyed",
		log.Int("subscriptions_removed", removed),
		log.Int("deferred_dropped", dropped),
	)
}

// setSubscriptionGauge must be called with b.mu held.
func (b *Bus) setSubscriptionGauge() {
	if b.metrics != nil {
		b.metrics.Subscriptions.Set(float64(len(b.index)))
	}
}
