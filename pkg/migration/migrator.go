package migration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/chromasync/internal/metrics"
	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/log"
)

var (
	// ErrInvalidRule is returned by Register for a rule without a name or
	// transform.
	ErrInvalidRule = errors.New("migration: invalid rule")

	// ErrDuplicateRule is returned when a legacy name or alias is already
	// claimed by another rule.
	ErrDuplicateRule = errors.New("migration: duplicate legacy name")

	errUnsupportedPayload = errors.New("unsupported payload type")
)

// Stats counts invocations of one legacy name.
type Stats struct {
	Migrated uint64
	Dropped  uint64
	Emitted  uint64
}

// Migrator republishes legacy events on the unified bus.
type Migrator struct {
	bus     *event.Bus
	logger  log.Logger
	metrics *metrics.Migration
	now     func() time.Time

	mu     sync.Mutex
	rules  map[string]*Rule
	stats  map[string]*Stats
	warned map[string]bool
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger for drops and deprecation warnings.
func WithLogger(l log.Logger) Option {
	return func(m *Migrator) { m.logger = log.OrNoop(l) }
}

// WithMetrics attaches the legacy event counters.
func WithMetrics(mm *metrics.Migration) Option {
	return func(m *Migrator) { m.metrics = mm }
}

// WithClock overrides the clock used for missing timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a Migrator publishing on bus with DefaultRules registered.
func New(bus *event.Bus, opts ...Option) *Migrator {
	m := &Migrator{
		bus:    bus,
		logger: log.NoopLogger{},
		now:    time.Now,
		rules:  make(map[string]*Rule),
		stats:  make(map[string]*Stats),
		warned: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, r := range DefaultRules() {
		if err := m.Register(r); err != nil {
			panic(fmt.Sprintf("migration: default rule %q: %v", r.Legacy, err))
		}
	}
	return m
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a rule. Names and aliases are matched case-insensitively.
func (m *Migrator) Register(r Rule) error {
	name := normalizeName(r.Legacy)
	if name == "" || r.Transform == nil {
		return fmt.Errorf("%w: %q", ErrInvalidRule, r.Legacy)
	}
	names := []string{name}
	for _, a := range r.Aliases {
		if a = normalizeName(a); a != "" {
			names = append(names, a)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range names {
		if _, exists := m.rules[n]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateRule, n)
		}
	}
	rule := r
	rule.Legacy = name
	for _, n := range names {
		m.rules[n] = &rule
	}
	return nil
}

// LegacyNames returns every accepted legacy name, aliases included.
func (m *Migrator) LegacyNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rules))
	for n := range m.rules {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// EmitLegacyEvent converts a legacy invocation into unified events and
// emits them synchronously in rule order. payload may be a map[string]any,
// a map[string]string, or a JSON object as []byte or string. It never
// panics; malformed input is logged and dropped. The return value is the
// number of unified events emitted.
func (m *Migrator) EmitLegacyEvent(name string, payload any) int {
	key := normalizeName(name)

	m.mu.Lock()
	rule, ok := m.rules[key]
	m.mu.Unlock()
	if !ok {
		m.drop(key, "unknown legacy event", nil)
		return 0
	}

	p, err := decodePayload(payload)
	if err != nil {
		m.drop(rule.Legacy, "malformed legacy payload", err)
		return 0
	}

	events, err := m.transform(rule, p)
	if err != nil {
		m.drop(rule.Legacy, "legacy transform failed", err)
		return 0
	}
	if len(events) == 0 {
		m.drop(rule.Legacy, "legacy payload produced no events", nil)
		return 0
	}

	m.record(rule.Legacy, func(s *Stats) {
		s.Migrated++
		s.Emitted += uint64(len(events))
	})
	m.metrics.IncLegacy(rule.Legacy, "migrated")
	m.warnOnce(rule.Legacy, name)

	for _, e := range events {
		m.bus.EmitSync(e)
	}
	return len(events)
}

func (m *Migrator) transform(rule *Rule, p Payload) (events []event.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Debug("legacy transform panic", log.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	for _, e := range rule.Transform(p, m.now()) {
		if e != nil {
			events = append(events, e)
		}
	}
	return events, nil
}

func (m *Migrator) drop(name, reason string, err error) {
	if name == "" {
		name = "unknown"
	}
	m.record(name, func(s *Stats) { s.Dropped++ })
	m.metrics.IncLegacy(name, "dropped")

	fields := []log.Field{log.String("legacy", name)}
	if err != nil {
		fields = append(fields, log.Err(err))
	}
	m.logger.Warn(reason, fields...)
}

// warnOnce logs a deprecation warning the first time a legacy name is used,
// so remaining legacy producers show up in the logs.
func (m *Migrator) warnOnce(canonical, used string) {
	m.mu.Lock()
	seen := m.warned[canonical]
	m.warned[canonical] = true
	m.mu.Unlock()
	if seen {
		return
	}
	m.logger.Warn("legacy event producer in use",
		log.String("legacy", canonical),
		log.String("invoked_as", used),
	)
}

func (m *Migrator) record(name string, fn func(*Stats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[name]
	if !ok {
		s = &Stats{}
		m.stats[name] = s
	}
	fn(s)
}

// Stats returns a copy of the per legacy name counters, keyed by canonical
// name. Unknown names are recorded as drops under the name used.
func (m *Migrator) Stats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.stats))
	for k, v := range m.stats {
		out[k] = *v
	}
	return out
}

func decodePayload(payload any) (Payload, error) {
	switch v := payload.(type) {
	case nil:
		return nil, errors.New("nil payload")
	case map[string]any:
		return v, nil
	case map[string]string:
		p := make(Payload, len(v))
		for k, s := range v {
			p[k] = s
		}
		return p, nil
	case []byte:
		return decodeJSON(v)
	case json.RawMessage:
		return decodeJSON(v)
	case string:
		return decodeJSON([]byte(v))
	default:
		return nil, fmt.Errorf("%w: %T", errUnsupportedPayload, payload)
	}
}

func decodeJSON(data []byte) (Payload, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		return nil, errors.New("payload is not an object")
	}
	return p, nil
}
