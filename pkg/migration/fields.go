package migration

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Payload is a decoded legacy payload.
type Payload = map[string]any

// str returns the first non-empty string stored under one of keys.
func str(p Payload, def string, keys ...string) string {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		case fmt.Stringer:
			s = t.String()
		case float64, float32, int, int64, int32, uint, uint64, bool:
			s = fmt.Sprint(t)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return def
}

// num returns the first finite number stored under one of keys. Numeric
// strings are accepted.
func num(p Payload, def float64, keys ...string) float64 {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return def
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// unit clamps v into [0, 1].
func unit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// nonNegative clamps v to zero from below.
func nonNegative(v float64) float64 {
	return math.Max(0, v)
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = float64(math.MaxInt64 / int64(time.Millisecond))

// millis reads a duration expressed in milliseconds.
func millis(p Payload, keys ...string) time.Duration {
	ms := math.Min(nonNegative(num(p, 0, keys...)), maxMillis)
	return time.Duration(ms * float64(time.Millisecond))
}

// timestamp reads unix milliseconds or an RFC3339 string, falling back to now.
func timestamp(p Payload, now time.Time, keys ...string) time.Time {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
				return ts
			}
		}
		if ms, ok := toFloat(v); ok && ms > 0 {
			return time.UnixMilli(int64(math.Min(ms, maxMillis)))
		}
	}
	return now
}

// stringMap reads a string-keyed map of strings. Lists are keyed COLOR_0,
// COLOR_1, ... and a single string becomes {"PRIMARY": s}.
func stringMap(p Payload, keys ...string) map[string]string {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		out := make(map[string]string)
		switch t := v.(type) {
		case map[string]string:
			for mk, mv := range t {
				if mv = strings.TrimSpace(mv); mv != "" {
					out[mk] = mv
				}
			}
		case map[string]any:
			for mk, mv := range t {
				if s := str(Payload{"v": mv}, "", "v"); s != "" {
					out[mk] = s
				}
			}
		case []any:
			for i, item := range t {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out[fmt.Sprintf("COLOR_%d", i)] = strings.TrimSpace(s)
				}
			}
		case []string:
			for i, s := range t {
				if strings.TrimSpace(s) != "" {
					out[fmt.Sprintf("COLOR_%d", i)] = strings.TrimSpace(s)
				}
			}
		case string:
			if s := strings.TrimSpace(t); s != "" {
				out["PRIMARY"] = s
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return map[string]string{}
}

// stringList reads a list of strings; a single string is a one-item list.
func stringList(p Payload, keys ...string) []string {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		var out []string
		switch t := v.(type) {
		case []string:
			out = append(out, t...)
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		case string:
			if t != "" {
				out = []string{t}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{}
}

// nested returns the object stored under key, or p itself when absent.
func nested(p Payload, key string) Payload {
	if v, ok := p[key].(map[string]any); ok {
		return v
	}
	return p
}
