package harmony

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Mode is a colour harmony strategy.
type Mode string

const (
	Analogous     Mode = "analogous"
	Complementary Mode = "complementary"
	Triadic       Mode = "triadic"
	Monochromatic Mode = "monochromatic"
)

// DefaultMode is used when the configured mode is unknown.
const DefaultMode = Analogous

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Analogous, Complementary, Triadic, Monochromatic:
		return m, true
	default:
		return DefaultMode, false
	}
}

// accentPriority is the order in which extractor keys are tried for the
// accent colour.
var accentPriority = []string{
	"VIBRANT",
	"LIGHT_VIBRANT",
	"PROMINENT",
	"DARK_VIBRANT",
	"DESATURATED",
	"LIGHT_VIBRANT_NON_ALARMING",
}

// Result is the outcome of harmonizing one palette.
type Result struct {
	Accent     colorful.Color
	Colors     map[string]string
	Strategies []string
	// FromFallback is set when no raw colour could be parsed.
	FromFallback bool
}

// ParseHex parses "#rrggbb", "rrggbb" or "#rgb".
func ParseHex(s string) (colorful.Color, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return colorful.Color{}, fmt.Errorf("empty colour")
	}
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	return colorful.Hex(strings.ToLower(s))
}

// Harmonize picks an accent from raw and derives the palette for mode.
// fallback is used as accent when no raw colour parses.
func Harmonize(raw map[string]string, mode Mode, fallback colorful.Color) Result {
	parsed := make(map[string]colorful.Color, len(raw))
	for k, v := range raw {
		if c, err := ParseHex(v); err == nil {
			parsed[strings.ToUpper(k)] = c
		}
	}

	res := Result{Colors: make(map[string]string, len(parsed)+4)}
	for k, c := range parsed {
		res.Colors[k] = c.Hex()
	}

	accent, source, ok := pickAccent(parsed)
	if !ok {
		accent = fallback
		source = "fallback"
		res.FromFallback = true
	}
	res.Accent = accent
	res.Colors["ACCENT"] = accent.Hex()
	res.Strategies = []string{"accent:" + source, string(mode)}

	for k, c := range derive(accent, mode) {
		res.Colors[k] = c.Hex()
	}
	return res
}

func pickAccent(parsed map[string]colorful.Color) (colorful.Color, string, bool) {
	for _, k := range accentPriority {
		if c, ok := parsed[k]; ok {
			return c, strings.ToLower(k), true
		}
	}
	if len(parsed) == 0 {
		return colorful.Color{}, "", false
	}
	keys := make([]string, 0, len(parsed))
	for k := range parsed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return parsed[keys[0]], strings.ToLower(keys[0]), true
}

// derive rotates the accent in HCL space so that derived colours keep the
// accent's perceived lightness.
func derive(accent colorful.Color, mode Mode) map[string]colorful.Color {
	h, c, l := accent.Hcl()
	rotate := func(deg float64) colorful.Color {
		return colorful.Hcl(math.Mod(h+deg+360, 360), c, l).Clamped()
	}
	shade := func(dl float64) colorful.Color {
		return colorful.Hcl(h, c, math.Max(0, math.Min(1, l+dl))).Clamped()
	}

	switch mode {
	case Complementary:
		return map[string]colorful.Color{"COMPLEMENT": rotate(180)}
	case Triadic:
		return map[string]colorful.Color{"TRIAD_1": rotate(120), "TRIAD_2": rotate(240)}
	case Monochromatic:
		return map[string]colorful.Color{"SHADE": shade(-0.15), "TINT": shade(0.15)}
	default:
		return map[string]colorful.Color{"ANALOGOUS_1": rotate(-30), "ANALOGOUS_2": rotate(30)}
	}
}

// RGB formats c as "r,g,b".
func RGB(c colorful.Color) string {
	r, g, b := c.RGB255()
	return fmt.Sprintf("%d,%d,%d", r, g, b)
}
