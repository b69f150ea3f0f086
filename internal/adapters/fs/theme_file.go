package fs

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ThemeFile implements ports.ThemeSink by writing a CSS :root block.
type ThemeFile struct {
	path string
}

// NewThemeFile creates a sink writing to path.
func NewThemeFile(path string) *ThemeFile {
	return &ThemeFile{path: path}
}

// Publish rewrites the file with every variable, sorted by name.
func (t *ThemeFile) Publish(ctx context.Context, vars map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAtomic(t.path, []byte(RenderCSS(vars)), 0o644)
}

// Path returns the theme file path.
func (t *ThemeFile) Path() string {
	return t.path
}

// RenderCSS renders vars as a :root rule. Names missing the leading "--"
// get it added.
func RenderCSS(vars map[string]string) string {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(":root {\n")
	for _, k := range names {
		name := k
		if !strings.HasPrefix(name, "--") {
			name = "--" + name
		}
		fmt.Fprintf(&b, "  %s: %s;\n", name, vars[k])
	}
	b.WriteString("}\n")
	return b.String()
}
