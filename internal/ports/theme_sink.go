package ports

import "context"

// ThemeSink receives the full set of theme variables whenever they change.
// Keys are CSS custom property names such as "--cs-accent".
type ThemeSink interface {
	Publish(ctx context.Context, vars map[string]string) error
}
