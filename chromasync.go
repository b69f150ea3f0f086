// Package chromasync keeps theme colours in step with album art and music.
//
// Example usage:
//
//	cfg := chromasync.DefaultConfig()
//	if err := chromasync.Run(ctx, cfg,
//	    coordinator.WithThemeSink(sink),
//	); err != nil {
//	    log.Fatal(err)
//	}
//
// Run is a thin wrapper around pkg/coordinator for callers that only need
// the start, run and stop sequence.
package chromasync

import (
	"context"
	"errors"
	"time"

	"github.com/bft-labs/chromasync/pkg/coordinator"
)

// Config holds the coordinator timing and gating configuration.
type Config = coordinator.Config

// Option configures the coordinator.
type Option = coordinator.Option

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return coordinator.DefaultConfig()
}

// shutdownTimeout bounds teardown once ctx is done.
const shutdownTimeout = 10 * time.Second

// Run creates a coordinator, initializes every system and runs the frame
// and health loops until ctx is cancelled. Systems are always torn down
// before Run returns.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	c, err := coordinator.New(cfg, opts...)
	if err != nil {
		return err
	}

	runErr := c.Initialize(ctx)
	if runErr == nil {
		runErr = c.Run(ctx)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, c.Destroy(sctx))
}
