package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/chromasync/internal/adapters/fs"
	"github.com/bft-labs/chromasync/internal/cliconfig"
	"github.com/bft-labs/chromasync/pkg/coordinator"
	"github.com/bft-labs/chromasync/pkg/log"
	"github.com/bft-labs/chromasync/plugins/settingswatcher"
)

const helpDescription = `
Keep your desktop theme in step with the music you play.

chromasync starts its systems in dependency order, harmonizes the palette
extracted from the current album art, writes the resulting CSS variables to a
theme file and adapts them to the beat.

Configuration is read from $HOME/.chromasync/config.toml, then CHROMASYNC_*
environment variables, then flags.
`

var exampleUsage = strings.TrimSpace(`
  chromasync --data-dir ~/.config/chromasync --theme ~/.cache/theme.css
  chromasync health
  chromasync emit-legacy colors-extracted '{"rawColors":{"VIBRANT":"#e64553"}}'
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	logger := cliconfig.Logger()

	// loadConfig layers file, environment and changed flags over the defaults.
	loadConfig := func(cmd *cobra.Command) error {
		cfgFile := cfgPath
		if cfgFile == "" {
			cfgFile = cliconfig.DefaultConfigPath()
		}

		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		if cfgFile != "" && cliconfig.FileExists(cfgFile) {
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return err
			}
		}

		// Environment overrides the file but not changed flags.
		if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
			return err
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		logger = logger.Level(toZerolog(cfg.Level()))
		return nil
	}

	root := &cobra.Command{
		Use:           "chromasync",
		Short:         "Synchronize theme colours with album art and music",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			logger.Info().Interface("config", cfg).Msg("configuration")

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			opts := []coordinator.Option{coordinator.WithRegisterer(reg)}
			if cfg.WatchSettings {
				opts = append(opts, settingswatcher.WithSettingsWatcher(settingswatcher.DefaultConfig(cfg.SettingsPath)))
			}
			c, err := newCoordinator(cfg, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := c.Initialize(ctx); err != nil {
				_ = c.Destroy(context.Background())
				return fmt.Errorf("initialize: %w", err)
			}

			srv := serveMetrics(cfg.MetricsAddr, reg, logger)

			runErr := c.Run(ctx)
			logger.Info().Msg("stopping...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if srv != nil {
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("metrics server shutdown")
				}
			}
			return errors.Join(runErr, c.Destroy(shutdownCtx))
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Start all systems once and print a JSON health report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			c, err := newCoordinator(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			initErr := c.Initialize(ctx)
			report := c.HealthCheck(ctx)
			destroyErr := c.Destroy(context.Background())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if err := errors.Join(initErr, destroyErr); err != nil {
				return err
			}
			if !report.Healthy {
				return errors.New("unhealthy")
			}
			return nil
		},
	}

	emitCmd := &cobra.Command{
		Use:   "emit-legacy <name> [json]",
		Short: "Push a legacy event through the migration layer and print the theme variables",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}
			c, err := newCoordinator(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := c.Initialize(ctx); err != nil {
				_ = c.Destroy(context.Background())
				return fmt.Errorf("initialize: %w", err)
			}
			defer func() { _ = c.Destroy(context.Background()) }()

			var payload any
			if len(args) == 2 {
				payload = args[1]
			}
			n := c.EmitLegacyEvent(args[0], payload)
			if n == 0 {
				return fmt.Errorf("legacy event %q produced no events", args[0])
			}

			vars, err := c.ThemeVariables()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(vars))
			for k := range vars {
				names = append(names, k)
			}
			sort.Strings(names)
			out := cmd.OutOrStdout()
			for _, k := range names {
				fmt.Fprintf(out, "%s: %s;\n", k, vars[k])
			}
			return nil
		},
	}

	root.AddCommand(healthCmd, emitCmd)

	// Flags
	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.chromasync/config.toml)")
	pf.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding settings.json and theme.css")
	pf.StringVar(&cfg.SettingsPath, "settings", cfg.SettingsPath, "settings file (defaults to <data-dir>/settings.json)")
	pf.StringVar(&cfg.ThemePath, "theme", cfg.ThemePath, "theme CSS output file (defaults next to the settings file)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")

	pf.DurationVar(&cfg.SystemTimeout, "system-timeout", cfg.SystemTimeout, "per-system initialization timeout")
	pf.DurationVar(&cfg.PhaseTimeout, "phase-timeout", cfg.PhaseTimeout, "per-phase initialization timeout")
	pf.DurationVar(&cfg.HealthCheckTimeout, "health-timeout", cfg.HealthCheckTimeout, "per-system health check timeout")
	pf.BoolVar(&cfg.EnforceSequential, "sequential", cfg.EnforceSequential, "stop startup on the first failed system")

	root.Flags().DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "animation frame interval (0 disables)")
	root.Flags().DurationVar(&cfg.HealthInterval, "health-interval", cfg.HealthInterval, "periodic health check interval (0 disables)")
	root.Flags().BoolVar(&cfg.WatchSettings, "watch-settings", cfg.WatchSettings, "reload settings when the file changes")
	root.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listen address (empty disables)")

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("chromasync")
		os.Exit(1)
	}
}

// newCoordinator wires the file adapters and logger from cfg.
func newCoordinator(cfg cliconfig.Config, extra ...coordinator.Option) (*coordinator.Coordinator, error) {
	opts := []coordinator.Option{
		coordinator.WithLogger(log.NewZerologAdapter(cfg.Level())),
		coordinator.WithSettingsRepository(fs.NewSettingsFile(cfg.SettingsPath)),
		coordinator.WithThemeSink(fs.NewThemeFile(cfg.ThemePath)),
	}
	c, err := coordinator.New(cfg.Coordinator(), append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	return c, nil
}
