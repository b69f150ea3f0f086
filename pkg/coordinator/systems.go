package coordinator

import (
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/services/harmony"
	"github.com/bft-labs/chromasync/pkg/services/musicsync"
	"github.com/bft-labs/chromasync/pkg/services/perfmon"
	"github.com/bft-labs/chromasync/pkg/services/pipeline"
	"github.com/bft-labs/chromasync/pkg/services/settings"
	"github.com/bft-labs/chromasync/pkg/services/theme"
)

// builtinDescriptors declares the managed systems every coordinator runs.
func builtinDescriptors(o *options) []lifecycle.Descriptor {
	return []lifecycle.Descriptor{
		{
			Name:    settings.SystemName,
			Phase:   lifecycle.PhaseCoreServices,
			Service: settings.ServiceKey,
			Factory: func(d lifecycle.Deps) (any, error) {
				return settings.New(d.Bus, o.settingsRepo,
					settings.WithLogger(d.Logger),
					settings.WithClock(d.Now),
				), nil
			},
		},
		{
			Name:    perfmon.SystemName,
			Phase:   lifecycle.PhaseCoreServices,
			Service: perfmon.ServiceKey,
			Factory: func(d lifecycle.Deps) (any, error) {
				opts := append([]perfmon.Option{perfmon.WithLogger(d.Logger)}, o.perfOpts...)
				return perfmon.New(d.Bus, o.perfConfig, opts...), nil
			},
		},
		{
			Name:      musicsync.SystemName,
			Phase:     lifecycle.PhaseSharedServices,
			DependsOn: []string{settings.SystemName},
			Service:   musicsync.ServiceKey,
			Factory: func(d lifecycle.Deps) (any, error) {
				return musicsync.New(d.Bus, d.Services,
					musicsync.WithLogger(d.Logger),
					musicsync.WithClock(d.Now),
				), nil
			},
		},
		{
			Name:      harmony.SystemName,
			Phase:     lifecycle.PhaseSharedServices,
			DependsOn: []string{settings.SystemName},
			Service:   harmony.ServiceKey,
			Factory: func(d lifecycle.Deps) (any, error) {
				return harmony.New(d.Bus, d.Services,
					harmony.WithLogger(d.Logger),
					harmony.WithClock(d.Now),
				), nil
			},
		},
		{
			Name:      theme.SystemName,
			Phase:     lifecycle.PhaseFeatureSystems,
			DependsOn: []string{harmony.SystemName, musicsync.SystemName},
			Factory: func(d lifecycle.Deps) (any, error) {
				return theme.New(d.Bus, o.themeSink,
					theme.WithLogger(d.Logger),
					theme.WithClock(d.Now),
				), nil
			},
		},
		{
			Name:      pipeline.SystemName,
			Phase:     lifecycle.PhaseIntegration,
			DependsOn: []string{harmony.SystemName, theme.SystemName},
			Factory: func(d lifecycle.Deps) (any, error) {
				return pipeline.New(d.Bus, pipeline.WithLogger(d.Logger)), nil
			},
		},
	}
}
