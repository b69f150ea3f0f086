package coordinator

import (
	"fmt"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
	"github.com/bft-labs/chromasync/pkg/migration"
)

// Version information for the coordinator module.
const (
	Version              = "1.0.0"
	MinCompatibleVersion = "1.0.0"
)

// ModuleVersions returns the version of every module the coordinator is
// assembled from.
func ModuleVersions() map[string]string {
	return map[string]string{
		"coordinator": Version,
		"event":       event.Version,
		"lifecycle":   lifecycle.Version,
		"log":         log.Version,
		"migration":   migration.Version,
	}
}

// validateModuleVersions checks that all module versions are compatible.
func validateModuleVersions() error {
	modules := map[string]struct {
		version    string
		minVersion string
	}{
		"event":     {event.Version, event.MinCompatibleVersion},
		"lifecycle": {lifecycle.Version, lifecycle.MinCompatibleVersion},
		"log":       {log.Version, log.MinCompatibleVersion},
		"migration": {migration.Version, migration.MinCompatibleVersion},
	}

	for name, m := range modules {
		if !isVersionCompatible(m.version, m.minVersion) {
			return fmt.Errorf("module %s version %s is below minimum compatible version %s",
				name, m.version, m.minVersion)
		}
	}
	return nil
}

// isVersionCompatible reports whether version >= minVersion. Versions are
// "major.minor.patch".
func isVersionCompatible(version, minVersion string) bool {
	var vMajor, vMinor, vPatch int
	var mMajor, mMinor, mPatch int

	_, _ = fmt.Sscanf(version, "%d.%d.%d", &vMajor, &vMinor, &vPatch)
	_, _ = fmt.Sscanf(minVersion, "%d.%d.%d", &mMajor, &mMinor, &mPatch)

	if vMajor != mMajor {
		return vMajor > mMajor
	}
	if vMinor != mMinor {
		return vMinor > mMinor
	}
	return vPatch >= mPatch
}
