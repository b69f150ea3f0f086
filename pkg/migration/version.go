package migration

// Version information for the migration module.
const (
	Version              = "1.0.0"
	MinCompatibleVersion = "1.0.0"
)
