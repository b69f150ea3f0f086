package log

// Version information for the log module.
const (
	Version              = "1.1.0"
	MinCompatibleVersion = "1.0.0"
)
