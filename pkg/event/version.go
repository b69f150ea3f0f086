package event

// Version information for the event module.
const (
	Version              = "1.0.0"
	MinCompatibleVersion = "1.0.0"
)
