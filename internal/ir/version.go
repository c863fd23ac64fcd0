package ir

// Version constants for the record format and engine.
const (
	// RecordFormat is the on-disk record envelope version.
	RecordFormat = "1"

	// EngineVersion is the setkeep engine version.
	EngineVersion = "0.1.0"
)
