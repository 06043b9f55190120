package ir

// Version constants for persisted formats.
const (
	// ArtifactVersion is the result artifact layout version.
	ArtifactVersion = "1"

	// EngineVersion is the pagegraph engine version.
	EngineVersion = "0.1.0"
)
