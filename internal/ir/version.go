package ir

// Version constants for the plan schema and engine.
const (
	// PlanSchemaVersion is the compiled plan serialization version.
	PlanSchemaVersion = "1"

	// EngineVersion is the prestige engine version.
	EngineVersion = "0.1.0"
)
