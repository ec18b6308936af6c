package models

// Batch run status constants, shared by the service, stores, and CLI.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
