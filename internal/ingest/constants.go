package ingest

// Log field constants
const (
	LogFieldCategory  = "category"
	LogFieldKeyword   = "keyword"
	LogFieldProvider  = "provider"
	LogFieldKind      = "kind"
	LogFieldStatus    = "status"
	LogFieldRemaining = "remaining"
	LogFieldRunID     = "run_id"
)

// fullSaveEvery forces a checkpoint from memory every n processed keywords.
const fullSaveEvery = 5
