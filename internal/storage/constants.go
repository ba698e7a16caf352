package db

import (
	"time"
)

// Connection constants
const (
	// ConnectionRetrySleep is the sleep duration between connection retries
	ConnectionRetrySleep = 2 * time.Second
	// maxConnectionRetries is the number of retries for initial connection
	maxConnectionRetries = 10
)

// Database pool default constants
const (
	defaultMaxConns          int32         = 10
	defaultMinConns          int32         = 1
	defaultMaxConnIdleTime   time.Duration = 30 * time.Minute
	defaultMaxConnLifetime   time.Duration = time.Hour
	defaultHealthCheckPeriod time.Duration = time.Minute
)

// Table names
const (
	tableDiscardAudit = "discard_audit"
	tableKeptItems    = "kept_items"
)

// Audit files, one per gate.
const (
	FileRelevanceRejects      = "automotive_rejects.jsonl"
	FileIncidentRejects       = "incident_rejects.jsonl"
	FileClassificationRejects = "ai_rejects.jsonl"
	FileOtherRejects          = "other_rejects.jsonl"

	auditFilePerm = 0o644
	auditDirPerm  = 0o755
)
