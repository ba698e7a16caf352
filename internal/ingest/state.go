// Package ingest drives the resumable keyword crawl: it calls the providers
// of a category keyword by keyword, merges their results into the dedup
// index, checkpoints progress to disk and runs the filter cascade once the
// keyword queue is empty.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
)

// SchemaVersion is the checkpoint layout version. Files with another version
// are treated as corrupt.
const SchemaVersion = 3

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusError     Status = "ERROR"
	StatusCompleted Status = "COMPLETED"
)

// KindInterrupted marks a run paused by cancellation rather than by a
// provider failure.
const KindInterrupted = "Interrupted"

// Params are the inputs a run was started with.
type Params struct {
	RunID     string    `json:"run_id"`
	Keywords  []string  `json:"keywords"`
	Providers []string  `json:"providers"`
	Enrich    bool      `json:"enrich"`
	Classify  bool      `json:"classify"`
	StartedAt time.Time `json:"started_at"`
}

// Progress counts keywords of the current run.
type Progress struct {
	TotalKeywords     int `json:"total_keywords"`
	ProcessedKeywords int `json:"processed_keywords"`
}

// LastError describes why a run paused.
type LastError struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Provider string `json:"provider,omitempty"`
}

// EngineState is the dedup index snapshot plus the opaque cursor of every
// resumable provider, keyed by provider name.
type EngineState struct {
	Index   dedup.Snapshot             `json:"index"`
	Cursors map[string]json.RawMessage `json:"cursors"`
}

// RunState is the checkpoint of one category run. Field order is the order
// of the JSON object on disk.
type RunState struct {
	Version           int                              `json:"version"`
	Category          domain.Category                  `json:"category"`
	Status            Status                           `json:"status"`
	Params            Params                           `json:"params"`
	RemainingKeywords []string                         `json:"remaining_keywords"`
	CurrentKeyword    string                           `json:"current_keyword"`
	Cursors           map[string]string                `json:"cursors"`
	AnalyzedIDs       []string                         `json:"analyzed_ids"`
	Results           map[string]*domain.CanonicalItem `json:"results"`
	EngineState       EngineState                      `json:"engine_state"`
	FilterStats       domain.FilterStats               `json:"filter_stats"`
	Progress          Progress                         `json:"progress"`
	LastError         *LastError                       `json:"last_error"`
	LastSavedAt       time.Time                        `json:"last_saved_at"`
}

// NewRunState builds the initial state of a run over keywords.
func NewRunState(category domain.Category, params Params, keywords []string) *RunState {
	remaining := append([]string{}, keywords...)

	return &RunState{
		Version:           SchemaVersion,
		Category:          category,
		Status:            StatusRunning,
		Params:            params,
		RemainingKeywords: remaining,
		Cursors:           make(map[string]string),
		AnalyzedIDs:       []string{},
		Results:           make(map[string]*domain.CanonicalItem),
		EngineState: EngineState{
			Index:   dedup.Snapshot{Items: []*domain.CanonicalItem{}},
			Cursors: make(map[string]json.RawMessage),
		},
		Progress: Progress{TotalKeywords: len(remaining)},
	}
}

// normalize fills nil collections so a loaded state can be mutated safely.
func (s *RunState) normalize() {
	if s.Cursors == nil {
		s.Cursors = make(map[string]string)
	}

	if s.Results == nil {
		s.Results = make(map[string]*domain.CanonicalItem)
	}

	if s.EngineState.Cursors == nil {
		s.EngineState.Cursors = make(map[string]json.RawMessage)
	}
}
