package domain

// DiscardRecord is the audit trail of one record dropped by a gate. Fields
// that the dropping gate had not computed yet stay empty.
type DiscardRecord struct {
	RunID     string   `json:"run_id,omitempty"`
	Gate      string   `json:"gate"`
	NormKey   string   `json:"norm_key"`
	ItemKey   string   `json:"item_key"`
	Category  Category `json:"item_type"`
	SourceRef string   `json:"source_ref,omitempty"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Year      *int     `json:"year"`
	Reasons   []string `json:"reasons"`

	RelevanceScore int                 `json:"heur_score"`
	RelevanceTags  []string            `json:"heur_tags,omitempty"`
	RelevanceHits  map[string][]string `json:"heur_hits,omitempty"`

	IncidentScore    *int     `json:"incident_score"`
	IncidentReasons  []string `json:"incident_reasons,omitempty"`
	IncidentCategory string   `json:"incident_category,omitempty"`

	Level          string                `json:"ia_level,omitempty"`
	Classification *ClassificationResult `json:"ia,omitempty"`
	Threshold      *float64              `json:"ia_threshold,omitempty"`
	AbstainLabel   string                `json:"ia_abstain_label,omitempty"`
	BadLabels      []string              `json:"ia_bad_labels,omitempty"`
}

// FilterStats counts what the filter cascade did with the records of a run.
// It is persisted in the checkpoint and restored on resume.
type FilterStats struct {
	TotalItems          int `json:"total_items"`
	MissingSummary      int `json:"missing_summary"`
	FilteredByYear      int `json:"filtered_by_year"`
	FilteredByRelevance int `json:"filtered_by_heuristic_auto"`
	FilteredByIncident  int `json:"filtered_by_heuristic_inci"`
	AlreadyAnalyzed     int `json:"already_processed_ia"`
	FilteredByAI        int `json:"filtered_by_ai"`
	SavedItems          int `json:"saved_items"`
}

// Add accumulates o into s.
func (s *FilterStats) Add(o FilterStats) {
	s.TotalItems += o.TotalItems
	s.MissingSummary += o.MissingSummary
	s.FilteredByYear += o.FilteredByYear
	s.FilteredByRelevance += o.FilteredByRelevance
	s.FilteredByIncident += o.FilteredByIncident
	s.AlreadyAnalyzed += o.AlreadyAnalyzed
	s.FilteredByAI += o.FilteredByAI
	s.SavedItems += o.SavedItems
}
