package domain

// Decision is the final verdict of the filter cascade for one item.
type Decision string

const (
	DecisionNone Decision = ""
	DecisionKeep Decision = "keep"
	DecisionDrop Decision = "drop"
)

// Gate names.
const (
	GateYear           = "year_filter"
	GateRelevance      = "automotive_filter"
	GateIncident       = "incident_filter"
	GateClassification = "ai_zeroshot"
	GateFinal          = "final"
)

// MaxDecisionReasons bounds the reasons stored on a decision.
const MaxDecisionReasons = 5

// FilterDecision records which gate acted on an item and why.
type FilterDecision struct {
	Decision     Decision `json:"decision"`
	Gate         string   `json:"gate"`
	Reasons      []string `json:"reasons"`
	RulesVersion string   `json:"rules_version"`
}

// SetReasons stores at most MaxDecisionReasons reasons.
func (d *FilterDecision) SetReasons(reasons []string) {
	if len(reasons) > MaxDecisionReasons {
		reasons = reasons[:MaxDecisionReasons]
	}

	d.Reasons = append([]string{}, reasons...)
}

// RelevanceResult is the output of the domain-relevance scorer.
type RelevanceResult struct {
	Score int                 `json:"score"`
	Hits  map[string][]string `json:"hits,omitempty"`
	Tags  map[string][]string `json:"tags,omitempty"`
}

// IncidentResult is the output of the incident-reality scorer.
type IncidentResult struct {
	Keep     bool                `json:"keep"`
	Score    int                 `json:"score"`
	Category string              `json:"category,omitempty"`
	Reasons  []string            `json:"reasons,omitempty"`
	Matches  map[string][]string `json:"matches,omitempty"`
}

// LabelScore is one (label, score) pair returned by a classifier model.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ClassificationResult is the audited output of one classification level.
type ClassificationResult struct {
	Label       string                  `json:"label"`
	Score       float64                 `json:"score"`
	Accepted    bool                    `json:"accepted"`
	Rule        string                  `json:"rule,omitempty"`
	Votes       int                     `json:"votes"`
	Margin      float64                 `json:"margin"`
	Entropy     float64                 `json:"entropy"`
	EntropyCap  float64                 `json:"entropy_cap"`
	WinnerMax   float64                 `json:"winner_model_max"`
	PerModelTop map[string][]LabelScore `json:"per_model_top3,omitempty"`
}
