package pipeline

// Log field constants
const (
	LogFieldKey      = "key"
	LogFieldGate     = "gate"
	LogFieldLevel    = "level"
	LogFieldCategory = "category"
	LogFieldScore    = "score"
	LogFieldTitle    = "title"
)

// Decision reason constants
const (
	ReasonNoIncidentEvidence = "No evidence of a real incident"
	ReasonPassedFilters      = "Passes automotive and incident filters"
	ReasonYearMissing        = "Publication year unknown"
)

// Defaults
const (
	DefaultRulesVersion = "rules@v1"
	DefaultMinYear      = 2020

	maxKeepIncidentReasons = 3
	logTitleMax            = 80
)
