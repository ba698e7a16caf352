package classify

import (
	"math"
	"sort"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

// Cascade constants shared by every level.
const (
	hiConf        = 0.85
	midConf       = 0.65
	midMargin     = 0.05
	lowConf       = 0.50
	hardRescueMin = 0.70
	temperature   = 1.3
	logitEps      = 1e-6
	entropyScale  = 0.75
	perModelTopN  = 3
)

// Acceptance rule names, reported on the result.
const (
	RuleHiConf          = "hi_conf"
	RuleMidConf         = "mid_conf"
	RuleSoftConsensus   = "soft_consensus"
	RuleHardLabelRescue = "hard_label_rescue"
)

// hardSignals are lexical cues that let a hard label be rescued.
var hardSignals = []string{
	"ransomware", "data leak", "data breach", "exfiltration",
	"unlock", "relay attack", "remote start", "remote control",
	"hacked", "breach", "stolen data", "cdk", "reynolds & reynolds", "solera", "dms",
}

// ModelScores is one model's ordered (label, score) list over the full label set.
type ModelScores struct {
	Model  string              `json:"model"`
	Scores []domain.LabelScore `json:"scores"`
}

func (m ModelScores) scoreOf(label string) float64 {
	for _, s := range m.Scores {
		if s.Label == label {
			return s.Score
		}
	}

	return 0
}

func (m ModelScores) top() string {
	best, bestScore := "", math.Inf(-1)

	for _, s := range m.Scores {
		if s.Score > bestScore {
			best, bestScore = s.Label, s.Score
		}
	}

	return best
}

// fusion holds every intermediate quantity of one evaluation.
type fusion struct {
	label      string
	score      float64
	votes      int
	margin     float64
	entropy    float64
	entropyCap float64
	winnerMax  float64
	hasSignal  bool
}

// acceptRule is one step of the acceptance cascade; the first rule whose
// predicate holds accepts the item.
type acceptRule struct {
	name string
	when func(f *fusion, l Level) bool
}

var acceptRules = []acceptRule{
	{
		name: RuleHiConf,
		when: func(f *fusion, l Level) bool {
			return f.score >= hiConf && f.winnerMax >= l.perModelMin()
		},
	},
	{
		name: RuleMidConf,
		when: func(f *fusion, l Level) bool {
			return f.votes >= l.minVotes() && f.score >= midConf && f.margin >= midMargin && f.winnerMax >= l.perModelMin()
		},
	},
	{
		name: RuleSoftConsensus,
		when: func(f *fusion, l Level) bool {
			return f.score >= l.threshold() && f.margin >= l.minMargin() && f.entropy <= f.entropyCap &&
				f.winnerMax >= l.perModelMin() && f.score >= lowConf
		},
	},
	{
		name: RuleHardLabelRescue,
		when: func(f *fusion, l Level) bool {
			return l.IsHard(f.label) && f.hasSignal && f.score >= hardRescueMin && f.winnerMax >= l.perModelMin()
		},
	},
}

// Evaluate fuses per-model scores for one level and runs the acceptance
// cascade. weights maps model name to its weight; a model without a weight
// contributes nothing unless no model has one, in which case all count equally.
func Evaluate(level Level, title, summary string, perModel []ModelScores, weights map[string]float64) *domain.ClassificationResult {
	w := effectiveWeights(perModel, weights)

	f := fuse(level, perModel, w)
	f.hasSignal = containsSignal(title + " " + summary)

	res := &domain.ClassificationResult{
		Label:       level.abstainLabel(),
		Score:       f.score,
		Votes:       f.votes,
		Margin:      f.margin,
		Entropy:     f.entropy,
		EntropyCap:  f.entropyCap,
		WinnerMax:   f.winnerMax,
		PerModelTop: topN(perModel, perModelTopN),
	}

	if f.label == "" {
		return res
	}

	for _, r := range acceptRules {
		if r.when(&f, level) {
			res.Accepted = true
			res.Rule = r.name
			res.Label = f.label

			break
		}
	}

	return res
}

// RejectReasons explains why a level rejects a result; nil means accepted.
func RejectReasons(level Level, res *domain.ClassificationResult) []string {
	var reasons []string

	if res.Label == level.abstainLabel() {
		reasons = append(reasons, "AI abstention")
	}

	if level.IsBad(res.Label) {
		reasons = append(reasons, "Negative label")
	}

	if !res.Accepted {
		reasons = append(reasons, "Ensemble acceptance not met")
	}

	return reasons
}

func effectiveWeights(perModel []ModelScores, weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(perModel))
	total := 0.0

	for _, m := range perModel {
		out[m.Model] = weights[m.Model]
		total += out[m.Model]
	}

	if total <= 0 {
		for _, m := range perModel {
			out[m.Model] = 1
		}
	}

	return out
}

func fuse(level Level, perModel []ModelScores, weights map[string]float64) fusion {
	labels := labelOrder(level, perModel)

	n := max(1, len(labels))
	f := fusion{entropyCap: entropyScale * math.Log(float64(n))}

	if level.EntropyCap != nil {
		f.entropyCap = *level.EntropyCap
	}

	if len(labels) == 0 || len(perModel) == 0 {
		return f
	}

	totalWeight := 0.0
	fused := make(map[string]float64, len(labels))
	soft := make(map[string]float64, len(labels))

	for _, m := range perModel {
		w := weights[m.Model]
		totalWeight += w

		for _, l := range labels {
			fused[l] += w * m.scoreOf(l)
		}

		for l, p := range softmaxFromMultilabel(m, labels) {
			soft[l] += w * p
		}
	}

	for _, l := range labels {
		if totalWeight > 0 {
			fused[l] /= totalWeight
		} else {
			fused[l] = 0
		}
	}

	z := 0.0
	for _, p := range soft {
		z += p
	}

	if z == 0 {
		z = 1
	}

	for l := range soft {
		soft[l] /= z
	}

	ranked := rank(labels, fused)
	f.label, f.score = ranked[0], fused[ranked[0]]

	softRanked := rank(labels, soft)
	f.margin = soft[softRanked[0]]
	if len(softRanked) > 1 {
		f.margin -= soft[softRanked[1]]
	}

	f.entropy = entropy(soft)

	for _, m := range perModel {
		if m.top() == f.label {
			f.votes++
		}

		f.winnerMax = math.Max(f.winnerMax, m.scoreOf(f.label))
	}

	return f
}

// softmaxFromMultilabel turns independent per-label probabilities into an
// approximate categorical distribution: logit each one, then softmax(z/T).
func softmaxFromMultilabel(m ModelScores, labels []string) map[string]float64 {
	z := make(map[string]float64, len(labels))
	maxZ := math.Inf(-1)

	for _, l := range labels {
		p := m.scoreOf(l)
		v := math.Log((p+logitEps)/(1-p+logitEps)) / temperature
		z[l] = v
		maxZ = math.Max(maxZ, v)
	}

	sum := 0.0
	for l, v := range z {
		z[l] = math.Exp(v - maxZ)
		sum += z[l]
	}

	if sum == 0 {
		sum = 1
	}

	for l := range z {
		z[l] /= sum
	}

	return z
}

func entropy(dist map[string]float64) float64 {
	h := 0.0

	for _, p := range dist {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}

	return h
}

// labelOrder is the level's label set, deduplicated; when the level is
// empty it falls back to the labels the models returned.
func labelOrder(level Level, perModel []ModelScores) []string {
	seen := make(map[string]struct{})

	var out []string

	add := func(l string) {
		if _, ok := seen[l]; ok || l == "" {
			return
		}

		seen[l] = struct{}{}
		out = append(out, l)
	}

	for _, l := range level.Labels {
		add(l)
	}

	if len(out) == 0 {
		for _, m := range perModel {
			for _, s := range m.Scores {
				add(s.Label)
			}
		}
	}

	return out
}

// rank orders labels by descending value; ties keep label order.
func rank(labels []string, values map[string]float64) []string {
	out := append([]string{}, labels...)
	sort.SliceStable(out, func(i, j int) bool {
		return values[out[i]] > values[out[j]]
	})

	return out
}

func topN(perModel []ModelScores, n int) map[string][]domain.LabelScore {
	if len(perModel) == 0 {
		return nil
	}

	out := make(map[string][]domain.LabelScore, len(perModel))

	for _, m := range perModel {
		sorted := append([]domain.LabelScore{}, m.Scores...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Score > sorted[j].Score
		})

		if len(sorted) > n {
			sorted = sorted[:n]
		}

		out[m.Model] = sorted
	}

	return out
}

func containsSignal(text string) bool {
	blob := strings.ToLower(text)

	for _, s := range hardSignals {
		if strings.Contains(blob, s) {
			return true
		}
	}

	return false
}

// JoinText builds the classifier input from title and summary.
func JoinText(title, summary string) string {
	return strings.TrimSpace(title + ". " + summary)
}
