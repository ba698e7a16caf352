package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

const (
	expectPositive = "POS"
	expectNegative = "NEG"
)

type evalRecord struct {
	ID      any    `json:"id"`
	Title   string `json:"title"`
	Desc    string `json:"desc"`
	Summary string `json:"summary"`
	Expect  string `json:"expect"`
}

func (r evalRecord) id() string {
	if r.ID == nil {
		return ""
	}

	return fmt.Sprint(r.ID)
}

func (r evalRecord) description() string {
	if r.Desc != "" {
		return r.Desc
	}

	return r.Summary
}

type relevanceScorer interface {
	Score(parts ...string) domain.RelevanceResult
}

type incidentScorer interface {
	Classify(title, summary string) domain.IncidentResult
}

// caseResult is the verdict of both heuristics on one record.
type caseResult struct {
	ID             string
	Expect         string
	Title          string
	RelevanceScore int
	RelevanceKeep  bool
	IncidentScore  int
	IncidentKeep   bool
	Category       string
}

func (c caseResult) combined() bool { return c.RelevanceKeep && c.IncidentKeep }

type confusion struct {
	tp, fp, tn, fn int
}

func (c *confusion) add(expect string, predicted bool) {
	switch {
	case expect == expectPositive && predicted:
		c.tp++
	case expect == expectPositive:
		c.fn++
	case expect == expectNegative && predicted:
		c.fp++
	case expect == expectNegative:
		c.tn++
	}
}

func (c confusion) labeled() int { return c.tp + c.fp + c.tn + c.fn }

func (c confusion) precision() float64 { return ratio(c.tp, c.tp+c.fp) }

func (c confusion) recall() float64 { return ratio(c.tp, c.tp+c.fn) }

func (c confusion) accuracy() float64 { return ratio(c.tp+c.tn, c.labeled()) }

type evalStats struct {
	total     int
	skipped   int
	relevance confusion
	incident  confusion
	combined  confusion
	accepted  int
	cases     []caseResult
}

// evaluate scores every record of r. Records without a title and description
// or with invalid JSON are skipped; records without a POS/NEG label count
// towards acceptance only.
func evaluate(r io.Reader, rel relevanceScorer, inc incidentScorer, redCutoff int) (evalStats, error) {
	var stats evalStats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec evalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			stats.skipped++
			continue
		}

		title := strings.TrimSpace(rec.Title)
		desc := strings.TrimSpace(rec.description())

		if title == "" && desc == "" {
			stats.skipped++
			continue
		}

		relRes := rel.Score(title, desc)
		incRes := inc.Classify(title, desc)

		c := caseResult{
			ID:             rec.id(),
			Expect:         strings.ToUpper(strings.TrimSpace(rec.Expect)),
			Title:          title,
			RelevanceScore: relRes.Score,
			RelevanceKeep:  relRes.Score >= redCutoff,
			IncidentScore:  incRes.Score,
			IncidentKeep:   incRes.Keep,
			Category:       incRes.Category,
		}

		stats.total++
		stats.relevance.add(c.Expect, c.RelevanceKeep)
		stats.incident.add(c.Expect, c.IncidentKeep)
		stats.combined.add(c.Expect, c.combined())

		if c.combined() {
			stats.accepted++
		}

		stats.cases = append(stats.cases, c)
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read input: %w", err)
	}

	return stats, nil
}

func printSummary(w io.Writer, stats evalStats, redCutoff int, mode string, verbose bool) {
	fmt.Fprintf(w, "Evaluation Summary\n")
	fmt.Fprintf(w, "  Records: %d (skipped: %d)\n", stats.total, stats.skipped)

	if stats.combined.labeled() == 0 {
		fmt.Fprintf(w, "  Unlabeled: ACCEPT=%d REJECT=%d\n", stats.accepted, stats.total-stats.accepted)
	} else {
		printConfusion(w, fmt.Sprintf("Relevance (score>=%d)", redCutoff), stats.relevance)
		printConfusion(w, fmt.Sprintf("Incident (%s)", mode), stats.incident)
		printConfusion(w, "Combined", stats.combined)
	}

	if !verbose {
		return
	}

	fmt.Fprintf(w, "\nCases\n")

	for _, c := range stats.cases {
		mark := " "
		if c.Expect == expectPositive || c.Expect == expectNegative {
			if (c.Expect == expectPositive) == c.combined() {
				mark = "+"
			} else {
				mark = "-"
			}
		}

		verdict := "REJECT"
		if c.combined() {
			verdict = "ACCEPT"
		}

		fmt.Fprintf(w, "%s #%-4s [%-3s] rel=%3d inc=%3d %-6s %s\n", mark, c.ID, c.Expect, c.RelevanceScore, c.IncidentScore, verdict, c.Title)
	}
}

func printConfusion(w io.Writer, name string, c confusion) {
	fmt.Fprintf(w, "  %s\n", name)
	fmt.Fprintf(w, "    Confusion: TP=%d FP=%d TN=%d FN=%d\n", c.tp, c.fp, c.tn, c.fn)
	fmt.Fprintf(w, "    Precision: %.3f  Recall: %.3f  Accuracy: %.3f\n", c.precision(), c.recall(), c.accuracy())
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}

	return float64(numerator) / float64(denominator)
}
