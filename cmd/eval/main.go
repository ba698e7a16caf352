package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lueurxax/incident-crawler/internal/process/filters"
)

func main() {
	inputPath := flag.String("input", "docs/eval/heuristics.jsonl", "Path to labeled JSONL dataset (expect: POS or NEG)")
	relevancePath := flag.String("relevance-lexicon", "", "Relevance lexicon YAML (default embedded)")
	incidentPath := flag.String("incident-lexicon", "", "Incident lexicon YAML (default embedded)")
	modeName := flag.String("mode", string(filters.ModeStrict), "Incident mode: strict, standard or broad")
	scopeName := flag.String("scope", string(filters.ScopeAutoOnly), "Incident scope: auto-only or mobility")
	redCutoff := flag.Int("red-cutoff", filters.DefaultRedCutoff, "Minimum relevance score to accept")
	minPrecision := flag.Float64("min-precision", -1, "Fail if combined precision is below this value (disabled if <0)")
	verbose := flag.Bool("verbose", false, "Print the verdict of every record")
	flag.Parse()

	rel, inc, err := buildFilters(*relevancePath, *incidentPath, *modeName, *scopeName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build filters: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Open(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open input: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	stats, err := evaluate(f, rel, inc, *redCutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	printSummary(os.Stdout, stats, *redCutoff, *modeName, *verbose)

	precision := stats.combined.precision()
	if *minPrecision >= 0 && precision < *minPrecision {
		fmt.Fprintf(os.Stderr, "precision %.3f is below threshold %.3f\n", precision, *minPrecision)
		os.Exit(1) //nolint:gocritic // file is read-only
	}
}

func buildFilters(relevancePath, incidentPath, modeName, scopeName string) (*filters.RelevanceFilter, *filters.IncidentFilter, error) {
	relLex, err := filters.LoadRelevanceLexicon(relevancePath)
	if err != nil {
		return nil, nil, err
	}

	rel, err := filters.NewRelevanceFilter(relLex)
	if err != nil {
		return nil, nil, err
	}

	incLex, err := filters.LoadIncidentLexicon(incidentPath)
	if err != nil {
		return nil, nil, err
	}

	mode, err := filters.ParseMode(modeName)
	if err != nil {
		return nil, nil, err
	}

	scope, err := filters.ParseScope(scopeName)
	if err != nil {
		return nil, nil, err
	}

	inc, err := filters.NewIncidentFilter(incLex, mode, scope)
	if err != nil {
		return nil, nil, err
	}

	return rel, inc, nil
}
