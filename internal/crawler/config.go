package crawler

import (
	"fmt"
	"os"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	apperrors "github.com/lueurxax/incident-crawler/internal/core/errors"
)

// ResumeLatest resumes the most recently written checkpoint of a category.
const ResumeLatest = "latest"

// Options select what one invocation does.
type Options struct {
	Categories []domain.Category
	Keywords   []string
	// Resume is a checkpoint basename, ResumeLatest, or empty for a fresh run.
	Resume string
	// StateName binds the checkpoint of a fresh run; empty uses a timestamped default.
	StateName string
}

// ParseCategories splits a comma-separated category list. "all" selects
// every category.
func ParseCategories(s string) ([]domain.Category, error) {
	if strings.TrimSpace(s) == "all" {
		return []domain.Category{domain.CategoryNews, domain.CategoryPapers, domain.CategoryVulnerabilities}, nil
	}

	var out []domain.Category

	seen := make(map[domain.Category]bool)

	for _, part := range strings.Split(s, ",") {
		c := domain.Category(strings.ToLower(strings.TrimSpace(part)))
		if c == "" || seen[c] {
			continue
		}

		switch c {
		case domain.CategoryNews, domain.CategoryPapers, domain.CategoryVulnerabilities:
		default:
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownCategory, c)
		}

		seen[c] = true
		out = append(out, c)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no category given: %w", apperrors.ErrInvalidInput)
	}

	return out, nil
}

// LoadKeywords reads keywords from path. A missing file yields none.
func LoadKeywords(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read keywords file: %w", err)
	}

	return parseKeywords(string(data)), nil
}

// SplitKeywords parses a comma-separated keyword list.
func SplitKeywords(s string) []string {
	return parseKeywords(strings.ReplaceAll(s, ",", "\n"))
}

// parseKeywords parses newline-separated keywords, skipping blanks, comments
// and repeats.
func parseKeywords(content string) []string {
	var keywords []string

	seen := make(map[string]bool)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if line == "" || line[0] == '#' || seen[line] {
			continue
		}

		seen[line] = true
		keywords = append(keywords, line)
	}

	return keywords
}
