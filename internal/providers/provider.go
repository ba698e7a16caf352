// Package providers implements the search collaborators of the crawler: news,
// paper and vulnerability APIs. Every provider failure is classified into one
// of the four recoverable kinds so the runner can skip the provider for the
// current keyword.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
	"github.com/lueurxax/incident-crawler/internal/process/dedup"
)

// Provider searches one upstream source for a keyword.
type Provider interface {
	Name() string
	Search(ctx context.Context, keyword string) ([]domain.Observation, error)
}

// Resumable is implemented by providers that carry state between keywords
// (seen-id sets, paging cursors). The cursor is opaque to the caller and must
// round-trip through Resume unchanged.
type Resumable interface {
	Cursor() (json.RawMessage, error)
	Resume(cursor json.RawMessage) error
}

// cursorState is the persisted state shared by every provider.
type cursorState struct {
	Seen    []string `json:"seen"`
	Keyword string   `json:"keyword,omitempty"`
	Next    string   `json:"next,omitempty"`
}

// tracker keeps the ids a provider already returned and its paging position.
// Providers embed it to implement Resumable.
type tracker struct {
	seen    map[string]struct{}
	order   []string
	keyword string
	next    string
}

func newTracker() tracker {
	return tracker{seen: make(map[string]struct{})}
}

// markNew records id and reports whether it had not been seen before.
func (t *tracker) markNew(id string) bool {
	if id == "" {
		return true
	}

	if _, ok := t.seen[id]; ok {
		return false
	}

	t.seen[id] = struct{}{}
	t.order = append(t.order, id)

	return true
}

// urlID is the seen-set key of a result identified by its URL.
func urlID(raw string) string {
	return dedup.NormalizeURL(raw)
}

// startKeyword resets the paging position when the keyword changes and
// returns the position to continue from.
func (t *tracker) startKeyword(keyword string) string {
	if t.keyword != keyword {
		t.keyword = keyword
		t.next = ""
	}

	return t.next
}

func (t *tracker) Cursor() (json.RawMessage, error) {
	data, err := json.Marshal(cursorState{Seen: append([]string{}, t.order...), Keyword: t.keyword, Next: t.next})
	if err != nil {
		return nil, fmt.Errorf("marshal cursor: %w", err)
	}

	return data, nil
}

func (t *tracker) Resume(cursor json.RawMessage) error {
	*t = newTracker()

	if len(cursor) == 0 || string(cursor) == "null" {
		return nil
	}

	var st cursorState
	if err := json.Unmarshal(cursor, &st); err != nil {
		return fmt.Errorf("unmarshal cursor: %w", err)
	}

	for _, id := range st.Seen {
		t.markNew(id)
	}

	t.keyword = st.Keyword
	t.next = st.Next

	return nil
}

// phrase quotes multi-word keywords so providers search the exact phrase.
func phrase(keyword string) string {
	kw := strings.TrimSpace(keyword)
	if strings.ContainsAny(kw, " -/") && !(strings.HasPrefix(kw, `"`) && strings.HasSuffix(kw, `"`)) {
		return `"` + kw + `"`
	}

	return kw
}

// orGroup joins terms into a parenthesized disjunction using sep.
func orGroup(terms []string, sep string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, phrase(t))
	}

	return "(" + strings.Join(quoted, sep) + ")"
}

// Security and automotive vocabularies used to narrow broad keyword searches.
var (
	securityTerms = []string{
		"cybersecurity", "vulnerability", "exploit", "attack", "breach",
		"intrusion", "malware", "ransomware", "backdoor",
	}
	automotiveTerms = []string{
		"automotive", "vehicle", "car", "OEM", "ECU", "telematics",
		"CAN bus", "V2X", "EV charger", "Tier-1",
	}
)

func clean(s string) string {
	return strings.TrimSpace(s)
}
