package pipeline

// AnalyzedIDs is the insertion-ordered set of normalized keys that already
// went through classification. A nil set is empty and ignores additions.
type AnalyzedIDs struct {
	order []string
	set   map[string]struct{}
}

// NewAnalyzedIDs builds a set from a persisted list, dropping repeats.
func NewAnalyzedIDs(ids []string) *AnalyzedIDs {
	a := &AnalyzedIDs{set: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		a.Add(id)
	}

	return a
}

// Has reports whether id is in the set.
func (a *AnalyzedIDs) Has(id string) bool {
	if a == nil {
		return false
	}

	_, ok := a.set[id]

	return ok
}

// Add inserts id; empty ids are ignored.
func (a *AnalyzedIDs) Add(id string) {
	if a == nil || id == "" {
		return
	}

	if _, ok := a.set[id]; ok {
		return
	}

	a.set[id] = struct{}{}
	a.order = append(a.order, id)
}

// List returns the ids in insertion order.
func (a *AnalyzedIDs) List() []string {
	if a == nil {
		return []string{}
	}

	return append([]string{}, a.order...)
}

// Len returns the number of ids.
func (a *AnalyzedIDs) Len() int {
	if a == nil {
		return 0
	}

	return len(a.order)
}
