package dedup

import (
	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

// Snapshot is the serializable state of an Index: items in insertion order and
// every auxiliary lookup table. A snapshot restored into a fresh index and
// snapshotted again encodes to the same JSON.
type Snapshot struct {
	Items        []*domain.CanonicalItem `json:"items"`
	ByExternalID map[string]string       `json:"by_external_id"`
	ByURL        map[string]string       `json:"by_url"`
	ByURLSig     map[string]string       `json:"by_url_signature"`
	ByTitleSHA   map[string]string       `json:"by_title_sha"`
	ByTitleKey   map[string]string       `json:"by_title_key"`
	SimBands     map[string][]string     `json:"simhash_bands"`
	Prefixes     map[string][]string     `json:"title_prefixes"`
	Bags         map[string][]string     `json:"bag_signatures"`
	Duplicates   int                     `json:"duplicates"`
}

// Snapshot captures the index state. Items are shared with the index, so the
// snapshot should be encoded before the index changes again.
func (x *Index) Snapshot() Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()

	items := make([]*domain.CanonicalItem, 0, len(x.order))
	for _, k := range x.order {
		items = append(items, x.items[k])
	}

	return Snapshot{
		Items:        items,
		ByExternalID: copyStringMap(x.byExternalID),
		ByURL:        copyStringMap(x.byURL),
		ByURLSig:     copyStringMap(x.byURLSig),
		ByTitleSHA:   copyStringMap(x.byTitleSHA),
		ByTitleKey:   copyStringMap(x.byTitleKey),
		SimBands:     copyBuckets(x.simBands),
		Prefixes:     copyBuckets(x.prefixes),
		Bags:         copyBuckets(x.bags),
		Duplicates:   x.duplicates,
	}
}

// Restore replaces the index state with s.
func (x *Index) Restore(s Snapshot) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.reset()

	for _, it := range s.Items {
		if it == nil || it.Key == "" {
			continue
		}

		if _, dup := x.items[it.Key]; dup {
			continue
		}

		if it.Sources == nil {
			it.Sources = []domain.Source{}
		}

		x.items[it.Key] = it
		x.pos[it.Key] = len(x.order)
		x.order = append(x.order, it.Key)
	}

	x.byExternalID = copyStringMap(s.ByExternalID)
	x.byURL = copyStringMap(s.ByURL)
	x.byURLSig = copyStringMap(s.ByURLSig)
	x.byTitleSHA = copyStringMap(s.ByTitleSHA)
	x.byTitleKey = copyStringMap(s.ByTitleKey)
	x.simBands = copyBuckets(s.SimBands)
	x.prefixes = copyBuckets(s.Prefixes)
	x.bags = copyBuckets(s.Bags)
	x.duplicates = s.Duplicates
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

func copyBuckets(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}

	return out
}
