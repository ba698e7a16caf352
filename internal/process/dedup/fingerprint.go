package dedup

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not security
	"encoding/hex"
	"math/bits"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const simhashBits = 64

// CharNgrams returns overlapping character n-grams of the folded text with
// spaces kept and punctuation removed.
func CharNgrams(s string, n int) []string {
	t := nonTitleChars.ReplaceAllString(Fold(s), "")
	if n <= 0 || len(t) < n {
		return nil
	}

	out := make([]string, 0, len(t)-n+1)
	for i := 0; i+n <= len(t); i++ {
		out = append(out, t[i:i+n])
	}

	return out
}

// CharShingles returns the set of character trigrams with spaces and symbols
// removed, which absorbs typos and split compounds.
func CharShingles(s string) map[string]struct{} {
	t := nonAlnum.ReplaceAllString(Fold(s), "")
	out := make(map[string]struct{}, len(t))

	for i := 0; i+3 <= len(t); i++ {
		out[t[i:i+3]] = struct{}{}
	}

	return out
}

// SimHash64 folds feature hashes into a 64-bit locality-sensitive fingerprint.
// It returns 0 when there are no features.
func SimHash64(features []string) uint64 {
	if len(features) == 0 {
		return 0
	}

	var v [simhashBits]int

	for _, f := range features {
		h := xxhash.Sum64String(f)
		for i := 0; i < simhashBits; i++ {
			if h&(1<<uint(i)) != 0 {
				v[i]++
			} else {
				v[i]--
			}
		}
	}

	var x uint64

	for i, c := range v {
		if c >= 0 {
			x |= 1 << uint(i)
		}
	}

	return x
}

// TitleSimHash is the SimHash of a title's character trigrams.
func TitleSimHash(title string) uint64 {
	return SimHash64(CharNgrams(title, 3))
}

// Hamming returns the number of differing bits.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Bands splits a fingerprint into n equal bands and returns one bucket key per
// band ("band:value").
func Bands(h uint64, n int) []string {
	if n <= 0 {
		return nil
	}

	size := simhashBits / n
	mask := uint64(1)<<uint(size) - 1
	out := make([]string, 0, n)

	for i := 0; i < n; i++ {
		part := (h >> uint(i*size)) & mask
		out = append(out, strconv.Itoa(i)+":"+strconv.FormatUint(part, 10))
	}

	return out
}

// Jaccard returns |a∩b| / |a∪b|, or 0 if either set is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	inter := 0

	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}

	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}

	return float64(inter) / float64(union)
}

func setOf(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}

	return out
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec // content fingerprint, not security

	return hex.EncodeToString(sum[:])
}

func hash12(s string) string {
	return sha1Hex(s)[:12]
}
