// Fingerprinting of search requests.
//
// A fingerprint identifies a (molecule, countries) pair for caching purposes.
// The brand name never participates: two searches for the same molecule in
// the same countries share a cache entry regardless of brand. Normalization
// makes the fingerprint insensitive to letter case, surrounding whitespace,
// and country order.
package domain

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultCountries is the country set applied when a request names none.
var DefaultCountries = []string{"BR"}

// NormalizeMolecule trims surrounding whitespace and case-folds the molecule
// name so that "Darolutamide", " darolutamide " and "DAROLUTAMIDE" all map to
// the same cache key.
func NormalizeMolecule(molecule string) string {
	return cases.Fold().String(strings.TrimSpace(molecule))
}

// NormalizeCountries uppercases, trims, and sorts the country codes, dropping
// empty entries. A nil or empty input yields DefaultCountries. The returned
// slice is always a fresh copy.
func NormalizeCountries(countries []string) []string {
	out := make([]string, 0, len(countries))
	for _, c := range countries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultCountries...)
	}
	sort.Strings(out)
	return out
}

// NormalizedKey builds the canonical cache key for a molecule and country
// set: the folded molecule name and the sorted country codes, joined with a
// separator that cannot appear in either part.
func NormalizedKey(molecule string, countries []string) string {
	return NormalizeMolecule(molecule) + "|" + strings.Join(NormalizeCountries(countries), ",")
}

// Fingerprint derives the cache fingerprint for a molecule and country set:
// FNV-1a (64-bit) over the normalized key, rendered as 16 hex digits.
//
// Equal inputs under normalization always produce the same fingerprint.
// Distinct inputs may collide, which is why CacheIndex stores the normalized
// key alongside the hash; readers must compare it and treat a mismatch as a
// miss.
func Fingerprint(molecule string, countries []string) string {
	h := fnv.New64a()
	h.Write([]byte(NormalizedKey(molecule, countries)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// CountriesLabel renders the normalized country set in its stored form
// (sorted, comma-joined).
func CountriesLabel(countries []string) string {
	return strings.Join(NormalizeCountries(countries), ",")
}
