// Package search finds stored regions by a loosely typed name.
package search

import (
	"fmt"
	"sort"
	"strings"

	lfuzzy "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/offgrid/internal/domain"
)

// Result is one ranked region match
type Result struct {
	Region         domain.RegionMetadata
	MatchedIndexes []int // rune positions in Label(Region) that matched
	Score          int   // higher is better
}

// Label is the searchable text of a region: its name, or its id when unnamed
func Label(r domain.RegionMetadata) string {
	if strings.TrimSpace(r.Name) != "" {
		return r.Name
	}
	return r.ID
}

// regionIndex implements fuzzy.Source over lowercased labels
type regionIndex struct {
	regions []domain.RegionMetadata
	lower   []string
}

func newRegionIndex(regions []domain.RegionMetadata) *regionIndex {
	idx := &regionIndex{regions: regions, lower: make([]string, len(regions))}
	for i, r := range regions {
		idx.lower[i] = strings.ToLower(Label(r))
	}
	return idx
}

func (idx *regionIndex) String(i int) string { return idx.lower[i] }
func (idx *regionIndex) Len() int            { return len(idx.regions) }

// Regions ranks regions against query. Subsequence matches come first; when
// none exist, labels within a small edit distance are returned instead.
func Regions(query string, regions []domain.RegionMetadata) []Result {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || len(regions) == 0 {
		return nil
	}

	idx := newRegionIndex(regions)
	if matches := fuzzy.FindFrom(query, idx); len(matches) > 0 {
		results := make([]Result, len(matches))
		for i, m := range matches {
			results[i] = Result{
				Region:         regions[m.Index],
				MatchedIndexes: m.MatchedIndexes,
				Score:          m.Score,
			}
		}
		return results
	}

	return typoMatches(query, idx)
}

// typoMatches ranks labels whose words are within allowedTypos edits of
// the query
func typoMatches(query string, idx *regionIndex) []Result {
	maxTypos := allowedTypos(len([]rune(query)))
	if maxTypos == 0 {
		return nil
	}

	var results []Result
	for i, label := range idx.lower {
		best := -1
		for _, word := range append(strings.Fields(label), label) {
			d := lfuzzy.LevenshteinDistance(query, word)
			if best < 0 || d < best {
				best = d
			}
		}
		if best <= maxTypos {
			results = append(results, Result{Region: idx.regions[i], Score: -best})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// allowedTypos scales edit tolerance with query length: 1-3 chars allow
// none, 4-6 allow one, longer allow two
func allowedTypos(length int) int {
	switch {
	case length <= 3:
		return 0
	case length <= 6:
		return 1
	default:
		return 2
	}
}

// Resolve picks the single region a query refers to. An exact id match
// wins; otherwise the best ranked match is used.
func Resolve(query string, regions []domain.RegionMetadata) (domain.RegionMetadata, error) {
	for _, r := range regions {
		if r.ID == query {
			return r, nil
		}
	}
	results := Regions(query, regions)
	if len(results) == 0 {
		return domain.RegionMetadata{}, fmt.Errorf("region %q: %w", query, domain.ErrNotFound)
	}
	return results[0].Region, nil
}
