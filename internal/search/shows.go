// Package search resolves show titles typed on the command line.
package search

import (
	"sort"
	"strings"

	fuzzysearch "github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// maxTypos is the edit distance allowed when nothing else matches
const maxTypos = 2

// titleIndex implements sahilm/fuzzy.Source over lowercase show titles
type titleIndex struct {
	shows []domain.Show
	lower []string
}

func newTitleIndex(shows []domain.Show) *titleIndex {
	idx := &titleIndex{shows: shows, lower: make([]string, len(shows))}
	for i, s := range shows {
		idx.lower[i] = strings.ToLower(s.Title)
	}
	return idx
}

func (idx *titleIndex) String(i int) string { return idx.lower[i] }
func (idx *titleIndex) Len() int            { return len(idx.shows) }

// Shows ranks shows against query, best match first. An exact title match (ignoring case)
// is returned alone. Subsequence matches come next, then accent-insensitive matches, and
// finally titles within a couple of typos.
func Shows(query string, shows []domain.Show) []domain.Show {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || len(shows) == 0 {
		return nil
	}
	idx := newTitleIndex(shows)

	for i, t := range idx.lower {
		if t == query {
			return []domain.Show{shows[i]}
		}
	}

	if matches := fuzzy.FindFrom(query, idx); len(matches) > 0 {
		out := make([]domain.Show, len(matches))
		for i, m := range matches {
			out[i] = shows[m.Index]
		}
		return out
	}

	if ranks := fuzzysearch.RankFindNormalizedFold(query, idx.lower); len(ranks) > 0 {
		sort.Sort(ranks)
		out := make([]domain.Show, len(ranks))
		for i, r := range ranks {
			out[i] = shows[r.OriginalIndex]
		}
		return out
	}

	type scored struct {
		show domain.Show
		dist int
	}
	var near []scored
	for i, t := range idx.lower {
		if d := fuzzysearch.LevenshteinDistance(query, t); d <= maxTypos {
			near = append(near, scored{shows[i], d})
		}
	}
	sort.SliceStable(near, func(i, j int) bool { return near[i].dist < near[j].dist })
	out := make([]domain.Show, len(near))
	for i, c := range near {
		out[i] = c.show
	}
	return out
}
