package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MarkerType is the category of a skip marker
type MarkerType string

const (
	MarkerTypeIntro   MarkerType = "intro"
	MarkerTypeCredits MarkerType = "credits"
)

// Valid reports whether the type is one the media server understands
func (t MarkerType) Valid() bool {
	return t == MarkerTypeIntro || t == MarkerTypeCredits
}

// Marker is a skippable [Start, End) range in milliseconds attached to an episode or movie.
type Marker struct {
	ID          int64      // Tagging row id, assigned by the media server database
	EpisodeID   int64      // Owning item (episode, or movie in movie sections)
	SeasonID    int64      // -1 for movies
	ShowID      int64      // -1 for movies
	SectionID   int64      // Library section
	Index       int        // Dense 0-based position among siblings, ordered by Start
	Start       int64      // Inclusive start offset (ms)
	End         int64      // Exclusive end offset (ms)
	Type        MarkerType // intro or credits
	CreatedAt   int64      // Unix seconds
	ModifiedAt  *int64     // Unix seconds of the last user edit; nil if never edited
	UserCreated bool       // Added by a user rather than detected by the server
}

// String formats the range for error messages and logs
func (m Marker) String() string {
	return fmt.Sprintf("%s [%s-%s]", m.Type, FormatTimestamp(m.Start), FormatTimestamp(m.End))
}

// Overlaps reports whether the two markers share any time.
// Abutting markers (one ends where the next starts) do not overlap.
func (m Marker) Overlaps(start, end int64) bool {
	return m.Start < end && start < m.End
}

// Duration returns the length of the marker in milliseconds
func (m Marker) Duration() int64 {
	return m.End - m.Start
}

// FormatTimestamp renders milliseconds as HH:MM:SS.mmm
func FormatTimestamp(ms int64) string {
	neg := ""
	if ms < 0 {
		neg = "-"
		ms = -ms
	}
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%s%02d:%02d:%02d.%03d", neg, h, m, s, ms%1000)
}

// ParseTimestamp accepts bare milliseconds or [HH:]MM:SS[.mmm]
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil || ms < 0 {
			return 0, Validationf("invalid timestamp %q", s)
		}
		return ms, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, Validationf("invalid timestamp %q", s)
	}
	last := parts[len(parts)-1]
	var frac int64
	if i := strings.IndexByte(last, '.'); i >= 0 {
		digits := last[i+1:]
		if digits == "" || len(digits) > 3 {
			return 0, Validationf("invalid timestamp %q", s)
		}
		f, err := strconv.ParseInt(digits+strings.Repeat("0", 3-len(digits)), 10, 64)
		if err != nil || f < 0 {
			return 0, Validationf("invalid timestamp %q", s)
		}
		frac = f
		parts[len(parts)-1] = last[:i]
	}

	var total int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 || (i > 0 && v >= 60) {
			return 0, Validationf("invalid timestamp %q", s)
		}
		total = total*60 + v
	}
	return total*1000 + frac, nil
}

// GroupByEpisode buckets markers by owning item, each bucket sorted by start.
func GroupByEpisode(markers []Marker) map[int64][]Marker {
	out := make(map[int64][]Marker)
	for _, m := range markers {
		out[m.EpisodeID] = append(out[m.EpisodeID], m)
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Start < list[j].Start })
	}
	return out
}

// SortedKeys returns the keys of an id-keyed map in ascending order
func SortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
