// Package reindex computes marker ordering within a single episode.
//
// Markers of one episode are ordered by start time and carry a dense 0-based index.
// Nothing here touches storage; callers load siblings, ask for a plan, and write the result.
package reindex

import (
	"sort"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// Item is the minimal view of a marker the algorithm needs.
// A zero ID denotes a marker that does not exist yet.
type Item struct {
	ID    int64
	Start int64
	End   int64
}

// FromMarker extracts the ordering fields of a marker
func FromMarker(m domain.Marker) Item {
	return Item{ID: m.ID, Start: m.Start, End: m.End}
}

// Overlaps reports whether [s1,e1) and [s2,e2) intersect. Abutting ranges do not.
func Overlaps(s1, e1, s2, e2 int64) bool {
	return s1 < e2 && s2 < e1
}

// ValidateRange rejects negative starts and empty or inverted ranges
func ValidateRange(start, end int64) error {
	if start < 0 {
		return domain.Validationf("start %d is negative", start)
	}
	if start >= end {
		return domain.Validationf("start %d must be before end %d", start, end)
	}
	return nil
}

// Plan is the outcome of placing a pending marker among its siblings
type Plan struct {
	Order        []Item // Sorted; position is the new index
	PendingIndex int    // Index of the pending item, -1 without one
	Conflict     *Item  // Neighbour the pending item overlaps, if any
}

// Indices maps marker ID to its new index. The pending item is keyed by its ID (0 if new).
func (p Plan) Indices() map[int64]int {
	out := make(map[int64]int, len(p.Order))
	for i, it := range p.Order {
		out[it.ID] = i
	}
	return out
}

// less orders by start, then end, then id. Any deterministic rule is acceptable as long
// as one pass uses it consistently.
func less(a, b Item) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End < b.End
	}
	return a.ID < b.ID
}

// Sort orders items in place
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}

// NewPlan places pending among siblings. When pending has a non-zero ID, the sibling with
// the same ID is replaced (an edit) and excluded from the overlap check.
func NewPlan(siblings []Item, pending *Item) Plan {
	order := make([]Item, 0, len(siblings)+1)
	for _, s := range siblings {
		if pending != nil && pending.ID != 0 && s.ID == pending.ID {
			continue
		}
		order = append(order, s)
	}

	if pending == nil {
		Sort(order)
		return Plan{Order: order, PendingIndex: -1}
	}

	order = append(order, *pending)
	Sort(order)

	plan := Plan{Order: order, PendingIndex: -1}
	for i, it := range order {
		if it == *pending {
			plan.PendingIndex = i
			break
		}
	}

	i := plan.PendingIndex
	if i > 0 {
		prev := order[i-1]
		if Overlaps(prev.Start, prev.End, pending.Start, pending.End) {
			plan.Conflict = &prev
			return plan
		}
	}
	if i+1 < len(order) {
		next := order[i+1]
		if Overlaps(next.Start, next.End, pending.Start, pending.End) {
			plan.Conflict = &next
		}
	}
	return plan
}

// Reindex sorts the markers of one episode and returns copies of those whose stored index
// differs from their sorted position, already carrying the corrected index.
func Reindex(markers []domain.Marker) []domain.Marker {
	sorted := Sorted(markers)
	var changed []domain.Marker
	for i, m := range sorted {
		if m.Index != i {
			m.Index = i
			changed = append(changed, m)
		}
	}
	return changed
}

// Sorted returns a sorted copy of the markers with dense indices assigned
func Sorted(markers []domain.Marker) []domain.Marker {
	out := make([]domain.Marker, len(markers))
	copy(out, markers)
	sort.SliceStable(out, func(i, j int) bool { return less(FromMarker(out[i]), FromMarker(out[j])) })
	return out
}

// Assign returns a sorted copy with Index set to the dense position
func Assign(markers []domain.Marker) []domain.Marker {
	out := Sorted(markers)
	for i := range out {
		out[i].Index = i
	}
	return out
}

// FirstOverlap returns the first pair of overlapping markers in an episode, if any
func FirstOverlap(markers []domain.Marker) (domain.Marker, domain.Marker, bool) {
	sorted := Sorted(markers)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Overlaps(sorted[i].Start, sorted[i].End) {
			return sorted[i-1], sorted[i], true
		}
	}
	return domain.Marker{}, domain.Marker{}, false
}
