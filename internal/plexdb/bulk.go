package plexdb

import (
	"context"

	"gorm.io/gorm"

	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/reindex"
)

// pendingRow is a row to insert along with the marker it becomes once written
type pendingRow struct {
	row    Tagging
	tempID int64 // Negative placeholder used until the database assigns an id
	ep     domain.Episode
}

// BulkRestore re-inserts markers the ledger expects to exist. Candidates whose range and type
// already exist in the episode (including earlier candidates of the same batch) are reported
// as identical, candidates overlapping something else as conflicts, and the rest are
// inserted in a single transaction.
func (d *DB) BulkRestore(ctx context.Context, byEpisode map[int64][]domain.RestoreCandidate) (*domain.RestoreResult, error) {
	result := &domain.RestoreResult{}
	if len(byEpisode) == 0 {
		return result, nil
	}

	episodeIDs := domain.SortedKeys(byEpisode)
	eps, err := d.EpisodesByID(ctx, episodeIDs)
	if err != nil {
		return nil, err
	}
	existing, err := d.MarkersForEpisodes(ctx, episodeIDs)
	if err != nil {
		return nil, err
	}

	type alias struct {
		oldID  int64
		tempID int64
	}
	var (
		pending  []*pendingRow
		oldIDs   = map[int64]int64{} // tempID -> OldID
		aliases  []alias
		finals   = map[int64][]domain.Marker{}
		nextTemp int64
		now      = d.now().Unix()
	)

	for _, epID := range episodeIDs {
		ep, ok := eps[epID]
		if !ok {
			result.Orphaned = append(result.Orphaned, byEpisode[epID]...)
			continue
		}

		working := append([]domain.Marker(nil), existing[epID]...)
		added := false
		for _, c := range byEpisode[epID] {
			if validateMarker(c.Start, c.End, c.Type) != nil {
				result.Conflicts = append(result.Conflicts, c)
				continue
			}

			if same, ok := identical(working, c); ok {
				if same.ID < 0 {
					aliases = append(aliases, alias{oldID: c.OldID, tempID: same.ID})
				} else {
					result.Identical = append(result.Identical, domain.RestoredMarker{OldID: c.OldID, Marker: same})
				}
				continue
			}
			if overlapsAny(working, c.Start, c.End) {
				result.Conflicts = append(result.Conflicts, c)
				continue
			}

			nextTemp--
			created := c.CreatedAt
			if created == 0 {
				created = now
			}
			p := &pendingRow{
				tempID: nextTemp,
				ep:     ep,
				row: Tagging{
					MetadataItemID: epID,
					TagID:          d.markerTagID,
					Text:           string(c.Type),
					TimeOffset:     c.Start,
					EndTimeOffset:  c.End,
					CreatedAt:      created,
					ExtraData:      extraDataVersion,
				},
			}
			if thumb, ok := d.thumbFor(c.ModifiedAt, c.UserCreated); ok {
				p.row.ThumbURL = thumb
			}
			pending = append(pending, p)
			oldIDs[p.tempID] = c.OldID
			working = append(working, domain.Marker{
				ID: p.tempID, EpisodeID: epID, Start: c.Start, End: c.End, Type: c.Type,
			})
			added = true
		}

		if added {
			finals[epID] = reindex.Assign(working)
		}
	}

	if len(pending) == 0 {
		return result, nil
	}

	// Inserted rows take their final index directly; only pre-existing siblings need a fix-up
	byTemp := make(map[int64]*pendingRow, len(pending))
	for _, p := range pending {
		byTemp[p.tempID] = p
	}
	for _, list := range finals {
		for _, m := range list {
			if p, ok := byTemp[m.ID]; ok {
				p.row.Index = m.Index
			}
		}
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range pending {
			if err := tx.Create(&p.row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Storage(err, "restore %d markers", len(pending))
	}

	inserted := make(map[int64]domain.Marker, len(pending))
	for _, p := range pending {
		m := d.markerFromRow(p.row, p.ep)
		inserted[p.tempID] = m
		result.Restored = append(result.Restored, domain.RestoredMarker{OldID: oldIDs[p.tempID], Marker: m})
	}
	for _, a := range aliases {
		result.Identical = append(result.Identical, domain.RestoredMarker{OldID: a.oldID, Marker: inserted[a.tempID]})
	}

	for _, epID := range domain.SortedKeys(finals) {
		indices := make(map[int64]int, len(finals[epID]))
		for _, m := range finals[epID] {
			indices[m.ID] = m.Index
		}
		d.report(ctx, d.applyIndices(ctx, existing[epID], indices), "episodeID", epID)
	}

	return result, nil
}

func identical(markers []domain.Marker, c domain.RestoreCandidate) (domain.Marker, bool) {
	for _, m := range markers {
		if m.Start == c.Start && m.End == c.End && m.Type == c.Type {
			return m, true
		}
	}
	return domain.Marker{}, false
}

func overlapsAny(markers []domain.Marker, start, end int64) bool {
	for _, m := range markers {
		if m.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// clamp bounds v to [0, duration]. A non-positive duration is unknown and only the lower
// bound applies.
func clamp(v, duration int64) int64 {
	if v < 0 {
		return 0
	}
	if duration > 0 && v > duration {
		return duration
	}
	return v
}

// BulkShift moves every given marker by startShift and endShift milliseconds, clamped to the
// owning item's duration. The batch fails as a whole if any marker would collapse to nothing
// or land on top of a sibling that is not being shifted.
func (d *DB) BulkShift(ctx context.Context, markers []domain.Marker, durations map[int64]int64, startShift, endShift int64) (*domain.ShiftResult, error) {
	if startShift == 0 && endShift == 0 {
		return nil, domain.Validationf("shift amount must not be zero")
	}
	if len(markers) == 0 {
		return nil, domain.NotFoundf("no markers to shift")
	}

	selected := make(map[int64]bool, len(markers))
	for _, m := range markers {
		selected[m.ID] = true
	}
	episodeIDs := domain.SortedKeys(domain.GroupByEpisode(markers))
	current, err := d.MarkersForEpisodes(ctx, episodeIDs)
	if err != nil {
		return nil, err
	}

	result := &domain.ShiftResult{
		Shifted:  make(map[int64][]domain.Marker, len(episodeIDs)),
		Original: make(map[int64][]domain.Marker, len(episodeIDs)),
	}
	now := d.now().Unix()
	var writes []domain.Marker

	for _, epID := range episodeIDs {
		found := 0
		next := make([]domain.Marker, 0, len(current[epID]))
		for _, m := range current[epID] {
			if !selected[m.ID] {
				result.Overflow = true
				next = append(next, m)
				continue
			}
			found++
			result.Original[epID] = append(result.Original[epID], m)

			shifted := m
			shifted.Start = clamp(m.Start+startShift, durations[epID])
			shifted.End = clamp(m.End+endShift, durations[epID])
			if shifted.Start >= shifted.End {
				return nil, domain.Conflictf("shifting marker %d %s would leave [%s-%s], an empty range",
					m.ID, m, domain.FormatTimestamp(shifted.Start), domain.FormatTimestamp(shifted.End))
			}
			if !d.pureMode {
				shifted.ModifiedAt = &now
			}
			next = append(next, shifted)
		}
		if found == 0 {
			continue
		}

		if a, b, overlap := reindex.FirstOverlap(next); overlap {
			return nil, domain.Conflictf("shifted markers would overlap in episode %d: %d %s and %d %s",
				epID, a.ID, a, b.ID, b)
		}

		before := make(map[int64]domain.Marker, len(current[epID]))
		for _, m := range current[epID] {
			before[m.ID] = m
		}
		for _, m := range reindex.Assign(next) {
			if selected[m.ID] {
				result.Shifted[epID] = append(result.Shifted[epID], m)
			}
			if old := before[m.ID]; selected[m.ID] || old.Index != m.Index {
				writes = append(writes, m)
			}
		}
	}

	if len(result.Original) != len(episodeIDs) || countMarkers(result.Original) != len(selected) {
		return nil, domain.NotFoundf("some markers to shift no longer exist")
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range writes {
			updates := map[string]any{"index": m.Index}
			if selected[m.ID] {
				updates["time_offset"] = m.Start
				updates["end_time_offset"] = m.End
				if thumb, ok := d.thumbFor(m.ModifiedAt, m.UserCreated); ok {
					updates["thumb_url"] = thumb
				}
			}
			if err := tx.Model(&Tagging{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Storage(err, "shift %d markers", len(selected))
	}

	result.Applied = true
	return result, nil
}

func countMarkers(byEpisode map[int64][]domain.Marker) int {
	n := 0
	for _, list := range byEpisode {
		n += len(list)
	}
	return n
}

// bulkPlan is the write planned for one episode of a bulk add
type bulkPlan struct {
	outcome *domain.BulkAddEpisode
	ep      domain.Episode
	final   []domain.Marker // Episode markers after the write, indices assigned
}

// BulkAdd adds [start, end) to every episode under scope. Ranges are clamped to each
// episode's duration, and episodes shorter than start are skipped. Overlaps are handled
// according to resolve.
func (d *DB) BulkAdd(ctx context.Context, scope domain.Scope, start, end int64, markerType domain.MarkerType, resolve domain.BulkResolve, ignored []int64) (*domain.BulkAddResult, error) {
	if err := validateMarker(start, end, markerType); err != nil {
		return nil, err
	}
	if scope.Level == domain.LevelSection {
		return nil, domain.Validationf("bulk add takes an episode, season or show, not a section")
	}

	episodes, err := d.Episodes(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 {
		return nil, domain.NotFoundf("no episodes under %s", scope)
	}

	ids := make([]int64, len(episodes))
	for i, ep := range episodes {
		ids[i] = ep.ID
	}
	existing, err := d.MarkersForEpisodes(ctx, ids)
	if err != nil {
		return nil, err
	}

	skip := make(map[int64]bool, len(ignored))
	for _, id := range ignored {
		skip[id] = true
	}

	result := &domain.BulkAddResult{Episodes: make(map[int64]*domain.BulkAddEpisode, len(episodes))}
	var plans []*bulkPlan

	for _, ep := range episodes {
		outcome := &domain.BulkAddEpisode{EpisodeID: ep.ID, Existing: existing[ep.ID]}
		result.Episodes[ep.ID] = outcome

		if skip[ep.ID] || (ep.Duration > 0 && start >= ep.Duration) {
			outcome.Ignored = true
			result.Ignored = append(result.Ignored, ep.ID)
			continue
		}
		epEnd := end
		if ep.Duration > 0 && epEnd > ep.Duration {
			epEnd = ep.Duration
		}

		plan := &bulkPlan{outcome: outcome, ep: ep}
		if !overlapsAny(existing[ep.ID], start, epEnd) {
			outcome.IsAdd = true
			outcome.Changed = &domain.Marker{
				EpisodeID: ep.ID, SeasonID: ep.SeasonID, ShowID: ep.ShowID, SectionID: ep.SectionID,
				Start: start, End: epEnd, Type: markerType, UserCreated: true,
			}
			plans = append(plans, plan)
			continue
		}

		outcome.Conflict = true
		switch resolve {
		case domain.BulkIgnore:
			outcome.Ignored = true
			result.Ignored = append(result.Ignored, ep.ID)
		case domain.BulkMerge:
			kept, absorbed := merge(existing[ep.ID], start, epEnd)
			kept.Type = markerType
			outcome.Changed = &kept
			outcome.Deleted = absorbed
			plans = append(plans, plan)
		default:
			result.Conflicts = append(result.Conflicts, ep.ID)
		}
	}

	if resolve == domain.BulkDryRun || len(result.Conflicts) > 0 || len(plans) == 0 {
		return result, nil
	}

	now := d.now().Unix()
	for _, p := range plans {
		gone := make(map[int64]bool, len(p.outcome.Deleted))
		for _, m := range p.outcome.Deleted {
			gone[m.ID] = true
		}
		next := make([]domain.Marker, 0, len(p.outcome.Existing)+1)
		for _, m := range p.outcome.Existing {
			if !gone[m.ID] && m.ID != p.outcome.Changed.ID {
				next = append(next, m)
			}
		}
		if !d.pureMode && !p.outcome.IsAdd {
			p.outcome.Changed.ModifiedAt = &now
		}
		next = append(next, *p.outcome.Changed)
		p.final = reindex.Assign(next)
		for _, m := range p.final {
			if m.ID == p.outcome.Changed.ID && m.Start == p.outcome.Changed.Start {
				p.outcome.Changed.Index = m.Index
			}
		}
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range plans {
			c := p.outcome.Changed
			if p.outcome.IsAdd {
				row := Tagging{
					MetadataItemID: c.EpisodeID,
					TagID:          d.markerTagID,
					Index:          c.Index,
					Text:           string(c.Type),
					TimeOffset:     c.Start,
					EndTimeOffset:  c.End,
					CreatedAt:      now,
					ExtraData:      extraDataVersion,
				}
				if thumb, ok := d.thumbFor(nil, true); ok {
					row.ThumbURL = thumb
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
				c.ID, c.CreatedAt = row.ID, row.CreatedAt
				continue
			}

			updates := map[string]any{
				"time_offset":     c.Start,
				"end_time_offset": c.End,
				"index":           c.Index,
				"text":            string(c.Type),
			}
			if thumb, ok := d.thumbFor(c.ModifiedAt, c.UserCreated); ok {
				updates["thumb_url"] = thumb
			}
			if err := tx.Model(&Tagging{}).Where("id = ?", c.ID).Updates(updates).Error; err != nil {
				return err
			}
			for _, m := range p.outcome.Deleted {
				if err := tx.Where("id = ?", m.ID).Delete(&Tagging{}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Storage(err, "bulk add to %d episodes", len(plans))
	}
	result.Applied = true

	for _, p := range plans {
		indices := make(map[int64]int, len(p.final))
		for _, m := range p.final {
			if m.ID != 0 {
				indices[m.ID] = m.Index
			}
		}
		var siblings []domain.Marker
		for _, m := range p.outcome.Existing {
			if m.ID != p.outcome.Changed.ID {
				siblings = append(siblings, m)
			}
		}
		d.report(ctx, d.applyIndices(ctx, siblings, indices), "episodeID", p.ep.ID)
	}

	return result, nil
}

// merge grows [start, end) to absorb every marker it overlaps, transitively. The earliest
// absorbed marker is kept and resized to the union; the rest are returned for deletion.
func merge(markers []domain.Marker, start, end int64) (domain.Marker, []domain.Marker) {
	sorted := reindex.Sorted(markers)
	taken := make([]bool, len(sorted))
	for changed := true; changed; {
		changed = false
		for i, m := range sorted {
			if taken[i] || !m.Overlaps(start, end) {
				continue
			}
			taken[i], changed = true, true
			start, end = min(start, m.Start), max(end, m.End)
		}
	}

	var kept domain.Marker
	var absorbed []domain.Marker
	first := true
	for i, m := range sorted {
		if !taken[i] {
			continue
		}
		if first {
			kept, first = m, false
			continue
		}
		absorbed = append(absorbed, m)
	}
	kept.Start, kept.End = start, end
	return kept, absorbed
}

// BulkDelete removes the given markers in one transaction. Survivors keep their old indices
// until ReindexEpisodes runs.
func (d *DB) BulkDelete(ctx context.Context, markers []domain.Marker) (*domain.BulkDeleteResult, error) {
	result := &domain.BulkDeleteResult{Deleted: domain.GroupByEpisode(markers)}
	if len(markers) == 0 {
		return result, nil
	}

	ids := make([]int64, len(markers))
	for i, m := range markers {
		ids[i] = m.ID
	}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks(ids) {
			if err := tx.Where("tag_id = ? AND id IN ?", d.markerTagID, chunk).Delete(&Tagging{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Storage(err, "delete %d markers", len(markers))
	}
	return result, nil
}

// ReindexEpisodes rewrites dense indices for the given episodes and returns the markers whose
// index changed.
func (d *DB) ReindexEpisodes(ctx context.Context, episodeIDs []int64) ([]domain.Marker, error) {
	byEpisode, err := d.MarkersForEpisodes(ctx, episodeIDs)
	if err != nil {
		return nil, err
	}

	var changed []domain.Marker
	for _, epID := range domain.SortedKeys(byEpisode) {
		changed = append(changed, reindex.Reindex(byEpisode[epID])...)
	}
	if len(changed) == 0 {
		return nil, nil
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range changed {
			if err := tx.Model(&Tagging{}).Where("id = ?", m.ID).Update("index", m.Index).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Storage(err, "reindex %d episodes", len(episodeIDs))
	}
	return changed, nil
}
