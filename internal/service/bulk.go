package service

import (
	"context"
	"time"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// ShiftCheck previews the markers a shift of a scope would touch
type ShiftCheck struct {
	Markers map[int64][]domain.Marker // By episode, ordered by start
	// Some episode has more than one marker, so the caller should pick which ones to shift
	Ambiguous bool
}

// BulkAddRequest describes a marker added across a show, season or single item
type BulkAddRequest struct {
	MetadataID int64
	Start      int64
	End        int64
	Type       domain.MarkerType
	Resolve    domain.BulkResolve
	Ignored    []int64 // Episode ids to leave alone
}

func episodeIDs(markers []domain.Marker) []int64 {
	return domain.SortedKeys(domain.GroupByEpisode(markers))
}

// scopedMarkers resolves metadataID and returns its scope and markers
func (s *MarkerService) scopedMarkers(ctx context.Context, metadataID int64) (domain.Scope, []domain.Marker, error) {
	scope, _, err := s.db.Locate(ctx, metadataID)
	if err != nil {
		return domain.Scope{}, nil, err
	}
	markers, err := s.db.Markers(ctx, scope)
	if err != nil {
		return domain.Scope{}, nil, err
	}
	return scope, markers, nil
}

// CheckShift groups the markers under metadataID by episode
func (s *MarkerService) CheckShift(ctx context.Context, metadataID int64) (*ShiftCheck, error) {
	_, markers, err := s.scopedMarkers(ctx, metadataID)
	if err != nil {
		return nil, err
	}
	check := &ShiftCheck{Markers: domain.GroupByEpisode(markers)}
	for _, list := range check.Markers {
		if len(list) > 1 {
			check.Ambiguous = true
			break
		}
	}
	return check, nil
}

// ShiftMarkers moves markers under metadataID by startShift and endShift milliseconds. When
// only is non-empty just those marker ids are shifted, and each must belong to the scope.
func (s *MarkerService) ShiftMarkers(ctx context.Context, metadataID, startShift, endShift int64, only []int64) (res *domain.ShiftResult, err error) {
	defer s.observe("shift", time.Now(), &err)

	_, markers, err := s.scopedMarkers(ctx, metadataID)
	if err != nil {
		return nil, err
	}
	selected := markers
	if len(only) > 0 {
		byID := make(map[int64]domain.Marker, len(markers))
		for _, m := range markers {
			byID[m.ID] = m
		}
		selected = make([]domain.Marker, 0, len(only))
		for _, id := range only {
			m, ok := byID[id]
			if !ok {
				return nil, domain.NotFoundf("marker %d is not under item %d", id, metadataID)
			}
			selected = append(selected, m)
		}
	}
	if len(selected) == 0 {
		return nil, domain.NotFoundf("item %d has no markers to shift", metadataID)
	}

	episodes := episodeIDs(selected)
	unlock := s.locks.lock(episodes...)
	defer unlock()

	durations, err := s.metadata.Durations(ctx, episodes)
	if err != nil {
		return nil, err
	}
	res, err = s.db.BulkShift(ctx, selected, durations, startShift, endShift)
	if err != nil {
		return nil, err
	}

	var edits []domain.EditResult
	for _, epID := range domain.SortedKeys(res.Shifted) {
		before := make(map[int64]domain.Marker)
		for _, m := range res.Original[epID] {
			before[m.ID] = m
		}
		for _, m := range res.Shifted[epID] {
			old := before[m.ID]
			edits = append(edits, domain.EditResult{Marker: m, OldStart: old.Start, OldEnd: old.End})
		}
	}
	s.recordEdits(ctx, edits)
	s.metrics.Changed(domain.ActionEdit, len(edits))

	s.logger.InfoContext(ctx, "shifted markers", "itemID", metadataID, "markers", len(edits), "startShift", startShift, "endShift", endShift)
	return res, nil
}

// BulkDelete removes every marker under metadataID except the ids in ignored, then reindexes
// the surviving siblings.
func (s *MarkerService) BulkDelete(ctx context.Context, metadataID int64, ignored []int64) (res *domain.BulkDeleteResult, err error) {
	defer s.observe("bulk_delete", time.Now(), &err)

	_, markers, err := s.scopedMarkers(ctx, metadataID)
	if err != nil {
		return nil, err
	}
	skip := make(map[int64]bool, len(ignored))
	for _, id := range ignored {
		skip[id] = true
	}
	selected := make([]domain.Marker, 0, len(markers))
	for _, m := range markers {
		if !skip[m.ID] {
			selected = append(selected, m)
		}
	}

	episodes := episodeIDs(selected)
	unlock := s.locks.lock(episodes...)
	defer unlock()

	res, err = s.db.BulkDelete(ctx, selected)
	if err != nil {
		return nil, err
	}
	for _, m := range selected {
		s.cache.RemoveMarker(m.ID)
	}

	// Survivor indices are repaired on the next reindex if this fails
	reindexed, err := s.db.ReindexEpisodes(ctx, episodes)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to reindex after bulk delete", "error", err, "episodes", len(episodes))
	}
	res.Reindexed = reindexed

	for sectionID, list := range bySection(selected) {
		s.withSectionUUID(ctx, sectionID, func(uuid string) {
			s.ledger.RecordDeletes(ctx, list, uuid)
		})
	}
	s.metrics.Changed(domain.ActionDelete, len(selected))
	s.syncGauges()

	s.logger.InfoContext(ctx, "bulk deleted markers", "itemID", metadataID, "markers", len(selected), "episodes", len(episodes))
	return res, nil
}

// BulkAdd adds a marker to every episode under the request's item
func (s *MarkerService) BulkAdd(ctx context.Context, req BulkAddRequest) (res *domain.BulkAddResult, err error) {
	defer s.observe("bulk_add", time.Now(), &err)

	scope, _, err := s.db.Locate(ctx, req.MetadataID)
	if err != nil {
		return nil, err
	}
	episodes, err := s.db.Episodes(ctx, scope)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(episodes))
	for i, ep := range episodes {
		ids[i] = ep.ID
	}
	unlock := s.locks.lock(ids...)
	defer unlock()

	res, err = s.db.BulkAdd(ctx, scope, req.Start, req.End, req.Type, req.Resolve, req.Ignored)
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		return res, nil
	}

	var adds, deletes []domain.Marker
	var edits []domain.EditResult
	for _, epID := range domain.SortedKeys(res.Episodes) {
		e := res.Episodes[epID]
		if e.Changed == nil {
			continue
		}
		if e.IsAdd {
			s.cache.AddMarker(*e.Changed)
			adds = append(adds, *e.Changed)
		} else {
			edit := domain.EditResult{Marker: *e.Changed}
			for _, m := range e.Existing {
				if m.ID == e.Changed.ID {
					edit.OldStart, edit.OldEnd = m.Start, m.End
				}
			}
			edits = append(edits, edit)
		}
		for _, m := range e.Deleted {
			s.cache.RemoveMarker(m.ID)
			deletes = append(deletes, m)
		}
	}

	for sectionID, list := range bySection(adds) {
		s.withSectionUUID(ctx, sectionID, func(uuid string) {
			s.ledger.RecordAdds(ctx, list, uuid)
		})
	}
	s.recordEdits(ctx, edits)
	for sectionID, list := range bySection(deletes) {
		s.withSectionUUID(ctx, sectionID, func(uuid string) {
			s.ledger.RecordDeletes(ctx, list, uuid)
		})
	}
	s.metrics.Changed(domain.ActionAdd, len(adds))
	s.metrics.Changed(domain.ActionEdit, len(edits))
	s.metrics.Changed(domain.ActionDelete, len(deletes))
	s.syncGauges()

	s.logger.InfoContext(ctx, "bulk added markers", "itemID", req.MetadataID, "resolve", req.Resolve.String(),
		"added", len(adds), "merged", len(edits), "ignored", len(res.Ignored))
	return res, nil
}

func (s *MarkerService) recordEdits(ctx context.Context, edits []domain.EditResult) {
	grouped := make(map[int64][]domain.EditResult)
	for _, e := range edits {
		grouped[e.Marker.SectionID] = append(grouped[e.Marker.SectionID], e)
	}
	for sectionID, list := range grouped {
		s.withSectionUUID(ctx, sectionID, func(uuid string) {
			s.ledger.RecordEdits(ctx, list, uuid)
		})
	}
}
