package service

import (
	"context"
	"time"

	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/purge"
)

// CheckForPurges returns the backed up markers under a show, season or item that are missing
// from the Plex database. Ledger failures are logged and report no purges.
func (s *MarkerService) CheckForPurges(ctx context.Context, metadataID int64) ([]domain.Action, error) {
	if err := s.requireBackup(); err != nil {
		return nil, err
	}
	scope, sectionID, err := s.db.Locate(ctx, metadataID)
	if err != nil {
		return nil, err
	}
	uuid, err := s.metadata.SectionUUID(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	purged := s.purges.CheckForPurges(ctx, scope, uuid)
	s.syncGauges()
	return purged, nil
}

// PurgesForSection lists the known purges of a section with episode metadata filled in
func (s *MarkerService) PurgesForSection(ctx context.Context, sectionID int64) ([]purge.Purge, error) {
	if err := s.requireBackup(); err != nil {
		return nil, err
	}
	return s.purges.ForSection(ctx, sectionID), nil
}

// PurgedSections returns the ids of sections with known purges
func (s *MarkerService) PurgedSections() []int64 {
	if s.purges == nil {
		return nil
	}
	return s.purges.Sections()
}

// Purge looks up a known purge by its old marker id
func (s *MarkerService) Purge(markerID int64) (purge.Purge, bool) {
	if s.purges == nil {
		return purge.Purge{}, false
	}
	return s.purges.Get(markerID)
}

// PurgeCount returns the number of known purges
func (s *MarkerService) PurgeCount() int {
	if s.purges == nil {
		return 0
	}
	return s.purges.Count()
}

// RestoreMarkers re-creates purged markers from their newest backup entries. Markers that
// already exist again with the same range are linked instead of duplicated. Ids that are not
// purged are skipped.
func (s *MarkerService) RestoreMarkers(ctx context.Context, oldIDs []int64, sectionID int64) (res *domain.RestoreResult, err error) {
	defer s.observe("restore", time.Now(), &err)

	if err = s.requireBackup(); err != nil {
		return nil, err
	}
	if len(oldIDs) == 0 {
		return nil, domain.Validationf("no markers to restore")
	}
	uuid, err := s.metadata.SectionUUID(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	latest, err := s.ledger.LatestActions(ctx, oldIDs, uuid)
	if err != nil {
		return nil, err
	}

	byEpisode := make(map[int64][]domain.RestoreCandidate)
	for _, id := range oldIDs {
		a, ok := latest[id]
		if !ok {
			return nil, domain.NotFoundf("marker %d has no backup in section %d", id, sectionID)
		}
		if a.Op == domain.ActionDelete || a.RestoredID != nil || s.cache.Has(id) {
			s.logger.WarnContext(ctx, "skipping restore of marker that is not purged", "markerID", id, "op", a.Op.String())
			continue
		}
		byEpisode[a.EpisodeID] = append(byEpisode[a.EpisodeID], a.Candidate())
	}
	if len(byEpisode) == 0 {
		return &domain.RestoreResult{}, nil
	}

	unlock := s.locks.lock(domain.SortedKeys(byEpisode)...)
	defer unlock()

	res, err = s.db.BulkRestore(ctx, byEpisode)
	if err != nil {
		return nil, err
	}
	for _, r := range res.Restored {
		s.cache.AddMarker(r.Marker)
	}
	if len(res.Orphaned) > 0 {
		gone := make([]int64, len(res.Orphaned))
		for i, c := range res.Orphaned {
			gone[i] = c.EpisodeID
		}
		s.metadata.Forget(sectionID, gone...)
	}
	s.metrics.Changed(domain.ActionRestore, len(res.Restored))

	settled := make([]domain.RestoredMarker, 0, len(res.Restored)+len(res.Identical))
	settled = append(settled, res.Restored...)
	settled = append(settled, res.Identical...)
	restorations := make([]domain.Restoration, len(settled))
	resolved := make([]int64, len(settled))
	for i, r := range settled {
		restorations[i] = domain.Restoration{Old: latest[r.OldID], Marker: r.Marker}
		resolved[i] = r.OldID
	}

	// The markers exist again either way. Without the backlinks they are reported as purged
	// until the next restore links them as identical.
	if err := s.ledger.RecordRestores(ctx, restorations, uuid); err != nil {
		s.logger.ErrorContext(ctx, "failed to record restored markers", "error", err, "count", len(restorations))
		s.metrics.LedgerFailures.Inc()
	} else {
		s.purges.Remove(resolved...)
		s.metrics.PurgesResolved.WithLabelValues("restored").Add(float64(len(resolved)))
	}
	s.syncGauges()

	s.logger.InfoContext(ctx, "restored markers", "sectionID", sectionID, "restored", len(res.Restored),
		"identical", len(res.Identical), "conflicts", len(res.Conflicts), "orphaned", len(res.Orphaned))
	return res, nil
}

// IgnorePurges dismisses purged markers for good. It returns the number of backup entries
// marked.
func (s *MarkerService) IgnorePurges(ctx context.Context, oldIDs []int64, sectionID int64) (n int64, err error) {
	defer s.observe("ignore", time.Now(), &err)

	if err = s.requireBackup(); err != nil {
		return 0, err
	}
	if len(oldIDs) == 0 {
		return 0, domain.Validationf("no markers to ignore")
	}
	uuid, err := s.metadata.SectionUUID(ctx, sectionID)
	if err != nil {
		return 0, err
	}
	n, err = s.ledger.IgnorePurges(ctx, oldIDs, uuid)
	if err != nil {
		return 0, err
	}
	s.purges.Remove(oldIDs...)
	s.metrics.PurgesResolved.WithLabelValues("ignored").Add(float64(n))
	s.syncGauges()

	s.logger.InfoContext(ctx, "ignored purged markers", "sectionID", sectionID, "count", n)
	return n, nil
}

// History returns the backup entries of a marker, oldest first
func (s *MarkerService) History(ctx context.Context, markerID, sectionID int64) ([]domain.Action, error) {
	if err := s.requireBackup(); err != nil {
		return nil, err
	}
	uuid, err := s.metadata.SectionUUID(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, markerID, uuid)
}
