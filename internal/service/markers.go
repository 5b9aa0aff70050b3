// Package service coordinates the Plex database, the backup ledger, the marker cache and the
// purge detector for every marker operation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/skiptrack/internal/cache"
	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/metrics"
	"github.com/mmcdole/skiptrack/internal/purge"
)

// MarkerStore is the Plex database accessor
type MarkerStore interface {
	Markers(ctx context.Context, scope domain.Scope) ([]domain.Marker, error)
	Marker(ctx context.Context, id int64) (domain.Marker, error)
	Locate(ctx context.Context, metadataID int64) (domain.Scope, int64, error)
	Episodes(ctx context.Context, scope domain.Scope) ([]domain.Episode, error)
	Shows(ctx context.Context, sectionID int64) ([]domain.Show, error)

	AddMarker(ctx context.Context, episodeID, start, end int64, markerType domain.MarkerType) (*domain.AddResult, error)
	EditMarker(ctx context.Context, id, start, end int64, markerType domain.MarkerType, userCreated bool) (*domain.EditResult, error)
	DeleteMarker(ctx context.Context, id int64) (domain.Marker, error)

	BulkRestore(ctx context.Context, byEpisode map[int64][]domain.RestoreCandidate) (*domain.RestoreResult, error)
	BulkShift(ctx context.Context, markers []domain.Marker, durations map[int64]int64, startShift, endShift int64) (*domain.ShiftResult, error)
	BulkAdd(ctx context.Context, scope domain.Scope, start, end int64, markerType domain.MarkerType, resolve domain.BulkResolve, ignored []int64) (*domain.BulkAddResult, error)
	BulkDelete(ctx context.Context, markers []domain.Marker) (*domain.BulkDeleteResult, error)
	ReindexEpisodes(ctx context.Context, episodeIDs []int64) ([]domain.Marker, error)
}

// Ledger is the marker backup action log. Record* calls are best-effort and never fail the
// caller; RecordRestores reports its error.
type Ledger interface {
	RecordAdd(ctx context.Context, m domain.Marker, sectionUUID string)
	RecordAdds(ctx context.Context, markers []domain.Marker, sectionUUID string)
	RecordEdit(ctx context.Context, edit domain.EditResult, sectionUUID string)
	RecordEdits(ctx context.Context, edits []domain.EditResult, sectionUUID string)
	RecordDelete(ctx context.Context, m domain.Marker, sectionUUID string)
	RecordDeletes(ctx context.Context, markers []domain.Marker, sectionUUID string)
	RecordRestores(ctx context.Context, restores []domain.Restoration, sectionUUID string) error

	ExpectedMarkers(ctx context.Context, scope domain.Scope, sectionUUID string) ([]domain.Action, error)
	LatestActions(ctx context.Context, markerIDs []int64, sectionUUID string) (map[int64]domain.Action, error)
	IgnorePurges(ctx context.Context, markerIDs []int64, sectionUUID string) (int64, error)
	History(ctx context.Context, markerID int64, sectionUUID string) ([]domain.Action, error)
}

// MarkerService is the entry point for marker reads and mutations. A nil ledger disables the
// backup, and with it purge detection and restore.
type MarkerService struct {
	db       MarkerStore
	ledger   Ledger
	cache    *cache.Cache
	purges   *purge.Detector
	metadata *MetadataService
	metrics  *metrics.Metrics
	locks    *episodeLocks
	logger   *slog.Logger
}

// NewMarkerService creates a new marker service. Call Init before serving requests.
func NewMarkerService(
	db MarkerStore,
	ledger Ledger,
	c *cache.Cache,
	purges *purge.Detector,
	metadata *MetadataService,
	m *metrics.Metrics,
	logger *slog.Logger,
) *MarkerService {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		purges = nil
	}
	return &MarkerService{
		db:       db,
		ledger:   ledger,
		cache:    c,
		purges:   purges,
		metadata: metadata,
		metrics:  m,
		locks:    newEpisodeLocks(),
		logger:   logger,
	}
}

// Init builds the marker cache and, with the backup enabled, scans every section for purges.
// A failed purge scan is logged; the service still starts.
func (s *MarkerService) Init(ctx context.Context) error {
	started := time.Now()
	if err := s.cache.Build(ctx); err != nil {
		return fmt.Errorf("failed to build marker cache: %w", err)
	}
	s.metrics.CacheRebuilds.Inc()
	s.metrics.CacheRebuildDuration.Observe(time.Since(started).Seconds())

	if s.purges != nil {
		if _, err := s.purges.BuildAll(ctx); err != nil {
			s.logger.ErrorContext(ctx, "failed to scan for purged markers", "error", err)
		}
	}
	s.syncGauges()
	return nil
}

// Rebuild drops cached metadata and markers and runs Init again
func (s *MarkerService) Rebuild(ctx context.Context) error {
	s.metadata.Invalidate()
	s.cache.Clear()
	return s.Init(ctx)
}

// RefreshSection drops the cached episode metadata of one section so titles and durations
// are read from Plex again
func (s *MarkerService) RefreshSection(ctx context.Context, sectionID int64) error {
	if _, err := s.metadata.SectionUUID(ctx, sectionID); err != nil {
		return err
	}
	s.metadata.Forget(sectionID)
	s.logger.InfoContext(ctx, "refreshed section metadata", "sectionID", sectionID)
	return nil
}

// Close releases in-memory state. Database handles are owned by the caller.
func (s *MarkerService) Close() error {
	s.cache.Clear()
	return nil
}

// BackupEnabled reports whether a ledger is configured
func (s *MarkerService) BackupEnabled() bool {
	return s.ledger != nil
}

func (s *MarkerService) requireBackup() error {
	if s.ledger == nil {
		return domain.Validationf("marker backup is disabled")
	}
	return nil
}

func (s *MarkerService) observe(operation string, started time.Time, errp *error) {
	s.metrics.Observe(operation, started, *errp)
}

func (s *MarkerService) syncGauges() {
	_, markers := s.cache.Totals()
	s.metrics.CachedMarkers.Set(float64(markers))
	if s.purges != nil {
		s.metrics.PurgesOutstanding.Set(float64(s.purges.Count()))
	}
}

// withSectionUUID runs record with the library instance id of sectionID. Failures to resolve
// it are logged and the record is skipped.
func (s *MarkerService) withSectionUUID(ctx context.Context, sectionID int64, record func(uuid string)) {
	if s.ledger == nil {
		return
	}
	uuid, err := s.metadata.SectionUUID(ctx, sectionID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve library instance for backup", "error", err, "sectionID", sectionID)
		s.metrics.LedgerFailures.Inc()
		return
	}
	record(uuid)
}

func bySection(markers []domain.Marker) map[int64][]domain.Marker {
	out := make(map[int64][]domain.Marker)
	for _, m := range markers {
		out[m.SectionID] = append(out[m.SectionID], m)
	}
	return out
}

// Sections lists the library sections
func (s *MarkerService) Sections(ctx context.Context) ([]domain.Section, error) {
	return s.metadata.Sections(ctx)
}

// Locate resolves a show, season, episode or movie id to its scope and section
func (s *MarkerService) Locate(ctx context.Context, metadataID int64) (domain.Scope, int64, error) {
	return s.db.Locate(ctx, metadataID)
}

// Shows lists the shows of a section by title
func (s *MarkerService) Shows(ctx context.Context, sectionID int64) ([]domain.Show, error) {
	return s.db.Shows(ctx, sectionID)
}

// Markers returns the markers under scope ordered by item and start
func (s *MarkerService) Markers(ctx context.Context, scope domain.Scope) ([]domain.Marker, error) {
	return s.db.Markers(ctx, scope)
}

// AddMarker inserts a marker into an episode or movie
func (s *MarkerService) AddMarker(ctx context.Context, episodeID, start, end int64, markerType domain.MarkerType) (res *domain.AddResult, err error) {
	defer s.observe("add", time.Now(), &err)

	unlock := s.locks.lock(episodeID)
	defer unlock()

	res, err = s.db.AddMarker(ctx, episodeID, start, end, markerType)
	if err != nil {
		return nil, err
	}
	s.cache.AddMarker(res.Marker)
	s.withSectionUUID(ctx, res.Marker.SectionID, func(uuid string) {
		s.ledger.RecordAdd(ctx, res.Marker, uuid)
	})
	s.metrics.Changed(domain.ActionAdd, 1)
	s.syncGauges()

	s.logger.InfoContext(ctx, "added marker", "markerID", res.Marker.ID, "episodeID", episodeID, "index", res.Marker.Index)
	return res, nil
}

// EditMarker changes the range and type of a marker
func (s *MarkerService) EditMarker(ctx context.Context, id, start, end int64, markerType domain.MarkerType) (res *domain.EditResult, err error) {
	defer s.observe("edit", time.Now(), &err)

	current, err := s.db.Marker(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(current.EpisodeID)
	defer unlock()

	res, err = s.db.EditMarker(ctx, id, start, end, markerType, current.UserCreated)
	if err != nil {
		return nil, err
	}
	s.withSectionUUID(ctx, res.Marker.SectionID, func(uuid string) {
		s.ledger.RecordEdit(ctx, *res, uuid)
	})
	s.metrics.Changed(domain.ActionEdit, 1)

	s.logger.InfoContext(ctx, "edited marker", "markerID", id, "episodeID", current.EpisodeID)
	return res, nil
}

// DeleteMarker removes a marker and closes the index gap it leaves
func (s *MarkerService) DeleteMarker(ctx context.Context, id int64) (deleted domain.Marker, err error) {
	defer s.observe("delete", time.Now(), &err)

	current, err := s.db.Marker(ctx, id)
	if err != nil {
		return domain.Marker{}, err
	}
	unlock := s.locks.lock(current.EpisodeID)
	defer unlock()

	deleted, err = s.db.DeleteMarker(ctx, id)
	if err != nil {
		return domain.Marker{}, err
	}
	if !s.cache.RemoveMarker(id) {
		s.logger.WarnContext(ctx, "deleted marker was not cached", "markerID", id)
	}
	s.withSectionUUID(ctx, deleted.SectionID, func(uuid string) {
		s.ledger.RecordDelete(ctx, deleted, uuid)
	})
	s.metrics.Changed(domain.ActionDelete, 1)
	s.syncGauges()

	s.logger.InfoContext(ctx, "deleted marker", "markerID", id, "episodeID", deleted.EpisodeID)
	return deleted, nil
}

// SectionOverview returns the marker count buckets of a section
func (s *MarkerService) SectionOverview(sectionID int64) (domain.Buckets, error) {
	b, ok := s.cache.SectionOverview(sectionID)
	if !ok {
		return nil, domain.NotFoundf("library section %d has no items", sectionID)
	}
	return b, nil
}

// ShowStats returns the marker count buckets of a show
func (s *MarkerService) ShowStats(ctx context.Context, showID int64) (domain.Buckets, error) {
	return s.cache.ShowStats(ctx, showID)
}

// SeasonStats returns the marker count buckets of a season
func (s *MarkerService) SeasonStats(ctx context.Context, seasonID int64) (domain.Buckets, error) {
	return s.cache.SeasonStats(ctx, seasonID)
}
