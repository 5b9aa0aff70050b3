package service

import (
	"context"
	"log/slog"

	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/store"
)

// LibrarySource is the Plex database side of metadata lookups
type LibrarySource interface {
	Sections(ctx context.Context) ([]domain.Section, error)
	EpisodesByID(ctx context.Context, ids []int64) (map[int64]domain.Episode, error)
}

// MetadataService answers section and episode lookups from the metadata store, falling back
// to the Plex database on a miss.
type MetadataService struct {
	source    LibrarySource
	store     *store.MetadataStore
	overrides map[int64]string // Section id -> configured library UUID
	logger    *slog.Logger
}

// NewMetadataService creates a new metadata service.
func NewMetadataService(source LibrarySource, st *store.MetadataStore, overrides map[int64]string, logger *slog.Logger) *MetadataService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataService{source: source, store: st, overrides: overrides, logger: logger}
}

// Sections returns every library section with configured UUID overrides applied
func (s *MetadataService) Sections(ctx context.Context) ([]domain.Section, error) {
	sections, ok := s.store.GetSections()
	if !ok {
		var err error
		sections, err = s.source.Sections(ctx)
		if err != nil {
			s.logger.Error("failed to fetch sections", "error", err)
			return nil, err
		}
		if err := s.store.SaveSections(sections); err != nil {
			s.logger.Error("failed to save sections", "error", err)
		}
		s.logger.Debug("fetched sections", "count", len(sections))
	}

	out := make([]domain.Section, len(sections))
	for i, sec := range sections {
		if uuid, ok := s.overrides[sec.ID]; ok {
			sec.UUID = uuid
		}
		out[i] = sec
	}
	return out, nil
}

// SectionUUID returns the library instance identifier ledger entries of a section are keyed by
func (s *MetadataService) SectionUUID(ctx context.Context, sectionID int64) (string, error) {
	if uuid, ok := s.overrides[sectionID]; ok {
		return uuid, nil
	}
	sections, err := s.Sections(ctx)
	if err != nil {
		return "", err
	}
	for _, sec := range sections {
		if sec.ID == sectionID {
			return sec.UUID, nil
		}
	}
	return "", domain.NotFoundf("library section %d does not exist", sectionID)
}

// Episodes returns metadata for the ids of one section. Ids that no longer exist are absent
// from the result.
func (s *MetadataService) Episodes(ctx context.Context, sectionID int64, ids []int64) (map[int64]domain.Episode, error) {
	found, missing := s.store.GetEpisodes(sectionID, ids)
	if len(missing) == 0 {
		return found, nil
	}

	fetched, err := s.source.EpisodesByID(ctx, missing)
	if err != nil {
		s.logger.Error("failed to fetch episodes", "error", err, "sectionID", sectionID, "count", len(missing))
		return found, err
	}
	fresh := make([]domain.Episode, 0, len(fetched))
	for id, ep := range fetched {
		if ep.SectionID != sectionID {
			continue
		}
		found[id] = ep
		fresh = append(fresh, ep)
	}
	if err := s.store.SaveEpisodes(fresh); err != nil {
		s.logger.Error("failed to save episodes", "error", err, "sectionID", sectionID)
	}
	return found, nil
}

// Durations returns the longest media version of each item in milliseconds. Durations come
// straight from the Plex database so a replaced file is picked up immediately.
func (s *MetadataService) Durations(ctx context.Context, ids []int64) (map[int64]int64, error) {
	eps, err := s.source.EpisodesByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(eps))
	fresh := make([]domain.Episode, 0, len(eps))
	for id, ep := range eps {
		out[id] = ep.Duration
		fresh = append(fresh, ep)
	}
	if err := s.store.SaveEpisodes(fresh); err != nil {
		s.logger.Warn("failed to save episodes", "error", err)
	}
	return out, nil
}

// Forget drops cached episodes of a section, or only the given ids
func (s *MetadataService) Forget(sectionID int64, episodeIDs ...int64) {
	if len(episodeIDs) == 0 {
		s.store.InvalidateSection(sectionID)
		return
	}
	for _, id := range episodeIDs {
		s.store.InvalidateEpisode(sectionID, id)
	}
}

// Invalidate drops all cached metadata
func (s *MetadataService) Invalidate() {
	s.store.InvalidateAll()
}
