package plexdb

import (
	"context"
	"fmt"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// markerRow is the shape of markerSelect
type markerRow struct {
	ID          int64
	EpisodeID   int64
	MarkerIndex int
	MarkerType  string
	StartMs     int64
	EndMs       int64
	ThumbURL    *string
	CreatedAt   *int64
	SectionID   int64
	SeasonID    int64
	ShowID      int64
}

const markerSelect = `
SELECT t.id AS id,
       t.metadata_item_id AS episode_id,
       t."index" AS marker_index,
       t.text AS marker_type,
       t.time_offset AS start_ms,
       t.end_time_offset AS end_ms,
       t.thumb_url AS thumb_url,
       t.created_at AS created_at,
       e.library_section_id AS section_id,
       CASE WHEN e.metadata_type = 4 THEN COALESCE(s.id, -1) ELSE -1 END AS season_id,
       CASE WHEN e.metadata_type = 4 THEN COALESCE(s.parent_id, -1) ELSE -1 END AS show_id
FROM taggings t
INNER JOIN metadata_items e ON e.id = t.metadata_item_id
LEFT JOIN metadata_items s ON s.id = e.parent_id
WHERE t.tag_id = ?`

const markerOrder = ` ORDER BY t.metadata_item_id, t.time_offset, t.end_time_offset, t.id`

// scopeClause returns the condition restricting e (the leaf item) and s (its season) to scope
func scopeClause(scope domain.Scope) (string, error) {
	switch scope.Level {
	case domain.LevelEpisode, domain.LevelMovie:
		return "e.id = ?", nil
	case domain.LevelSeason:
		return "s.id = ?", nil
	case domain.LevelShow:
		return "s.parent_id = ?", nil
	case domain.LevelSection:
		return "e.library_section_id = ?", nil
	default:
		return "", domain.Validationf("unsupported scope level %d", scope.Level)
	}
}

func (r markerRow) toMarker() domain.Marker {
	m := domain.Marker{
		ID:        r.ID,
		EpisodeID: r.EpisodeID,
		SeasonID:  r.SeasonID,
		ShowID:    r.ShowID,
		SectionID: r.SectionID,
		Index:     r.MarkerIndex,
		Start:     r.StartMs,
		End:       r.EndMs,
		Type:      domain.MarkerType(r.MarkerType),
	}
	if r.CreatedAt != nil {
		m.CreatedAt = *r.CreatedAt
	}
	if r.ThumbURL != nil {
		m.ModifiedAt, m.UserCreated = decodeModified(*r.ThumbURL)
	}
	return m
}

// markerFromRow builds a marker from a freshly written tagging and its owning item
func (d *DB) markerFromRow(t Tagging, ep domain.Episode) domain.Marker {
	m := domain.Marker{
		ID:        t.ID,
		EpisodeID: t.MetadataItemID,
		SeasonID:  ep.SeasonID,
		ShowID:    ep.ShowID,
		SectionID: ep.SectionID,
		Index:     t.Index,
		Start:     t.TimeOffset,
		End:       t.EndTimeOffset,
		Type:      domain.MarkerType(t.Text),
		CreatedAt: t.CreatedAt,
	}
	if !d.pureMode {
		m.ModifiedAt, m.UserCreated = decodeModified(t.ThumbURL)
	}
	return m
}

func (d *DB) queryMarkers(ctx context.Context, where string, args ...any) ([]domain.Marker, error) {
	query := markerSelect
	if where != "" {
		query += " AND " + where
	}
	query += markerOrder

	var rows []markerRow
	if err := d.db.WithContext(ctx).Raw(query, append([]any{d.markerTagID}, args...)...).Scan(&rows).Error; err != nil {
		return nil, domain.Storage(err, "query markers")
	}

	markers := make([]domain.Marker, len(rows))
	for i, r := range rows {
		markers[i] = r.toMarker()
	}
	return markers, nil
}

// Markers returns every marker under scope, ordered by owning item then start time.
func (d *DB) Markers(ctx context.Context, scope domain.Scope) ([]domain.Marker, error) {
	clause, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}
	return d.queryMarkers(ctx, clause, scope.ID)
}

// Marker returns a single marker by id
func (d *DB) Marker(ctx context.Context, id int64) (domain.Marker, error) {
	markers, err := d.queryMarkers(ctx, "t.id = ?", id)
	if err != nil {
		return domain.Marker{}, err
	}
	if len(markers) == 0 {
		return domain.Marker{}, domain.NotFoundf("marker %d does not exist", id)
	}
	return markers[0], nil
}

// MarkersByID returns the markers among ids that still exist
func (d *DB) MarkersByID(ctx context.Context, ids []int64) ([]domain.Marker, error) {
	var out []domain.Marker
	for _, chunk := range chunks(ids) {
		markers, err := d.queryMarkers(ctx, "t.id IN ?", chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, markers...)
	}
	return out, nil
}

// MarkersForEpisodes returns the markers of the given leaf items grouped by item
func (d *DB) MarkersForEpisodes(ctx context.Context, episodeIDs []int64) (map[int64][]domain.Marker, error) {
	out := make(map[int64][]domain.Marker, len(episodeIDs))
	for _, chunk := range chunks(episodeIDs) {
		markers, err := d.queryMarkers(ctx, "e.id IN ?", chunk)
		if err != nil {
			return nil, err
		}
		for _, m := range markers {
			out[m.EpisodeID] = append(out[m.EpisodeID], m)
		}
	}
	return out, nil
}

// itemRow is the shape of the metadata lookup in Scope
type itemRow struct {
	ID           int64
	SectionID    int64
	MetadataType int
}

// Scope resolves a metadata id (show, season, episode or movie) to its scope
func (d *DB) Scope(ctx context.Context, metadataID int64) (domain.Scope, error) {
	scope, _, err := d.Locate(ctx, metadataID)
	return scope, err
}

// Locate resolves a metadata id to its scope and the library section it belongs to
func (d *DB) Locate(ctx context.Context, metadataID int64) (domain.Scope, int64, error) {
	var rows []itemRow
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, library_section_id AS section_id, metadata_type FROM metadata_items WHERE id = ?`,
		metadataID,
	).Scan(&rows).Error
	if err != nil {
		return domain.Scope{}, 0, domain.Storage(err, "look up metadata item %d", metadataID)
	}
	if len(rows) == 0 {
		return domain.Scope{}, 0, domain.NotFoundf("metadata item %d does not exist", metadataID)
	}
	level, ok := domain.LevelFor(domain.MetadataType(rows[0].MetadataType))
	if !ok {
		return domain.Scope{}, 0, domain.NotFoundf("metadata item %d has unsupported type %d", metadataID, rows[0].MetadataType)
	}
	return domain.Scope{ID: metadataID, Level: level}, rows[0].SectionID, nil
}

// episodeRow is the shape of episodeSelect
type episodeRow struct {
	ID           int64
	Title        string
	EpisodeIndex int
	MetadataType int
	SectionID    int64
	SeasonID     int64
	SeasonIndex  int
	SeasonTitle  string
	ShowID       int64
	ShowTitle    string
	Duration     int64
}

const episodeSelect = `
SELECT e.id AS id,
       e.title AS title,
       e."index" AS episode_index,
       e.metadata_type AS metadata_type,
       e.library_section_id AS section_id,
       COALESCE(s.id, -1) AS season_id,
       COALESCE(s."index", 0) AS season_index,
       COALESCE(s.title, '') AS season_title,
       COALESCE(sh.id, -1) AS show_id,
       COALESCE(sh.title, '') AS show_title,
       COALESCE((SELECT MAX(mi.duration) FROM media_items mi WHERE mi.metadata_item_id = e.id), 0) AS duration
FROM metadata_items e
LEFT JOIN metadata_items s ON s.id = e.parent_id AND e.metadata_type = 4
LEFT JOIN metadata_items sh ON sh.id = s.parent_id
WHERE e.metadata_type IN (1, 4)`

const episodeOrder = ` ORDER BY e.library_section_id, sh.id, s."index", e."index", e.id`

func (r episodeRow) toEpisode() domain.Episode {
	return domain.Episode{
		ID:          r.ID,
		Title:       r.Title,
		Index:       r.EpisodeIndex,
		SeasonID:    r.SeasonID,
		SeasonIndex: r.SeasonIndex,
		SeasonTitle: r.SeasonTitle,
		ShowID:      r.ShowID,
		ShowTitle:   r.ShowTitle,
		SectionID:   r.SectionID,
		Duration:    r.Duration,
		IsMovie:     domain.MetadataType(r.MetadataType) == domain.MetadataTypeMovie,
	}
}

func (d *DB) queryEpisodes(ctx context.Context, where string, args ...any) ([]domain.Episode, error) {
	query := episodeSelect
	if where != "" {
		query += " AND " + where
	}
	query += episodeOrder

	var rows []episodeRow
	if err := d.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, domain.Storage(err, "query episodes")
	}
	out := make([]domain.Episode, len(rows))
	for i, r := range rows {
		out[i] = r.toEpisode()
	}
	return out, nil
}

// Episodes expands a scope to its leaf items (episodes, or movies in movie sections)
func (d *DB) Episodes(ctx context.Context, scope domain.Scope) ([]domain.Episode, error) {
	clause, err := scopeClause(scope)
	if err != nil {
		return nil, err
	}
	return d.queryEpisodes(ctx, clause, scope.ID)
}

// EpisodesByID returns metadata for the given leaf items, keyed by id
func (d *DB) EpisodesByID(ctx context.Context, ids []int64) (map[int64]domain.Episode, error) {
	out := make(map[int64]domain.Episode, len(ids))
	for _, chunk := range chunks(ids) {
		eps, err := d.queryEpisodes(ctx, "e.id IN ?", chunk)
		if err != nil {
			return nil, err
		}
		for _, ep := range eps {
			out[ep.ID] = ep
		}
	}
	return out, nil
}

// episode returns a single leaf item, rejecting ids that are not episodes or movies
func (d *DB) episode(ctx context.Context, id int64) (domain.Episode, error) {
	eps, err := d.EpisodesByID(ctx, []int64{id})
	if err != nil {
		return domain.Episode{}, err
	}
	ep, ok := eps[id]
	if !ok {
		return domain.Episode{}, domain.NotFoundf("episode %d does not exist", id)
	}
	return ep, nil
}

// Sections returns the movie and show library sections
func (d *DB) Sections(ctx context.Context) ([]domain.Section, error) {
	var rows []LibrarySection
	err := d.db.WithContext(ctx).
		Where("section_type IN ?", []int{int(domain.MetadataTypeMovie), int(domain.MetadataTypeShow)}).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, domain.Storage(err, "query library sections")
	}
	out := make([]domain.Section, len(rows))
	for i, r := range rows {
		out[i] = domain.Section{ID: r.ID, Name: r.Name, Type: domain.MetadataType(r.SectionType), UUID: r.UUID}
	}
	return out, nil
}

// Shows returns the shows of a section, ordered by title
func (d *DB) Shows(ctx context.Context, sectionID int64) ([]domain.Show, error) {
	var rows []MetadataItem
	err := d.db.WithContext(ctx).
		Where("library_section_id = ? AND metadata_type = ?", sectionID, int(domain.MetadataTypeShow)).
		Order("title").
		Find(&rows).Error
	if err != nil {
		return nil, domain.Storage(err, "query shows of section %d", sectionID)
	}
	out := make([]domain.Show, len(rows))
	for i, r := range rows {
		out[i] = domain.Show{ID: r.ID, Title: r.Title, SectionID: r.LibrarySectionID}
	}
	return out, nil
}

const treeSelect = `
SELECT e.id AS episode_id,
       COALESCE(s.id, -1) AS season_id,
       COALESCE(s.parent_id, -1) AS show_id,
       e.library_section_id AS section_id,
       t.id AS marker_id,
       COALESCE(t.text, '') AS marker_type
FROM metadata_items e
LEFT JOIN metadata_items s ON s.id = e.parent_id AND e.metadata_type = 4
LEFT JOIN taggings t ON t.metadata_item_id = e.id AND t.tag_id = ?
WHERE e.metadata_type IN (1, 4)`

// MarkerTree returns one row per (leaf item, marker) pair, plus one row with a nil marker for
// each item without markers. A nil scope covers every section.
func (d *DB) MarkerTree(ctx context.Context, scope *domain.Scope) ([]domain.TreeRow, error) {
	query := treeSelect
	args := []any{d.markerTagID}
	if scope != nil {
		clause, err := scopeClause(*scope)
		if err != nil {
			return nil, err
		}
		query += " AND " + clause
		args = append(args, scope.ID)
	}

	var rows []domain.TreeRow
	if err := d.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, domain.Storage(err, "query marker tree")
	}
	return rows, nil
}

// describeConflict names both ranges of an overlap for error messages
func describeConflict(start, end int64, other domain.Marker) string {
	return fmt.Sprintf("range [%s-%s] overlaps existing marker %d %s",
		domain.FormatTimestamp(start), domain.FormatTimestamp(end), other.ID, other)
}
