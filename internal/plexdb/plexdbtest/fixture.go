// Package plexdbtest builds small Plex library databases on disk for tests.
package plexdbtest

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/plexdb"
)

// Library layout seeded by New.
//
//	section 1 "TV Shows"
//	  show 100 "Alpha"
//	    season 101 (1): episodes 102, 103, 104
//	    season 110 (2): episode 111
//	  show 300 "Bravo"
//	    season 301 (1): episode 302
//	section 2 "Movies"
//	  movie 200 "Feature"
const (
	MarkerTagID = 5

	ShowSection  int64 = 1
	MovieSection int64 = 2

	ShowSectionUUID  = "4a3a8b8c-0d5e-4b41-9a55-3c3f6f0e1a01"
	MovieSectionUUID = "7f1c2d3e-9b8a-4c6d-8e7f-1a2b3c4d5e02"

	Show    int64 = 100
	Season1 int64 = 101
	Ep1     int64 = 102
	Ep2     int64 = 103
	Ep3     int64 = 104
	Season2 int64 = 110
	Ep4     int64 = 111

	Show2       int64 = 300
	Show2Season int64 = 301
	Show2Ep     int64 = 302

	Movie int64 = 200

	EpisodeDuration int64 = 1_800_000
	Ep4Duration     int64 = 1_200_000
	MovieDuration   int64 = 6_000_000
)

// Fixture is a seeded database file
type Fixture struct {
	Path string
	DB   *gorm.DB
}

// Open opens a gorm handle on an existing fixture file
func Open(t testing.TB, path string) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return gdb
}

// New creates and seeds a database in a temporary directory
func New(t testing.TB) *Fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "com.plexapp.plugins.library.db")
	gdb := Open(t, path)
	require.NoError(t, gdb.AutoMigrate(plexdb.Models()...))

	require.NoError(t, gdb.Create(&[]plexdb.Tag{
		{ID: 1, Tag: "Drama", TagType: 1},
		{ID: MarkerTagID, Tag: "", TagType: 12},
	}).Error)

	require.NoError(t, gdb.Create(&[]plexdb.LibrarySection{
		{ID: ShowSection, Name: "TV Shows", SectionType: int(domain.MetadataTypeShow), UUID: ShowSectionUUID},
		{ID: MovieSection, Name: "Movies", SectionType: int(domain.MetadataTypeMovie), UUID: MovieSectionUUID},
	}).Error)

	item := func(id, section int64, parent *int64, typ domain.MetadataType, title string, index int) plexdb.MetadataItem {
		return plexdb.MetadataItem{ID: id, LibrarySectionID: section, ParentID: parent, MetadataType: int(typ), Title: title, Index: index}
	}
	items := []plexdb.MetadataItem{
		item(Show, ShowSection, nil, domain.MetadataTypeShow, "Alpha", 0),
		item(Season1, ShowSection, ptr(Show), domain.MetadataTypeSeason, "Season 1", 1),
		item(Ep1, ShowSection, ptr(Season1), domain.MetadataTypeEpisode, "Pilot", 1),
		item(Ep2, ShowSection, ptr(Season1), domain.MetadataTypeEpisode, "Second", 2),
		item(Ep3, ShowSection, ptr(Season1), domain.MetadataTypeEpisode, "Third", 3),
		item(Season2, ShowSection, ptr(Show), domain.MetadataTypeSeason, "Season 2", 2),
		item(Ep4, ShowSection, ptr(Season2), domain.MetadataTypeEpisode, "Return", 1),
		item(Show2, ShowSection, nil, domain.MetadataTypeShow, "Bravo", 0),
		item(Show2Season, ShowSection, ptr(Show2), domain.MetadataTypeSeason, "Season 1", 1),
		item(Show2Ep, ShowSection, ptr(Show2Season), domain.MetadataTypeEpisode, "Opening", 1),
		item(Movie, MovieSection, nil, domain.MetadataTypeMovie, "Feature", 0),
	}
	require.NoError(t, gdb.Create(&items).Error)

	require.NoError(t, gdb.Create(&[]plexdb.MediaItem{
		{MetadataItemID: Ep1, Duration: EpisodeDuration},
		{MetadataItemID: Ep2, Duration: EpisodeDuration},
		{MetadataItemID: Ep2, Duration: EpisodeDuration - 1000},
		{MetadataItemID: Ep3, Duration: EpisodeDuration},
		{MetadataItemID: Ep4, Duration: Ep4Duration},
		{MetadataItemID: Show2Ep, Duration: EpisodeDuration},
		{MetadataItemID: Movie, Duration: MovieDuration},
	}).Error)

	return &Fixture{Path: path, DB: gdb}
}

// Insert writes a marker row directly, bypassing any ordering logic, and returns its id.
func (f *Fixture) Insert(t testing.TB, episodeID int64, index int, start, end int64, markerType domain.MarkerType) int64 {
	t.Helper()
	row := plexdb.Tagging{
		MetadataItemID: episodeID,
		TagID:          MarkerTagID,
		Index:          index,
		Text:           string(markerType),
		TimeOffset:     start,
		EndTimeOffset:  end,
		CreatedAt:      1_700_000_000,
	}
	require.NoError(t, f.DB.Create(&row).Error)
	return row.ID
}

// Rows returns the raw marker rows of an episode ordered by index
func (f *Fixture) Rows(t testing.TB, episodeID int64) []plexdb.Tagging {
	t.Helper()
	var rows []plexdb.Tagging
	require.NoError(t, f.DB.Where("metadata_item_id = ? AND tag_id = ?", episodeID, MarkerTagID).
		Order(`"index"`).Find(&rows).Error)
	return rows
}

// RequireContiguous asserts the episode's indices run 0..N-1 in start order without overlap
func (f *Fixture) RequireContiguous(t testing.TB, episodeID int64) {
	t.Helper()
	rows := f.Rows(t, episodeID)
	for i, r := range rows {
		require.Equal(t, i, r.Index, "marker %d of episode %d", r.ID, episodeID)
		if i > 0 {
			require.LessOrEqual(t, rows[i-1].EndTimeOffset, r.TimeOffset, "markers %d and %d overlap", rows[i-1].ID, r.ID)
		}
	}
}

func ptr(v int64) *int64 { return &v }
