package plexdb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/plexdb"
	"github.com/mmcdole/skiptrack/internal/plexdb/plexdbtest"
)

func TestDecodeModified(t *testing.T) {
	tests := []struct {
		in          string
		modified    *int64
		userCreated bool
	}{
		{"", nil, false},
		{"*", nil, true},
		{"1700000000", ptr(1700000000), false},
		{"1700000000*", ptr(1700000000), true},
		{"metadata://posters/abc", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			modified, userCreated := plexdb.DecodeModified(tt.in)
			assert.Equal(t, tt.modified, modified)
			assert.Equal(t, tt.userCreated, userCreated)
		})
	}

	assert.Equal(t, "12*", plexdb.EncodeModified(ptr(12), true))
	assert.Equal(t, "*", plexdb.EncodeModified(nil, true))
	assert.Equal(t, "", plexdb.EncodeModified(nil, false))
}

func TestMarkers_Scopes(t *testing.T) {
	ctx := context.Background()
	db, fx := newDB(t, false)
	fx.Insert(t, plexdbtest.Ep1, 0, 0, 1000, domain.MarkerTypeIntro)
	fx.Insert(t, plexdbtest.Ep1, 1, 1_700_000, 1_800_000, domain.MarkerTypeCredits)
	fx.Insert(t, plexdbtest.Ep2, 0, 0, 1000, domain.MarkerTypeIntro)
	fx.Insert(t, plexdbtest.Ep4, 0, 0, 1000, domain.MarkerTypeIntro)
	fx.Insert(t, plexdbtest.Show2Ep, 0, 0, 1000, domain.MarkerTypeIntro)
	fx.Insert(t, plexdbtest.Movie, 0, 0, 1000, domain.MarkerTypeIntro)

	tests := []struct {
		scope domain.Scope
		want  int
	}{
		{domain.EpisodeScope(plexdbtest.Ep1), 2},
		{domain.SeasonScope(plexdbtest.Season1), 3},
		{domain.ShowScope(plexdbtest.Show), 4},
		{domain.SectionScope(plexdbtest.ShowSection), 5},
		{domain.SectionScope(plexdbtest.MovieSection), 1},
		{domain.Scope{ID: plexdbtest.Movie, Level: domain.LevelMovie}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.scope.String(), func(t *testing.T) {
			markers, err := db.Markers(ctx, tt.scope)
			require.NoError(t, err)
			assert.Len(t, markers, tt.want)
		})
	}

	markers, err := db.Markers(ctx, domain.EpisodeScope(plexdbtest.Ep1))
	require.NoError(t, err)
	assert.Less(t, markers[0].Start, markers[1].Start)
	assert.Equal(t, plexdbtest.Season1, markers[0].SeasonID)
	assert.Equal(t, int64(1_700_000_000), markers[0].CreatedAt)

	byEpisode, err := db.MarkersForEpisodes(ctx, []int64{plexdbtest.Ep1, plexdbtest.Ep3})
	require.NoError(t, err)
	assert.Len(t, byEpisode[plexdbtest.Ep1], 2)
	assert.Empty(t, byEpisode[plexdbtest.Ep3])
}

func TestMarker_NotFound(t *testing.T) {
	db, _ := newDB(t, false)
	_, err := db.Marker(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScope(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t, false)

	tests := []struct {
		id    int64
		level domain.Level
	}{
		{plexdbtest.Show, domain.LevelShow},
		{plexdbtest.Season2, domain.LevelSeason},
		{plexdbtest.Ep3, domain.LevelEpisode},
		{plexdbtest.Movie, domain.LevelMovie},
	}
	for _, tt := range tests {
		scope, err := db.Scope(ctx, tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.level, scope.Level)
		assert.Equal(t, tt.id, scope.ID)
	}

	_, err := db.Scope(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, section, err := db.Locate(ctx, plexdbtest.Movie)
	require.NoError(t, err)
	assert.Equal(t, plexdbtest.MovieSection, section)
}

func TestEpisodes(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t, false)

	eps, err := db.Episodes(ctx, domain.ShowScope(plexdbtest.Show))
	require.NoError(t, err)
	require.Len(t, eps, 4)
	assert.Equal(t, []int64{plexdbtest.Ep1, plexdbtest.Ep2, plexdbtest.Ep3, plexdbtest.Ep4},
		[]int64{eps[0].ID, eps[1].ID, eps[2].ID, eps[3].ID})

	assert.Equal(t, "S01E02", eps[1].Code())
	assert.Equal(t, "Alpha", eps[1].ShowTitle)
	assert.Equal(t, plexdbtest.EpisodeDuration, eps[1].Duration, "longest version wins")
	assert.Equal(t, plexdbtest.Ep4Duration, eps[3].Duration)

	byID, err := db.EpisodesByID(ctx, []int64{plexdbtest.Movie, 999})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	movie := byID[plexdbtest.Movie]
	assert.True(t, movie.IsMovie)
	assert.Equal(t, "Feature", movie.Code())
	assert.Equal(t, int64(-1), movie.ShowID)
}

func TestSectionsAndShows(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t, false)

	sections, err := db.Sections(ctx)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, plexdbtest.ShowSectionUUID, sections[0].UUID)
	assert.Equal(t, domain.MetadataTypeMovie, sections[1].Type)

	shows, err := db.Shows(ctx, plexdbtest.ShowSection)
	require.NoError(t, err)
	require.Len(t, shows, 2)
	assert.Equal(t, "Alpha", shows[0].Title)
	assert.Equal(t, "Bravo", shows[1].Title)
}

func TestMarkerTree(t *testing.T) {
	ctx := context.Background()
	db, fx := newDB(t, false)
	fx.Insert(t, plexdbtest.Ep1, 0, 0, 1000, domain.MarkerTypeIntro)
	fx.Insert(t, plexdbtest.Ep1, 1, 1_700_000, 1_800_000, domain.MarkerTypeCredits)

	rows, err := db.MarkerTree(ctx, nil)
	require.NoError(t, err)
	// Six leaf items, one of which contributes two rows
	assert.Len(t, rows, 7)

	withMarkers := 0
	for _, r := range rows {
		if r.MarkerID != nil {
			withMarkers++
			assert.Equal(t, plexdbtest.Ep1, r.EpisodeID)
			assert.Equal(t, plexdbtest.Show, r.ShowID)
		}
		if r.EpisodeID == plexdbtest.Movie {
			assert.Equal(t, int64(-1), r.ShowID)
			assert.Equal(t, plexdbtest.MovieSection, r.SectionID)
		}
	}
	assert.Equal(t, 2, withMarkers)

	scope := domain.ShowScope(plexdbtest.Show2)
	rows, err = db.MarkerTree(ctx, &scope)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].MarkerID)
	assert.Equal(t, plexdbtest.Show2Season, rows[0].SeasonID)
}

func ptr(v int64) *int64 { return &v }
