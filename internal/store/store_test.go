package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/skiptrack/internal/domain"
)

func episodes() []domain.Episode {
	return []domain.Episode{
		{ID: 102, Title: "Pilot", SectionID: 1, ShowID: 100, SeasonID: 101, Duration: 1_800_000},
		{ID: 103, Title: "Second", SectionID: 1, ShowID: 100, SeasonID: 101, Duration: 1_700_000},
		{ID: 200, Title: "Feature", SectionID: 10, ShowID: -1, SeasonID: -1, IsMovie: true},
	}
}

func TestMetadataStore_MemoryOnly(t *testing.T) {
	s, err := NewMetadataStore("", "")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveEpisodes(episodes()))
	ep, ok := s.GetEpisode(1, 103)
	require.True(t, ok)
	assert.Equal(t, "Second", ep.Title)

	_, ok = s.GetEpisode(10, 103)
	assert.False(t, ok, "keys are scoped by section")
}

func TestMetadataStore_Persists(t *testing.T) {
	dir := t.TempDir()
	dbPath := "/var/lib/plex/com.plexapp.plugins.library.db"

	s, err := NewMetadataStore(dir, dbPath)
	require.NoError(t, err)
	require.NoError(t, s.SaveEpisodes(episodes()))
	require.NoError(t, s.SaveSections([]domain.Section{{ID: 1, Name: "TV Shows", Type: domain.MetadataTypeShow, UUID: "abc"}}))
	require.NoError(t, s.Close())

	s, err = NewMetadataStore(dir, dbPath)
	require.NoError(t, err)
	defer s.Close()

	found, missing := s.GetEpisodes(1, []int64{102, 103, 104})
	assert.Len(t, found, 2)
	assert.Equal(t, []int64{104}, missing)
	assert.Equal(t, int64(1_800_000), found[102].Duration)

	sections, ok := s.GetSections()
	require.True(t, ok)
	assert.Equal(t, "abc", sections[0].UUID)

	other, err := NewMetadataStore(dir, "/srv/other/library.db")
	require.NoError(t, err)
	defer other.Close()
	_, ok = other.GetEpisode(1, 102)
	assert.False(t, ok, "each database gets its own store")
}

func TestMetadataStore_Invalidate(t *testing.T) {
	s, err := NewMetadataStore(t.TempDir(), "library.db")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveEpisodes(episodes()))
	require.NoError(t, s.SaveEpisodes([]domain.Episode{{ID: 5, SectionID: 11}}))

	s.InvalidateSection(1)
	_, missing := s.GetEpisodes(1, []int64{102, 103})
	assert.Len(t, missing, 2)
	_, ok := s.GetEpisode(10, 200)
	assert.True(t, ok)
	_, ok = s.GetEpisode(11, 5)
	assert.True(t, ok, "section 1 prefix must not match section 11")

	s.InvalidateEpisode(10, 200)
	_, ok = s.GetEpisode(10, 200)
	assert.False(t, ok)

	require.NoError(t, s.SaveSections([]domain.Section{{ID: 1}}))
	s.InvalidateAll()
	_, ok = s.GetSections()
	assert.False(t, ok)
	_, ok = s.GetEpisode(11, 5)
	assert.False(t, ok)
}
