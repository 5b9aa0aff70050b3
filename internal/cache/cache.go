// Package cache keeps an in-memory index of every marker in the Plex database, organised
// section -> show -> season -> episode, with per-node marker count rollups.
//
// Each node owns a Buckets map (markers per episode -> number of episodes). Nodes refer to
// their ancestors by id only; propagate walks those ids to apply a count change at every level.
package cache

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// TreeSource supplies the episode to marker join the cache is built from.
// A nil scope means every section.
type TreeSource interface {
	MarkerTree(ctx context.Context, scope *domain.Scope) ([]domain.TreeRow, error)
}

type episodeNode struct {
	sectionID int64
	showID    int64 // -1 for movies
	seasonID  int64 // -1 for movies
	markers   map[int64]domain.MarkerType
}

type seasonNode struct {
	buckets  domain.Buckets
	episodes map[int64]struct{}
}

type showNode struct {
	buckets domain.Buckets
	seasons map[int64]*seasonNode
}

type sectionNode struct {
	buckets domain.Buckets
	shows   map[int64]*showNode
	movies  map[int64]struct{}
}

// Cache is safe for concurrent use. Build and Clear must not race with incremental updates
// from the same caller; the mutex keeps readers consistent either way.
type Cache struct {
	src    TreeSource
	logger *slog.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	built    bool
	sections map[int64]*sectionNode
	episodes map[int64]*episodeNode
	markers  map[int64]int64 // marker id -> episode id
	shows    map[int64]int64 // show id -> section id
	seasons  map[int64]int64 // season id -> show id
}

// New returns an empty cache; call Build before use
func New(src TreeSource, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{src: src, logger: logger}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.built = false
	c.sections = make(map[int64]*sectionNode)
	c.episodes = make(map[int64]*episodeNode)
	c.markers = make(map[int64]int64)
	c.shows = make(map[int64]int64)
	c.seasons = make(map[int64]int64)
}

// Build replaces the cache contents with a full scan of the source
func (c *Cache) Build(ctx context.Context) error {
	rows, err := c.src.MarkerTree(ctx, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	for _, r := range rows {
		c.insertRow(r)
	}
	c.built = true
	c.logger.InfoContext(ctx, "marker cache built", "episodes", len(c.episodes), "markers", len(c.markers))
	return nil
}

// Clear drops everything; Build must run again before the cache is useful
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Built reports whether Build has completed since the last Clear
func (c *Cache) Built() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.built
}

// ensureEpisode returns the node for r's episode, creating it and any missing ancestors.
// A new episode has no markers and is counted in bucket 0 at every level.
func (c *Cache) ensureEpisode(r domain.TreeRow) *episodeNode {
	if ep, ok := c.episodes[r.EpisodeID]; ok {
		return ep
	}

	section, ok := c.sections[r.SectionID]
	if !ok {
		section = &sectionNode{buckets: domain.Buckets{}, shows: map[int64]*showNode{}, movies: map[int64]struct{}{}}
		c.sections[r.SectionID] = section
	}

	ep := &episodeNode{sectionID: r.SectionID, showID: r.ShowID, seasonID: r.SeasonID, markers: map[int64]domain.MarkerType{}}
	if r.ShowID < 0 || r.SeasonID < 0 {
		ep.showID, ep.seasonID = -1, -1
		section.movies[r.EpisodeID] = struct{}{}
	} else {
		show, ok := section.shows[r.ShowID]
		if !ok {
			show = &showNode{buckets: domain.Buckets{}, seasons: map[int64]*seasonNode{}}
			section.shows[r.ShowID] = show
			c.shows[r.ShowID] = r.SectionID
		}
		season, ok := show.seasons[r.SeasonID]
		if !ok {
			season = &seasonNode{buckets: domain.Buckets{}, episodes: map[int64]struct{}{}}
			show.seasons[r.SeasonID] = season
			c.seasons[r.SeasonID] = r.ShowID
		}
		season.episodes[r.EpisodeID] = struct{}{}
	}

	c.episodes[r.EpisodeID] = ep
	for _, b := range c.ancestors(ep) {
		b[0]++
	}
	return ep
}

// ancestors returns the bucket maps of every node above ep, section first
func (c *Cache) ancestors(ep *episodeNode) []domain.Buckets {
	section := c.sections[ep.sectionID]
	out := []domain.Buckets{section.buckets}
	if ep.showID < 0 {
		return out
	}
	show := section.shows[ep.showID]
	return append(out, show.buckets, show.seasons[ep.seasonID].buckets)
}

// propagate moves ep from the from-markers bucket to the to-markers bucket at every ancestor
func (c *Cache) propagate(ep *episodeNode, from, to int) {
	for _, b := range c.ancestors(ep) {
		b[from]--
		if b[from] == 0 {
			delete(b, from)
		}
		b[to]++
	}
}

// insertRow merges one tree row. Rows already present are ignored.
func (c *Cache) insertRow(r domain.TreeRow) {
	ep := c.ensureEpisode(r)
	if r.MarkerID == nil {
		return
	}
	if _, ok := c.markers[*r.MarkerID]; ok {
		return
	}
	n := len(ep.markers)
	ep.markers[*r.MarkerID] = r.MarkerType
	c.markers[*r.MarkerID] = r.EpisodeID
	c.propagate(ep, n, n+1)
}

// AddMarker records a marker that now exists in the database
func (c *Cache) AddMarker(m domain.Marker) {
	id := m.ID
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertRow(domain.TreeRow{
		EpisodeID:  m.EpisodeID,
		SeasonID:   m.SeasonID,
		ShowID:     m.ShowID,
		SectionID:  m.SectionID,
		MarkerID:   &id,
		MarkerType: m.Type,
	})
}

// RemoveMarker forgets a deleted marker. It reports whether the marker was cached.
func (c *Cache) RemoveMarker(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	episodeID, ok := c.markers[id]
	if !ok {
		return false
	}
	ep := c.episodes[episodeID]
	n := len(ep.markers)
	delete(ep.markers, id)
	delete(c.markers, id)
	c.propagate(ep, n, n-1)
	return true
}

// Has reports whether a marker id currently exists
func (c *Cache) Has(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.markers[id]
	return ok
}

// MarkerCount returns the number of markers on an episode and whether the episode is known
func (c *Cache) MarkerCount(episodeID int64) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep, ok := c.episodes[episodeID]
	if !ok {
		return 0, false
	}
	return len(ep.markers), true
}

// Totals returns the number of cached episodes and markers
func (c *Cache) Totals() (episodes, markers int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.episodes), len(c.markers)
}

// SectionOverview returns the marker count buckets of a section
func (c *Cache) SectionOverview(sectionID int64) (domain.Buckets, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	section, ok := c.sections[sectionID]
	if !ok {
		return nil, false
	}
	return section.buckets.Clone(), true
}

func (c *Cache) showBuckets(showID int64) (domain.Buckets, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sectionID, ok := c.shows[showID]
	if !ok {
		return nil, false
	}
	return c.sections[sectionID].shows[showID].buckets.Clone(), true
}

func (c *Cache) seasonBuckets(seasonID int64) (domain.Buckets, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	showID, ok := c.seasons[seasonID]
	if !ok {
		return nil, false
	}
	return c.sections[c.shows[showID]].shows[showID].seasons[seasonID].buckets.Clone(), true
}

// ShowStats returns the marker count buckets of a show. A show added to the library after
// Build is fetched and merged in.
func (c *Cache) ShowStats(ctx context.Context, showID int64) (domain.Buckets, error) {
	return c.stats(ctx, domain.ShowScope(showID), c.showBuckets)
}

// SeasonStats returns the marker count buckets of a season, fetching it if needed.
func (c *Cache) SeasonStats(ctx context.Context, seasonID int64) (domain.Buckets, error) {
	return c.stats(ctx, domain.SeasonScope(seasonID), c.seasonBuckets)
}

func (c *Cache) stats(ctx context.Context, scope domain.Scope, lookup func(int64) (domain.Buckets, bool)) (domain.Buckets, error) {
	if b, ok := lookup(scope.ID); ok {
		return b, nil
	}
	if err := c.refresh(ctx, scope); err != nil {
		return nil, err
	}
	if b, ok := lookup(scope.ID); ok {
		return b, nil
	}
	return nil, domain.NotFoundf("%s has no episodes", scope)
}

// refresh re-queries one subtree and merges it. Concurrent misses on the same scope share
// a single query.
func (c *Cache) refresh(ctx context.Context, scope domain.Scope) error {
	_, err, shared := c.group.Do(scope.String(), func() (interface{}, error) {
		rows, err := c.src.MarkerTree(ctx, &scope)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, r := range rows {
			c.insertRow(r)
		}
		return len(rows), nil
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to refresh marker cache", "error", err, "scope", scope.String())
		return err
	}
	c.logger.DebugContext(ctx, "refreshed marker cache", "scope", scope.String(), "shared", shared)
	return nil
}
