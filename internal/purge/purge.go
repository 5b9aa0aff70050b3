// Package purge finds markers the backup ledger expects but the Plex database no longer has.
//
// Found purges are kept in a section -> show -> season -> episode -> marker tree so callers can
// list them at any level. Movies sit under show and season -1.
package purge

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// ExpectedSource is the ledger query the detector diffs against
type ExpectedSource interface {
	ExpectedMarkers(ctx context.Context, scope domain.Scope, sectionUUID string) ([]domain.Action, error)
}

// Oracle answers whether a marker id currently exists
type Oracle interface {
	Has(id int64) bool
}

// MetadataSource supplies the tracked sections and episode metadata for back-fill
type MetadataSource interface {
	Sections(ctx context.Context) ([]domain.Section, error)
	Episodes(ctx context.Context, sectionID int64, ids []int64) (map[int64]domain.Episode, error)
}

// Purge is a marker the ledger expects that is missing from the database
type Purge struct {
	Action  domain.Action
	Episode *domain.Episode // nil until back-filled, or if the episode is gone too
}

type (
	episodePurges map[int64]*Purge        // marker id
	seasonPurges  map[int64]episodePurges // episode id
	showPurges    map[int64]seasonPurges  // season id
	sectionPurges map[int64]showPurges    // show id
)

type path struct {
	section, show, season, episode int64
}

func pathOf(a domain.Action) path {
	return path{section: a.SectionID, show: a.ShowID, season: a.SeasonID, episode: a.EpisodeID}
}

// Detector reconciles the ledger against the marker cache
type Detector struct {
	expected ExpectedSource
	oracle   Oracle
	metadata MetadataSource
	logger   *slog.Logger

	mu    sync.Mutex
	tree  map[int64]sectionPurges
	index map[int64]path // marker id -> location in tree
}

func New(expected ExpectedSource, oracle Oracle, metadata MetadataSource, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		expected: expected,
		oracle:   oracle,
		metadata: metadata,
		logger:   logger,
		tree:     make(map[int64]sectionPurges),
		index:    make(map[int64]path),
	}
}

// missing filters expected entries down to those whose marker does not exist
func (d *Detector) missing(expected []domain.Action) []domain.Action {
	var out []domain.Action
	for _, a := range expected {
		if !d.oracle.Has(a.MarkerID) {
			out = append(out, a)
		}
	}
	return out
}

// CheckForPurges returns the expected markers under scope that no longer exist and adds them
// to the tree. Ledger failures are logged and reported as no purges.
func (d *Detector) CheckForPurges(ctx context.Context, scope domain.Scope, sectionUUID string) []domain.Action {
	expected, err := d.expected.ExpectedMarkers(ctx, scope, sectionUUID)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to check for purged markers",
			"error", &domain.Error{Kind: domain.KindReconciliation, Message: "query expected markers", Cause: err},
			"scope", scope.String())
		return nil
	}

	purged := d.missing(expected)
	d.mu.Lock()
	for _, a := range purged {
		d.insert(a)
	}
	d.mu.Unlock()
	return purged
}

// BuildAll rebuilds the tree from every tracked section. A section whose ledger query fails
// is logged and skipped. It returns the number of purges found.
func (d *Detector) BuildAll(ctx context.Context) (int, error) {
	sections, err := d.metadata.Sections(ctx)
	if err != nil {
		return 0, err
	}

	tree := make(map[int64]sectionPurges)
	index := make(map[int64]path)
	found := 0
	for _, s := range sections {
		expected, err := d.expected.ExpectedMarkers(ctx, domain.SectionScope(s.ID), s.UUID)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to check section for purged markers", "error", err, "sectionID", s.ID)
			continue
		}
		for _, a := range d.missing(expected) {
			insertInto(tree, index, &Purge{Action: a})
			found++
		}
	}

	d.mu.Lock()
	d.tree, d.index = tree, index
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "purge scan complete", "sections", len(sections), "purges", found)
	return found, nil
}

func (d *Detector) insert(a domain.Action) {
	if _, ok := d.index[a.MarkerID]; ok {
		return
	}
	insertInto(d.tree, d.index, &Purge{Action: a})
}

func insertInto(tree map[int64]sectionPurges, index map[int64]path, p *Purge) {
	at := pathOf(p.Action)
	section, ok := tree[at.section]
	if !ok {
		section = make(sectionPurges)
		tree[at.section] = section
	}
	show, ok := section[at.show]
	if !ok {
		show = make(showPurges)
		section[at.show] = show
	}
	season, ok := show[at.season]
	if !ok {
		season = make(seasonPurges)
		show[at.season] = season
	}
	episode, ok := season[at.episode]
	if !ok {
		episode = make(episodePurges)
		season[at.episode] = episode
	}
	episode[p.Action.MarkerID] = p
	index[p.Action.MarkerID] = at
}

// ForSection returns a copy of the section's purges ordered by show, season, episode and
// start time, with episode metadata filled in where it was missing.
func (d *Detector) ForSection(ctx context.Context, sectionID int64) []Purge {
	d.mu.Lock()
	var need []int64
	seen := map[int64]bool{}
	for _, show := range d.tree[sectionID] {
		for _, season := range show {
			for epID, episode := range season {
				for _, p := range episode {
					if p.Episode == nil && !seen[epID] {
						seen[epID] = true
						need = append(need, epID)
					}
				}
			}
		}
	}
	d.mu.Unlock()

	if len(need) > 0 {
		sort.Slice(need, func(i, j int) bool { return need[i] < need[j] })
		eps, err := d.metadata.Episodes(ctx, sectionID, need)
		if err != nil {
			d.logger.WarnContext(ctx, "failed to back-fill purged episode metadata", "error", err, "sectionID", sectionID)
		}
		d.mu.Lock()
		for _, show := range d.tree[sectionID] {
			for _, season := range show {
				for epID, episode := range season {
					ep, ok := eps[epID]
					if !ok {
						continue
					}
					for _, p := range episode {
						if p.Episode == nil {
							p.Episode = &ep
						}
					}
				}
			}
		}
		d.mu.Unlock()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Purge
	for _, show := range d.tree[sectionID] {
		for _, season := range show {
			for _, episode := range season {
				for _, p := range episode {
					out = append(out, *p)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Action, out[j].Action
		switch {
		case a.ShowID != b.ShowID:
			return a.ShowID < b.ShowID
		case a.SeasonID != b.SeasonID:
			return a.SeasonID < b.SeasonID
		case a.EpisodeID != b.EpisodeID:
			return a.EpisodeID < b.EpisodeID
		case a.Start != b.Start:
			return a.Start < b.Start
		default:
			return a.MarkerID < b.MarkerID
		}
	})
	return out
}

// Get returns the purge recorded for a marker id
func (d *Detector) Get(markerID int64) (Purge, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.index[markerID]
	if !ok {
		return Purge{}, false
	}
	return *d.tree[at.section][at.show][at.season][at.episode][markerID], true
}

// Remove drops purges (restored or ignored) and prunes ancestors left empty
func (d *Detector) Remove(markerIDs ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range markerIDs {
		at, ok := d.index[id]
		if !ok {
			continue
		}
		delete(d.index, id)

		section := d.tree[at.section]
		show := section[at.show]
		season := show[at.season]
		episode := season[at.episode]
		delete(episode, id)
		if len(episode) > 0 {
			continue
		}
		delete(season, at.episode)
		if len(season) > 0 {
			continue
		}
		delete(show, at.season)
		if len(show) > 0 {
			continue
		}
		delete(section, at.show)
		if len(section) > 0 {
			continue
		}
		delete(d.tree, at.section)
	}
}

// Count returns the number of known purges
func (d *Detector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.index)
}

// Sections returns the ids of sections that have purges
func (d *Detector) Sections() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int64, 0, len(d.tree))
	for id := range d.tree {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
