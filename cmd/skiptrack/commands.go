package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/search"
	"github.com/mmcdole/skiptrack/internal/service"
)

// command defines its flags on fs and returns the function that runs it once parsed
type command struct {
	summary string
	setup   func(fs *flag.FlagSet) func(ctx context.Context, c *cli) error
}

var commands = map[string]command{
	"sections":    {"List library sections and their marker coverage", setupSections},
	"stats":       {"Show marker counts for a section, show or season", setupStats},
	"markers":     {"List the markers of a show, season, episode or movie", setupMarkers},
	"add":         {"Add a marker to an episode or movie", setupAdd},
	"edit":        {"Change the range or type of a marker", setupEdit},
	"delete":      {"Delete a marker", setupDelete},
	"shift":       {"Shift the markers of a show, season or item", setupShift},
	"bulk-add":    {"Add the same marker to every episode of a show or season", setupBulkAdd},
	"bulk-delete": {"Delete the markers of a show, season or item", setupBulkDelete},
	"purges":      {"List markers Plex removed that the backup still has", setupPurges},
	"check":       {"Check a show, season or item for purged markers", setupCheck},
	"restore":     {"Restore purged markers by id", setupRestore},
	"ignore":      {"Stop reporting purged markers by id", setupIgnore},
	"history":     {"Show the backup history of a marker", setupHistory},
	"rebuild":     {"Rebuild the marker cache and rescan for purges, or refresh one section", setupRebuild},
}

// target selects a library item by id, or a show by title within a section
type target struct {
	item     int64
	showName string
	section  int64
}

func (t *target) register(fs *flag.FlagSet) {
	fs.Int64Var(&t.item, "item", 0, "show, season, episode or movie id")
	fs.StringVar(&t.showName, "show-name", "", "show title, resolved within -section")
	fs.Int64Var(&t.section, "section", 0, "library section id")
}

func (t *target) resolve(ctx context.Context, c *cli) (int64, error) {
	if t.item != 0 {
		return t.item, nil
	}
	if t.showName == "" {
		return 0, domain.Validationf("-item or -show-name is required")
	}
	if t.section == 0 {
		return 0, domain.Validationf("-show-name requires -section")
	}
	shows, err := c.svc.Shows(ctx, t.section)
	if err != nil {
		return 0, err
	}
	matches := search.Shows(t.showName, shows)
	switch len(matches) {
	case 0:
		return 0, domain.NotFoundf("no show in section %d matches %q", t.section, t.showName)
	case 1:
		return matches[0].ID, nil
	}
	rows := make([][]string, len(matches))
	for i, s := range matches {
		rows[i] = []string{id(s.ID), s.Title}
	}
	c.table([]string{"ID", "Title"}, rows)
	return 0, domain.Validationf("%q matches %d shows; pass -item", t.showName, len(matches))
}

func setupSections(fs *flag.FlagSet) func(context.Context, *cli) error {
	return func(ctx context.Context, c *cli) error {
		sections, err := c.svc.Sections(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(sections))
		for _, s := range sections {
			kind := "shows"
			if s.Type == domain.MetadataTypeMovie {
				kind = "movies"
			}
			b, err := c.svc.SectionOverview(s.ID)
			if err != nil {
				return err
			}
			markers := 0
			for count, items := range b {
				markers += count * items
			}
			rows = append(rows, []string{id(s.ID), s.Name, kind, strconv.Itoa(b.Total()),
				strconv.Itoa(b.Total() - b[0]), strconv.Itoa(markers), s.UUID})
		}
		c.table([]string{"ID", "Name", "Type", "Items", "With markers", "Markers", "UUID"}, rows)
		if c.svc.BackupEnabled() {
			c.note("%d purged markers outstanding", c.svc.PurgeCount())
		}
		return nil
	}
}

func setupStats(fs *flag.FlagSet) func(context.Context, *cli) error {
	var t target
	t.register(fs)
	season := fs.Int64("season", 0, "season id")
	return func(ctx context.Context, c *cli) error {
		var b domain.Buckets
		var err error
		switch {
		case *season != 0:
			c.heading("Season %d", *season)
			b, err = c.svc.SeasonStats(ctx, *season)
		case t.item != 0 || t.showName != "":
			showID, rerr := t.resolve(ctx, c)
			if rerr != nil {
				return rerr
			}
			c.heading("Show %d", showID)
			b, err = c.svc.ShowStats(ctx, showID)
		case t.section != 0:
			c.heading("Section %d", t.section)
			b, err = c.svc.SectionOverview(t.section)
		default:
			return domain.Validationf("one of -section, -item, -show-name or -season is required")
		}
		if err != nil {
			return err
		}
		c.buckets(b)
		return nil
	}
}

func setupMarkers(fs *flag.FlagSet) func(context.Context, *cli) error {
	var t target
	t.register(fs)
	return func(ctx context.Context, c *cli) error {
		itemID, err := t.resolve(ctx, c)
		if err != nil {
			return err
		}
		scope, _, err := c.svc.Locate(ctx, itemID)
		if err != nil {
			return err
		}
		markers, err := c.svc.Markers(ctx, scope)
		if err != nil {
			return err
		}
		c.heading("Markers of %s", scope)
		c.markers(markers)
		return nil
	}
}

func markerType(s string) (domain.MarkerType, error) {
	t := domain.MarkerType(s)
	if !t.Valid() {
		return "", domain.Validationf("marker type must be intro or credits, not %q", s)
	}
	return t, nil
}

func requireRange(start, end timestamp) error {
	if !start.set || !end.set {
		return domain.Validationf("-start and -end are required")
	}
	return nil
}

func setupAdd(fs *flag.FlagSet) func(context.Context, *cli) error {
	var start, end timestamp
	item := fs.Int64("item", 0, "episode or movie id")
	typ := fs.String("type", string(domain.MarkerTypeIntro), "intro or credits")
	fs.Var(&start, "start", "start offset, ms or [HH:]MM:SS[.mmm]")
	fs.Var(&end, "end", "end offset, ms or [HH:]MM:SS[.mmm]")
	return func(ctx context.Context, c *cli) error {
		if err := requireRange(start, end); err != nil {
			return err
		}
		mt, err := markerType(*typ)
		if err != nil {
			return err
		}
		res, err := c.svc.AddMarker(ctx, *item, start.ms, end.ms, mt)
		if err != nil {
			return err
		}
		c.success("added marker %d", res.Marker.ID)
		c.markers([]domain.Marker{res.Marker})
		return nil
	}
}

func setupEdit(fs *flag.FlagSet) func(context.Context, *cli) error {
	var start, end timestamp
	markerID := fs.Int64("id", 0, "marker id")
	typ := fs.String("type", string(domain.MarkerTypeIntro), "intro or credits")
	fs.Var(&start, "start", "new start offset")
	fs.Var(&end, "end", "new end offset")
	return func(ctx context.Context, c *cli) error {
		if err := requireRange(start, end); err != nil {
			return err
		}
		mt, err := markerType(*typ)
		if err != nil {
			return err
		}
		res, err := c.svc.EditMarker(ctx, *markerID, start.ms, end.ms, mt)
		if err != nil {
			return err
		}
		c.success("marker %d moved from %s-%s", res.Marker.ID,
			domain.FormatTimestamp(res.OldStart), domain.FormatTimestamp(res.OldEnd))
		c.markers([]domain.Marker{res.Marker})
		return nil
	}
}

func setupDelete(fs *flag.FlagSet) func(context.Context, *cli) error {
	markerID := fs.Int64("id", 0, "marker id")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	return func(ctx context.Context, c *cli) error {
		if err := c.confirm(*yes, "Delete marker %d?", *markerID); err != nil {
			return err
		}
		m, err := c.svc.DeleteMarker(ctx, *markerID)
		if err != nil {
			return err
		}
		c.success("deleted marker %d %s", m.ID, m)
		return nil
	}
}

func setupShift(fs *flag.FlagSet) func(context.Context, *cli) error {
	var t target
	var startShift, endShift offset
	var only idList
	t.register(fs)
	fs.Var(&startShift, "start-shift", "amount to move start offsets, e.g. 2500 or -0:01.5")
	fs.Var(&endShift, "end-shift", "amount to move end offsets")
	fs.Var(&only, "only", "comma-separated marker ids to shift (default all)")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	return func(ctx context.Context, c *cli) error {
		itemID, err := t.resolve(ctx, c)
		if err != nil {
			return err
		}
		check, err := c.svc.CheckShift(ctx, itemID)
		if err != nil {
			return err
		}
		if check.Ambiguous && len(only) == 0 {
			c.grouped(check.Markers)
			return domain.Validationf("some items have more than one marker; choose which to shift with -only")
		}
		n := len(only)
		if n == 0 {
			for _, list := range check.Markers {
				n += len(list)
			}
		}
		if err := c.confirm(*yes, "Shift %d markers by %s / %s?", n, &startShift, &endShift); err != nil {
			return err
		}
		res, err := c.svc.ShiftMarkers(ctx, itemID, int64(startShift), int64(endShift), only)
		if err != nil {
			return err
		}
		c.grouped(res.Shifted)
		c.success("shifted %d markers", countAll(res.Shifted))
		if res.Overflow {
			c.note("some items have markers that were not shifted")
		}
		return nil
	}
}

func countAll(byEpisode map[int64][]domain.Marker) int {
	n := 0
	for _, list := range byEpisode {
		n += len(list)
	}
	return n
}

func setupBulkAdd(fs *flag.FlagSet) func(context.Context, *cli) error {
	var t target
	var start, end timestamp
	var ignored idList
	t.register(fs)
	typ := fs.String("type", string(domain.MarkerTypeIntro), "intro or credits")
	resolve := fs.String("resolve", domain.BulkFail.String(), "on overlap: fail, ignore, merge or dryrun")
	fs.Var(&start, "start", "start offset")
	fs.Var(&end, "end", "end offset; past the end of an item means its end")
	fs.Var(&ignored, "skip", "comma-separated episode ids to leave alone")
	return func(ctx context.Context, c *cli) error {
		if err := requireRange(start, end); err != nil {
			return err
		}
		mt, err := markerType(*typ)
		if err != nil {
			return err
		}
		r, err := domain.ParseBulkResolve(*resolve)
		if err != nil {
			return err
		}
		itemID, err := t.resolve(ctx, c)
		if err != nil {
			return err
		}
		res, err := c.svc.BulkAdd(ctx, service.BulkAddRequest{
			MetadataID: itemID,
			Start:      start.ms,
			End:        end.ms,
			Type:       mt,
			Resolve:    r,
			Ignored:    ignored,
		})
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(res.Episodes))
		for _, epID := range domain.SortedKeys(res.Episodes) {
			e := res.Episodes[epID]
			outcome, rng := "unchanged", ""
			switch {
			case e.Ignored:
				outcome = "skipped"
			case e.Conflict && e.Changed == nil:
				outcome = "conflict"
			case e.Changed != nil && e.IsAdd:
				outcome = "added"
			case e.Changed != nil:
				outcome = fmt.Sprintf("merged (%d absorbed)", len(e.Deleted))
			}
			if e.Changed != nil && !res.Applied {
				outcome = "would be " + outcome
			}
			if e.Changed != nil {
				rng = domain.FormatTimestamp(e.Changed.Start) + "-" + domain.FormatTimestamp(e.Changed.End)
			}
			rows = append(rows, []string{id(epID), outcome, rng})
		}
		c.table([]string{"Item", "Outcome", "Range"}, rows)

		if !res.Applied {
			if len(res.Conflicts) > 0 {
				c.note("conflicting items: %s", joinIDs(res.Conflicts))
			}
			c.note("nothing written (resolve=%s)", r)
			return nil
		}
		c.success("bulk add applied")
		return nil
	}
}

func setupBulkDelete(fs *flag.FlagSet) func(context.Context, *cli) error {
	var t target
	var ignored idList
	t.register(fs)
	fs.Var(&ignored, "keep", "comma-separated marker ids to keep")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	return func(ctx context.Context, c *cli) error {
		itemID, err := t.resolve(ctx, c)
		if err != nil {
			return err
		}
		check, err := c.svc.CheckShift(ctx, itemID)
		if err != nil {
			return err
		}
		n := countAll(check.Markers) - len(ignored)
		if err := c.confirm(*yes, "Delete %d markers under item %d?", n, itemID); err != nil {
			return err
		}
		res, err := c.svc.BulkDelete(ctx, itemID, ignored)
		if err != nil {
			return err
		}
		c.success("deleted %d markers", countAll(res.Deleted))
		if len(res.Reindexed) > 0 {
			c.note("%d surviving markers were renumbered", len(res.Reindexed))
		}
		return nil
	}
}

func setupPurges(fs *flag.FlagSet) func(context.Context, *cli) error {
	section := fs.Int64("section", 0, "library section id (default every section with purges)")
	return func(ctx context.Context, c *cli) error {
		if *section != 0 {
			return c.purges(ctx, *section)
		}
		if !c.svc.BackupEnabled() {
			return domain.Validationf("marker backup is disabled")
		}
		sections := c.svc.PurgedSections()
		if len(sections) == 0 {
			c.note("no purged markers")
			return nil
		}
		for _, sectionID := range sections {
			if err := c.purges(ctx, sectionID); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *cli) purges(ctx context.Context, section int64) error {
	purges, err := c.svc.PurgesForSection(ctx, section)
	if err != nil {
		return err
	}
	rows := make([][]string, len(purges))
	for i, p := range purges {
		a := p.Action
		title := "(missing)"
		if p.Episode != nil {
			title = p.Episode.Code()
			if !p.Episode.IsMovie {
				title = p.Episode.ShowTitle + " " + title
			}
		}
		rows[i] = []string{id(a.MarkerID), title, string(a.Type),
			domain.FormatTimestamp(a.Start), domain.FormatTimestamp(a.End), a.Op.String(), formatUnix(a.RecordedAt)}
	}
	c.heading("Purged markers in section %d", section)
	c.table([]string{"Marker", "Item", "Type", "Start", "End", "Last op", "Recorded"}, rows)
	return nil
}

func setupCheck(fs *flag.FlagSet) func(context.Context, *cli) error {
	var t target
	t.register(fs)
	return func(ctx context.Context, c *cli) error {
		itemID, err := t.resolve(ctx, c)
		if err != nil {
			return err
		}
		purged, err := c.svc.CheckForPurges(ctx, itemID)
		if err != nil {
			return err
		}
		c.heading("Purged markers under item %d", itemID)
		c.actions(purged)
		return nil
	}
}

func setupRestore(fs *flag.FlagSet) func(context.Context, *cli) error {
	section := fs.Int64("section", 0, "library section id")
	return func(ctx context.Context, c *cli) error {
		ids, err := parseIDs(fs.Args())
		if err != nil {
			return err
		}
		res, err := c.svc.RestoreMarkers(ctx, ids, *section)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(res.Restored)+len(res.Identical))
		for _, r := range res.Restored {
			rows = append(rows, append([]string{id(r.OldID), "restored"}, markerRow(r.Marker)...))
		}
		for _, r := range res.Identical {
			rows = append(rows, append([]string{id(r.OldID), "already present"}, markerRow(r.Marker)...))
		}
		c.table(append([]string{"Old ID", "Result"}, markerHeaders...), rows)
		if len(res.Conflicts) > 0 {
			c.note("not restored, overlapping an existing marker: %s", joinIDs(candidateIDs(res.Conflicts)))
		}
		if len(res.Orphaned) > 0 {
			c.note("not restored, item no longer exists: %s", joinIDs(candidateIDs(res.Orphaned)))
		}
		return nil
	}
}

func candidateIDs(candidates []domain.RestoreCandidate) []int64 {
	out := make([]int64, len(candidates))
	for i, rc := range candidates {
		out[i] = rc.OldID
	}
	return out
}

func setupIgnore(fs *flag.FlagSet) func(context.Context, *cli) error {
	section := fs.Int64("section", 0, "library section id")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	return func(ctx context.Context, c *cli) error {
		ids, err := parseIDs(fs.Args())
		if err != nil {
			return err
		}
		for _, markerID := range ids {
			if p, ok := c.svc.Purge(markerID); ok {
				c.note("%d: %s %s-%s", markerID, p.Action.Type,
					domain.FormatTimestamp(p.Action.Start), domain.FormatTimestamp(p.Action.End))
			}
		}
		if err := c.confirm(*yes, "Stop reporting %d purged markers?", len(ids)); err != nil {
			return err
		}
		n, err := c.svc.IgnorePurges(ctx, ids, *section)
		if err != nil {
			return err
		}
		c.success("ignored %d purged markers", n)
		return nil
	}
}

func setupHistory(fs *flag.FlagSet) func(context.Context, *cli) error {
	section := fs.Int64("section", 0, "library section id")
	markerID := fs.Int64("id", 0, "marker id")
	return func(ctx context.Context, c *cli) error {
		history, err := c.svc.History(ctx, *markerID, *section)
		if err != nil {
			return err
		}
		c.heading("History of marker %d", *markerID)
		c.actions(history)
		return nil
	}
}

func setupRebuild(fs *flag.FlagSet) func(context.Context, *cli) error {
	section := fs.Int64("section", 0, "only re-read the episode metadata of this section")
	return func(ctx context.Context, c *cli) error {
		if *section != 0 {
			if err := c.svc.RefreshSection(ctx, *section); err != nil {
				return err
			}
			c.success("section %d metadata refreshed", *section)
			return nil
		}
		if err := c.svc.Rebuild(ctx); err != nil {
			return err
		}
		c.success("marker cache rebuilt")
		if c.svc.BackupEnabled() {
			c.note("%d purged markers outstanding", c.svc.PurgeCount())
		}
		return nil
	}
}
