package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/skiptrack/internal/app"
	"github.com/mmcdole/skiptrack/internal/config"
	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/log"
	"github.com/mmcdole/skiptrack/internal/plexdb"
	"github.com/mmcdole/skiptrack/internal/plexdb/plexdbtest"
)

func newTestCLI(t *testing.T) *cli {
	t.Helper()
	c, _ := newFixtureCLI(t)
	return c
}

func newFixtureCLI(t *testing.T) (*cli, *plexdbtest.Fixture) {
	t.Helper()
	fx := plexdbtest.New(t)
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Database.Path = fx.Path
	cfg.Backup.Enabled = true
	cfg.Backup.DSN = filepath.Join(dir, "backup.db")
	cfg.Cache.Dir = filepath.Join(dir, "cache")

	a, cleanup, err := app.InitApp(cfg, log.NullLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	require.NoError(t, a.Markers.Init(context.Background()))

	return &cli{svc: a.Markers, out: &bytes.Buffer{}, in: strings.NewReader("")}, fx
}

func runCommand(t *testing.T, c *cli, name string, args ...string) (string, error) {
	t.Helper()
	cmd, ok := commands[name]
	require.True(t, ok, "unknown command %s", name)
	fs := newFlagSet(name, cmd.summary, io.Discard)
	exec := cmd.setup(fs)
	require.NoError(t, fs.Parse(args))

	buf := c.out.(*bytes.Buffer)
	buf.Reset()
	err := exec(context.Background(), c)
	return buf.String(), err
}

func TestAddListAndHistory(t *testing.T) {
	c := newTestCLI(t)

	out, err := runCommand(t, c, "add", "-item", "102", "-start", "0:05", "-end", "1:30", "-type", "intro")
	require.NoError(t, err)
	assert.Contains(t, out, "added marker")

	markers, err := c.svc.Markers(context.Background(), domain.EpisodeScope(plexdbtest.Ep1))
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, int64(5_000), markers[0].Start)
	assert.Equal(t, int64(90_000), markers[0].End)

	out, err = runCommand(t, c, "markers", "-item", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "00:01:30.000")

	out, err = runCommand(t, c, "history", "-section", "1", "-id", id(markers[0].ID))
	require.NoError(t, err)
	assert.Contains(t, out, "add")

	out, err = runCommand(t, c, "stats", "-section", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Section 1")
}

func TestAddRejectsBadType(t *testing.T) {
	c := newTestCLI(t)
	_, err := runCommand(t, c, "add", "-item", "102", "-start", "0", "-end", "1000", "-type", "recap")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = runCommand(t, c, "add", "-item", "102", "-start", "0")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	c := newTestCLI(t)
	res, err := c.svc.AddMarker(context.Background(), plexdbtest.Ep1, 0, 1000, domain.MarkerTypeIntro)
	require.NoError(t, err)
	markerID := id(res.Marker.ID)

	_, err = runCommand(t, c, "delete", "-id", markerID)
	assert.ErrorIs(t, err, domain.ErrValidation, "no terminal and no -yes")

	c.interactive = true
	c.in = strings.NewReader("n\n")
	_, err = runCommand(t, c, "delete", "-id", markerID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	c.in = strings.NewReader("y\n")
	out, err := runCommand(t, c, "delete", "-id", markerID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted marker")

	_, err = runCommand(t, c, "delete", "-id", markerID, "-yes")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestShowNameResolution(t *testing.T) {
	c := newTestCLI(t)

	out, err := runCommand(t, c, "stats", "-section", "1", "-show-name", "alpha")
	require.NoError(t, err)
	assert.Contains(t, out, "Show 100")

	_, err = runCommand(t, c, "stats", "-section", "1", "-show-name", "zzzz")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err = runCommand(t, c, "stats", "-section", "1", "-show-name", "a")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, out, "Bravo")

	_, err = runCommand(t, c, "stats", "-show-name", "alpha")
	assert.ErrorIs(t, err, domain.ErrValidation, "-show-name needs a section")
}

func TestBulkAddDryRun(t *testing.T) {
	c := newTestCLI(t)

	out, err := runCommand(t, c, "bulk-add", "-item", "101", "-start", "0", "-end", "0:30", "-resolve", "dryrun")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing written")

	markers, err := c.svc.Markers(context.Background(), domain.SeasonScope(plexdbtest.Season1))
	require.NoError(t, err)
	assert.Empty(t, markers)

	out, err = runCommand(t, c, "bulk-add", "-item", "101", "-start", "0", "-end", "0:30", "-skip", "104")
	require.NoError(t, err)
	assert.Contains(t, out, "bulk add applied")
	assert.Contains(t, out, "skipped")

	markers, err = c.svc.Markers(context.Background(), domain.SeasonScope(plexdbtest.Season1))
	require.NoError(t, err)
	assert.Len(t, markers, 2)
}

func TestShiftAndBulkDelete(t *testing.T) {
	c := newTestCLI(t)
	ctx := context.Background()
	for _, ep := range []int64{plexdbtest.Ep1, plexdbtest.Ep2} {
		_, err := c.svc.AddMarker(ctx, ep, 10_000, 20_000, domain.MarkerTypeIntro)
		require.NoError(t, err)
	}

	out, err := runCommand(t, c, "shift", "-item", "101", "-start-shift", "-0:05", "-end-shift", "-0:05", "-yes")
	require.NoError(t, err)
	assert.Contains(t, out, "shifted 2 markers")

	markers, err := c.svc.Markers(ctx, domain.SeasonScope(plexdbtest.Season1))
	require.NoError(t, err)
	for _, m := range markers {
		assert.Equal(t, int64(5_000), m.Start)
		assert.Equal(t, int64(15_000), m.End)
	}

	out, err = runCommand(t, c, "bulk-delete", "-item", "101", "-keep", id(markers[0].ID), "-yes")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 markers")
}

func TestPurgesEmpty(t *testing.T) {
	c := newTestCLI(t)
	out, err := runCommand(t, c, "purges", "-section", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "(none)")

	out, err = runCommand(t, c, "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "0 purged markers outstanding")
}

func TestPurgeRestoreAndIgnore(t *testing.T) {
	c, fx := newFixtureCLI(t)
	ctx := context.Background()

	first, err := c.svc.AddMarker(ctx, plexdbtest.Ep1, 0, 10_000, domain.MarkerTypeIntro)
	require.NoError(t, err)
	second, err := c.svc.AddMarker(ctx, plexdbtest.Ep2, 0, 10_000, domain.MarkerTypeIntro)
	require.NoError(t, err)
	// Keeps sqlite from handing the wiped ids out again
	_, err = c.svc.AddMarker(ctx, plexdbtest.Ep3, 0, 10_000, domain.MarkerTypeIntro)
	require.NoError(t, err)

	wiped := []int64{first.Marker.ID, second.Marker.ID}
	require.NoError(t, fx.DB.Where("id IN ?", wiped).Delete(&plexdb.Tagging{}).Error)
	_, err = runCommand(t, c, "rebuild")
	require.NoError(t, err)

	out, err := runCommand(t, c, "purges")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged markers in section 1")
	assert.Contains(t, out, id(first.Marker.ID))

	out, err = runCommand(t, c, "restore", "-section", "1", id(first.Marker.ID))
	require.NoError(t, err)
	assert.Contains(t, out, "restored")

	out, err = runCommand(t, c, "ignore", "-section", "1", "-yes", id(second.Marker.ID))
	require.NoError(t, err)
	assert.Contains(t, out, "ignored 1 purged markers")

	out, err = runCommand(t, c, "purges")
	require.NoError(t, err)
	assert.Contains(t, out, "no purged markers")
}

func TestFlagValues(t *testing.T) {
	var ids idList
	require.NoError(t, ids.Set("1, 2"))
	require.NoError(t, ids.Set("3"))
	assert.Equal(t, idList{1, 2, 3}, ids)
	assert.Error(t, ids.Set("x"))

	var o offset
	require.NoError(t, o.Set("-0:01.5"))
	assert.Equal(t, offset(-1500), o)
	require.NoError(t, o.Set("+250"))
	assert.Equal(t, offset(250), o)

	got, err := parseIDs([]string{"4,5", "6"})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6}, got)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitValidation, exitCode(domain.Validationf("bad")))
	assert.Equal(t, exitNotFound, exitCode(domain.NotFoundf("gone")))
	assert.Equal(t, exitConflict, exitCode(domain.Conflictf("overlap")))
	assert.Equal(t, exitStorage, exitCode(domain.Storage(assert.AnError, "query")))
	assert.Equal(t, exitError, exitCode(assert.AnError))
}
