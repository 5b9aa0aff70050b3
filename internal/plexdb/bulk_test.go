package plexdb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/plexdb/plexdbtest"
)

func TestBulkRestore_IdenticalIsNoOp(t *testing.T) {
	ctx := context.Background()
	db, fx := newDB(t, false)
	existing := fx.Insert(t, plexdbtest.Ep1, 0, 1000, 2000, domain.MarkerTypeIntro)

	res, err := db.BulkRestore(ctx, map[int64][]domain.RestoreCandidate{
		plexdbtest.Ep1: {{OldID: 7, EpisodeID: plexdbtest.Ep1, Start: 1000, End: 2000, Type: domain.MarkerTypeIntro}},
	})
	require.NoError(t, err)

	assert.Empty(t, res.Restored)
	require.Len(t, res.Identical, 1)
	assert.Equal(t, int64(7), res.Identical[0].OldID)
	assert.Equal(t, existing, res.Identical[0].Marker.ID)
	assert.Len(t, fx.Rows(t, plexdbtest.Ep1), 1)
}

func TestBulkRestore_Mixed(t *testing.T) {
	ctx := context.Background()
	db, fx := newDB(t, false)
	existing := fx.Insert(t, plexdbtest.Ep1, 0, 10000, 20000, domain.MarkerTypeIntro)

	modified := int64(1_720_000_000)
	res, err := db.BulkRestore(ctx, map[int64][]domain.RestoreCandidate{
		plexdbtest.Ep1: {
			{OldID: 1, EpisodeID: plexdbtest.Ep1, Start: 0, End: 5000, Type: domain.MarkerTypeIntro,
				CreatedAt: 1_710_000_000, ModifiedAt: &modified, UserCreated: true},
			{OldID: 2, EpisodeID: plexdbtest.Ep1, Start: 15000, End: 25000, Type: domain.MarkerTypeIntro},
			{OldID: 3, EpisodeID: plexdbtest.Ep1, Start: 0, End: 5000, Type: domain.MarkerTypeIntro},
		},
		plexdbtest.Ep2: {
			{OldID: 5, EpisodeID: plexdbtest.Ep2, Start: 1_700_000, End: 1_800_000, Type: domain.MarkerTypeCredits},
		},
		999: {{OldID: 4, EpisodeID: 999, Start: 0, End: 1000, Type: domain.MarkerTypeIntro}},
	})
	require.NoError(t, err)

	require.Len(t, res.Restored, 2)
	restored := res.Restored[0]
	assert.Equal(t, int64(1), restored.OldID)
	assert.Equal(t, 0, restored.Marker.Index)
	assert.Equal(t, int64(1_710_000_000), restored.Marker.CreatedAt)
	require.NotNil(t, restored.Marker.ModifiedAt)
	assert.Equal(t, modified, *restored.Marker.ModifiedAt)
	assert.True(t, restored.Marker.UserCreated)
	assert.Equal(t, int64(5), res.Restored[1].OldID)

	require.Len(t, res.Identical, 1)
	assert.Equal(t, int64(3), res.Identical[0].OldID)
	assert.Equal(t, restored.Marker.ID, res.Identical[0].Marker.ID)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, int64(2), res.Conflicts[0].OldID)
	require.Len(t, res.Orphaned, 1)
	assert.Equal(t, int64(4), res.Orphaned[0].OldID)

	rows := fx.Rows(t, plexdbtest.Ep1)
	require.Len(t, rows, 2)
	assert.Equal(t, existing, rows[1].ID)
	fx.RequireContiguous(t, plexdbtest.Ep1)
	assert.Equal(t, "1720000000*", rows[0].ThumbURL)
}

func TestBulkShift(t *testing.T) {
	ctx := context.Background()
	durations := map[int64]int64{plexdbtest.Ep1: plexdbtest.EpisodeDuration, plexdbtest.Ep4: plexdbtest.Ep4Duration}

	t.Run("clamps to zero", func(t *testing.T) {
		db, fx := newDB(t, false)
		fx.Insert(t, plexdbtest.Ep1, 0, 1000, 5000, domain.MarkerTypeIntro)
		fx.Insert(t, plexdbtest.Ep1, 1, 20000, 30000, domain.MarkerTypeIntro)
		markers, err := db.Markers(ctx, domain.EpisodeScope(plexdbtest.Ep1))
		require.NoError(t, err)

		res, err := db.BulkShift(ctx, markers, durations, -2000, -2000)
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.False(t, res.Overflow)
		require.Len(t, res.Shifted[plexdbtest.Ep1], 2)

		rows := fx.Rows(t, plexdbtest.Ep1)
		assert.Equal(t, int64(0), rows[0].TimeOffset)
		assert.Equal(t, int64(3000), rows[0].EndTimeOffset)
		assert.Equal(t, int64(18000), rows[1].TimeOffset)
		assert.Equal(t, "1750000000", rows[1].ThumbURL)
	})

	t.Run("clamps to duration", func(t *testing.T) {
		db, fx := newDB(t, false)
		fx.Insert(t, plexdbtest.Ep4, 0, 1_150_000, 1_190_000, domain.MarkerTypeCredits)
		markers, err := db.Markers(ctx, domain.EpisodeScope(plexdbtest.Ep4))
		require.NoError(t, err)

		res, err := db.BulkShift(ctx, markers, durations, 20000, 20000)
		require.NoError(t, err)
		shifted := res.Shifted[plexdbtest.Ep4][0]
		assert.Equal(t, int64(1_170_000), shifted.Start)
		assert.Equal(t, plexdbtest.Ep4Duration, shifted.End)
		assert.Equal(t, int64(1_150_000), res.Original[plexdbtest.Ep4][0].Start)
	})

	t.Run("collapse fails the batch", func(t *testing.T) {
		db, fx := newDB(t, false)
		fx.Insert(t, plexdbtest.Ep1, 0, 10000, 20000, domain.MarkerTypeIntro)
		fx.Insert(t, plexdbtest.Ep4, 0, 1_190_000, 1_195_000, domain.MarkerTypeCredits)
		markers, err := db.Markers(ctx, domain.ShowScope(plexdbtest.Show))
		require.NoError(t, err)

		_, err = db.BulkShift(ctx, markers, durations, 20000, 20000)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, int64(10000), fx.Rows(t, plexdbtest.Ep1)[0].TimeOffset)
	})

	t.Run("overlap with unselected sibling", func(t *testing.T) {
		db, fx := newDB(t, false)
		fx.Insert(t, plexdbtest.Ep1, 0, 0, 5000, domain.MarkerTypeIntro)
		second := fx.Insert(t, plexdbtest.Ep1, 1, 10000, 20000, domain.MarkerTypeIntro)
		marker, err := db.Marker(ctx, second)
		require.NoError(t, err)

		_, err = db.BulkShift(ctx, []domain.Marker{marker}, durations, -8000, -8000)
		assert.ErrorIs(t, err, domain.ErrConflict)

		res, err := db.BulkShift(ctx, []domain.Marker{marker}, durations, 1000, 1000)
		require.NoError(t, err)
		assert.True(t, res.Overflow)
	})

	t.Run("separate start and end", func(t *testing.T) {
		db, fx := newDB(t, true)
		fx.Insert(t, plexdbtest.Ep1, 0, 10000, 20000, domain.MarkerTypeIntro)
		markers, err := db.Markers(ctx, domain.EpisodeScope(plexdbtest.Ep1))
		require.NoError(t, err)

		res, err := db.BulkShift(ctx, markers, durations, 0, 5000)
		require.NoError(t, err)
		assert.Equal(t, int64(25000), res.Shifted[plexdbtest.Ep1][0].End)
		assert.Nil(t, res.Shifted[plexdbtest.Ep1][0].ModifiedAt)
		assert.Empty(t, fx.Rows(t, plexdbtest.Ep1)[0].ThumbURL)
	})

	t.Run("zero shift", func(t *testing.T) {
		db, _ := newDB(t, false)
		_, err := db.BulkShift(ctx, []domain.Marker{{ID: 1}}, durations, 0, 0)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestBulkAdd(t *testing.T) {
	ctx := context.Background()
	season := domain.SeasonScope(plexdbtest.Season1)

	t.Run("fail aborts on conflict", func(t *testing.T) {
		db, fx := newDB(t, false)
		fx.Insert(t, plexdbtest.Ep1, 0, 0, 10000, domain.MarkerTypeIntro)

		res, err := db.BulkAdd(ctx, season, 5000, 15000, domain.MarkerTypeIntro, domain.BulkFail, nil)
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Equal(t, []int64{plexdbtest.Ep1}, res.Conflicts)
		assert.Empty(t, fx.Rows(t, plexdbtest.Ep2))
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		db, fx := newDB(t, false)
		fx.Insert(t, plexdbtest.Ep1, 0, 0, 10000, domain.MarkerTypeIntro)

		res, err := db.BulkAdd(ctx, season, 5000, 15000, domain.MarkerTypeIntro, domain.BulkDryRun, nil)
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.True(t, res.Episodes[plexdbtest.Ep1].Conflict)
		assert.True(t, res.Episodes[plexdbtest.Ep2].IsAdd)
		assert.Empty(t, fx.Rows(t, plexdbtest.Ep2))
	})

	t.Run("ignore skips conflicts", func(t *testing.T) {
		db, fx := newDB(t, false)
		fx.Insert(t, plexdbtest.Ep1, 0, 0, 10000, domain.MarkerTypeIntro)

		res, err := db.BulkAdd(ctx, season, 5000, 15000, domain.MarkerTypeIntro, domain.BulkIgnore, []int64{plexdbtest.Ep3})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.ElementsMatch(t, []int64{plexdbtest.Ep1, plexdbtest.Ep3}, res.Ignored)
		assert.Len(t, fx.Rows(t, plexdbtest.Ep1), 1)
		assert.Len(t, fx.Rows(t, plexdbtest.Ep2), 1)
		assert.Empty(t, fx.Rows(t, plexdbtest.Ep3))

		changed := res.Episodes[plexdbtest.Ep2].Changed
		require.NotNil(t, changed)
		assert.NotZero(t, changed.ID)
		assert.True(t, changed.UserCreated)
	})

	t.Run("merge absorbs transitively", func(t *testing.T) {
		db, fx := newDB(t, false)
		kept := fx.Insert(t, plexdbtest.Ep1, 0, 0, 10000, domain.MarkerTypeIntro)
		absorbed := fx.Insert(t, plexdbtest.Ep1, 1, 12000, 14000, domain.MarkerTypeIntro)
		fx.Insert(t, plexdbtest.Ep1, 2, 30000, 40000, domain.MarkerTypeCredits)

		res, err := db.BulkAdd(ctx, domain.EpisodeScope(plexdbtest.Ep1), 5000, 13000, domain.MarkerTypeIntro, domain.BulkMerge, nil)
		require.NoError(t, err)
		require.True(t, res.Applied)

		outcome := res.Episodes[plexdbtest.Ep1]
		require.NotNil(t, outcome.Changed)
		assert.False(t, outcome.IsAdd)
		assert.Equal(t, kept, outcome.Changed.ID)
		require.Len(t, outcome.Deleted, 1)
		assert.Equal(t, absorbed, outcome.Deleted[0].ID)

		rows := fx.Rows(t, plexdbtest.Ep1)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(0), rows[0].TimeOffset)
		assert.Equal(t, int64(14000), rows[0].EndTimeOffset)
		fx.RequireContiguous(t, plexdbtest.Ep1)
	})

	t.Run("new marker reindexes siblings", func(t *testing.T) {
		db, fx := newDB(t, false)
		fx.Insert(t, plexdbtest.Ep2, 0, 100000, 200000, domain.MarkerTypeCredits)

		res, err := db.BulkAdd(ctx, season, 0, 5000, domain.MarkerTypeIntro, domain.BulkFail, nil)
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Equal(t, 0, res.Episodes[plexdbtest.Ep2].Changed.Index)
		fx.RequireContiguous(t, plexdbtest.Ep2)
		assert.Len(t, fx.Rows(t, plexdbtest.Ep2), 2)
	})

	t.Run("clamps to duration", func(t *testing.T) {
		db, fx := newDB(t, false)
		show := domain.ShowScope(plexdbtest.Show)

		res, err := db.BulkAdd(ctx, show, 1_190_000, 1_250_000, domain.MarkerTypeCredits, domain.BulkFail, nil)
		require.NoError(t, err)
		assert.Equal(t, plexdbtest.Ep4Duration, fx.Rows(t, plexdbtest.Ep4)[0].EndTimeOffset)
		assert.Equal(t, int64(1_250_000), fx.Rows(t, plexdbtest.Ep1)[0].EndTimeOffset)
		assert.Empty(t, res.Ignored)

		res, err = db.BulkAdd(ctx, show, 1_300_000, 1_400_000, domain.MarkerTypeCredits, domain.BulkFail, nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{plexdbtest.Ep4}, res.Ignored)
		assert.Len(t, fx.Rows(t, plexdbtest.Ep4), 1)
	})

	t.Run("rejects sections", func(t *testing.T) {
		db, _ := newDB(t, false)
		_, err := db.BulkAdd(ctx, domain.SectionScope(plexdbtest.ShowSection), 0, 1000, domain.MarkerTypeIntro, domain.BulkFail, nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestBulkDeleteAndReindex(t *testing.T) {
	ctx := context.Background()
	db, fx := newDB(t, false)
	fx.Insert(t, plexdbtest.Ep1, 0, 0, 1000, domain.MarkerTypeIntro)
	middle := fx.Insert(t, plexdbtest.Ep1, 1, 2000, 3000, domain.MarkerTypeIntro)
	fx.Insert(t, plexdbtest.Ep1, 2, 4000, 5000, domain.MarkerTypeCredits)
	other := fx.Insert(t, plexdbtest.Ep2, 0, 0, 1000, domain.MarkerTypeIntro)

	markers, err := db.MarkersByID(ctx, []int64{middle, other})
	require.NoError(t, err)

	res, err := db.BulkDelete(ctx, markers)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 2)
	assert.Len(t, fx.Rows(t, plexdbtest.Ep1), 2)
	assert.Empty(t, fx.Rows(t, plexdbtest.Ep2))

	changed, err := db.ReindexEpisodes(ctx, []int64{plexdbtest.Ep1, plexdbtest.Ep2})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, 1, changed[0].Index)
	fx.RequireContiguous(t, plexdbtest.Ep1)
}
