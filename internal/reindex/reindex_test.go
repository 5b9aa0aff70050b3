package reindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/skiptrack/internal/domain"
)

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name           string
		s1, e1, s2, e2 int64
		want           bool
	}{
		{"disjoint", 0, 10, 20, 30, false},
		{"abutting", 0, 10, 10, 20, false},
		{"abutting reversed", 10, 20, 0, 10, false},
		{"tail overlap", 0, 5000, 4000, 12000, true},
		{"contained", 0, 100, 10, 20, true},
		{"identical", 5, 10, 5, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.s1, tt.e1, tt.s2, tt.e2))
		})
	}
}

func TestValidateRange(t *testing.T) {
	require.NoError(t, ValidateRange(0, 1))
	assert.ErrorIs(t, ValidateRange(-1, 10), domain.ErrValidation)
	assert.ErrorIs(t, ValidateRange(10, 10), domain.ErrValidation)
	assert.ErrorIs(t, ValidateRange(20, 10), domain.ErrValidation)
}

func TestNewPlan_InsertIntoEmpty(t *testing.T) {
	plan := NewPlan(nil, &Item{Start: 10000, End: 20000})
	assert.Equal(t, 0, plan.PendingIndex)
	assert.Nil(t, plan.Conflict)
	assert.Len(t, plan.Order, 1)
}

func TestNewPlan_InsertBefore(t *testing.T) {
	siblings := []Item{{ID: 1, Start: 10000, End: 20000}}
	plan := NewPlan(siblings, &Item{Start: 0, End: 5000})

	require.Nil(t, plan.Conflict)
	assert.Equal(t, 0, plan.PendingIndex)
	assert.Equal(t, map[int64]int{0: 0, 1: 1}, plan.Indices())
}

func TestNewPlan_Conflict(t *testing.T) {
	siblings := []Item{{ID: 1, Start: 0, End: 5000}, {ID: 2, Start: 10000, End: 20000}}
	plan := NewPlan(siblings, &Item{Start: 4000, End: 12000})

	require.NotNil(t, plan.Conflict)
	assert.Equal(t, int64(1), plan.Conflict.ID)
}

func TestNewPlan_ConflictWithSuccessor(t *testing.T) {
	siblings := []Item{{ID: 1, Start: 0, End: 5000}, {ID: 2, Start: 10000, End: 20000}}
	plan := NewPlan(siblings, &Item{Start: 6000, End: 10001})

	require.NotNil(t, plan.Conflict)
	assert.Equal(t, int64(2), plan.Conflict.ID)
}

func TestNewPlan_AbuttingAllowed(t *testing.T) {
	siblings := []Item{{ID: 1, Start: 0, End: 5000}, {ID: 2, Start: 10000, End: 20000}}
	plan := NewPlan(siblings, &Item{Start: 5000, End: 10000})

	assert.Nil(t, plan.Conflict)
	assert.Equal(t, 1, plan.PendingIndex)
}

func TestNewPlan_EditExcludesSelf(t *testing.T) {
	siblings := []Item{{ID: 1, Start: 0, End: 5000}, {ID: 2, Start: 10000, End: 20000}}

	// Growing marker 1 into its own old range is fine
	plan := NewPlan(siblings, &Item{ID: 1, Start: 0, End: 9000})
	assert.Nil(t, plan.Conflict)
	assert.Len(t, plan.Order, 2)

	// Moving marker 1 past marker 2 reorders both
	plan = NewPlan(siblings, &Item{ID: 1, Start: 30000, End: 40000})
	require.Nil(t, plan.Conflict)
	assert.Equal(t, map[int64]int{2: 0, 1: 1}, plan.Indices())
}

func TestReindex_ContiguousAfterGap(t *testing.T) {
	markers := []domain.Marker{
		{ID: 3, Start: 30000, End: 40000, Index: 2},
		{ID: 2, Start: 10000, End: 20000, Index: 1},
	}

	changed := Reindex(markers)
	require.Len(t, changed, 2)
	assert.Equal(t, int64(2), changed[0].ID)
	assert.Equal(t, 0, changed[0].Index)
	assert.Equal(t, int64(3), changed[1].ID)
	assert.Equal(t, 1, changed[1].Index)

	assert.Empty(t, Reindex(Assign(markers)))
}

func TestFirstOverlap(t *testing.T) {
	_, _, found := FirstOverlap([]domain.Marker{{ID: 1, Start: 0, End: 10}, {ID: 2, Start: 10, End: 20}})
	assert.False(t, found)

	a, b, found := FirstOverlap([]domain.Marker{{ID: 2, Start: 30, End: 40}, {ID: 1, Start: 0, End: 100}})
	require.True(t, found)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
}
