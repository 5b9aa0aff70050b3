package plexdb

import (
	"context"

	"gorm.io/gorm"

	"github.com/mmcdole/skiptrack/internal/domain"
	"github.com/mmcdole/skiptrack/internal/reindex"
)

func validateMarker(start, end int64, markerType domain.MarkerType) error {
	if !markerType.Valid() {
		return domain.Validationf("unsupported marker type %q", markerType)
	}
	return reindex.ValidateRange(start, end)
}

func items(markers []domain.Marker) []reindex.Item {
	out := make([]reindex.Item, len(markers))
	for i, m := range markers {
		out[i] = reindex.FromMarker(m)
	}
	return out
}

func findMarker(markers []domain.Marker, id int64) domain.Marker {
	for _, m := range markers {
		if m.ID == id {
			return m
		}
	}
	return domain.Marker{ID: id}
}

// AddMarker inserts a marker into an episode. It fails with a conflict, writing nothing, if the
// range overlaps an existing marker. Siblings pushed down by the insert are reindexed on a
// best-effort basis once the row is in.
func (d *DB) AddMarker(ctx context.Context, episodeID, start, end int64, markerType domain.MarkerType) (*domain.AddResult, error) {
	if err := validateMarker(start, end, markerType); err != nil {
		return nil, err
	}

	ep, err := d.episode(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	siblings, err := d.Markers(ctx, domain.EpisodeScope(episodeID))
	if err != nil {
		return nil, err
	}

	plan := reindex.NewPlan(items(siblings), &reindex.Item{Start: start, End: end})
	if plan.Conflict != nil {
		return nil, domain.Conflictf("%s", describeConflict(start, end, findMarker(siblings, plan.Conflict.ID)))
	}

	row := Tagging{
		MetadataItemID: episodeID,
		TagID:          d.markerTagID,
		Index:          plan.PendingIndex,
		Text:           string(markerType),
		TimeOffset:     start,
		EndTimeOffset:  end,
		CreatedAt:      d.now().Unix(),
		ExtraData:      extraDataVersion,
	}
	if thumb, ok := d.thumbFor(nil, true); ok {
		row.ThumbURL = thumb
	}

	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, domain.Storage(err, "insert marker into episode %d", episodeID)
	}

	d.report(ctx, d.applyIndices(ctx, siblings, plan.Indices()), "episodeID", episodeID)

	return &domain.AddResult{Marker: d.markerFromRow(row, ep), Siblings: siblings}, nil
}

// EditMarker moves a marker to a new range and type, stamping a fresh modified time.
func (d *DB) EditMarker(ctx context.Context, id, start, end int64, markerType domain.MarkerType, userCreated bool) (*domain.EditResult, error) {
	if err := validateMarker(start, end, markerType); err != nil {
		return nil, err
	}

	existing, err := d.Marker(ctx, id)
	if err != nil {
		return nil, err
	}

	siblings, err := d.Markers(ctx, domain.EpisodeScope(existing.EpisodeID))
	if err != nil {
		return nil, err
	}

	plan := reindex.NewPlan(items(siblings), &reindex.Item{ID: id, Start: start, End: end})
	if plan.Conflict != nil {
		return nil, domain.Conflictf("%s", describeConflict(start, end, findMarker(siblings, plan.Conflict.ID)))
	}

	now := d.now().Unix()
	updates := map[string]any{
		"time_offset":     start,
		"end_time_offset": end,
		"index":           plan.PendingIndex,
		"text":            string(markerType),
	}
	edited := existing
	edited.Start, edited.End, edited.Index, edited.Type = start, end, plan.PendingIndex, markerType
	if thumb, ok := d.thumbFor(&now, userCreated); ok {
		updates["thumb_url"] = thumb
		edited.ModifiedAt, edited.UserCreated = &now, userCreated
	}

	res := d.db.WithContext(ctx).Model(&Tagging{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, domain.Storage(res.Error, "update marker %d", id)
	}
	if res.RowsAffected == 0 {
		return nil, domain.NotFoundf("marker %d was deleted during the edit", id)
	}

	d.report(ctx, d.applyIndices(ctx, siblings, plan.Indices()), "episodeID", existing.EpisodeID)

	return &domain.EditResult{Marker: edited, OldStart: existing.Start, OldEnd: existing.End}, nil
}

// DeleteMarker removes a marker and closes the index gap it leaves behind.
func (d *DB) DeleteMarker(ctx context.Context, id int64) (domain.Marker, error) {
	existing, err := d.Marker(ctx, id)
	if err != nil {
		return domain.Marker{}, err
	}

	res := d.db.WithContext(ctx).Where("id = ?", id).Delete(&Tagging{})
	if res.Error != nil {
		return domain.Marker{}, domain.Storage(res.Error, "delete marker %d", id)
	}
	if res.RowsAffected == 0 {
		return domain.Marker{}, domain.NotFoundf("marker %d does not exist", id)
	}

	shift := d.db.WithContext(ctx).Model(&Tagging{}).
		Where(`metadata_item_id = ? AND tag_id = ? AND "index" > ?`, existing.EpisodeID, d.markerTagID, existing.Index).
		Update("index", gorm.Expr(`"index" - 1`))
	d.report(ctx, housekeeping{task: "close index gap", updated: int(shift.RowsAffected), err: shift.Error},
		"episodeID", existing.EpisodeID)

	return existing, nil
}

// applyIndices writes indices for siblings whose position changed. Best-effort.
func (d *DB) applyIndices(ctx context.Context, siblings []domain.Marker, indices map[int64]int) housekeeping {
	h := housekeeping{task: "reindex siblings"}
	for _, m := range siblings {
		idx, ok := indices[m.ID]
		if !ok || idx == m.Index {
			continue
		}
		err := d.db.WithContext(ctx).Model(&Tagging{}).Where("id = ?", m.ID).Update("index", idx).Error
		if err != nil {
			h.err = err
			return h
		}
		h.updated++
	}
	return h
}
