package ledger

import (
	"github.com/jinzhu/copier"

	"github.com/mmcdole/skiptrack/internal/domain"
)

// record is a row of the actions table. Field names match domain.Action so copier can map
// between the two.
type record struct {
	ID          int64             `gorm:"column:id;primaryKey;autoIncrement"`
	Op          domain.ActionKind `gorm:"column:op;not null"`
	MarkerID    int64             `gorm:"column:marker_id;not null;index"`
	Type        domain.MarkerType `gorm:"column:marker_type;size:16;not null"`
	EpisodeID   int64             `gorm:"column:episode_id;not null;index"`
	SeasonID    int64             `gorm:"column:season_id;not null;index"`
	ShowID      int64             `gorm:"column:show_id;not null;index"`
	SectionID   int64             `gorm:"column:section_id;not null"`
	Start       int64             `gorm:"column:start_ms;not null"`
	End         int64             `gorm:"column:end_ms;not null"`
	OldStart    *int64            `gorm:"column:old_start_ms"`
	OldEnd      *int64            `gorm:"column:old_end_ms"`
	CreatedAt   int64             `gorm:"column:created_at;autoCreateTime:false"`
	ModifiedAt  *int64            `gorm:"column:modified_at"`
	RecordedAt  int64             `gorm:"column:recorded_at;not null"`
	UserCreated bool              `gorm:"column:user_created;not null"`
	SectionUUID string            `gorm:"column:section_uuid;size:64;not null;index"`
	RestoresID  *int64            `gorm:"column:restores_id"`
	RestoredID  *int64            `gorm:"column:restored_id"`
}

func (record) TableName() string { return "actions" }

func toRecord(a domain.Action) record {
	var r record
	// Both structs are flat with identical field types, so Copy cannot fail
	_ = copier.Copy(&r, &a)
	return r
}

func toActions(recs []record) []domain.Action {
	out := make([]domain.Action, 0, len(recs))
	_ = copier.Copy(&out, &recs)
	return out
}
