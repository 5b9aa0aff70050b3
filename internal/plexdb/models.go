package plexdb

// Tables of the Plex Media Server library database that markers live in.
// Only the columns read or written here are mapped.

// Tagging is a row of the taggings table. Markers are taggings whose tag is the marker tag.
type Tagging struct {
	ID             int64  `gorm:"column:id;primaryKey"`
	MetadataItemID int64  `gorm:"column:metadata_item_id;index"`
	TagID          int64  `gorm:"column:tag_id;index"`
	Index          int    `gorm:"column:index"`
	Text           string `gorm:"column:text"`
	TimeOffset     int64  `gorm:"column:time_offset"`
	EndTimeOffset  int64  `gorm:"column:end_time_offset"`
	ThumbURL       string `gorm:"column:thumb_url"`
	CreatedAt      int64  `gorm:"column:created_at;autoCreateTime:false"`
	ExtraData      string `gorm:"column:extra_data"`
}

func (Tagging) TableName() string { return "taggings" }

// Tag is a row of the tags table
type Tag struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	Tag     string `gorm:"column:tag"`
	TagType int    `gorm:"column:tag_type;index"`
}

func (Tag) TableName() string { return "tags" }

// MetadataItem is a row of the metadata_items table (shows, seasons, episodes, movies)
type MetadataItem struct {
	ID               int64  `gorm:"column:id;primaryKey"`
	LibrarySectionID int64  `gorm:"column:library_section_id;index"`
	ParentID         *int64 `gorm:"column:parent_id;index"`
	MetadataType     int    `gorm:"column:metadata_type;index"`
	Title            string `gorm:"column:title"`
	Index            int    `gorm:"column:index"`
}

func (MetadataItem) TableName() string { return "metadata_items" }

// MediaItem is a row of the media_items table; one metadata item may have several versions
type MediaItem struct {
	ID             int64 `gorm:"column:id;primaryKey"`
	MetadataItemID int64 `gorm:"column:metadata_item_id;index"`
	Duration       int64 `gorm:"column:duration"`
}

func (MediaItem) TableName() string { return "media_items" }

// LibrarySection is a row of the library_sections table
type LibrarySection struct {
	ID          int64  `gorm:"column:id;primaryKey"`
	Name        string `gorm:"column:name"`
	SectionType int    `gorm:"column:section_type"`
	UUID        string `gorm:"column:uuid"`
}

func (LibrarySection) TableName() string { return "library_sections" }

// Models lists every mapped table, in dependency order
func Models() []any {
	return []any{&LibrarySection{}, &MetadataItem{}, &MediaItem{}, &Tag{}, &Tagging{}}
}
