package domain

import "fmt"

// MetadataType mirrors the media server's metadata_type column
type MetadataType int

const (
	MetadataTypeMovie   MetadataType = 1
	MetadataTypeShow    MetadataType = 2
	MetadataTypeSeason  MetadataType = 3
	MetadataTypeEpisode MetadataType = 4
)

// Level identifies how far up the library hierarchy a scope id sits
type Level int

const (
	LevelSection Level = iota
	LevelShow
	LevelSeason
	LevelEpisode
	LevelMovie
)

func (l Level) String() string {
	switch l {
	case LevelSection:
		return "section"
	case LevelShow:
		return "show"
	case LevelSeason:
		return "season"
	case LevelEpisode:
		return "episode"
	case LevelMovie:
		return "movie"
	default:
		return "unknown"
	}
}

// LevelFor maps a metadata type to its scope level
func LevelFor(t MetadataType) (Level, bool) {
	switch t {
	case MetadataTypeMovie:
		return LevelMovie, true
	case MetadataTypeShow:
		return LevelShow, true
	case MetadataTypeSeason:
		return LevelSeason, true
	case MetadataTypeEpisode:
		return LevelEpisode, true
	default:
		return 0, false
	}
}

// Scope names a subtree of a library: a whole section, a show, a season, or one item.
type Scope struct {
	ID    int64
	Level Level
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%d", s.Level, s.ID)
}

// IsLeaf reports whether the scope is a single episode or movie
func (s Scope) IsLeaf() bool {
	return s.Level == LevelEpisode || s.Level == LevelMovie
}

func SectionScope(id int64) Scope { return Scope{ID: id, Level: LevelSection} }
func ShowScope(id int64) Scope    { return Scope{ID: id, Level: LevelShow} }
func SeasonScope(id int64) Scope  { return Scope{ID: id, Level: LevelSeason} }
func EpisodeScope(id int64) Scope { return Scope{ID: id, Level: LevelEpisode} }

// Section is a library section and its stable instance identifier
type Section struct {
	ID   int64
	Name string
	Type MetadataType // MetadataTypeShow or MetadataTypeMovie
	UUID string
}

// Episode is a leaf item (episode or movie) with its ancestry and display metadata
type Episode struct {
	ID          int64
	Title       string
	Index       int   // Episode number within the season
	SeasonID    int64 // -1 for movies
	SeasonIndex int
	SeasonTitle string
	ShowID      int64 // -1 for movies
	ShowTitle   string
	SectionID   int64
	Duration    int64 // Milliseconds; 0 when unknown
	IsMovie     bool
}

// Code returns S01E05 style codes for episodes and the title for movies
func (e Episode) Code() string {
	if e.IsMovie {
		return e.Title
	}
	return fmt.Sprintf("S%02dE%02d", e.SeasonIndex, e.Index)
}

// Show is a top-level series in a section
type Show struct {
	ID        int64
	Title     string
	SectionID int64
}

// TreeRow is one row of the episode-to-marker join used to build the marker cache.
// MarkerID is nil for episodes without markers.
type TreeRow struct {
	EpisodeID  int64
	SeasonID   int64
	ShowID     int64
	SectionID  int64
	MarkerID   *int64
	MarkerType MarkerType
}

// Buckets maps "number of markers" to "number of episodes with exactly that many".
type Buckets map[int]int

// Clone deep-copies the buckets and drops empty counts
func (b Buckets) Clone() Buckets {
	out := make(Buckets, len(b))
	for k, v := range b {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// Total returns the number of episodes represented
func (b Buckets) Total() int {
	n := 0
	for _, v := range b {
		n += v
	}
	return n
}
