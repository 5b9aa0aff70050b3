package domain

// ActionKind is the operation recorded in the backup ledger
type ActionKind int

const (
	ActionAdd     ActionKind = 1
	ActionEdit    ActionKind = 2
	ActionDelete  ActionKind = 3
	ActionRestore ActionKind = 4
)

func (k ActionKind) String() string {
	switch k {
	case ActionAdd:
		return "add"
	case ActionEdit:
		return "edit"
	case ActionDelete:
		return "delete"
	case ActionRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// BulkResolve decides what a bulk add does with episodes whose markers overlap the new range
type BulkResolve int

const (
	// BulkFail aborts the whole batch if any episode conflicts
	BulkFail BulkResolve = iota
	// BulkIgnore skips conflicting episodes
	BulkIgnore
	// BulkMerge absorbs the new range into overlapping markers
	BulkMerge
	// BulkDryRun computes per-episode outcomes without writing
	BulkDryRun
)

func (r BulkResolve) String() string {
	switch r {
	case BulkFail:
		return "fail"
	case BulkIgnore:
		return "ignore"
	case BulkMerge:
		return "merge"
	case BulkDryRun:
		return "dryrun"
	default:
		return "unknown"
	}
}

// ParseBulkResolve accepts the names returned by String
func ParseBulkResolve(s string) (BulkResolve, error) {
	for _, r := range []BulkResolve{BulkFail, BulkIgnore, BulkMerge, BulkDryRun} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, Validationf("unknown resolve type %q", s)
}

// AddResult is the outcome of a single marker insert
type AddResult struct {
	Marker   Marker
	Siblings []Marker // Markers of the episode before the insert
}

// EditResult is the outcome of a single marker edit
type EditResult struct {
	Marker   Marker
	OldStart int64
	OldEnd   int64
}

// RestoreCandidate is a marker the ledger expects to exist. OldID is the marker id the
// ledger knows it by and is carried through the restore to correlate results exactly.
type RestoreCandidate struct {
	OldID       int64
	EpisodeID   int64
	Start       int64
	End         int64
	Type        MarkerType
	CreatedAt   int64
	ModifiedAt  *int64
	UserCreated bool
}

// RestoredMarker links a ledger marker id to the marker that now satisfies it
type RestoredMarker struct {
	OldID  int64
	Marker Marker
}

// RestoreResult groups restore outcomes
type RestoreResult struct {
	Restored  []RestoredMarker   // New rows inserted
	Identical []RestoredMarker   // Already satisfied by an existing marker
	Conflicts []RestoreCandidate // Overlap an existing marker; nothing written
	Orphaned  []RestoreCandidate // Owning episode no longer exists
}

// BulkAddEpisode is the per-episode outcome of a bulk add
type BulkAddEpisode struct {
	EpisodeID int64
	Existing  []Marker // Markers before the operation
	Changed   *Marker  // Inserted or merged marker, nil when nothing was written
	IsAdd     bool     // Changed is a new row rather than an extended one
	Deleted   []Marker // Markers absorbed by a merge
	Conflict  bool     // The new range overlapped an existing marker
	Ignored   bool
}

// BulkAddResult is the outcome of a bulk add across a scope
type BulkAddResult struct {
	Applied   bool
	Episodes  map[int64]*BulkAddEpisode
	Ignored   []int64 // Episodes skipped by request, by Ignore resolution, or by duration
	Conflicts []int64 // Episodes that overlapped (Fail and DryRun)
}

// ShiftResult is the outcome of a bulk shift
type ShiftResult struct {
	Applied  bool
	Shifted  map[int64][]Marker // Post-shift markers by episode
	Original map[int64][]Marker // Pre-shift markers by episode
	Overflow bool               // Some episodes have markers that were not selected
}

// BulkDeleteResult is the outcome of a bulk delete
type BulkDeleteResult struct {
	Deleted   map[int64][]Marker
	Reindexed []Marker // Survivors whose index changed
}
