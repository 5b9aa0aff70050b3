package domain

// RestoredIgnored is the RestoredID sentinel for purges the user chose not to restore
const RestoredIgnored int64 = -1

// Action is one immutable backup ledger entry
type Action struct {
	ID          int64 // Ledger sequence; the highest ID per marker is authoritative
	Op          ActionKind
	MarkerID    int64
	Type        MarkerType
	EpisodeID   int64
	SeasonID    int64
	ShowID      int64
	SectionID   int64
	Start       int64
	End         int64
	OldStart    *int64 // Edits only
	OldEnd      *int64 // Edits only
	CreatedAt   int64  // Marker creation time (unix seconds)
	ModifiedAt  *int64
	RecordedAt  int64 // When the ledger entry was written (unix seconds)
	UserCreated bool
	SectionUUID string // Library instance the entry belongs to
	RestoresID  *int64 // This entry restored the marker with this old id
	RestoredID  *int64 // This entry's marker was superseded by a restore (or ignored)
}

// Candidate converts a ledger entry into a restore candidate
func (a Action) Candidate() RestoreCandidate {
	return RestoreCandidate{
		OldID:       a.MarkerID,
		EpisodeID:   a.EpisodeID,
		Start:       a.Start,
		End:         a.End,
		Type:        a.Type,
		CreatedAt:   a.CreatedAt,
		ModifiedAt:  a.ModifiedAt,
		UserCreated: a.UserCreated,
	}
}

// IsIgnored reports whether the purge was explicitly dismissed
func (a Action) IsIgnored() bool {
	return a.RestoredID != nil && *a.RestoredID == RestoredIgnored
}

// Restoration pairs the ledger entry that went missing with the marker that replaced it
type Restoration struct {
	Old    Action
	Marker Marker
}
