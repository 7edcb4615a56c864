package models

import "strconv"

// RemoteRecord is the cloud representation of a rating. It is the Rating
// shape plus the tombstone marker; deletions propagate through merges as
// records with Deleted set instead of disappearing.
type RemoteRecord struct {
	Rating
	Deleted bool `json:"deleted,omitempty"`
}

// RemoteRecordSet is the whole-set cloud payload, keyed by movie id. The
// backend has no notion of the current user beyond the token the set is
// stored under.
type RemoteRecordSet map[string]RemoteRecord

// RemoteKey is the record-set key for a movie id.
func RemoteKey(movieID int) string {
	return strconv.Itoa(movieID)
}

// Merge outcome statuses.
const (
	MergeStatusSuccess  = "success"
	MergeStatusConflict = "conflict"
	MergeStatusError    = "error"
)

// Conflict kinds reported by the manual sync check.
const (
	ConflictMissingLocally  = "missing-locally"
	ConflictDeletedRemotely = "deleted-remotely"
	ConflictRatingMismatch  = "rating-mismatch"
)

// Conflict is one local/remote disagreement that needs a human decision.
// Local is nil for records the store has never seen.
type Conflict struct {
	Kind   string        `json:"kind"`
	Local  *Rating       `json:"local,omitempty"`
	Remote *RemoteRecord `json:"remote"`
}

// MergeResult reports what a sync run did.
type MergeResult struct {
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Updated   int        `json:"updated"`
	Deleted   int        `json:"deleted"`
	Uploaded  int        `json:"uploaded"`
}

// LocalChanged reports whether the merge mutated the local store.
func (r *MergeResult) LocalChanged() bool {
	return r.Updated > 0 || r.Deleted > 0
}
