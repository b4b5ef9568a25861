// This file contains the events notified by the rating contract. Events
// only ever carry plaintext identifiers, never a ciphertext or a handle.

package rating

// ActivityCreated is notified after a successful CREATE_ACTIVITY command.
type ActivityCreated struct {
	ActivityID     uint64
	Organizer      string
	Start          int64
	End            int64
	DimensionCount int
}

// WeightsUpdated is notified after a successful UPDATE_WEIGHTS command.
type WeightsUpdated struct {
	ActivityID uint64
	Organizer  string
}

// RatingSubmitted is notified after a successful SUBMIT_RATING command.
type RatingSubmitted struct {
	ActivityID uint64
	Submitter  string
}

// CommentSubmitted is notified after a successful SUBMIT_COMMENT command.
type CommentSubmitted struct {
	ActivityID uint64
	Submitter  string
}
