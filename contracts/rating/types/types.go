// Package types defines the records of the rating contract and the payloads
// of its transactions.
//
// The records are stored as JSON in the contract's namespace of the
// snapshot. Every ciphertext field holds an opaque handle minted by the
// encrypted value capability; the records never contain a plaintext score,
// weight or comment.
package types

import "go.dedis.ch/sondage/fhe"

// Activity is the stored form of a rating activity. Its existence under the
// activity key is the existence flag: an unused identifier simply has no
// record.
type Activity struct {
	// Organizer is the marshaled identity of the creator, the only principal
	// allowed to update weights and granted decryption of the accumulators.
	Organizer string `json:"organizer"`

	// Start and End bound the submission window in unix seconds, inclusive
	// on both ends. End is strictly after Start.
	Start int64 `json:"start"`
	End   int64 `json:"end"`

	// DimensionCount is the number of rated dimensions, between 1 and 10.
	// Every dimension-indexed slice below has exactly this length.
	DimensionCount int `json:"dimensionCount"`

	// Weights are the per-dimension encrypted weights applied to incoming
	// scores. Replaced as a whole by an update, never rescaled.
	Weights []fhe.Handle `json:"weights"`

	// Sums and Counts are the per-dimension accumulators, replaced by a
	// fresh handle on every accepted rating.
	Sums   []fhe.Handle `json:"sums"`
	Counts []fhe.Handle `json:"counts"`

	// TotalWeightedScore and TotalRatings are the activity-level
	// accumulators.
	TotalWeightedScore fhe.Handle `json:"totalWeightedScore"`
	TotalRatings       fhe.Handle `json:"totalRatings"`
}

// Info is the plaintext subset of an activity returned by the read
// accessor.
type Info struct {
	Organizer      string `json:"organizer"`
	Start          int64  `json:"start"`
	End            int64  `json:"end"`
	DimensionCount int    `json:"dimensionCount"`
}

// Rating is the stored form of a rating. There is at most one per
// (activity, submitter) pair and it is never mutated once written.
type Rating struct {
	DimensionScores []fhe.Handle `json:"dimensionScores"`
	WeightedScore   fhe.Handle   `json:"weightedScore"`
}

// Comment is the stored form of a comment, at most one per (activity,
// submitter) pair, independent of any rating.
type Comment struct {
	Payload fhe.Handle `json:"payload"`
}

// CreateActivityTransaction is the payload of a CREATE_ACTIVITY command.
// The weights are externally produced ciphertexts paired with their
// validity proofs.
type CreateActivityTransaction struct {
	Start          int64    `json:"start"`
	End            int64    `json:"end"`
	DimensionCount int      `json:"dimensionCount"`
	Weights        [][]byte `json:"weights"`
	WeightProofs   [][]byte `json:"weightProofs"`
}

// UpdateWeightsTransaction is the payload of an UPDATE_WEIGHTS command.
type UpdateWeightsTransaction struct {
	ActivityID   uint64   `json:"activityId"`
	Weights      [][]byte `json:"weights"`
	WeightProofs [][]byte `json:"weightProofs"`
}

// SubmitRatingTransaction is the payload of a SUBMIT_RATING command.
type SubmitRatingTransaction struct {
	ActivityID  uint64   `json:"activityId"`
	Scores      [][]byte `json:"scores"`
	ScoreProofs [][]byte `json:"scoreProofs"`
}

// SubmitCommentTransaction is the payload of a SUBMIT_COMMENT command.
type SubmitCommentTransaction struct {
	ActivityID uint64 `json:"activityId"`
	Comment    []byte `json:"comment"`
	Proof      []byte `json:"proof"`
}
