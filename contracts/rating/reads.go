// This file contains the pure read accessors of the rating contract. They
// never mutate state and only ever observe committed records, so they can
// be issued at any time against any readable view of the snapshot.

package rating

import (
	"encoding/json"

	"go.dedis.ch/sondage/contracts/rating/types"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/core/store"
	"go.dedis.ch/sondage/core/store/prefixed"
	"go.dedis.ch/sondage/fhe"
	"golang.org/x/xerrors"
)

// NewReadable wraps a raw readable into the contract's namespace, so that
// the accessors below can be used outside a contract execution.
func NewReadable(r store.Readable) store.Readable {
	return prefixed.NewReadable(ContractUID, r)
}

// GetActivityInfo returns the plaintext fields of an activity.
func GetActivityInfo(r store.Readable, id uint64) (types.Info, error) {
	activity, err := readActivity(r, id)
	if err != nil {
		return types.Info{}, err
	}

	return types.Info{
		Organizer:      activity.Organizer,
		Start:          activity.Start,
		End:            activity.End,
		DimensionCount: activity.DimensionCount,
	}, nil
}

// GetDimensionAverage returns the encrypted sum of a dimension. No division
// is ever performed in the ciphertext domain: the caller divides by the
// decrypted dimension count after an authorized decryption. The name is
// kept for compatibility with the callers of the engine.
func GetDimensionAverage(r store.Readable, id uint64, dimension int) (fhe.Handle, error) {
	activity, err := readActivity(r, id)
	if err != nil {
		return nil, err
	}

	err = checkDimension(activity, dimension)
	if err != nil {
		return nil, err
	}

	return activity.Sums[dimension], nil
}

// GetDimensionCount returns the encrypted number of ratings of a dimension.
func GetDimensionCount(r store.Readable, id uint64, dimension int) (fhe.Handle, error) {
	activity, err := readActivity(r, id)
	if err != nil {
		return nil, err
	}

	err = checkDimension(activity, dimension)
	if err != nil {
		return nil, err
	}

	return activity.Counts[dimension], nil
}

// GetWeightedTotalScore returns the encrypted weighted total of an
// activity.
func GetWeightedTotalScore(r store.Readable, id uint64) (fhe.Handle, error) {
	activity, err := readActivity(r, id)
	if err != nil {
		return nil, err
	}

	return activity.TotalWeightedScore, nil
}

// GetTotalRatings returns the encrypted number of ratings of an activity.
func GetTotalRatings(r store.Readable, id uint64) (fhe.Handle, error) {
	activity, err := readActivity(r, id)
	if err != nil {
		return nil, err
	}

	return activity.TotalRatings, nil
}

// GetComment returns the encrypted comment of the submitter for the
// activity.
func GetComment(r store.Readable, id uint64, submitter access.Identity) (fhe.Handle, error) {
	text, err := submitter.MarshalText()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal submitter: %v", err)
	}

	value, err := r.Get(commentKey(id, text))
	if err != nil {
		return nil, xerrors.Errorf("failed to read comment: %v", err)
	}

	if value == nil {
		return nil, newError(CodeNotFound,
			"no comment from '%s' on activity %d", text, id)
	}

	comment := types.Comment{}

	err = json.Unmarshal(value, &comment)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal comment: %v", err)
	}

	return comment.Payload, nil
}

// HasRated returns true when the submitter has a rating recorded for the
// activity. A missing activity is not an error, only a false.
func HasRated(r store.Readable, id uint64, submitter access.Identity) (bool, error) {
	text, err := submitter.MarshalText()
	if err != nil {
		return false, xerrors.Errorf("failed to marshal submitter: %v", err)
	}

	value, err := r.Get(ratingKey(id, text))
	if err != nil {
		return false, xerrors.Errorf("failed to read rating: %v", err)
	}

	return value != nil, nil
}

// HasCommented returns true when the submitter has a comment recorded for
// the activity.
func HasCommented(r store.Readable, id uint64, submitter access.Identity) (bool, error) {
	text, err := submitter.MarshalText()
	if err != nil {
		return false, xerrors.Errorf("failed to marshal submitter: %v", err)
	}

	value, err := r.Get(commentKey(id, text))
	if err != nil {
		return false, xerrors.Errorf("failed to read comment: %v", err)
	}

	return value != nil, nil
}

func readActivity(r store.Readable, id uint64) (types.Activity, error) {
	value, err := r.Get(activityKey(id))
	if err != nil {
		return types.Activity{}, xerrors.Errorf("failed to read activity: %v", err)
	}

	if value == nil {
		return types.Activity{}, newError(CodeNotFound, "activity %d not found", id)
	}

	activity := types.Activity{}

	err = json.Unmarshal(value, &activity)
	if err != nil {
		return types.Activity{}, xerrors.Errorf("failed to unmarshal activity: %v", err)
	}

	return activity, nil
}

func checkDimension(activity types.Activity, dimension int) error {
	if dimension < 0 || dimension >= activity.DimensionCount {
		return newError(CodeValidation,
			"dimension %d out of range [0, %d)", dimension, activity.DimensionCount)
	}

	return nil
}
