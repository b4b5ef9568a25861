// This file contains the implementation of the commands of the rating
// contract. Each command performs all its checks before its first write, in
// the order mandated by the error taxonomy, so that a failure never leaves
// a partial mutation in the staged snapshot.

package rating

import (
	"encoding/binary"
	"encoding/json"

	"go.dedis.ch/sondage/contracts/rating/types"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/core/execution"
	"go.dedis.ch/sondage/core/store"
	"go.dedis.ch/sondage/fhe"
	"golang.org/x/xerrors"
)

// ratingCommand implements the commands of the rating contract.
//
// - implements commands
type ratingCommand struct {
	*Contract
}

// createActivity implements commands. It performs the CREATE_ACTIVITY
// command: it allocates the next activity identifier, ingests the encrypted
// weights, mints encrypted-zero accumulators and grants their decryption to
// the engine and to the organizer.
func (c ratingCommand) createActivity(snap store.Snapshot, step execution.Step) error {
	var tx types.CreateActivityTransaction

	err := getPayload(step, &tx)
	if err != nil {
		return err
	}

	if tx.End <= tx.Start {
		return newError(CodeValidation,
			"end time %d is not after start time %d", tx.End, tx.Start)
	}

	if tx.DimensionCount < 1 || tx.DimensionCount > 10 {
		return newError(CodeValidation,
			"dimension count must be in [1, 10], got %d", tx.DimensionCount)
	}

	if len(tx.Weights) != tx.DimensionCount || len(tx.WeightProofs) != tx.DimensionCount {
		return newError(CodeValidation,
			"expected %d weights and proofs, got %d and %d",
			tx.DimensionCount, len(tx.Weights), len(tx.WeightProofs))
	}

	organizer := step.Current.GetIdentity()

	organizerText, err := organizer.MarshalText()
	if err != nil {
		return xerrors.Errorf("failed to marshal organizer: %v", err)
	}

	activity := types.Activity{
		Organizer:      string(organizerText),
		Start:          tx.Start,
		End:            tx.End,
		DimensionCount: tx.DimensionCount,
		Weights:        make([]fhe.Handle, tx.DimensionCount),
		Sums:           make([]fhe.Handle, tx.DimensionCount),
		Counts:         make([]fhe.Handle, tx.DimensionCount),
	}

	// Proof verification is a precondition: every weight is ingested before
	// the first write, so a refused proof never consumes an identifier.
	for i := 0; i < tx.DimensionCount; i++ {
		weight, err := c.ingest(tx.Weights[i], tx.WeightProofs[i], organizer)
		if err != nil {
			return xerrors.Errorf("weight %d: %w", i, err)
		}

		activity.Weights[i] = weight
	}

	id, err := c.nextID(snap)
	if err != nil {
		return xerrors.Errorf("failed to allocate identifier: %v", err)
	}

	engine := c.actor.Identity()

	for i := 0; i < tx.DimensionCount; i++ {
		sum, err := c.actor.Constant(0)
		if err != nil {
			return xerrors.Errorf("failed to mint sum %d: %v", i, err)
		}

		count, err := c.actor.Constant(0)
		if err != nil {
			return xerrors.Errorf("failed to mint count %d: %v", i, err)
		}

		activity.Sums[i] = sum
		activity.Counts[i] = count

		for _, h := range []fhe.Handle{activity.Weights[i], sum, count} {
			err = c.grant(snap, h, engine, organizer)
			if err != nil {
				return err
			}
		}
	}

	activity.TotalWeightedScore, err = c.actor.Constant(0)
	if err != nil {
		return xerrors.Errorf("failed to mint weighted total: %v", err)
	}

	activity.TotalRatings, err = c.actor.Constant(0)
	if err != nil {
		return xerrors.Errorf("failed to mint ratings total: %v", err)
	}

	for _, h := range []fhe.Handle{activity.TotalWeightedScore, activity.TotalRatings} {
		err = c.grant(snap, h, engine, organizer)
		if err != nil {
			return err
		}
	}

	err = storeActivity(snap, id, activity)
	if err != nil {
		return err
	}

	c.notify(ActivityCreated{
		ActivityID:     id,
		Organizer:      activity.Organizer,
		Start:          activity.Start,
		End:            activity.End,
		DimensionCount: activity.DimensionCount,
	})

	return nil
}

// updateWeights implements commands. It performs the UPDATE_WEIGHTS
// command: it replaces every weight handle of the activity and re-grants
// the decryption of the new handles. The accumulators are left untouched,
// the new weights only apply to future ratings.
func (c ratingCommand) updateWeights(snap store.Snapshot, step execution.Step) error {
	var tx types.UpdateWeightsTransaction

	err := getPayload(step, &tx)
	if err != nil {
		return err
	}

	activity, err := readActivity(snap, tx.ActivityID)
	if err != nil {
		return err
	}

	caller := step.Current.GetIdentity()

	callerText, err := caller.MarshalText()
	if err != nil {
		return xerrors.Errorf("failed to marshal caller: %v", err)
	}

	if string(callerText) != activity.Organizer {
		return newError(CodeUnauthorized,
			"'%s' is not the organizer of activity %d", callerText, tx.ActivityID)
	}

	if len(tx.Weights) != activity.DimensionCount || len(tx.WeightProofs) != activity.DimensionCount {
		return newError(CodeValidation,
			"expected %d weights and proofs, got %d and %d",
			activity.DimensionCount, len(tx.Weights), len(tx.WeightProofs))
	}

	engine := c.actor.Identity()

	for i := 0; i < activity.DimensionCount; i++ {
		weight, err := c.ingest(tx.Weights[i], tx.WeightProofs[i], caller)
		if err != nil {
			return xerrors.Errorf("weight %d: %w", i, err)
		}

		activity.Weights[i] = weight

		err = c.grant(snap, weight, engine, caller)
		if err != nil {
			return err
		}
	}

	err = storeActivity(snap, tx.ActivityID, activity)
	if err != nil {
		return err
	}

	c.notify(WeightsUpdated{
		ActivityID: tx.ActivityID,
		Organizer:  activity.Organizer,
	})

	return nil
}

// submitRating implements commands. It performs the SUBMIT_RATING command:
// exactly once per (activity, submitter), within the activity window, it
// folds the encrypted scores into the per-dimension and activity-level
// accumulators without ever reading a plaintext.
func (c ratingCommand) submitRating(snap store.Snapshot, step execution.Step) error {
	var tx types.SubmitRatingTransaction

	err := getPayload(step, &tx)
	if err != nil {
		return err
	}

	activity, err := readActivity(snap, tx.ActivityID)
	if err != nil {
		return err
	}

	err = c.checkWindow(activity, tx.ActivityID)
	if err != nil {
		return err
	}

	if len(tx.Scores) != activity.DimensionCount || len(tx.ScoreProofs) != activity.DimensionCount {
		return newError(CodeValidation,
			"expected %d scores and proofs, got %d and %d",
			activity.DimensionCount, len(tx.Scores), len(tx.ScoreProofs))
	}

	submitter := step.Current.GetIdentity()

	submitterText, err := submitter.MarshalText()
	if err != nil {
		return xerrors.Errorf("failed to marshal submitter: %v", err)
	}

	existing, err := snap.Get(ratingKey(tx.ActivityID, submitterText))
	if err != nil {
		return xerrors.Errorf("failed to read rating: %v", err)
	}

	if existing != nil {
		return newError(CodeConflict,
			"'%s' already rated activity %d", submitterText, tx.ActivityID)
	}

	engine := c.actor.Identity()
	organizer := access.TextIdentity(activity.Organizer)

	one, err := c.actor.Constant(1)
	if err != nil {
		return xerrors.Errorf("failed to mint one: %v", err)
	}

	weightedScore, err := c.actor.Constant(0)
	if err != nil {
		return xerrors.Errorf("failed to mint weighted score: %v", err)
	}

	rating := types.Rating{
		DimensionScores: make([]fhe.Handle, activity.DimensionCount),
	}

	for i := 0; i < activity.DimensionCount; i++ {
		score, err := c.ingest(tx.Scores[i], tx.ScoreProofs[i], submitter)
		if err != nil {
			return xerrors.Errorf("score %d: %w", i, err)
		}

		rating.DimensionScores[i] = score

		sum, err := c.actor.Add(activity.Sums[i], score)
		if err != nil {
			return xerrors.Errorf("failed to add score to sum %d: %v", i, err)
		}

		count, err := c.actor.Add(activity.Counts[i], one)
		if err != nil {
			return xerrors.Errorf("failed to increment count %d: %v", i, err)
		}

		contribution, err := c.actor.Mul(activity.Weights[i], score)
		if err != nil {
			return xerrors.Errorf("failed to weigh score %d: %v", i, err)
		}

		weightedScore, err = c.actor.Add(weightedScore, contribution)
		if err != nil {
			return xerrors.Errorf("failed to add contribution %d: %v", i, err)
		}

		activity.Sums[i] = sum
		activity.Counts[i] = count

		// Intermediate values must remain computable in subsequent
		// transactions, so the engine keeps the capability on each of them.
		for _, h := range []fhe.Handle{score, contribution} {
			err = c.grant(snap, h, engine)
			if err != nil {
				return err
			}
		}

		// The replaced accumulators carry the organizer capability again, as
		// a grant never survives a handle replacement.
		for _, h := range []fhe.Handle{sum, count} {
			err = c.grant(snap, h, engine, organizer)
			if err != nil {
				return err
			}
		}
	}

	rating.WeightedScore = weightedScore

	err = c.grant(snap, weightedScore, engine)
	if err != nil {
		return err
	}

	activity.TotalWeightedScore, err = c.actor.Add(activity.TotalWeightedScore, weightedScore)
	if err != nil {
		return xerrors.Errorf("failed to add to weighted total: %v", err)
	}

	activity.TotalRatings, err = c.actor.Add(activity.TotalRatings, one)
	if err != nil {
		return xerrors.Errorf("failed to increment ratings total: %v", err)
	}

	for _, h := range []fhe.Handle{activity.TotalWeightedScore, activity.TotalRatings} {
		err = c.grant(snap, h, engine, organizer)
		if err != nil {
			return err
		}
	}

	value, err := json.Marshal(rating)
	if err != nil {
		return xerrors.Errorf("failed to marshal rating: %v", err)
	}

	err = snap.Set(ratingKey(tx.ActivityID, submitterText), value)
	if err != nil {
		return xerrors.Errorf("failed to store rating: %v", err)
	}

	err = storeActivity(snap, tx.ActivityID, activity)
	if err != nil {
		return err
	}

	c.notify(RatingSubmitted{
		ActivityID: tx.ActivityID,
		Submitter:  string(submitterText),
	})

	return nil
}

// submitComment implements commands. It performs the SUBMIT_COMMENT
// command: it stores the encrypted comment and grants its decryption to the
// engine and to the organizer only, never to the commenter.
func (c ratingCommand) submitComment(snap store.Snapshot, step execution.Step) error {
	var tx types.SubmitCommentTransaction

	err := getPayload(step, &tx)
	if err != nil {
		return err
	}

	activity, err := readActivity(snap, tx.ActivityID)
	if err != nil {
		return err
	}

	err = c.checkWindow(activity, tx.ActivityID)
	if err != nil {
		return err
	}

	submitter := step.Current.GetIdentity()

	submitterText, err := submitter.MarshalText()
	if err != nil {
		return xerrors.Errorf("failed to marshal submitter: %v", err)
	}

	existing, err := snap.Get(commentKey(tx.ActivityID, submitterText))
	if err != nil {
		return xerrors.Errorf("failed to read comment: %v", err)
	}

	if existing != nil {
		return newError(CodeConflict,
			"'%s' already commented on activity %d", submitterText, tx.ActivityID)
	}

	payload, err := c.ingest(tx.Comment, tx.Proof, submitter)
	if err != nil {
		return xerrors.Errorf("comment: %w", err)
	}

	err = c.grant(snap, payload, c.actor.Identity(), access.TextIdentity(activity.Organizer))
	if err != nil {
		return err
	}

	value, err := json.Marshal(types.Comment{Payload: payload})
	if err != nil {
		return xerrors.Errorf("failed to marshal comment: %v", err)
	}

	err = snap.Set(commentKey(tx.ActivityID, submitterText), value)
	if err != nil {
		return xerrors.Errorf("failed to store comment: %v", err)
	}

	c.notify(CommentSubmitted{
		ActivityID: tx.ActivityID,
		Submitter:  string(submitterText),
	})

	return nil
}

// ingest forwards a (ciphertext, proof) pair to the actor, tagging a proof
// refusal with its code.
func (c ratingCommand) ingest(ciphertext, proof []byte, submitter access.Identity) (fhe.Handle, error) {
	handle, err := c.actor.Ingest(ciphertext, proof, submitter)
	if err != nil {
		if xerrors.Is(err, fhe.ErrInvalidProof) {
			return nil, newError(CodeProof, "failed to ingest: %v", err)
		}

		return nil, xerrors.Errorf("failed to ingest: %v", err)
	}

	return handle, nil
}

// checkWindow fails when the current time lies outside the activity window,
// inclusive on both ends.
func (c ratingCommand) checkWindow(activity types.Activity, id uint64) error {
	now := c.clock().Unix()

	if now < activity.Start || now > activity.End {
		return newError(CodeWindow,
			"activity %d window [%d, %d] does not include %d",
			id, activity.Start, activity.End, now)
	}

	return nil
}

// nextID reads, increments and stores the activity sequence. The first
// allocated identifier is 1.
func (c ratingCommand) nextID(snap store.Snapshot) (uint64, error) {
	value, err := snap.Get(sequenceKey)
	if err != nil {
		return 0, xerrors.Errorf("failed to read sequence: %v", err)
	}

	var seq uint64
	if value != nil {
		seq = binary.BigEndian.Uint64(value)
	}

	seq++

	err = snap.Set(sequenceKey, binary.BigEndian.AppendUint64(nil, seq))
	if err != nil {
		return 0, xerrors.Errorf("failed to store sequence: %v", err)
	}

	return seq, nil
}

func storeActivity(snap store.Snapshot, id uint64, activity types.Activity) error {
	value, err := json.Marshal(activity)
	if err != nil {
		return xerrors.Errorf("failed to marshal activity: %v", err)
	}

	err = snap.Set(activityKey(id), value)
	if err != nil {
		return xerrors.Errorf("failed to store activity: %v", err)
	}

	return nil
}
