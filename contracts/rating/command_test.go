package rating

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/sondage/contracts/rating/types"
	"go.dedis.ch/sondage/core/store"
	"go.dedis.ch/sondage/core/store/prefixed"
	"go.dedis.ch/sondage/fhe"
	"go.dedis.ch/sondage/fhe/naive"
	"go.dedis.ch/sondage/internal/testing/fake"
)

func TestCommand_CreateActivity(t *testing.T) {
	_, cmd, enc := makeContract(t)
	organizer := fake.PublicKey{}

	snap := prefixed.NewSnapshot(ContractUID, fake.NewSnapshot())

	err := cmd.createActivity(snap, makeStep(t, organizer))
	require.EqualError(t, err, "'rating:payload' not found in tx arg")

	err = cmd.createActivity(snap, makeStep(t, organizer, PayloadArg, "dummy"))
	require.Regexp(t, "^failed to unmarshal payload", err.Error())
	require.Equal(t, CodeValidation, CodeOf(err))

	payload := makePayload(t, types.CreateActivityTransaction{Start: 10, End: 5, DimensionCount: 1})
	err = cmd.createActivity(snap, makeStep(t, organizer, PayloadArg, payload))
	require.EqualError(t, err, "end time 5 is not after start time 10")
	require.Equal(t, CodeValidation, CodeOf(err))

	payload = makePayload(t, types.CreateActivityTransaction{Start: 10, End: 100, DimensionCount: 0})
	err = cmd.createActivity(snap, makeStep(t, organizer, PayloadArg, payload))
	require.EqualError(t, err, "dimension count must be in [1, 10], got 0")

	payload = makePayload(t, types.CreateActivityTransaction{Start: 10, End: 100, DimensionCount: 11})
	err = cmd.createActivity(snap, makeStep(t, organizer, PayloadArg, payload))
	require.EqualError(t, err, "dimension count must be in [1, 10], got 11")

	weights, proofs := encrypt(t, enc, organizer, 1, 1)
	payload = makePayload(t, types.CreateActivityTransaction{
		Start: 10, End: 100, DimensionCount: 3,
		Weights: weights, WeightProofs: proofs,
	})
	err = cmd.createActivity(snap, makeStep(t, organizer, PayloadArg, payload))
	require.EqualError(t, err, "expected 3 weights and proofs, got 2 and 2")
	require.Equal(t, CodeValidation, CodeOf(err))

	// Weights encrypted by someone else do not verify for the caller.
	weights, proofs = encrypt(t, enc, fake.PublicKey{Index: 1}, 1, 1, 1)
	payload = makePayload(t, types.CreateActivityTransaction{
		Start: 10, End: 100, DimensionCount: 3,
		Weights: weights, WeightProofs: proofs,
	})
	err = cmd.createActivity(snap, makeStep(t, organizer, PayloadArg, payload))
	require.Regexp(t, "^weight 0: failed to ingest", err.Error())
	require.Equal(t, CodeProof, CodeOf(err))

	// Nothing was recorded by the failures above.
	_, err = GetActivityInfo(snap, 1)
	require.Equal(t, CodeNotFound, CodeOf(err))

	weights, proofs = encrypt(t, enc, organizer, 1, 2, 3)
	payload = makePayload(t, types.CreateActivityTransaction{
		Start: 10, End: 100, DimensionCount: 3,
		Weights: weights, WeightProofs: proofs,
	})
	err = cmd.createActivity(snap, makeStep(t, organizer, PayloadArg, payload))
	require.NoError(t, err)

	info, err := GetActivityInfo(snap, 1)
	require.NoError(t, err)
	require.Equal(t, types.Info{
		Organizer:      "fake:0",
		Start:          10,
		End:            100,
		DimensionCount: 3,
	}, info)

	// Identifiers are allocated sequentially.
	err = cmd.createActivity(snap, makeStep(t, organizer, PayloadArg, payload))
	require.NoError(t, err)

	_, err = GetActivityInfo(snap, 2)
	require.NoError(t, err)

	// The engine and the organizer hold the capability on the accumulators.
	total, err := GetTotalRatings(snap, 1)
	require.NoError(t, err)
	require.NoError(t, cmd.acl.Match(snap, NewHandleCreds(total), cmd.actor.Identity()))
	require.NoError(t, cmd.acl.Match(snap, NewHandleCreds(total), organizer))

	badSnap := prefixed.NewSnapshot(ContractUID, fake.NewBadSnapshot())
	err = cmd.createActivity(badSnap, makeStep(t, organizer, PayloadArg, payload))
	require.EqualError(t, err, fake.Err("failed to allocate identifier: failed to read sequence"))
}

func TestCommand_UpdateWeights(t *testing.T) {
	_, cmd, enc := makeContract(t)
	organizer := fake.PublicKey{}

	snap := prefixed.NewSnapshot(ContractUID, fake.NewSnapshot())

	payload := makePayload(t, types.UpdateWeightsTransaction{ActivityID: 1})
	err := cmd.updateWeights(snap, makeStep(t, organizer, PayloadArg, payload))
	require.EqualError(t, err, "activity 1 not found")
	require.Equal(t, CodeNotFound, CodeOf(err))

	createActivity(t, cmd, enc, snap, organizer, 10, 100, []uint64{1, 1})

	err = cmd.updateWeights(snap, makeStep(t, fake.PublicKey{Index: 1}, PayloadArg, payload))
	require.EqualError(t, err, "'fake:1' is not the organizer of activity 1")
	require.Equal(t, CodeUnauthorized, CodeOf(err))

	err = cmd.updateWeights(snap, makeStep(t, organizer, PayloadArg, payload))
	require.EqualError(t, err, "expected 2 weights and proofs, got 0 and 0")
	require.Equal(t, CodeValidation, CodeOf(err))

	before, err := readActivity(snap, 1)
	require.NoError(t, err)

	weights, proofs := encrypt(t, enc, organizer, 7, 7)
	payload = makePayload(t, types.UpdateWeightsTransaction{
		ActivityID: 1, Weights: weights, WeightProofs: proofs,
	})
	err = cmd.updateWeights(snap, makeStep(t, organizer, PayloadArg, payload))
	require.NoError(t, err)

	after, err := readActivity(snap, 1)
	require.NoError(t, err)

	// Every weight handle was replaced, the accumulators were not touched.
	require.NotEqual(t, before.Weights[0], after.Weights[0])
	require.NotEqual(t, before.Weights[1], after.Weights[1])
	require.Equal(t, before.Sums, after.Sums)
	require.Equal(t, before.Counts, after.Counts)
	require.Equal(t, before.TotalWeightedScore, after.TotalWeightedScore)
	require.Equal(t, before.TotalRatings, after.TotalRatings)

	// The replacement handles got their own grants.
	require.NoError(t, cmd.acl.Match(snap, NewHandleCreds(after.Weights[0]), organizer))
	require.NoError(t, cmd.acl.Match(snap, NewHandleCreds(after.Weights[0]), cmd.actor.Identity()))
}

func TestCommand_SubmitRating(t *testing.T) {
	contract, cmd, enc := makeContract(t)
	organizer := fake.PublicKey{}
	rater := fake.PublicKey{Index: 1}

	contract.clock = func() time.Time { return time.Unix(50, 0) }

	snap := prefixed.NewSnapshot(ContractUID, fake.NewSnapshot())

	payload := makePayload(t, types.SubmitRatingTransaction{ActivityID: 9})
	err := cmd.submitRating(snap, makeStep(t, rater, PayloadArg, payload))
	require.EqualError(t, err, "activity 9 not found")
	require.Equal(t, CodeNotFound, CodeOf(err))

	createActivity(t, cmd, enc, snap, organizer, 10, 100, []uint64{1, 1, 1})

	payload = makePayload(t, types.SubmitRatingTransaction{ActivityID: 1})

	contract.clock = func() time.Time { return time.Unix(5, 0) }
	err = cmd.submitRating(snap, makeStep(t, rater, PayloadArg, payload))
	require.EqualError(t, err, "activity 1 window [10, 100] does not include 5")
	require.Equal(t, CodeWindow, CodeOf(err))

	contract.clock = func() time.Time { return time.Unix(500, 0) }
	err = cmd.submitRating(snap, makeStep(t, rater, PayloadArg, payload))
	require.EqualError(t, err, "activity 1 window [10, 100] does not include 500")

	// The window is inclusive on both ends.
	contract.clock = func() time.Time { return time.Unix(100, 0) }
	err = cmd.submitRating(snap, makeStep(t, rater, PayloadArg, payload))
	require.EqualError(t, err, "expected 3 scores and proofs, got 0 and 0")
	require.Equal(t, CodeValidation, CodeOf(err))

	scores, proofs := encrypt(t, enc, rater, 4, 4, 4)
	payload = makePayload(t, types.SubmitRatingTransaction{
		ActivityID: 1, Scores: scores, ScoreProofs: proofs,
	})
	err = cmd.submitRating(snap, makeStep(t, rater, PayloadArg, payload))
	require.NoError(t, err)

	has, err := HasRated(snap, 1, rater)
	require.NoError(t, err)
	require.True(t, has)

	// The replaced accumulators stay decryptable by the organizer, while the
	// rater holds no capability on them.
	sum, err := GetDimensionAverage(snap, 1, 0)
	require.NoError(t, err)

	count, err := GetDimensionCount(snap, 1, 0)
	require.NoError(t, err)

	for _, h := range []fhe.Handle{sum, count} {
		require.NoError(t, cmd.acl.Match(snap, NewHandleCreds(h), cmd.actor.Identity()))
		require.NoError(t, cmd.acl.Match(snap, NewHandleCreds(h), organizer))
		require.Error(t, cmd.acl.Match(snap, NewHandleCreds(h), rater))
	}

	err = cmd.submitRating(snap, makeStep(t, rater, PayloadArg, payload))
	require.EqualError(t, err, "'fake:1' already rated activity 1")
	require.Equal(t, CodeConflict, CodeOf(err))

	has, err = HasRated(snap, 1, rater)
	require.NoError(t, err)
	require.True(t, has)
}

func TestCommand_SubmitComment(t *testing.T) {
	contract, cmd, enc := makeContract(t)
	organizer := fake.PublicKey{}
	commenter := fake.PublicKey{Index: 1}

	contract.clock = func() time.Time { return time.Unix(50, 0) }

	snap := prefixed.NewSnapshot(ContractUID, fake.NewSnapshot())

	payload := makePayload(t, types.SubmitCommentTransaction{ActivityID: 1})
	err := cmd.submitComment(snap, makeStep(t, commenter, PayloadArg, payload))
	require.EqualError(t, err, "activity 1 not found")

	createActivity(t, cmd, enc, snap, organizer, 10, 100, []uint64{1})

	contract.clock = func() time.Time { return time.Unix(500, 0) }
	err = cmd.submitComment(snap, makeStep(t, commenter, PayloadArg, payload))
	require.Equal(t, CodeWindow, CodeOf(err))

	contract.clock = func() time.Time { return time.Unix(50, 0) }

	ct, proof, err := enc.EncryptBytes([]byte("blunt but fair"), commenter)
	require.NoError(t, err)

	payload = makePayload(t, types.SubmitCommentTransaction{
		ActivityID: 1, Comment: ct, Proof: proof,
	})
	err = cmd.submitComment(snap, makeStep(t, commenter, PayloadArg, payload))
	require.NoError(t, err)

	has, err := HasCommented(snap, 1, commenter)
	require.NoError(t, err)
	require.True(t, has)

	handle, err := GetComment(snap, 1, commenter)
	require.NoError(t, err)

	// Organizer-only visibility: the engine and the organizer hold the
	// capability, the commenter does not.
	require.NoError(t, cmd.acl.Match(snap, NewHandleCreds(handle), cmd.actor.Identity()))
	require.NoError(t, cmd.acl.Match(snap, NewHandleCreds(handle), organizer))
	err = cmd.acl.Match(snap, NewHandleCreds(handle), commenter)
	require.EqualError(t, err,
		"identity 'fake:1' is not authorized for rule 'go.dedis.ch/sondage.Rating:decrypt'")

	err = cmd.submitComment(snap, makeStep(t, commenter, PayloadArg, payload))
	require.EqualError(t, err, "'fake:1' already commented on activity 1")
	require.Equal(t, CodeConflict, CodeOf(err))

	_, err = GetComment(snap, 1, organizer)
	require.EqualError(t, err, "no comment from 'fake:0' on activity 1")
	require.Equal(t, CodeNotFound, CodeOf(err))
}

func TestReads_Accessors(t *testing.T) {
	_, cmd, enc := makeContract(t)
	organizer := fake.PublicKey{}

	snap := prefixed.NewSnapshot(ContractUID, fake.NewSnapshot())

	createActivity(t, cmd, enc, snap, organizer, 10, 100, []uint64{1, 1})

	for _, accessor := range []func(store.Readable, uint64, int) (interface{}, error){
		func(r store.Readable, id uint64, dim int) (interface{}, error) {
			return GetDimensionAverage(r, id, dim)
		},
		func(r store.Readable, id uint64, dim int) (interface{}, error) {
			return GetDimensionCount(r, id, dim)
		},
	} {
		_, err := accessor(snap, 9, 0)
		require.Equal(t, CodeNotFound, CodeOf(err))

		_, err = accessor(snap, 1, 2)
		require.EqualError(t, err, "dimension 2 out of range [0, 2)")
		require.Equal(t, CodeValidation, CodeOf(err))

		_, err = accessor(snap, 1, -1)
		require.Equal(t, CodeValidation, CodeOf(err))

		handle, err := accessor(snap, 1, 1)
		require.NoError(t, err)
		require.NotNil(t, handle)
	}

	_, err := GetWeightedTotalScore(snap, 9)
	require.Equal(t, CodeNotFound, CodeOf(err))

	_, err = GetTotalRatings(snap, 9)
	require.Equal(t, CodeNotFound, CodeOf(err))

	has, err := HasRated(snap, 9, organizer)
	require.NoError(t, err)
	require.False(t, has)

	has, err = HasCommented(snap, 9, organizer)
	require.NoError(t, err)
	require.False(t, has)
}

// -----------------------------------------------------------------------------
// Utility functions

func createActivity(t *testing.T, cmd ratingCommand, enc naive.Encryptor,
	snap store.Snapshot, organizer fake.PublicKey, start, end int64, weights []uint64) {

	cts, proofs := encrypt(t, enc, organizer, weights...)

	payload := makePayload(t, types.CreateActivityTransaction{
		Start:          start,
		End:            end,
		DimensionCount: len(weights),
		Weights:        cts,
		WeightProofs:   proofs,
	})

	err := cmd.createActivity(snap, makeStep(t, organizer, PayloadArg, payload))
	require.NoError(t, err)
}
