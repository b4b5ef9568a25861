package rating

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/sondage/contracts/rating/types"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/core/execution/native"
	"go.dedis.ch/sondage/core/store/mem"
	"go.dedis.ch/sondage/decrypt"
	"go.dedis.ch/sondage/fhe"
	"go.dedis.ch/sondage/fhe/naive"
	"go.dedis.ch/sondage/internal/testing/fake"
)

// env runs a full engine against the naive backend: the native execution
// service, the rating contract and the authorized decryption flow share one
// committed snapshot.
type env struct {
	t        *testing.T
	exec     *native.Service
	snap     *mem.Snapshot
	actor    fhe.Actor
	enc      naive.Encryptor
	contract Contract
	decrypt  decrypt.Service
}

func newEnv(t *testing.T) *env {
	actor, err := naive.NewCapability().Listen(ContractName)
	require.NoError(t, err)

	contract := NewContract([]byte{}, &fake.AccessService{}, actor)

	exec := native.NewExecution()
	RegisterContract(exec, contract)

	return &env{
		t:        t,
		exec:     exec,
		snap:     mem.NewSnapshot(),
		actor:    actor,
		enc:      naive.NewEncryptor(ContractName),
		contract: contract,
		decrypt:  decrypt.NewService(contract.ACL(), actor, NewHandleCreds),
	}
}

func (e *env) execute(ident access.Identity, cmd Command, payload interface{}) (bool, string) {
	step := makeStep(e.t, ident,
		native.ContractArg, ContractName,
		CmdArg, string(cmd),
		PayloadArg, makePayload(e.t, payload))

	res, err := e.exec.Execute(e.snap, step)
	require.NoError(e.t, err)

	return res.Accepted, res.Message
}

func (e *env) createActivity(organizer fake.PublicKey, start, end int64, weights ...uint64) {
	cts, proofs := encrypt(e.t, e.enc, organizer, weights...)

	accepted, msg := e.execute(organizer, CmdCreateActivity, types.CreateActivityTransaction{
		Start:          start,
		End:            end,
		DimensionCount: len(weights),
		Weights:        cts,
		WeightProofs:   proofs,
	})
	require.True(e.t, accepted, msg)
}

func (e *env) submitRating(rater fake.PublicKey, id uint64, scores ...uint64) (bool, string) {
	cts, proofs := encrypt(e.t, e.enc, rater, scores...)

	return e.execute(rater, CmdSubmitRating, types.SubmitRatingTransaction{
		ActivityID:  id,
		Scores:      cts,
		ScoreProofs: proofs,
	})
}

// reveal decrypts a handle as the requester, going through the grant check.
func (e *env) reveal(requester access.Identity, h fhe.Handle) uint64 {
	values, err := e.decrypt.Reveal(NewReadable(e.snap), requester, h)
	require.NoError(e.t, err)

	return values[0]
}

func (e *env) dimensionSum(id uint64, dim int) fhe.Handle {
	h, err := GetDimensionAverage(NewReadable(e.snap), id, dim)
	require.NoError(e.t, err)

	return h
}

func (e *env) dimensionCount(id uint64, dim int) fhe.Handle {
	h, err := GetDimensionCount(NewReadable(e.snap), id, dim)
	require.NoError(e.t, err)

	return h
}

func (e *env) totals(id uint64) (fhe.Handle, fhe.Handle) {
	weighted, err := GetWeightedTotalScore(NewReadable(e.snap), id)
	require.NoError(e.t, err)

	count, err := GetTotalRatings(NewReadable(e.snap), id)
	require.NoError(e.t, err)

	return weighted, count
}

func TestScenario_Accumulation(t *testing.T) {
	e := newEnv(t)

	organizer := fake.PublicKey{}
	raterA := fake.PublicKey{Index: 1}
	raterB := fake.PublicKey{Index: 2}

	now := time.Now().Unix()

	e.createActivity(organizer, now-1000, now+1000, 1, 1, 1)

	accepted, msg := e.submitRating(raterA, 1, 4, 4, 4)
	require.True(t, accepted, msg)
	accepted, msg = e.submitRating(raterB, 1, 5, 5, 5)
	require.True(t, accepted, msg)

	weighted, count := e.totals(1)
	require.Equal(t, uint64(2), e.reveal(organizer, count))
	require.Equal(t, uint64(27), e.reveal(organizer, weighted))

	for dim := 0; dim < 3; dim++ {
		require.Equal(t, uint64(9), e.reveal(organizer, e.dimensionSum(1, dim)))
		require.Equal(t, uint64(2), e.reveal(organizer, e.dimensionCount(1, dim)))
	}

	// A rater holds no capability on the accumulators.
	_, err := e.decrypt.Reveal(NewReadable(e.snap), raterA, count)
	require.Error(t, err)

	e.createActivity(organizer, now-1000, now+1000, 1, 1)

	accepted, msg = e.submitRating(raterA, 2, 3, 4)
	require.True(t, accepted, msg)
	accepted, msg = e.submitRating(raterB, 2, 5, 5)
	require.True(t, accepted, msg)

	require.Equal(t, uint64(8), e.reveal(organizer, e.dimensionSum(2, 0)))
	require.Equal(t, uint64(9), e.reveal(organizer, e.dimensionSum(2, 1)))
	require.Equal(t, uint64(2), e.reveal(organizer, e.dimensionCount(2, 0)))
	require.Equal(t, uint64(2), e.reveal(organizer, e.dimensionCount(2, 1)))
}

func TestScenario_DuplicateRating(t *testing.T) {
	e := newEnv(t)

	organizer := fake.PublicKey{}
	rater := fake.PublicKey{Index: 1}

	now := time.Now().Unix()

	e.createActivity(organizer, now-1000, now+1000, 1)

	accepted, msg := e.submitRating(rater, 1, 4)
	require.True(t, accepted, msg)

	accepted, msg = e.submitRating(rater, 1, 5)
	require.False(t, accepted)
	require.Contains(t, msg, "already rated activity 1")

	// Only the first submission took effect.
	require.Equal(t, uint64(4), e.reveal(organizer, e.dimensionSum(1, 0)))
	require.Equal(t, uint64(1), e.reveal(organizer, e.dimensionCount(1, 0)))

	has, err := HasRated(NewReadable(e.snap), 1, rater)
	require.NoError(t, err)
	require.True(t, has)
}

func TestScenario_ClosedWindow(t *testing.T) {
	e := newEnv(t)

	organizer := fake.PublicKey{}
	rater := fake.PublicKey{Index: 1}

	now := time.Now().Unix()

	// The window closed in the past: creation succeeds, submission fails.
	e.createActivity(organizer, now-2000, now-1000, 1)

	accepted, msg := e.submitRating(rater, 1, 4)
	require.False(t, accepted)
	require.Contains(t, msg, "window")

	require.Equal(t, uint64(0), e.reveal(organizer, e.dimensionSum(1, 0)))
	require.Equal(t, uint64(0), e.reveal(organizer, e.dimensionCount(1, 0)))

	_, count := e.totals(1)
	require.Equal(t, uint64(0), e.reveal(organizer, count))
}

func TestScenario_UpdateWeights(t *testing.T) {
	e := newEnv(t)

	organizer := fake.PublicKey{}
	rater := fake.PublicKey{Index: 1}
	intruder := fake.PublicKey{Index: 2}

	now := time.Now().Unix()

	e.createActivity(organizer, now-1000, now+1000, 1, 1)

	before, err := readActivity(NewReadable(e.snap), 1)
	require.NoError(t, err)

	cts, proofs := encrypt(e.t, e.enc, intruder, 9, 9)
	accepted, msg := e.execute(intruder, CmdUpdateWeights, types.UpdateWeightsTransaction{
		ActivityID: 1, Weights: cts, WeightProofs: proofs,
	})
	require.False(t, accepted)
	require.Contains(t, msg, "is not the organizer")

	after, err := readActivity(NewReadable(e.snap), 1)
	require.NoError(t, err)
	require.Equal(t, before.Weights, after.Weights)

	// Weight change only applies to future ratings: rater A was weighted by
	// [1, 1], rater B by [2, 3].
	accepted, msg = e.submitRating(rater, 1, 4, 4)
	require.True(t, accepted, msg)

	cts, proofs = encrypt(e.t, e.enc, organizer, 2, 3)
	accepted, msg = e.execute(organizer, CmdUpdateWeights, types.UpdateWeightsTransaction{
		ActivityID: 1, Weights: cts, WeightProofs: proofs,
	})
	require.True(t, accepted, msg)

	weighted, _ := e.totals(1)
	require.Equal(t, uint64(8), e.reveal(organizer, weighted))

	accepted, msg = e.submitRating(fake.PublicKey{Index: 3}, 1, 1, 1)
	require.True(t, accepted, msg)

	weighted, count := e.totals(1)
	require.Equal(t, uint64(13), e.reveal(organizer, weighted))
	require.Equal(t, uint64(2), e.reveal(organizer, count))
}

func TestScenario_CommentRoundTrip(t *testing.T) {
	e := newEnv(t)

	organizer := fake.PublicKey{}
	commenter := fake.PublicKey{Index: 1}

	now := time.Now().Unix()

	e.createActivity(organizer, now-1000, now+1000, 1)

	ct, proof, err := e.enc.EncryptBytes([]byte("would rate again"), commenter)
	require.NoError(t, err)

	payload := types.SubmitCommentTransaction{ActivityID: 1, Comment: ct, Proof: proof}

	accepted, msg := e.execute(commenter, CmdSubmitComment, payload)
	require.True(t, accepted, msg)

	handle, err := GetComment(NewReadable(e.snap), 1, commenter)
	require.NoError(t, err)

	acl := e.contract.ACL()
	require.NoError(t, acl.Match(NewReadable(e.snap), NewHandleCreds(handle), organizer))
	require.Error(t, acl.Match(NewReadable(e.snap), NewHandleCreds(handle), commenter))

	ct, proof, err = e.enc.EncryptBytes([]byte("changed my mind"), commenter)
	require.NoError(t, err)

	accepted, msg = e.execute(commenter, CmdSubmitComment,
		types.SubmitCommentTransaction{ActivityID: 1, Comment: ct, Proof: proof})
	require.False(t, accepted)
	require.Contains(t, msg, "already commented")

	_, err = GetComment(NewReadable(e.snap), 1, organizer)
	require.Equal(t, CodeNotFound, CodeOf(err))
}
