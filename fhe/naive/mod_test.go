package naive

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/fhe"
)

func TestCapability_Listen(t *testing.T) {
	c := NewCapability()

	actor, err := c.Listen("deadbeef")
	require.NoError(t, err)
	require.NotNil(t, actor)
	require.Equal(t, access.TextIdentity("sondage:naive:deadbeef"), actor.Identity())
}

func TestActor_Ingest(t *testing.T) {
	actor, enc := makeActor(t)

	alice := access.TextIdentity("alice")

	ct, proof, err := enc.Encrypt(42, alice)
	require.NoError(t, err)

	handle, err := actor.Ingest(ct, proof, alice)
	require.NoError(t, err)

	value, err := actor.Reveal(handle)
	require.NoError(t, err)
	require.Equal(t, uint64(42), value)
}

func TestActor_BadProof_Ingest(t *testing.T) {
	actor, enc := makeActor(t)

	alice := access.TextIdentity("alice")
	bob := access.TextIdentity("bob")

	ct, proof, err := enc.Encrypt(42, alice)
	require.NoError(t, err)

	// Proof bound to alice does not pass for bob.
	_, err = actor.Ingest(ct, proof, bob)
	require.ErrorIs(t, err, fhe.ErrInvalidProof)

	// Tampered ciphertext does not pass either.
	ct[1] ^= 0xff
	_, err = actor.Ingest(ct, proof, alice)
	require.ErrorIs(t, err, fhe.ErrInvalidProof)
}

func TestActor_WrongContract_Ingest(t *testing.T) {
	actor, _ := makeActor(t)

	alice := access.TextIdentity("alice")

	ct, proof, err := NewEncryptor("other").Encrypt(42, alice)
	require.NoError(t, err)

	_, err = actor.Ingest(ct, proof, alice)
	require.ErrorIs(t, err, fhe.ErrInvalidProof)
}

func TestActor_Add(t *testing.T) {
	actor, _ := makeActor(t)

	x, err := actor.Constant(3)
	require.NoError(t, err)

	y, err := actor.Constant(4)
	require.NoError(t, err)

	sum, err := actor.Add(x, y)
	require.NoError(t, err)
	require.NotEqual(t, x, sum)

	value, err := actor.Reveal(sum)
	require.NoError(t, err)
	require.Equal(t, uint64(7), value)

	_, err = actor.Add(fhe.Handle("nope"), y)
	require.EqualError(t, err, "left operand: unknown handle '6e6f7065'")
}

func TestActor_Mul(t *testing.T) {
	actor, _ := makeActor(t)

	x, err := actor.Constant(3)
	require.NoError(t, err)

	y, err := actor.Constant(5)
	require.NoError(t, err)

	product, err := actor.Mul(x, y)
	require.NoError(t, err)

	value, err := actor.Reveal(product)
	require.NoError(t, err)
	require.Equal(t, uint64(15), value)

	_, err = actor.Mul(x, fhe.Handle("nope"))
	require.EqualError(t, err, "right operand: unknown handle '6e6f7065'")
}

func TestActor_Wraparound_Add(t *testing.T) {
	actor, _ := makeActor(t)

	x, err := actor.Constant(Modulus - 1)
	require.NoError(t, err)

	y, err := actor.Constant(2)
	require.NoError(t, err)

	sum, err := actor.Add(x, y)
	require.NoError(t, err)

	value, err := actor.Reveal(sum)
	require.NoError(t, err)
	require.Equal(t, uint64(1), value)
}

func TestActor_Reveal(t *testing.T) {
	actor, enc := makeActor(t)

	_, err := actor.Reveal(fhe.Handle("nope"))
	require.EqualError(t, err, "unknown handle '6e6f7065'")

	alice := access.TextIdentity("alice")

	ct, proof, err := enc.EncryptBytes([]byte("hello"), alice)
	require.NoError(t, err)

	handle, err := actor.Ingest(ct, proof, alice)
	require.NoError(t, err)

	// A blob handle cannot be revealed as a number.
	_, err = actor.Reveal(handle)
	require.Regexp(t, "is not numeric$", err.Error())
}

func makeActor(t *testing.T) (fhe.Actor, Encryptor) {
	actor, err := NewCapability().Listen("deadbeef")
	require.NoError(t, err)

	return actor, NewEncryptor("deadbeef")
}
