// Package fhe defines the encrypted value capability consumed by the rating
// contract.
//
// The capability is the only component that ever touches ciphertext
// contents. The contract manipulates opaque handles: it ingests externally
// encrypted values after their validity proof has been verified, derives new
// handles with the homomorphic operations, and never observes a plaintext.
// Decryption happens outside the contract, through the authorized
// decryption flow that checks the per-handle grants.
package fhe

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"go.dedis.ch/sondage/core/access"
	"golang.org/x/xerrors"
)

// ErrInvalidProof is returned by an actor when the validity proof of an
// ingested ciphertext does not verify against the submitter and the
// contract.
var ErrInvalidProof = xerrors.New("invalid validity proof")

// Handle is an opaque reference to an encrypted value. It carries no
// plaintext information to the holder.
type Handle []byte

// Bytes returns a copy of the raw handle, typically to build the credential
// identifier of its access control list.
func (h Handle) Bytes() []byte {
	return append([]byte{}, h...)
}

// String returns a human readable form of the handle.
func (h Handle) String() string {
	return hex.EncodeToString(h)
}

// Capability defines the primitive to obtain an actor of the encrypted value
// capability.
type Capability interface {
	// Listen returns an actor bound to the given contract name. The contract
	// name is the domain the validity proofs are bound to.
	Listen(contract string) (Actor, error)
}

// Actor defines the primitives the contract uses on encrypted values. All
// the operations are synchronous within the scope of a transaction: a real
// deployment may back them with an asynchronous coprocessor, but that
// asynchrony stays hidden behind this boundary.
type Actor interface {
	// Ingest verifies the validity proof of an externally encrypted value,
	// bound to the submitter and the contract, and returns a fresh handle
	// referencing it. It returns an error wrapping ErrInvalidProof when the
	// proof does not verify.
	Ingest(ciphertext, proof []byte, submitter access.Identity) (Handle, error)

	// Add returns a handle whose plaintext is the sum of the plaintexts of
	// the two operands.
	Add(a, b Handle) (Handle, error)

	// Mul returns a handle whose plaintext is the product of the plaintexts
	// of the two operands.
	Mul(a, b Handle) (Handle, error)

	// Constant mints a handle encrypting the given value.
	Constant(value uint64) (Handle, error)

	// Identity returns the identity of the engine itself, the principal that
	// must keep the decryption capability of every accumulator so that
	// future homomorphic operations stay possible.
	Identity() access.Identity

	// Reveal decrypts the handle. It must only be called by the authorized
	// decryption flow, after the requester's grant has been checked.
	Reveal(h Handle) (uint64, error)
}

// BindingDigest computes the digest over which a validity proof is
// established. It binds the ciphertext to the submitter and to a contract
// name so that a proof cannot be replayed for another submitter or another
// contract.
func BindingDigest(ciphertext, submitter []byte, contract string) []byte {
	h := sha256.New()

	for _, part := range [][]byte{ciphertext, submitter, []byte(contract)} {
		length := make([]byte, 4)
		binary.LittleEndian.PutUint32(length, uint32(len(part)))

		h.Write(length)
		h.Write(part)
	}

	return h.Sum(nil)
}
