// Package naive implements the encrypted value capability with plaintext
// bookkeeping.
//
// The backend keeps the values in clear in memory and only mimics the
// ciphertext lifecycle: opaque handles, binding digests as validity proofs,
// arithmetic over a fixed-width unsigned domain. It offers NO
// confidentiality whatsoever and exists for development and for unit tests
// that need to assert decrypted aggregates deterministically. Production
// deployments use the bfv backend.
package naive

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/rs/xid"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/fhe"
	"golang.org/x/xerrors"
)

// Modulus is the size of the plaintext domain. The arithmetic is performed
// over 32-bit unsigned integers, matching the reference deployment.
const Modulus = uint64(1) << 32

const (
	tagNumeric = 0x01
	tagBlob    = 0x02
)

// Capability mints naive actors.
//
// - implements fhe.Capability
type Capability struct{}

// NewCapability creates a new naive capability.
func NewCapability() Capability {
	return Capability{}
}

// Listen implements fhe.Capability. It returns an actor bound to the
// contract name.
func (c Capability) Listen(contract string) (fhe.Actor, error) {
	return &Actor{
		contract: contract,
		values:   make(map[string][]byte),
	}, nil
}

// Actor is the naive encrypted value actor. The stored values are only
// reachable through their handle.
//
// - implements fhe.Actor
type Actor struct {
	sync.Mutex

	contract string
	values   map[string][]byte
}

// Ingest implements fhe.Actor. It checks the binding digest of the
// ciphertext against the submitter and the contract, and registers the value
// under a fresh handle.
func (a *Actor) Ingest(ciphertext, proof []byte, submitter access.Identity) (fhe.Handle, error) {
	text, err := submitter.MarshalText()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal submitter: %v", err)
	}

	if !bytes.Equal(proof, fhe.BindingDigest(ciphertext, text, a.contract)) {
		return nil, xerrors.Errorf("ingesting for '%s': %w", text, fhe.ErrInvalidProof)
	}

	if len(ciphertext) == 0 {
		return nil, xerrors.New("empty ciphertext")
	}

	return a.register(ciphertext), nil
}

// Add implements fhe.Actor. It returns a fresh handle holding the modular
// sum of the two operands.
func (a *Actor) Add(x, y fhe.Handle) (fhe.Handle, error) {
	vx, err := a.value(x)
	if err != nil {
		return nil, xerrors.Errorf("left operand: %v", err)
	}

	vy, err := a.value(y)
	if err != nil {
		return nil, xerrors.Errorf("right operand: %v", err)
	}

	return a.registerNumeric((vx + vy) % Modulus), nil
}

// Mul implements fhe.Actor. It returns a fresh handle holding the modular
// product of the two operands.
func (a *Actor) Mul(x, y fhe.Handle) (fhe.Handle, error) {
	vx, err := a.value(x)
	if err != nil {
		return nil, xerrors.Errorf("left operand: %v", err)
	}

	vy, err := a.value(y)
	if err != nil {
		return nil, xerrors.Errorf("right operand: %v", err)
	}

	return a.registerNumeric((vx * vy) % Modulus), nil
}

// Constant implements fhe.Actor. It mints a handle for the value.
func (a *Actor) Constant(value uint64) (fhe.Handle, error) {
	return a.registerNumeric(value % Modulus), nil
}

// Identity implements fhe.Actor. It returns the engine-self principal of
// this actor.
func (a *Actor) Identity() access.Identity {
	return access.TextIdentity("sondage:naive:" + a.contract)
}

// Reveal implements fhe.Actor. It returns the value referenced by the
// handle.
func (a *Actor) Reveal(h fhe.Handle) (uint64, error) {
	return a.value(h)
}

func (a *Actor) register(ciphertext []byte) fhe.Handle {
	a.Lock()
	defer a.Unlock()

	handle := fhe.Handle(xid.New().Bytes())
	a.values[string(handle)] = append([]byte{}, ciphertext...)

	return handle
}

func (a *Actor) registerNumeric(value uint64) fhe.Handle {
	buffer := make([]byte, 9)
	buffer[0] = tagNumeric
	binary.BigEndian.PutUint64(buffer[1:], value)

	return a.register(buffer)
}

func (a *Actor) value(h fhe.Handle) (uint64, error) {
	a.Lock()
	defer a.Unlock()

	blob, ok := a.values[string(h)]
	if !ok {
		return 0, xerrors.Errorf("unknown handle '%s'", h)
	}

	if len(blob) < 9 || blob[0] != tagNumeric {
		return 0, xerrors.Errorf("handle '%s' is not numeric", h)
	}

	return binary.BigEndian.Uint64(blob[1:9]), nil
}

// Encryptor is the client-side helper producing the (ciphertext, proof)
// pairs an actor accepts for a given contract.
type Encryptor struct {
	contract string
}

// NewEncryptor creates an encryptor bound to the contract name.
func NewEncryptor(contract string) Encryptor {
	return Encryptor{contract: contract}
}

// Encrypt encrypts the value for the submitter. The returned proof binds the
// ciphertext to the submitter and the contract.
func (e Encryptor) Encrypt(value uint64, submitter access.Identity) (ciphertext, proof []byte, err error) {
	buffer := make([]byte, 9)
	buffer[0] = tagNumeric
	binary.BigEndian.PutUint64(buffer[1:], value%Modulus)

	// A nonce keeps two encryptions of the same value distinguishable.
	ciphertext = append(buffer, xid.New().Bytes()...)

	return e.seal(ciphertext, submitter)
}

// EncryptBytes encrypts an opaque payload, such as a comment, for the
// submitter.
func (e Encryptor) EncryptBytes(payload []byte, submitter access.Identity) (ciphertext, proof []byte, err error) {
	ciphertext = append([]byte{tagBlob}, payload...)
	ciphertext = append(ciphertext, xid.New().Bytes()...)

	return e.seal(ciphertext, submitter)
}

func (e Encryptor) seal(ciphertext []byte, submitter access.Identity) ([]byte, []byte, error) {
	text, err := submitter.MarshalText()
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to marshal submitter: %v", err)
	}

	return ciphertext, fhe.BindingDigest(ciphertext, text, e.contract), nil
}
