// Package bfv implements the encrypted value capability on top of the BFV
// homomorphic scheme of Lattigo.
//
// Submitters encrypt their values under the actor's public key and sign the
// binding digest of the ciphertext with a Schnorr signature, which the actor
// verifies as the validity proof. The actor keeps the secret key and only
// releases a plaintext through Reveal, which the authorized decryption flow
// gates with the per-handle grants.
package bfv

import (
	"encoding/hex"
	"sync"

	"github.com/ldsec/lattigo/bfv"
	"github.com/rs/xid"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/suites"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/fhe"
	"golang.org/x/xerrors"
)

// PlaintextModulus is the plaintext modulus of the scheme, the NTT-friendly
// prime 2^32 - 2^20 + 1, so that the aggregates live in a 32-bit domain.
const PlaintextModulus = 4293918721

var suite = suites.MustFind("Ed25519")

// Identity is a Schnorr public key acting as a principal.
//
// - implements access.Identity
type Identity struct {
	point kyber.Point
}

// NewIdentity creates an identity from a public key.
func NewIdentity(point kyber.Point) Identity {
	return Identity{point: point}
}

// Point returns the public key of the identity.
func (i Identity) Point() kyber.Point {
	return i.point
}

// MarshalText implements encoding.TextMarshaler. It returns the hexadecimal
// form of the public key.
func (i Identity) MarshalText() ([]byte, error) {
	data, err := i.point.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal point: %v", err)
	}

	return []byte(hex.EncodeToString(data)), nil
}

// String returns a human readable form of the identity.
func (i Identity) String() string {
	text, err := i.MarshalText()
	if err != nil {
		return "bfv.Identity[malformed]"
	}

	return string(text)
}

// Capability mints BFV actors.
//
// - implements fhe.Capability
type Capability struct {
	params *bfv.Parameters
}

// NewCapability creates a capability with the default parameter set.
func NewCapability() Capability {
	params := bfv.DefaultParams[bfv.PN14QP438]
	params.T = PlaintextModulus

	return Capability{params: params}
}

// Listen implements fhe.Capability. It generates the key material of the
// actor and binds it to the contract name.
func (c Capability) Listen(contract string) (fhe.Actor, error) {
	keygen := bfv.NewKeyGenerator(c.params)

	sk, pk := keygen.GenKeyPair()
	rlk := keygen.GenRelinKey(sk, 1)

	return &Actor{
		contract:  contract,
		params:    c.params,
		sk:        sk,
		pk:        pk,
		rlk:       rlk,
		evaluator: bfv.NewEvaluator(c.params),
		store:     make(map[string]*bfv.Ciphertext),
	}, nil
}

// Actor holds the key material of a contract and the ciphertexts reachable
// through their handle.
//
// - implements fhe.Actor
type Actor struct {
	sync.Mutex

	contract  string
	params    *bfv.Parameters
	sk        *bfv.SecretKey
	pk        *bfv.PublicKey
	rlk       *bfv.EvaluationKey
	evaluator bfv.Evaluator
	store     map[string]*bfv.Ciphertext
}

// PublicKey returns the marshaled encryption key, to be distributed to the
// clients.
func (a *Actor) PublicKey() ([]byte, error) {
	data, err := a.pk.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal public key: %v", err)
	}

	return data, nil
}

// Ingest implements fhe.Actor. It verifies the Schnorr signature over the
// binding digest against the submitter's public key, then registers the
// ciphertext under a fresh handle.
func (a *Actor) Ingest(ciphertext, proof []byte, submitter access.Identity) (fhe.Handle, error) {
	ident, ok := submitter.(Identity)
	if !ok {
		return nil, xerrors.Errorf("submitter of type '%T' has no public key", submitter)
	}

	text, err := ident.MarshalText()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal submitter: %v", err)
	}

	digest := fhe.BindingDigest(ciphertext, text, a.contract)

	err = schnorr.Verify(suite, ident.Point(), digest, proof)
	if err != nil {
		return nil, xerrors.Errorf("ingesting for '%s': %w", text, fhe.ErrInvalidProof)
	}

	ct := bfv.NewCiphertext(a.params, 1)

	err = ct.UnmarshalBinary(ciphertext)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal ciphertext: %v", err)
	}

	return a.register(ct), nil
}

// Add implements fhe.Actor. It returns a fresh handle to the homomorphic sum
// of the operands.
func (a *Actor) Add(x, y fhe.Handle) (fhe.Handle, error) {
	cx, err := a.ciphertext(x)
	if err != nil {
		return nil, xerrors.Errorf("left operand: %v", err)
	}

	cy, err := a.ciphertext(y)
	if err != nil {
		return nil, xerrors.Errorf("right operand: %v", err)
	}

	a.Lock()
	sum := a.evaluator.AddNew(cx, cy)
	a.Unlock()

	return a.register(sum), nil
}

// Mul implements fhe.Actor. It returns a fresh handle to the relinearized
// homomorphic product of the operands.
func (a *Actor) Mul(x, y fhe.Handle) (fhe.Handle, error) {
	cx, err := a.ciphertext(x)
	if err != nil {
		return nil, xerrors.Errorf("left operand: %v", err)
	}

	cy, err := a.ciphertext(y)
	if err != nil {
		return nil, xerrors.Errorf("right operand: %v", err)
	}

	a.Lock()
	product := a.evaluator.MulNew(cx, cy)
	product = a.evaluator.RelinearizeNew(product, a.rlk)
	a.Unlock()

	return a.register(product), nil
}

// Constant implements fhe.Actor. It encrypts the value under the actor's own
// key and mints a handle for it.
func (a *Actor) Constant(value uint64) (fhe.Handle, error) {
	encoder := bfv.NewEncoder(a.params)
	encryptor := bfv.NewEncryptorFromPk(a.params, a.pk)

	pt := bfv.NewPlaintext(a.params)
	encoder.EncodeUint([]uint64{value % PlaintextModulus}, pt)

	return a.register(encryptor.EncryptNew(pt)), nil
}

// Identity implements fhe.Actor. It returns the engine-self principal of
// this actor.
func (a *Actor) Identity() access.Identity {
	return access.TextIdentity("sondage:bfv:" + a.contract)
}

// Reveal implements fhe.Actor. It decrypts the handle and decodes the first
// slot.
func (a *Actor) Reveal(h fhe.Handle) (uint64, error) {
	slots, err := a.decode(h)
	if err != nil {
		return 0, err
	}

	return slots[0], nil
}

// RevealBytes decrypts a handle holding an opaque payload packed by
// Client.EncryptBytes.
func (a *Actor) RevealBytes(h fhe.Handle) ([]byte, error) {
	slots, err := a.decode(h)
	if err != nil {
		return nil, err
	}

	return unpackBytes(slots)
}

func (a *Actor) decode(h fhe.Handle) ([]uint64, error) {
	ct, err := a.ciphertext(h)
	if err != nil {
		return nil, err
	}

	decryptor := bfv.NewDecryptor(a.params, a.sk)
	encoder := bfv.NewEncoder(a.params)

	pt := bfv.NewPlaintext(a.params)
	decryptor.Decrypt(ct, pt)

	return encoder.DecodeUint(pt), nil
}

func (a *Actor) register(ct *bfv.Ciphertext) fhe.Handle {
	a.Lock()
	defer a.Unlock()

	handle := fhe.Handle(xid.New().Bytes())
	a.store[string(handle)] = ct

	return handle
}

func (a *Actor) ciphertext(h fhe.Handle) (*bfv.Ciphertext, error) {
	a.Lock()
	defer a.Unlock()

	ct, ok := a.store[string(h)]
	if !ok {
		return nil, xerrors.Errorf("unknown handle '%s'", h)
	}

	return ct, nil
}

// Client encrypts values under an actor's public key and signs their binding
// digests, producing the (ciphertext, proof) pairs Ingest accepts.
type Client struct {
	contract string
	params   *bfv.Parameters
	pk       *bfv.PublicKey
	sk       kyber.Scalar
	point    kyber.Point
}

// NewClient creates a client for the actor, with a fresh Schnorr key pair as
// its identity.
func NewClient(actor *Actor) (*Client, error) {
	sk := suite.Scalar().Pick(suite.RandomStream())

	return &Client{
		contract: actor.contract,
		params:   actor.params,
		pk:       actor.pk,
		sk:       sk,
		point:    suite.Point().Mul(sk, nil),
	}, nil
}

// Identity returns the principal of the client.
func (c *Client) Identity() access.Identity {
	return Identity{point: c.point}
}

// Encrypt encrypts the value and signs its binding digest.
func (c *Client) Encrypt(value uint64) (ciphertext, proof []byte, err error) {
	return c.seal([]uint64{value % PlaintextModulus})
}

// EncryptBytes encrypts an opaque payload, such as a comment, by packing it
// into plaintext slots.
func (c *Client) EncryptBytes(payload []byte) (ciphertext, proof []byte, err error) {
	slots, err := packBytes(payload, 1<<c.params.LogN)
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to pack payload: %v", err)
	}

	return c.seal(slots)
}

func (c *Client) seal(slots []uint64) ([]byte, []byte, error) {
	encoder := bfv.NewEncoder(c.params)
	encryptor := bfv.NewEncryptorFromPk(c.params, c.pk)

	pt := bfv.NewPlaintext(c.params)
	encoder.EncodeUint(slots, pt)

	ciphertext, err := encryptor.EncryptNew(pt).MarshalBinary()
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to marshal ciphertext: %v", err)
	}

	text, err := c.Identity().MarshalText()
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to marshal identity: %v", err)
	}

	proof, err := schnorr.Sign(suite, c.sk, fhe.BindingDigest(ciphertext, text, c.contract))
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to sign digest: %v", err)
	}

	return ciphertext, proof, nil
}

// packBytes lays a payload out in plaintext slots, the length in slot zero
// and three bytes per subsequent slot so that every slot value stays below
// the plaintext modulus.
func packBytes(payload []byte, slots int) ([]uint64, error) {
	if (len(payload)+2)/3+1 > slots {
		return nil, xerrors.Errorf("payload of %d bytes exceeds capacity", len(payload))
	}

	out := make([]uint64, 1, (len(payload)+2)/3+1)
	out[0] = uint64(len(payload))

	for i := 0; i < len(payload); i += 3 {
		var slot uint64
		for j := i; j < i+3 && j < len(payload); j++ {
			slot = slot<<8 | uint64(payload[j])
		}
		out = append(out, slot)
	}

	return out, nil
}

func unpackBytes(slots []uint64) ([]byte, error) {
	if len(slots) == 0 {
		return nil, xerrors.New("no slots")
	}

	length := int(slots[0])
	if (length+2)/3+1 > len(slots) {
		return nil, xerrors.Errorf("truncated payload of %d bytes", length)
	}

	out := make([]byte, 0, length)

	for i := 0; len(out) < length; i++ {
		slot := slots[1+i]
		width := length - len(out)
		if width > 3 {
			width = 3
		}

		for j := width - 1; j >= 0; j-- {
			out = append(out, byte(slot>>(8*uint(j))))
		}
	}

	return out, nil
}
