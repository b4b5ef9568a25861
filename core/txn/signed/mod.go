// Package signed is an implementation of the transaction abstraction.
//
// The nonce is a monotonically increasing number used to order the
// transactions of a single identity. The wire-level signature that makes
// sure the identity owns the transaction belongs to the session layer, which
// is external to this engine; the identity carried here is the one that
// layer has authenticated.
package signed

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"go.dedis.ch/sondage/core/access"
	"golang.org/x/xerrors"
)

// Transaction is a transaction identified by a digest over its nonce,
// identity and arguments.
//
// - implements txn.Transaction
type Transaction struct {
	nonce    uint64
	args     map[string][]byte
	identity access.Identity
	hash     []byte
}

// TransactionOption is the type of options to create a transaction.
type TransactionOption func(*Transaction)

// WithArg is an option to set an argument with the key and the value.
func WithArg(key string, value []byte) TransactionOption {
	return func(tx *Transaction) {
		tx.args[key] = value
	}
}

// NewTransaction creates a new transaction with the provided nonce and
// identity.
func NewTransaction(nonce uint64, ident access.Identity, opts ...TransactionOption) (*Transaction, error) {
	tx := &Transaction{
		nonce:    nonce,
		identity: ident,
		args:     make(map[string][]byte),
	}

	for _, opt := range opts {
		opt(tx)
	}

	err := tx.fingerprint()
	if err != nil {
		return nil, xerrors.Errorf("couldn't fingerprint tx: %v", err)
	}

	return tx, nil
}

// GetID implements txn.Transaction. It returns the ID of the transaction.
func (t *Transaction) GetID() []byte {
	return append([]byte{}, t.hash...)
}

// GetNonce implements txn.Transaction. It returns the nonce of the
// transaction.
func (t *Transaction) GetNonce() uint64 {
	return t.nonce
}

// GetIdentity implements txn.Transaction. It returns the identity that
// created the transaction.
func (t *Transaction) GetIdentity() access.Identity {
	return t.identity
}

// GetArg implements txn.Transaction. It returns the value of the argument if
// it is set, otherwise nil.
func (t *Transaction) GetArg(key string) []byte {
	return t.args[key]
}

func (t *Transaction) fingerprint() error {
	h := sha256.New()

	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, t.nonce)
	h.Write(buffer)

	text, err := t.identity.MarshalText()
	if err != nil {
		return xerrors.Errorf("failed to marshal identity: %v", err)
	}

	h.Write(text)

	keys := make([]string, 0, len(t.args))
	for key := range t.args {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		h.Write([]byte(key))
		h.Write(t.args[key])
	}

	t.hash = h.Sum(nil)

	return nil
}
