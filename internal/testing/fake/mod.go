// Package fake provides fake implementations for interfaces commonly used in
// the repository. The implementations offer configuration to return errors
// when it is needed by the unit test, and it is also possible to record the
// calls of an object in some cases.
package fake

import (
	"fmt"

	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/core/store"
	"golang.org/x/xerrors"
)

var fakeErr = xerrors.New("fake error")

// GetError returns the fake error.
func GetError() error {
	return fakeErr
}

// Err returns the message prefixed by the fake error, as produced by the
// usual xerrors wrapping.
func Err(msg string) string {
	return fmt.Sprintf("%s: %s", msg, fakeErr.Error())
}

// Call is a tool to keep track of a function calls.
type Call struct {
	calls [][]interface{}
}

// Get returns the nth call ith parameter.
func (c *Call) Get(n, i int) interface{} {
	return c.calls[n][i]
}

// Len returns the number of calls.
func (c *Call) Len() int {
	return len(c.calls)
}

// Add adds a call to the list.
func (c *Call) Add(args ...interface{}) {
	c.calls = append(c.calls, args)
}

// PublicKey is a fake implementation of an identity.
//
// - implements access.Identity
type PublicKey struct {
	Index int

	err error
}

// NewBadPublicKey returns an identity that fails to marshal.
func NewBadPublicKey() PublicKey {
	return PublicKey{err: fakeErr}
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("fake:%d", pk.Index)), pk.err
}

// String returns a human readable form of the identity.
func (pk PublicKey) String() string {
	return fmt.Sprintf("fake.PublicKey{%d}", pk.Index)
}

// AccessService is a fake implementation of an access service.
//
// - implements access.Service
type AccessService struct {
	ErrMatch error
	ErrGrant error

	Grants Call
}

// Match implements access.Service.
func (srvc *AccessService) Match(store.Readable, access.Credential, ...access.Identity) error {
	return srvc.ErrMatch
}

// Grant implements access.Service. It records the call.
func (srvc *AccessService) Grant(snap store.Snapshot, creds access.Credential, idents ...access.Identity) error {
	srvc.Grants.Add(creds, idents)

	return srvc.ErrGrant
}
