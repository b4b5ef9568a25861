// Package access defines the interfaces for the access rights control.
//
// The engine uses the same abstraction for two different concerns: deciding
// who may invoke a contract command, and tracking which principals hold the
// decryption capability of a ciphertext handle. In both cases a credential
// identifies the protected resource and a rule names the action.
package access

import (
	"encoding"
	"strings"

	"go.dedis.ch/sondage/core/store"
)

// Identity is an abstraction to uniquely identify a principal, either an
// external caller or the engine itself.
type Identity interface {
	encoding.TextMarshaler
}

// TextIdentity is a plain text identity. It allows one to rebuild an
// identity from its marshaled form, for instance the stored organizer of an
// activity.
//
// - implements access.Identity
type TextIdentity string

// MarshalText implements encoding.TextMarshaler.
func (i TextIdentity) MarshalText() ([]byte, error) {
	return []byte(i), nil
}

// Credential is an abstraction of an access control credential. The ID
// points to the protected resource and the rule describes the action to be
// authorized.
type Credential interface {
	// GetID returns the identifier of the credential.
	GetID() []byte

	// GetRule returns the rule of the credential.
	GetRule() string
}

// Service is an abstraction to match and grant accesses for a credential.
type Service interface {
	// Match returns nil if all the identities are authorized for the
	// credential, otherwise a meaningful error on the reason of the refusal.
	Match(store store.Readable, creds Credential, idents ...Identity) error

	// Grant authorizes the identities for the credential. Granting is
	// idempotent and must be re-applied when the protected value is
	// replaced, as a grant never carries over a replacement.
	Grant(store store.Snapshot, creds Credential, idents ...Identity) error
}

// Compile returns a compacted rule from the string segments.
func Compile(segments ...string) string {
	return strings.Join(segments, ":")
}
