// Package decrypt implements the authorized decryption flow of the engine.
//
// Given a set of ciphertext handles and a requesting principal, the service
// returns the cleartexts only when the principal holds a decryption grant
// on every handle. It is the only path from a handle to a plaintext: the
// contract itself never decrypts.
package decrypt

import (
	"go.dedis.ch/sondage"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/core/store"
	"go.dedis.ch/sondage/fhe"
	"golang.org/x/xerrors"
)

// Service gates the decryption of handles behind their per-handle grants.
type Service struct {
	acl   access.Service
	actor fhe.Actor
	creds func(fhe.Handle) access.Credential
}

// NewService creates a decryption service. The credential builder maps a
// handle to the credential its grants are stored under, typically the one
// the contract uses when granting.
func NewService(acl access.Service, actor fhe.Actor, creds func(fhe.Handle) access.Credential) Service {
	return Service{
		acl:   acl,
		actor: actor,
		creds: creds,
	}
}

// Reveal returns the cleartext of every handle, in order, provided the
// requester holds a grant on each of them. A single missing grant refuses
// the whole request and nothing is decrypted.
func (srvc Service) Reveal(r store.Readable, requester access.Identity,
	handles ...fhe.Handle) ([]uint64, error) {

	for _, h := range handles {
		err := srvc.acl.Match(r, srvc.creds(h), requester)
		if err != nil {
			return nil, xerrors.Errorf("handle '%s' refused: %v", h, err)
		}
	}

	values := make([]uint64, len(handles))

	for i, h := range handles {
		value, err := srvc.actor.Reveal(h)
		if err != nil {
			return nil, xerrors.Errorf("failed to reveal handle '%s': %v", h, err)
		}

		values[i] = value
	}

	sondage.Logger.Info().Msgf("revealed %d handles for %v", len(handles), requester)

	return values, nil
}
