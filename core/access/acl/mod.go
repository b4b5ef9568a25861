// Package acl implements a store-backed access service.
//
// The service keeps one record per credential, holding for each rule the
// list of authorized identities in their marshaled text form. The rating
// contract creates one credential per ciphertext handle, which makes the
// record the per-value access control list required by the engine: the
// capability of a handle is exactly the set of identities granted on its
// credential.
package acl

import (
	"encoding/json"

	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/core/store"
	"golang.org/x/xerrors"
)

// record is the stored form of the grants of a single credential.
type record struct {
	// Rules maps a rule to the marshaled identities authorized for it.
	Rules map[string][]string `json:"rules"`
}

// Service is an implementation of an access service that stores and verifies
// grants for credentials.
//
// - implements access.Service
type Service struct{}

// NewService creates a new service.
func NewService() Service {
	return Service{}
}

// Match implements access.Service. It returns nil if every identity is
// authorized for the credential, otherwise a meaningful error on the reason
// it does not have access.
func (srvc Service) Match(store store.Readable, creds access.Credential, idents ...access.Identity) error {
	value, err := store.Get(creds.GetID())
	if err != nil {
		return xerrors.Errorf("failed to read credential: %v", err)
	}

	if value == nil {
		return xerrors.Errorf("credential '%x' not found", creds.GetID())
	}

	rec := record{}
	err = json.Unmarshal(value, &rec)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal credential: %v", err)
	}

	granted := rec.Rules[creds.GetRule()]

	for _, ident := range idents {
		text, err := ident.MarshalText()
		if err != nil {
			return xerrors.Errorf("failed to marshal identity: %v", err)
		}

		if !contains(granted, string(text)) {
			return xerrors.Errorf("identity '%s' is not authorized for rule '%s'",
				text, creds.GetRule())
		}
	}

	return nil
}

// Grant implements access.Service. It updates or creates the credential and
// grants the access to the group of identities. Granting an identity twice
// is a no-op.
func (srvc Service) Grant(store store.Snapshot, creds access.Credential, idents ...access.Identity) error {
	value, err := store.Get(creds.GetID())
	if err != nil {
		return xerrors.Errorf("failed to read credential: %v", err)
	}

	rec := record{Rules: map[string][]string{}}
	if value != nil {
		err = json.Unmarshal(value, &rec)
		if err != nil {
			return xerrors.Errorf("failed to unmarshal credential: %v", err)
		}
	}

	for _, ident := range idents {
		text, err := ident.MarshalText()
		if err != nil {
			return xerrors.Errorf("failed to marshal identity: %v", err)
		}

		if !contains(rec.Rules[creds.GetRule()], string(text)) {
			rec.Rules[creds.GetRule()] = append(rec.Rules[creds.GetRule()], string(text))
		}
	}

	value, err = json.Marshal(rec)
	if err != nil {
		return xerrors.Errorf("failed to marshal credential: %v", err)
	}

	err = store.Set(creds.GetID(), value)
	if err != nil {
		return xerrors.Errorf("failed to store credential: %v", err)
	}

	return nil
}

func contains(list []string, item string) bool {
	for _, elem := range list {
		if elem == item {
			return true
		}
	}

	return false
}
