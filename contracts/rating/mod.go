// Package rating implements the native contract at the heart of the
// privacy-preserving aggregation engine.
//
// Organizers register multi-dimensional rating activities, participants
// submit per-dimension encrypted scores, and the contract homomorphically
// accumulates per-dimension sums and counts and a weighted total without
// ever observing a plaintext. Every ciphertext handle written into the
// snapshot gets its decryption capability granted to the engine itself, so
// that later transactions can keep deriving from it, and to the organizer
// for everything the organizer is entitled to eventually view.
//
// The contract relies on the execution service for its transactional
// discipline: commands perform all their checks before the first write and
// any error discards the staged snapshot as a whole.
package rating

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"go.dedis.ch/sondage"
	"go.dedis.ch/sondage/core"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/core/access/acl"
	"go.dedis.ch/sondage/core/execution"
	"go.dedis.ch/sondage/core/execution/native"
	"go.dedis.ch/sondage/core/store"
	"go.dedis.ch/sondage/fhe"
	"golang.org/x/xerrors"
)

// commands defines the mutating entry points of the rating contract. This
// interface helps in testing the contract.
type commands interface {
	createActivity(snap store.Snapshot, step execution.Step) error
	updateWeights(snap store.Snapshot, step execution.Step) error
	submitRating(snap store.Snapshot, step execution.Step) error
	submitComment(snap store.Snapshot, step execution.Step) error
}

const (
	// ContractName is the name of the contract.
	ContractName = "go.dedis.ch/sondage.Rating"

	// ContractUID is the unique 4-byte identifier of the contract, used to
	// prefix its keys in the snapshot.
	ContractUID = "RATG"

	// CmdArg is the argument's name to indicate the kind of command we want
	// to run on the contract. Should be one of the Command type.
	CmdArg = "rating:command"

	// PayloadArg is the argument's name in the transaction that contains the
	// JSON payload of the command.
	PayloadArg = "rating:payload"

	// credentialAllCommand defines the credential command that is allowed to
	// perform all commands.
	credentialAllCommand = "all"

	// credentialDecrypt defines the credential command granted per handle to
	// the principals allowed to request its cleartext.
	credentialDecrypt = "decrypt"
)

// Command defines a type of command for the rating contract.
type Command string

const (
	// CmdCreateActivity defines the command to register an activity.
	CmdCreateActivity Command = "CREATE_ACTIVITY"

	// CmdUpdateWeights defines the command to replace the encrypted weights
	// of an activity.
	CmdUpdateWeights Command = "UPDATE_WEIGHTS"

	// CmdSubmitRating defines the command to submit an encrypted rating.
	CmdSubmitRating Command = "SUBMIT_RATING"

	// CmdSubmitComment defines the command to submit an encrypted comment.
	CmdSubmitComment Command = "SUBMIT_COMMENT"
)

// NewCreds creates new credentials for a rating contract execution.
func NewCreds(id []byte) access.Credential {
	return access.NewContractCreds(id, ContractName, credentialAllCommand)
}

// NewHandleCreds creates the credential protecting the decryption of a
// ciphertext handle. The grants of this credential form the per-value
// access control list of the handle.
func NewHandleCreds(h fhe.Handle) access.Credential {
	return access.NewContractCreds(append([]byte("acl:"), h...), ContractName, credentialDecrypt)
}

// RegisterContract registers the rating contract to the given execution
// service.
func RegisterContract(exec *native.Service, c Contract) {
	exec.Set(ContractName, c)
}

// Contract is the smart contract implementing the aggregation engine.
//
// - implements native.Contract
type Contract struct {
	// access is the access service controlling who may execute the contract.
	access access.Service

	// accessKey is the access identifier allowed to use this smart contract.
	accessKey []byte

	// acl stores the per-handle decryption grants inside the contract's
	// namespace of the snapshot.
	acl access.Service

	// actor is the encrypted value capability bound to this contract.
	actor fhe.Actor

	// watcher notifies the contract events.
	watcher core.Observable

	// clock provides the current time for the submission window checks.
	clock func() time.Time

	// cmd provides the commands that can be executed by this smart contract.
	cmd commands
}

// NewContract creates a new rating contract using the given actor of the
// encrypted value capability.
func NewContract(aKey []byte, srvc access.Service, actor fhe.Actor) Contract {
	contract := Contract{
		access:    srvc,
		accessKey: aKey,
		acl:       acl.NewService(),
		actor:     actor,
		watcher:   core.NewWatcher(),
		clock:     time.Now,
	}

	contract.cmd = ratingCommand{Contract: &contract}

	return contract
}

// Execute implements native.Contract. It runs the appropriate command. The
// error of a command keeps its code through the wrapping, so callers can
// use CodeOf on the result.
func (c Contract) Execute(snap store.Snapshot, step execution.Step) error {
	creds := NewCreds(c.accessKey)

	err := c.access.Match(snap, creds, step.Current.GetIdentity())
	if err != nil {
		return xerrors.Errorf("identity not authorized: %v (%v)",
			step.Current.GetIdentity(), err)
	}

	cmd := step.Current.GetArg(CmdArg)
	if len(cmd) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", CmdArg)
	}

	switch Command(cmd) {
	case CmdCreateActivity:
		err := c.cmd.createActivity(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to CREATE_ACTIVITY: %w", err)
		}
	case CmdUpdateWeights:
		err := c.cmd.updateWeights(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to UPDATE_WEIGHTS: %w", err)
		}
	case CmdSubmitRating:
		err := c.cmd.submitRating(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to SUBMIT_RATING: %w", err)
		}
	case CmdSubmitComment:
		err := c.cmd.submitComment(snap, step)
		if err != nil {
			return xerrors.Errorf("failed to SUBMIT_COMMENT: %w", err)
		}
	default:
		return xerrors.Errorf("unknown command: %s", cmd)
	}

	return nil
}

// UID implements native.Contract.
func (c Contract) UID() string {
	return ContractUID
}

// ACL returns the access service holding the per-handle decryption grants,
// to be shared with the authorized decryption flow.
func (c Contract) ACL() access.Service {
	return c.acl
}

// Watch adds the observer to the contract events.
func (c Contract) Watch(obs core.Observer) {
	c.watcher.Add(obs)
}

// Unwatch removes the observer from the contract events.
func (c Contract) Unwatch(obs core.Observer) {
	c.watcher.Remove(obs)
}

// grant authorizes the identities to decrypt the handle. It is called on
// every handle written into the snapshot, and again on every replacement as
// a grant never carries over a new handle.
func (c *Contract) grant(snap store.Snapshot, h fhe.Handle, idents ...access.Identity) error {
	err := c.acl.Grant(snap, NewHandleCreds(h), idents...)
	if err != nil {
		return xerrors.Errorf("failed to grant on handle '%s': %v", h, err)
	}

	return nil
}

// sequenceKey stores the monotonically increasing activity identifier. The
// counter starts at zero and is incremented exactly once per successful
// creation, so the first activity gets the identifier 1.
var sequenceKey = []byte("activity:seq")

func activityKey(id uint64) []byte {
	key := make([]byte, 0, 17)
	key = append(key, []byte("activity:")...)

	return binary.BigEndian.AppendUint64(key, id)
}

func ratingKey(id uint64, submitter []byte) []byte {
	key := make([]byte, 0, len(submitter)+16)
	key = append(key, []byte("rating:")...)
	key = binary.BigEndian.AppendUint64(key, id)

	return append(key, submitter...)
}

func commentKey(id uint64, submitter []byte) []byte {
	key := make([]byte, 0, len(submitter)+16)
	key = append(key, []byte("comment:")...)
	key = binary.BigEndian.AppendUint64(key, id)

	return append(key, submitter...)
}

func getPayload(step execution.Step, out interface{}) error {
	payload := step.Current.GetArg(PayloadArg)
	if len(payload) == 0 {
		return xerrors.Errorf("'%s' not found in tx arg", PayloadArg)
	}

	err := json.Unmarshal(payload, out)
	if err != nil {
		return newError(CodeValidation, "failed to unmarshal payload: %v", err)
	}

	return nil
}

// notify logs the event and forwards it to the observers.
func (c *Contract) notify(event interface{}) {
	sondage.Logger.Info().
		Str("contract", ContractName).
		Msgf("%T %+v", event, event)

	c.watcher.Notify(event)
}
