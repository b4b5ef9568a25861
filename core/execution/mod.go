// Package execution defines the primitives to execute a transaction against
// the engine state.
package execution

import (
	"go.dedis.ch/sondage/core/store"
	"go.dedis.ch/sondage/core/txn"
)

// Step is the input of a contract execution. It contains the transaction
// being executed and the previous transactions of the same batch.
type Step struct {
	Previous []txn.Transaction
	Current  txn.Transaction
}

// Result is the result of a transaction execution.
type Result struct {
	// Accepted is the success state of the transaction.
	Accepted bool

	// Message gives a chance to the execution to explain why a transaction
	// has failed.
	Message string
}

// Service is the execution service that defines the primitives to execute a
// transaction.
type Service interface {
	// Execute must apply the transaction to the snapshot and return the
	// result of it.
	Execute(snap store.Snapshot, step Step) (Result, error)
}
