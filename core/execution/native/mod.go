// Package native implements an execution service to run native contracts.
//
// A native contract is written in Go and packaged with the application. The
// service runs every transaction against a staging snapshot namespaced by
// the contract UID: a failed execution discards the staging so the
// transaction has no effect at all, a successful one commits it atomically.
// Transactions are processed one at a time.
package native

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/sondage"
	"go.dedis.ch/sondage/core/execution"
	"go.dedis.ch/sondage/core/store"
	"go.dedis.ch/sondage/core/store/mem"
	"go.dedis.ch/sondage/core/store/prefixed"
	"golang.org/x/xerrors"
)

const (
	// ContractArg is the argument key in the transaction to look up a
	// contract.
	ContractArg = "go.dedis.ch/sondage.ContractArg"
)

// defines prometheus metrics
var (
	promTxs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sondage_native_transactions_total",
		Help: "total number of transactions executed",
	})

	promRejectedTxs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sondage_native_transactions_rejected_total",
		Help: "total number of rejected transactions",
	})
)

func init() {
	sondage.PromCollectors = append(sondage.PromCollectors, promTxs, promRejectedTxs)
}

// Contract is the interface to implement to register a contract that will be
// executed natively.
type Contract interface {
	Execute(store.Snapshot, execution.Step) error

	// UID returns the unique identifier prefixing the contract state inside
	// a shared snapshot.
	UID() string
}

// Service is an execution service for packaged applications. Those
// applications have complete access to their namespace of the snapshot and
// can directly update it.
//
// - implements execution.Service
type Service struct {
	sync.Mutex

	contracts map[string]Contract
}

// NewExecution returns a new native execution. The registered contracts will
// be executed for the matching incoming transactions.
func NewExecution() *Service {
	return &Service{
		contracts: map[string]Contract{},
	}
}

// Set stores the contract using the name as the key. A transaction can
// trigger this contract by using the same name as the contract argument.
func (ns *Service) Set(name string, contract Contract) {
	ns.contracts[name] = contract
}

// Execute implements execution.Service. It runs the contract targeted by the
// transaction against a staging snapshot and commits the writes only when
// the contract succeeds, so that a failure leaves the snapshot untouched.
func (ns *Service) Execute(snap store.Snapshot, step execution.Step) (execution.Result, error) {
	ns.Lock()
	defer ns.Unlock()

	name := string(step.Current.GetArg(ContractArg))

	contract := ns.contracts[name]
	if contract == nil {
		return execution.Result{}, xerrors.Errorf("unknown contract '%s'", name)
	}

	staging := mem.NewStaging(snap)

	res := execution.Result{
		Accepted: true,
	}

	err := contract.Execute(prefixed.NewSnapshot(contract.UID(), staging), step)
	if err != nil {
		res.Accepted = false
		res.Message = err.Error()

		promRejectedTxs.Inc()
		promTxs.Inc()

		return res, nil
	}

	err = staging.Commit()
	if err != nil {
		return execution.Result{}, xerrors.Errorf("failed to commit: %v", err)
	}

	promTxs.Inc()

	return res, nil
}
