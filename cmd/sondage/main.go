// Package main implements the sondage command line, which runs a scripted
// rating round end to end: it registers an activity, submits encrypted
// ratings and a comment, then decrypts the aggregates as the organizer. The
// committed state is persisted in a bbolt database so the demo can be
// inspected afterwards.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.dedis.ch/sondage"
	"go.dedis.ch/sondage/contracts/rating"
	"go.dedis.ch/sondage/contracts/rating/types"
	"go.dedis.ch/sondage/core/access"
	"go.dedis.ch/sondage/core/access/acl"
	"go.dedis.ch/sondage/core/execution"
	"go.dedis.ch/sondage/core/execution/native"
	"go.dedis.ch/sondage/core/store"
	"go.dedis.ch/sondage/core/store/kv"
	"go.dedis.ch/sondage/core/store/prefixed"
	"go.dedis.ch/sondage/core/txn/signed"
	"go.dedis.ch/sondage/decrypt"
	"go.dedis.ch/sondage/fhe"
	"go.dedis.ch/sondage/fhe/bfv"
	"go.dedis.ch/sondage/fhe/naive"
	"golang.org/x/xerrors"
)

func main() {
	err := app().Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:  "sondage",
		Usage: "privacy-preserving rating aggregation engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Value: "sondage.db",
				Usage: "path of the database file",
			},
			&cli.StringFlag{
				Name:  "backend",
				Value: "naive",
				Usage: "encrypted value backend, either naive or bfv",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "demo",
				Usage:  "run a scripted rating round and decrypt the aggregates",
				Action: demo,
			},
		},
	}
}

// participant binds an identity to its client-side encryption.
type participant struct {
	name         string
	ident        access.Identity
	encrypt      func(value uint64) (ct, proof []byte, err error)
	encryptBytes func(payload []byte) (ct, proof []byte, err error)
}

func demo(cliCtx *cli.Context) error {
	actor, err := makeActor(cliCtx.String("backend"))
	if err != nil {
		return err
	}

	participants, err := makeParticipants(cliCtx.String("backend"), actor,
		"organizer", "alice", "bob")
	if err != nil {
		return err
	}

	organizer, alice, bob := participants[0], participants[1], participants[2]

	db, err := kv.New(cliCtx.String("db"))
	if err != nil {
		return xerrors.Errorf("failed to open db: %v", err)
	}

	defer db.Close()

	err = db.Update([]byte("state"), func(bucket kv.Bucket) error {
		snap := kv.NewSnapshot(bucket)

		accessKey := []byte("sondage:demo")
		gate := acl.NewService()

		contract := rating.NewContract(accessKey, gate, actor)
		contract.Watch(eventPrinter{out: cliCtx.App.Writer})

		exec := native.NewExecution()
		rating.RegisterContract(exec, contract)

		err := gate.Grant(prefixed.NewSnapshot(rating.ContractUID, snap),
			rating.NewCreds(accessKey), organizer.ident, alice.ident, bob.ident)
		if err != nil {
			return xerrors.Errorf("failed to open the contract: %v", err)
		}

		run := &runner{exec: exec, snap: snap}

		now := time.Now().Unix()

		weights, proofs, err := encryptAll(organizer, 1, 1, 1)
		if err != nil {
			return err
		}

		err = run.run(organizer, rating.CmdCreateActivity, types.CreateActivityTransaction{
			Start:          now - 3600,
			End:            now + 3600,
			DimensionCount: 3,
			Weights:        weights,
			WeightProofs:   proofs,
		})
		if err != nil {
			return err
		}

		for _, rater := range []struct {
			p      participant
			scores []uint64
		}{
			{alice, []uint64{4, 4, 4}},
			{bob, []uint64{5, 5, 5}},
		} {
			scores, proofs, err := encryptAll(rater.p, rater.scores...)
			if err != nil {
				return err
			}

			err = run.run(rater.p, rating.CmdSubmitRating, types.SubmitRatingTransaction{
				ActivityID:  1,
				Scores:      scores,
				ScoreProofs: proofs,
			})
			if err != nil {
				return err
			}
		}

		comment, proof, err := alice.encryptBytes([]byte("would rate again"))
		if err != nil {
			return xerrors.Errorf("failed to encrypt comment: %v", err)
		}

		err = run.run(alice, rating.CmdSubmitComment, types.SubmitCommentTransaction{
			ActivityID: 1,
			Comment:    comment,
			Proof:      proof,
		})
		if err != nil {
			return err
		}

		return report(cliCtx, contract, actor, snap, organizer, alice)
	})
	if err != nil {
		return err
	}

	entries := 0

	err = db.View([]byte("state"), func(bucket kv.Bucket) error {
		return bucket.Scan(nil, func(k, v []byte) error {
			entries++
			return nil
		})
	})
	if err != nil {
		return xerrors.Errorf("failed to scan the state: %v", err)
	}

	fmt.Fprintf(cliCtx.App.Writer, "persisted %d state entries in %s\n",
		entries, cliCtx.String("db"))

	return nil
}

// report decrypts the aggregates as the organizer and prints them.
func report(cliCtx *cli.Context, contract rating.Contract, actor fhe.Actor,
	snap store.Snapshot, organizer, commenter participant) error {

	r := rating.NewReadable(snap)
	srvc := decrypt.NewService(contract.ACL(), actor, rating.NewHandleCreds)

	info, err := rating.GetActivityInfo(r, 1)
	if err != nil {
		return xerrors.Errorf("failed to read activity: %v", err)
	}

	out := cliCtx.App.Writer

	fmt.Fprintf(out, "activity 1 by %s, %d dimensions\n", info.Organizer, info.DimensionCount)

	for dim := 0; dim < info.DimensionCount; dim++ {
		sum, err := rating.GetDimensionAverage(r, 1, dim)
		if err != nil {
			return err
		}

		count, err := rating.GetDimensionCount(r, 1, dim)
		if err != nil {
			return err
		}

		values, err := srvc.Reveal(r, organizer.ident, sum, count)
		if err != nil {
			return xerrors.Errorf("failed to decrypt dimension %d: %v", dim, err)
		}

		average := float64(0)
		if values[1] > 0 {
			average = float64(values[0]) / float64(values[1])
		}

		fmt.Fprintf(out, "dimension %d: sum=%d count=%d average=%.2f\n",
			dim, values[0], values[1], average)
	}

	weighted, err := rating.GetWeightedTotalScore(r, 1)
	if err != nil {
		return err
	}

	total, err := rating.GetTotalRatings(r, 1)
	if err != nil {
		return err
	}

	values, err := srvc.Reveal(r, organizer.ident, weighted, total)
	if err != nil {
		return xerrors.Errorf("failed to decrypt totals: %v", err)
	}

	fmt.Fprintf(out, "weighted total=%d ratings=%d\n", values[0], values[1])

	handle, err := rating.GetComment(r, 1, commenter.ident)
	if err != nil {
		return err
	}

	err = contract.ACL().Match(r, rating.NewHandleCreds(handle), organizer.ident)
	if err != nil {
		return xerrors.Errorf("organizer has no capability on the comment: %v", err)
	}

	fmt.Fprintf(out, "comment from %s stored, organizer authorized to decrypt\n", commenter.name)

	return nil
}

// runner executes contract commands against the shared snapshot.
type runner struct {
	exec  *native.Service
	snap  store.Snapshot
	nonce uint64
}

func (r *runner) run(p participant, cmd rating.Command, payload interface{}) error {
	buffer, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Errorf("failed to marshal payload: %v", err)
	}

	tx, err := signed.NewTransaction(r.nonce, p.ident,
		signed.WithArg(native.ContractArg, []byte(rating.ContractName)),
		signed.WithArg(rating.CmdArg, []byte(cmd)),
		signed.WithArg(rating.PayloadArg, buffer))
	if err != nil {
		return xerrors.Errorf("failed to make transaction: %v", err)
	}

	r.nonce++

	res, err := r.exec.Execute(r.snap, execution.Step{Current: tx})
	if err != nil {
		return xerrors.Errorf("failed to execute: %v", err)
	}

	if !res.Accepted {
		return xerrors.Errorf("%s by %s refused: %s", cmd, p.name, res.Message)
	}

	return nil
}

func makeActor(backend string) (fhe.Actor, error) {
	switch backend {
	case "naive":
		return naive.NewCapability().Listen(rating.ContractName)
	case "bfv":
		return bfv.NewCapability().Listen(rating.ContractName)
	default:
		return nil, xerrors.Errorf("unknown backend '%s'", backend)
	}
}

func makeParticipants(backend string, actor fhe.Actor, names ...string) ([]participant, error) {
	participants := make([]participant, len(names))

	for i, name := range names {
		switch backend {
		case "naive":
			ident := access.TextIdentity(name)
			enc := naive.NewEncryptor(rating.ContractName)

			participants[i] = participant{
				name:  name,
				ident: ident,
				encrypt: func(value uint64) ([]byte, []byte, error) {
					return enc.Encrypt(value, ident)
				},
				encryptBytes: func(payload []byte) ([]byte, []byte, error) {
					return enc.EncryptBytes(payload, ident)
				},
			}
		case "bfv":
			client, err := bfv.NewClient(actor.(*bfv.Actor))
			if err != nil {
				return nil, xerrors.Errorf("failed to make client: %v", err)
			}

			participants[i] = participant{
				name:         name,
				ident:        client.Identity(),
				encrypt:      client.Encrypt,
				encryptBytes: client.EncryptBytes,
			}
		default:
			return nil, xerrors.Errorf("unknown backend '%s'", backend)
		}
	}

	return participants, nil
}

func encryptAll(p participant, values ...uint64) ([][]byte, [][]byte, error) {
	cts := make([][]byte, len(values))
	proofs := make([][]byte, len(values))

	for i, value := range values {
		ct, proof, err := p.encrypt(value)
		if err != nil {
			return nil, nil, xerrors.Errorf("failed to encrypt: %v", err)
		}

		cts[i] = ct
		proofs[i] = proof
	}

	return cts, proofs, nil
}

// eventPrinter prints the contract events as they are notified.
//
// - implements core.Observer
type eventPrinter struct {
	out io.Writer
}

func (p eventPrinter) NotifyCallback(event interface{}) {
	fmt.Fprintf(p.out, "event: %T %+v\n", event, event)

	sondage.Logger.Debug().Msgf("notified %T", event)
}
