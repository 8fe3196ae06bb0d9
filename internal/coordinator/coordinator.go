// Package coordinator is the client side of the round coordinator: stages
// submit locally computed payloads, suspend until the replica set agrees on
// one value, and read back the agreed bytes. The consensus engine itself is
// external; backends here only implement the submit/await contract.
package coordinator

import (
	"context"
	"fmt"
	"sort"

	xerrors "AgentBet-Chain/internal/errors"
)

// Payload is one replica's candidate value for a round. Data must be a
// canonical encoding: replicas that computed the same facts must produce
// byte-identical Data.
type Payload struct {
	Sender string `json:"sender"`
	Round  string `json:"round"`
	Data   []byte `json:"data"`
}

// StageRegistration exposes the sequencer's stage set and transition table
// to the coordinator, which drives the actual advancement.
type StageRegistration struct {
	Stages      []string                     `json:"stages"`
	Initial     string                       `json:"initial"`
	Transitions map[string]map[string]string `json:"transitions"`
}

// Client is the coordinator interface consumed by the stage logic.
type Client interface {
	// NextRound assigns the identity of the run this replica joins next.
	// The identity is derived from coordinator state shared by the replica
	// set, never from replica-local values: every group of <threshold>
	// concurrent callers receives the same identity, so all replicas of
	// one logical run submit into the same rounds.
	NextRound(ctx context.Context) (string, error)

	// Submit proposes a payload for the round and suspends until agreement
	// is reached, returning the agreed bytes. A context cancellation means
	// the awaited agreement did not complete.
	Submit(ctx context.Context, p Payload) ([]byte, error)

	// AwaitSynchronizedClock returns the timestamp of the last agreement
	// commit. It is the only wall-clock value stages may branch on.
	AwaitSynchronizedClock(ctx context.Context) (int64, error)

	// RegisterStages announces the stage set and transition table.
	RegisterStages(ctx context.Context, reg StageRegistration) error
}

// ErrAgreementNotReached 表示在等待期间协调器未能达成一致。
var ErrAgreementNotReached = xerrors.New(xerrors.CodeAgreementFailure, "")

// roundName maps a run index onto the round identity used as the key prefix
// of that run's stage rounds. Backends hand out tickets in arrival order and
// group every consecutive <threshold> tickets into one run index, so the
// mapping is identical on every replica.
func roundName(index int64) string {
	return fmt.Sprintf("run-%d", index)
}

func runIndex(ticket, threshold int64) int64 {
	if threshold <= 0 {
		threshold = 1
	}
	return (ticket-1)/threshold + 1
}

// Agree picks one value from the submitted candidates. The rule is
// deterministic over the candidate multiset: most frequent value wins, ties
// broken by smallest byte order. Every backend must apply this same rule so
// replicas observing the same submissions converge.
func Agree(candidates [][]byte) []byte {
	if len(candidates) == 0 {
		return nil
	}
	counts := make(map[string]int, len(candidates))
	for _, candidate := range candidates {
		counts[string(candidate)]++
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	best := keys[0]
	for _, key := range keys[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return []byte(best)
}
