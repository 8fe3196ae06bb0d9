package betting

import (
	"context"
	"errors"
	"testing"

	"AgentBet-Chain/internal/oracle"
)

type fakeFetcher struct {
	response map[string]any
	err      error
}

func (f *fakeFetcher) Fetch(context.Context, oracle.Spec) (map[string]any, error) {
	return f.response, f.err
}

type fakeContent struct {
	hash string
	err  error
}

func (f *fakeContent) Put(context.Context, string, any) (string, error) {
	return f.hash, f.err
}

func (f *fakeContent) GatewayURL(hash string) string {
	return "https://gateway.test/" + hash
}

func TestDataPullHappyPath(t *testing.T) {
	t.Parallel()

	behaviour := NewDataPullBehaviour(
		testParams(),
		oracle.Spec{},
		&fakeFetcher{response: map[string]any{"result": true}},
		&fakeContent{hash: "QmSignal"},
		&fakeLedger{hasPlacedBet: false},
	)

	payload, err := behaviour.Act(context.Background(), SynchronizedData{})
	if err != nil {
		t.Fatalf("act failed: %v", err)
	}
	if !payload.BettingResult {
		t.Fatal("expected a positive betting result")
	}
	if payload.BettingIPFSHash != "QmSignal" {
		t.Fatalf("unexpected content hash: %q", payload.BettingIPFSHash)
	}
	if payload.HasPlacedBet {
		t.Fatal("expected no prior bet placement")
	}
}

func TestDataPullDegradesToDefaults(t *testing.T) {
	t.Parallel()

	t.Run("oracle failure yields a false result", func(t *testing.T) {
		behaviour := NewDataPullBehaviour(
			testParams(),
			oracle.Spec{},
			&fakeFetcher{err: errors.New("oracle down")},
			&fakeContent{hash: "QmSignal"},
			&fakeLedger{},
		)
		payload, err := behaviour.Act(context.Background(), SynchronizedData{})
		if err != nil {
			t.Fatalf("act failed: %v", err)
		}
		if payload.BettingResult {
			t.Fatal("a failed fetch must not report a positive result")
		}
		if payload.BettingIPFSHash != "" {
			t.Fatalf("nothing was fetched, nothing should be stored: %q", payload.BettingIPFSHash)
		}
	})

	t.Run("storage failure yields an empty hash", func(t *testing.T) {
		behaviour := NewDataPullBehaviour(
			testParams(),
			oracle.Spec{},
			&fakeFetcher{response: map[string]any{"result": true}},
			&fakeContent{err: errors.New("ipfs down")},
			&fakeLedger{},
		)
		payload, err := behaviour.Act(context.Background(), SynchronizedData{})
		if err != nil {
			t.Fatalf("act failed: %v", err)
		}
		if !payload.BettingResult {
			t.Fatal("the result must survive a storage failure")
		}
		if payload.BettingIPFSHash != "" {
			t.Fatalf("expected an empty hash, got %q", payload.BettingIPFSHash)
		}
	})

	t.Run("placement read failure defaults to placed", func(t *testing.T) {
		behaviour := NewDataPullBehaviour(
			testParams(),
			oracle.Spec{},
			&fakeFetcher{response: map[string]any{"result": true}},
			&fakeContent{hash: "QmSignal"},
			&fakeLedger{placedBetErr: true},
		)
		payload, err := behaviour.Act(context.Background(), SynchronizedData{})
		if err != nil {
			t.Fatalf("act failed: %v", err)
		}
		if !payload.HasPlacedBet {
			t.Fatal("an unreadable placement state must never propose a bet")
		}
	})

	t.Run("missing result field yields a false result", func(t *testing.T) {
		behaviour := NewDataPullBehaviour(
			testParams(),
			oracle.Spec{},
			&fakeFetcher{response: map[string]any{"result": "yes"}},
			&fakeContent{hash: "QmSignal"},
			&fakeLedger{},
		)
		payload, err := behaviour.Act(context.Background(), SynchronizedData{})
		if err != nil {
			t.Fatalf("act failed: %v", err)
		}
		if payload.BettingResult {
			t.Fatal("a non boolean result must degrade to false")
		}
	})
}
