package betting

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"AgentBet-Chain/internal/ledger"
	"AgentBet-Chain/internal/ledger/ethereum"
)

const (
	testContractAddress = "0x2222222222222222222222222222222222222222"
	testBettorAddress   = "0x4444444444444444444444444444444444444444"
)

// abiBackend decodes the incoming call and answers with ABI-encoded outputs,
// standing in for a live node.
type abiBackend struct {
	placed   bool
	valid    bool
	keys     []string
	lastCall []byte
}

func (b *abiBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	b.lastCall = msg.Data
	method, err := bettingABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "hasPlacedBet":
		return method.Outputs.Pack(b.placed)
	case "isValidMatchKey":
		return method.Outputs.Pack(b.valid)
	case "matchKeys":
		return method.Outputs.Pack(b.keys)
	}
	return nil, nil
}

func newTestClient(backend ethereum.CallBackend) *ethereum.Client {
	client := ethereum.NewStaticClient("testchain", big.NewInt(100), backend)
	Register(client)
	return client
}

func TestHasPlacedBetRequest(t *testing.T) {
	t.Parallel()

	client := newTestClient(&abiBackend{placed: true})

	resp, err := client.Request(context.Background(), ledger.Request{
		Performative:    ledger.PerformativeGetRawTransaction,
		ContractAddress: testContractAddress,
		ContractID:      ContractID,
		Callable:        CallableHasPlacedBet,
		Kwargs: map[string]any{
			"bettor":    testBettorAddress,
			"match_key": "match-1",
		},
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !resp.IsSuccessFor(ledger.PerformativeGetRawTransaction) {
		t.Fatalf("unexpected performative: %q body %v", resp.Performative, resp.Body)
	}
	placed, ok := resp.Body["data"].(bool)
	if !ok || !placed {
		t.Fatalf("unexpected body: %v", resp.Body)
	}
}

func TestIsValidMatchKeyRequest(t *testing.T) {
	t.Parallel()

	client := newTestClient(&abiBackend{valid: false})

	resp, err := client.Request(context.Background(), ledger.Request{
		Performative:    ledger.PerformativeGetState,
		ContractAddress: testContractAddress,
		ContractID:      ContractID,
		Callable:        CallableIsValidMatchKey,
		Kwargs:          map[string]any{"match_key": "bogus"},
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !resp.IsSuccessFor(ledger.PerformativeGetState) {
		t.Fatalf("unexpected performative: %q", resp.Performative)
	}
	if valid, ok := resp.Body["data"].(bool); !ok || valid {
		t.Fatalf("unexpected body: %v", resp.Body)
	}
}

func TestMatchKeysRequest(t *testing.T) {
	t.Parallel()

	client := newTestClient(&abiBackend{keys: []string{"match-1", "match-2"}})

	resp, err := client.Request(context.Background(), ledger.Request{
		Performative:    ledger.PerformativeGetState,
		ContractAddress: testContractAddress,
		ContractID:      ContractID,
		Callable:        CallableMatchKeys,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	keys, ok := resp.Body["match_keys"].([]string)
	if !ok || len(keys) != 2 || keys[0] != "match-1" {
		t.Fatalf("unexpected body: %v", resp.Body)
	}
}

func TestBuildPlaceBetTxEncodesSelector(t *testing.T) {
	t.Parallel()

	client := newTestClient(&abiBackend{})

	resp, err := client.Request(context.Background(), ledger.Request{
		Performative:    ledger.PerformativeGetRawTransaction,
		ContractAddress: testContractAddress,
		ContractID:      ContractID,
		Callable:        CallableBuildPlaceBetTx,
		Kwargs: map[string]any{
			"bettor":    testBettorAddress,
			"match_key": "match-1",
		},
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, ok := resp.Body["data"].([]byte)
	if !ok || len(data) == 0 {
		t.Fatalf("unexpected body: %v", resp.Body)
	}

	want, err := bettingABI.Pack("placeBet", common.HexToAddress(testBettorAddress), "match-1")
	if err != nil {
		t.Fatalf("reference encoding failed: %v", err)
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("encoded call diverges from the ABI reference:\n%x\n%x", data, want)
	}
	if !bytes.Equal(data[:4], bettingABI.Methods["placeBet"].ID) {
		t.Fatalf("unexpected selector: %x", data[:4])
	}
}

func TestMissingKwargsYieldErrorPerformative(t *testing.T) {
	t.Parallel()

	client := newTestClient(&abiBackend{})

	resp, err := client.Request(context.Background(), ledger.Request{
		Performative:    ledger.PerformativeGetRawTransaction,
		ContractAddress: testContractAddress,
		ContractID:      ContractID,
		Callable:        CallableHasPlacedBet,
		Kwargs:          map[string]any{"bettor": "not-an-address"},
	})
	if err != nil {
		t.Fatalf("request must not fail at the transport level: %v", err)
	}
	if resp.Performative != ledger.PerformativeError {
		t.Fatalf("expected an error performative, got %q", resp.Performative)
	}
}
