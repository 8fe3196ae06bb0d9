package safe

import (
	"context"
	"math/big"
	"strings"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"AgentBet-Chain/internal/ledger"
	"AgentBet-Chain/internal/ledger/ethereum"
)

func sampleTx() SafeTx {
	return SafeTx{
		ChainID:   big.NewInt(100),
		Safe:      common.HexToAddress("0x5555555555555555555555555555555555555555"),
		To:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Value:     big.NewInt(1000),
		Data:      []byte{0x01, 0x02},
		Operation: OperationCall,
		SafeTxGas: big.NewInt(0),
		Nonce:     big.NewInt(7),
	}
}

func TestComputeSafeTxHashDeterminism(t *testing.T) {
	t.Parallel()

	first := ComputeSafeTxHash(sampleTx())
	second := ComputeSafeTxHash(sampleTx())
	if first != second {
		t.Fatalf("identical transactions hashed differently: %s vs %s", first, second)
	}
}

func TestComputeSafeTxHashSensitivity(t *testing.T) {
	t.Parallel()

	base := ComputeSafeTxHash(sampleTx())

	mutations := map[string]func(*SafeTx){
		"value":     func(tx *SafeTx) { tx.Value = big.NewInt(1001) },
		"data":      func(tx *SafeTx) { tx.Data = []byte{0x01, 0x03} },
		"operation": func(tx *SafeTx) { tx.Operation = OperationDelegateCall },
		"nonce":     func(tx *SafeTx) { tx.Nonce = big.NewInt(8) },
		"chain id":  func(tx *SafeTx) { tx.ChainID = big.NewInt(1) },
		"wallet":    func(tx *SafeTx) { tx.Safe = common.HexToAddress("0x6666666666666666666666666666666666666666") },
	}
	for name, mutate := range mutations {
		tx := sampleTx()
		mutate(&tx)
		if ComputeSafeTxHash(tx) == base {
			t.Fatalf("changing the %s must change the hash", name)
		}
	}
}

func TestComputeSafeTxHashToleratesNilFields(t *testing.T) {
	t.Parallel()

	tx := sampleTx()
	tx.Value = nil
	tx.SafeTxGas = nil
	tx.Nonce = nil

	explicit := sampleTx()
	explicit.Value = big.NewInt(0)
	explicit.SafeTxGas = big.NewInt(0)
	explicit.Nonce = big.NewInt(0)

	if ComputeSafeTxHash(tx) != ComputeSafeTxHash(explicit) {
		t.Fatal("nil big fields must hash like explicit zeros")
	}
}

// nonceBackend answers only the wallet nonce read.
type nonceBackend struct {
	nonce *big.Int
}

func (b *nonceBackend) CallContract(_ context.Context, _ gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	return safeABI.Methods["nonce"].Outputs.Pack(b.nonce)
}

func TestGetRawSafeTransactionHashRequest(t *testing.T) {
	t.Parallel()

	client := ethereum.NewStaticClient("testchain", big.NewInt(100), &nonceBackend{nonce: big.NewInt(7)})
	Register(client)

	resp, err := client.Request(context.Background(), ledger.Request{
		Performative:    ledger.PerformativeGetState,
		ContractAddress: "0x5555555555555555555555555555555555555555",
		ContractID:      ContractID,
		Callable:        CallableGetRawSafeTransactionHash,
		Kwargs: map[string]any{
			"to_address":  "0x2222222222222222222222222222222222222222",
			"value":       big.NewInt(1000),
			"data":        []byte{0x01, 0x02},
			"safe_tx_gas": big.NewInt(0),
			"operation":   OperationCall,
		},
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !resp.IsSuccessFor(ledger.PerformativeGetState) {
		t.Fatalf("unexpected performative: %q body %v", resp.Performative, resp.Body)
	}

	hash, ok := resp.Body["tx_hash"].(string)
	if !ok {
		t.Fatalf("missing tx_hash in body: %v", resp.Body)
	}
	if !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		t.Fatalf("unexpected hash format: %q", hash)
	}

	want := ComputeSafeTxHash(sampleTx())
	if hash != want.Hex() {
		t.Fatalf("request hash diverges from the local computation: %s vs %s", hash, want.Hex())
	}
}

func TestGetRawSafeTransactionHashRejectsBadKwargs(t *testing.T) {
	t.Parallel()

	client := ethereum.NewStaticClient("testchain", big.NewInt(100), &nonceBackend{nonce: big.NewInt(0)})
	Register(client)

	resp, err := client.Request(context.Background(), ledger.Request{
		Performative:    ledger.PerformativeGetState,
		ContractAddress: "0x5555555555555555555555555555555555555555",
		ContractID:      ContractID,
		Callable:        CallableGetRawSafeTransactionHash,
		Kwargs:          map[string]any{"to_address": "nope"},
	})
	if err != nil {
		t.Fatalf("request must not fail at the transport level: %v", err)
	}
	if resp.Performative != ledger.PerformativeError {
		t.Fatalf("expected an error performative, got %q", resp.Performative)
	}
}
