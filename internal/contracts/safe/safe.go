// Package safe adapts the shared multisig wallet. Its single callable
// computes the hash the wallet owners must sign for a proposed transaction.
package safe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"AgentBet-Chain/internal/ledger/ethereum"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractID identifies the multisig wallet in ledger requests.
const ContractID = "agentbet/gnosis_safe:0.1.0"

// CallableGetRawSafeTransactionHash computes the signable transaction hash.
const CallableGetRawSafeTransactionHash = "get_raw_safe_transaction_hash"

// Operation selects how the wallet executes the inner call.
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)

// Typehashes of the Safe v1.3.0 EIP-712 schema, computed from the canonical
// type strings rather than hardcoded.
var (
	domainSeparatorTypehash = crypto.Keccak256Hash(
		[]byte("EIP712Domain(uint256 chainId,address verifyingContract)"),
	)
	safeTxTypehash = crypto.Keccak256Hash(
		[]byte("SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)"),
	)
)

const safeABIJSON = `[
	{"name":"nonce","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var safeABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(safeABIJSON))
	if err != nil {
		panic(fmt.Sprintf("解析 safe ABI 失败: %v", err))
	}
	return parsed
}()

// Register wires the safe callable into the ledger client. The chain id is
// captured at registration so every replica hashes against the same domain.
func Register(client *ethereum.Client) {
	chainID := client.ChainID()
	client.Register(ContractID, CallableGetRawSafeTransactionHash,
		func(ctx context.Context, backend ethereum.CallBackend, contractAddress common.Address, kwargs map[string]any) (map[string]any, error) {
			return getRawSafeTransactionHash(ctx, backend, chainID, contractAddress, kwargs)
		},
	)
}

// getRawSafeTransactionHash reads the wallet nonce on chain and computes the
// EIP-712 hash locally. Body: {"tx_hash": "0x" + 64 hex chars}.
func getRawSafeTransactionHash(ctx context.Context, backend ethereum.CallBackend, chainID *big.Int, safeAddress common.Address, kwargs map[string]any) (map[string]any, error) {
	toAddress, ok := kwargs["to_address"].(string)
	if !ok || !common.IsHexAddress(toAddress) {
		return nil, errors.New("缺少合法的 to_address 参数")
	}
	value, err := bigKwarg(kwargs, "value")
	if err != nil {
		return nil, err
	}
	data, _ := kwargs["data"].([]byte)
	safeTxGas, err := bigKwarg(kwargs, "safe_tx_gas")
	if err != nil {
		return nil, err
	}
	operation, err := operationKwarg(kwargs)
	if err != nil {
		return nil, err
	}

	nonce, err := readNonce(ctx, backend, safeAddress)
	if err != nil {
		return nil, err
	}

	hash := ComputeSafeTxHash(SafeTx{
		ChainID:   chainID,
		Safe:      safeAddress,
		To:        common.HexToAddress(toAddress),
		Value:     value,
		Data:      data,
		Operation: operation,
		SafeTxGas: safeTxGas,
		Nonce:     nonce,
	})
	return map[string]any{"tx_hash": hexutil.Encode(hash.Bytes())}, nil
}

// SafeTx carries every field participating in the signable hash. Zero values
// for the refund related fields match how the agents propose transactions.
type SafeTx struct {
	ChainID        *big.Int
	Safe           common.Address
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      Operation
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          *big.Int
}

// ComputeSafeTxHash produces the EIP-712 digest the wallet owners sign.
// Every field is packed into 32-byte words; any divergence here breaks
// cross-replica agreement, so the encoding is fixed and explicit.
func ComputeSafeTxHash(tx SafeTx) common.Hash {
	domainSeparator := crypto.Keccak256Hash(
		domainSeparatorTypehash.Bytes(),
		word(tx.ChainID),
		addressWord(tx.Safe),
	)
	structHash := crypto.Keccak256Hash(
		safeTxTypehash.Bytes(),
		addressWord(tx.To),
		word(tx.Value),
		crypto.Keccak256(tx.Data),
		word(big.NewInt(int64(tx.Operation))),
		word(tx.SafeTxGas),
		word(tx.BaseGas),
		word(tx.GasPrice),
		addressWord(tx.GasToken),
		addressWord(tx.RefundReceiver),
		word(tx.Nonce),
	)
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domainSeparator.Bytes(),
		structHash.Bytes(),
	)
}

func readNonce(ctx context.Context, backend ethereum.CallBackend, safeAddress common.Address) (*big.Int, error) {
	input, err := safeABI.Pack("nonce")
	if err != nil {
		return nil, fmt.Errorf("编码 nonce 调用失败: %w", err)
	}
	raw, err := backend.CallContract(ctx, gethcore.CallMsg{To: &safeAddress, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("读取 Safe nonce 失败: %w", err)
	}
	out, err := safeABI.Unpack("nonce", raw)
	if err != nil {
		return nil, fmt.Errorf("解码 Safe nonce 失败: %w", err)
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("Safe nonce 返回值类型不符")
	}
	return nonce, nil
}

func word(n *big.Int) []byte {
	if n == nil {
		n = big.NewInt(0)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}

func addressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func bigKwarg(kwargs map[string]any, key string) (*big.Int, error) {
	switch v := kwargs[key].(type) {
	case *big.Int:
		return v, nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case nil:
		return nil, fmt.Errorf("缺少参数 %s", key)
	default:
		return nil, fmt.Errorf("参数 %s 类型不支持: %T", key, v)
	}
}

func operationKwarg(kwargs map[string]any) (Operation, error) {
	switch v := kwargs["operation"].(type) {
	case Operation:
		return v, nil
	case int:
		if v != int(OperationCall) && v != int(OperationDelegateCall) {
			return 0, fmt.Errorf("不支持的 operation 值: %d", v)
		}
		return Operation(v), nil
	case nil:
		return OperationCall, nil
	default:
		return 0, fmt.Errorf("参数 operation 类型不支持: %T", v)
	}
}
