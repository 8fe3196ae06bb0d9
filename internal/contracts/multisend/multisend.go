// Package multisend packs an ordered list of sub-transactions into one
// multiSend call. The packing is pure encoding; no chain access happens here.
package multisend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"AgentBet-Chain/internal/ledger/ethereum"
)

// ContractID identifies the multisend contract in ledger requests.
const ContractID = "agentbet/multisend:0.1.0"

// CallableGetTxData packs sub-transactions into one encoded call.
const CallableGetTxData = "get_tx_data"

// Operation selects how each packed sub-call executes.
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)

// Tx is one entry of the packed batch. Data may be nil for plain native
// transfers.
type Tx struct {
	Operation Operation
	To        string
	Value     *big.Int
	Data      []byte
}

const multiSendABIJSON = `[
	{"name":"multiSend","type":"function","stateMutability":"payable","inputs":[{"name":"transactions","type":"bytes"}],"outputs":[]}
]`

var multiSendABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(multiSendABIJSON))
	if err != nil {
		panic(fmt.Sprintf("解析 multisend ABI 失败: %v", err))
	}
	return parsed
}()

// Register wires the multisend callable into the ledger client.
func Register(client *ethereum.Client) {
	client.Register(ContractID, CallableGetTxData, getTxData)
}

// getTxData packs the kwargs["multi_send_txs"] list and wraps it in a
// multiSend call. Body: {"data": "0x" + hex}.
func getTxData(_ context.Context, _ ethereum.CallBackend, _ common.Address, kwargs map[string]any) (map[string]any, error) {
	txs, ok := kwargs["multi_send_txs"].([]Tx)
	if !ok || len(txs) == 0 {
		return nil, errors.New("缺少 multi_send_txs 参数")
	}
	packed, err := PackTxs(txs)
	if err != nil {
		return nil, err
	}
	data, err := multiSendABI.Pack("multiSend", packed)
	if err != nil {
		return nil, fmt.Errorf("编码 multiSend 调用失败: %w", err)
	}
	return map[string]any{"data": hexutil.Encode(data)}, nil
}

// PackTxs encodes the batch in the multisend wire layout: for each entry one
// operation byte, the 20-byte target, a 32-byte value, a 32-byte data length
// and the raw data bytes, concatenated in list order.
func PackTxs(txs []Tx) ([]byte, error) {
	var buf bytes.Buffer
	for i, tx := range txs {
		if !common.IsHexAddress(tx.To) {
			return nil, fmt.Errorf("批次第 %d 项的目标地址非法: %s", i, tx.To)
		}
		value := tx.Value
		if value == nil {
			value = big.NewInt(0)
		}
		buf.WriteByte(byte(tx.Operation))
		buf.Write(common.HexToAddress(tx.To).Bytes())
		buf.Write(common.LeftPadBytes(value.Bytes(), 32))
		buf.Write(common.LeftPadBytes(big.NewInt(int64(len(tx.Data))).Bytes(), 32))
		buf.Write(tx.Data)
	}
	return buf.Bytes(), nil
}
