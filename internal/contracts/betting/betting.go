// Package betting adapts the on-chain betting contract to the ledger
// callable protocol. All operations are stateless request/response mappings;
// retry policy belongs to the caller.
package betting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"AgentBet-Chain/internal/ledger/ethereum"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractID identifies the betting contract in ledger requests.
const ContractID = "agentbet/betting:0.1.0"

// Callable names accepted by this adapter.
const (
	CallableMatchKeys       = "match_keys"
	CallableHasPlacedBet    = "has_placed_bet"
	CallableIsValidMatchKey = "is_valid_match_key"
	CallableBuildPlaceBetTx = "build_place_bet_tx"
)

const bettingABIJSON = `[
	{"name":"matchKeys","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string[]"}]},
	{"name":"hasPlacedBet","type":"function","stateMutability":"view","inputs":[{"name":"bettor","type":"address"},{"name":"matchKey","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"isValidMatchKey","type":"function","stateMutability":"view","inputs":[{"name":"matchKey","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"placeBet","type":"function","stateMutability":"payable","inputs":[{"name":"bettor","type":"address"},{"name":"matchKey","type":"string"}],"outputs":[]}
]`

var bettingABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(bettingABIJSON))
	if err != nil {
		panic(fmt.Sprintf("解析 betting ABI 失败: %v", err))
	}
	return parsed
}()

// Register wires the betting callables into the ledger client.
func Register(client *ethereum.Client) {
	client.Register(ContractID, CallableMatchKeys, matchKeys)
	client.Register(ContractID, CallableHasPlacedBet, hasPlacedBet)
	client.Register(ContractID, CallableIsValidMatchKey, isValidMatchKey)
	client.Register(ContractID, CallableBuildPlaceBetTx, buildPlaceBetTx)
}

// matchKeys lists the valid match identifiers of the contract.
// Body: {"match_keys": []string}.
func matchKeys(ctx context.Context, backend ethereum.CallBackend, contractAddress common.Address, _ map[string]any) (map[string]any, error) {
	out, err := call(ctx, backend, contractAddress, "matchKeys")
	if err != nil {
		return nil, err
	}
	keys, ok := out[0].([]string)
	if !ok {
		return nil, errors.New("matchKeys 返回值类型不符")
	}
	return map[string]any{"match_keys": keys}, nil
}

// hasPlacedBet checks whether the bettor already placed a bet on the match.
// Body: {"data": bool}.
func hasPlacedBet(ctx context.Context, backend ethereum.CallBackend, contractAddress common.Address, kwargs map[string]any) (map[string]any, error) {
	bettor, err := addressKwarg(kwargs, "bettor")
	if err != nil {
		return nil, err
	}
	matchKey, err := stringKwarg(kwargs, "match_key")
	if err != nil {
		return nil, err
	}
	out, err := call(ctx, backend, contractAddress, "hasPlacedBet", bettor, matchKey)
	if err != nil {
		return nil, err
	}
	placed, ok := out[0].(bool)
	if !ok {
		return nil, errors.New("hasPlacedBet 返回值类型不符")
	}
	return map[string]any{"data": placed}, nil
}

// isValidMatchKey validates a match identifier against the contract.
// Body: {"data": bool}.
func isValidMatchKey(ctx context.Context, backend ethereum.CallBackend, contractAddress common.Address, kwargs map[string]any) (map[string]any, error) {
	matchKey, err := stringKwarg(kwargs, "match_key")
	if err != nil {
		return nil, err
	}
	out, err := call(ctx, backend, contractAddress, "isValidMatchKey", matchKey)
	if err != nil {
		return nil, err
	}
	valid, ok := out[0].(bool)
	if !ok {
		return nil, errors.New("isValidMatchKey 返回值类型不符")
	}
	return map[string]any{"data": valid}, nil
}

// buildPlaceBetTx ABI-encodes a placeBet call. Pure encode, no chain access.
// Body: {"data": []byte}.
func buildPlaceBetTx(_ context.Context, _ ethereum.CallBackend, _ common.Address, kwargs map[string]any) (map[string]any, error) {
	bettor, err := addressKwarg(kwargs, "bettor")
	if err != nil {
		return nil, err
	}
	matchKey, err := stringKwarg(kwargs, "match_key")
	if err != nil {
		return nil, err
	}
	data, err := bettingABI.Pack("placeBet", bettor, matchKey)
	if err != nil {
		return nil, fmt.Errorf("编码 placeBet 调用失败: %w", err)
	}
	return map[string]any{"data": data}, nil
}

func call(ctx context.Context, backend ethereum.CallBackend, contractAddress common.Address, method string, args ...any) ([]any, error) {
	input, err := bettingABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	raw, err := backend.CallContract(ctx, gethcore.CallMsg{To: &contractAddress, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	out, err := bettingABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s 未返回任何值", method)
	}
	return out, nil
}

func stringKwarg(kwargs map[string]any, key string) (string, error) {
	value, ok := kwargs[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("缺少参数 %s", key)
	}
	return value, nil
}

func addressKwarg(kwargs map[string]any, key string) (common.Address, error) {
	value, err := stringKwarg(kwargs, key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("参数 %s 不是合法地址: %s", key, value)
	}
	return common.HexToAddress(value), nil
}
