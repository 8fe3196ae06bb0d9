package betting

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	bettingcontract "AgentBet-Chain/internal/contracts/betting"
	"AgentBet-Chain/internal/contracts/multisend"
	"AgentBet-Chain/internal/contracts/safe"
	"AgentBet-Chain/internal/ledger"
	"AgentBet-Chain/pkg/logger"
)

const (
	// safeGas is the gas the wallet forwards to the inner call; the agents
	// always propose with zero and let the executor estimate.
	safeGas = 0

	// nativeTransferWei is the value of the trivial native transfer on the
	// batched path.
	nativeTransferWei = 1
)

// SynchronizedClock yields the last agreed block time. Replica-local clocks
// must never be used for branching; coordinator.Client satisfies this.
type SynchronizedClock interface {
	AwaitSynchronizedClock(ctx context.Context) (int64, error)
}

// TxPreparationBehaviour builds the transaction the multisig wallet will
// sign: either a single bet placement call or a multisend batch, selected by
// the last digit of the synchronized timestamp.
type TxPreparationBehaviour struct {
	params Params
	ledger ledger.Client
	clock  SynchronizedClock
	logger *slog.Logger
}

// NewTxPreparationBehaviour 构造交易准备阶段。
func NewTxPreparationBehaviour(params Params, ledgerClient ledger.Client, clock SynchronizedClock) *TxPreparationBehaviour {
	return &TxPreparationBehaviour{
		params: params,
		ledger: ledgerClient,
		clock:  clock,
		logger: logger.Named("tx_preparation"),
	}
}

// Act computes the stage's candidate payload. Adapter level failures degrade
// to an empty hash inside the payload; only a malformed wallet hash or a
// missing synchronized clock is a fatal error, in which case nothing is
// submitted for this run.
func (b *TxPreparationBehaviour) Act(ctx context.Context, data SynchronizedData) (TxPreparationPayload, error) {
	now, err := b.clock.AwaitSynchronizedClock(ctx)
	if err != nil {
		return TxPreparationPayload{}, err
	}
	lastDigit := now % 10
	if lastDigit < 0 {
		lastDigit += 10
	}
	b.logger.Info("同步时间戳", slog.Int64("timestamp", now), slog.Int64("last_digit", lastDigit))

	// Digits 0-6 exercise the single-transaction path, 7-9 the batched one.
	// The 70/30 split keeps both code paths alive; it is not a business rule.
	var txHash string
	if lastDigit <= 6 {
		b.logger.Info("准备单笔投注交易")
		txHash, err = b.placeBetSafeTxHash(ctx, data)
	} else {
		b.logger.Info("准备批量投注交易")
		txHash, err = b.multisendSafeTxHash(ctx, data)
	}
	if err != nil {
		return TxPreparationPayload{}, err
	}

	return TxPreparationPayload{
		TxSubmitter: string(StageTxPreparation),
		TxHash:      txHash,
	}, nil
}

// placeBetData asks the betting adapter for the encoded placement call.
// Returns nil when the adapter cannot serve the request.
func (b *TxPreparationBehaviour) placeBetData(ctx context.Context) []byte {
	response, err := b.ledger.Request(ctx, ledger.Request{
		Performative:    ledger.PerformativeGetRawTransaction,
		ContractAddress: b.params.BettingContractAddress,
		ContractID:      bettingcontract.ContractID,
		Callable:        bettingcontract.CallableBuildPlaceBetTx,
		Kwargs: map[string]any{
			"bettor":    b.params.TransferTargetAddress,
			"match_key": b.params.MatchKey,
		},
	})
	if err != nil {
		b.logger.Error("获取投注交易数据失败", slog.Any("error", err))
		return nil
	}
	if !response.IsSuccessFor(ledger.PerformativeGetRawTransaction) {
		b.logger.Error("获取投注交易数据返回了异常 performative",
			slog.String("performative", string(response.Performative)),
			slog.Any("body", response.Body),
		)
		return nil
	}
	data, ok := response.Body["data"].([]byte)
	if !ok || len(data) == 0 {
		b.logger.Error("投注交易响应缺少 data 字段", slog.Any("body", response.Body))
		return nil
	}
	b.logger.Info("投注交易数据", slog.String("data", hexutil.Encode(data)))
	return data
}

func (b *TxPreparationBehaviour) placeBetSafeTxHash(ctx context.Context, data SynchronizedData) (string, error) {
	callData := b.placeBetData(ctx)
	if callData == nil {
		return "", nil
	}
	return b.buildSafeTxHash(ctx, data.SafeContractAddress, safeTxRequest{
		To:        b.params.BettingContractAddress,
		Value:     b.params.BettingAmount,
		Data:      callData,
		Operation: safe.OperationCall,
	})
}

func (b *TxPreparationBehaviour) multisendSafeTxHash(ctx context.Context, data SynchronizedData) (string, error) {
	callData := b.placeBetData(ctx)
	if callData == nil {
		return "", nil
	}

	// Ordered batch: the trivial native transfer first, the bet second.
	batch := []multisend.Tx{
		{
			Operation: multisend.OperationCall,
			To:        b.params.TransferTargetAddress,
			Value:     big.NewInt(nativeTransferWei),
		},
		{
			Operation: multisend.OperationCall,
			To:        b.params.BettingContractAddress,
			Value:     b.params.BettingAmount,
			Data:      callData,
		},
	}

	response, err := b.ledger.Request(ctx, ledger.Request{
		Performative:    ledger.PerformativeGetRawTransaction,
		ContractAddress: b.params.MultisendAddress,
		ContractID:      multisend.ContractID,
		Callable:        multisend.CallableGetTxData,
		Kwargs:          map[string]any{"multi_send_txs": batch},
	})
	if err != nil {
		b.logger.Error("打包批量交易失败", slog.Any("error", err))
		return "", nil
	}
	if !response.IsSuccessFor(ledger.PerformativeGetRawTransaction) {
		b.logger.Error("打包批量交易返回了异常 performative",
			slog.String("performative", string(response.Performative)),
			slog.Any("body", response.Body),
		)
		return "", nil
	}
	packedHex, ok := response.Body["data"].(string)
	if !ok || packedHex == "" {
		b.logger.Error("批量交易响应缺少 data 字段", slog.Any("body", response.Body))
		return "", nil
	}
	packed, err := hexutil.Decode(packedHex)
	if err != nil {
		b.logger.Error("批量交易数据不是十六进制", slog.Any("error", err))
		return "", nil
	}

	// The wallet moves no native value itself: value travels inside the
	// packed sub-calls, and the delegate call executes them in the wallet's
	// own context.
	return b.buildSafeTxHash(ctx, data.SafeContractAddress, safeTxRequest{
		To:        b.params.MultisendAddress,
		Value:     big.NewInt(0),
		Data:      packed,
		Operation: safe.OperationDelegateCall,
	})
}

type safeTxRequest struct {
	To        string
	Value     *big.Int
	Data      []byte
	Operation safe.Operation
}

// buildSafeTxHash requests the wallet's signable hash and finalises it into
// the canonical settlement encoding. Adapter failures degrade to an empty
// hash; a malformed wallet hash is fatal.
func (b *TxPreparationBehaviour) buildSafeTxHash(ctx context.Context, safeAddress string, req safeTxRequest) (string, error) {
	b.logger.Info("准备 Safe 交易", slog.String("safe", safeAddress))

	response, err := b.ledger.Request(ctx, ledger.Request{
		Performative:    ledger.PerformativeGetState,
		ContractAddress: safeAddress,
		ContractID:      safe.ContractID,
		Callable:        safe.CallableGetRawSafeTransactionHash,
		Kwargs: map[string]any{
			"to_address":  req.To,
			"value":       req.Value,
			"data":        req.Data,
			"safe_tx_gas": big.NewInt(safeGas),
			"operation":   req.Operation,
		},
	})
	if err != nil {
		b.logger.Error("获取 Safe 交易哈希失败", slog.Any("error", err))
		return "", nil
	}
	if !response.IsSuccessFor(ledger.PerformativeGetState) {
		b.logger.Error("获取 Safe 交易哈希返回了异常 performative",
			slog.String("performative", string(response.Performative)),
			slog.Any("body", response.Body),
		)
		return "", nil
	}
	rawHash, ok := response.Body["tx_hash"].(string)
	if !ok {
		b.logger.Error("Safe 响应缺少 tx_hash 字段", slog.Any("body", response.Body))
		return "", nil
	}

	stripped, err := StripHashMarker(rawHash)
	if err != nil {
		b.logger.Error("Safe 返回的哈希非法", slog.Any("error", err))
		return "", err
	}
	finalHash, err := HashPayloadToHex(stripped, req.Value, safeGas, req.To, req.Data, req.Operation)
	if err != nil {
		return "", err
	}
	b.logger.Info("Safe 交易哈希", slog.String("tx_hash", finalHash))
	return finalHash, nil
}
