package betting

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	bettingcontract "AgentBet-Chain/internal/contracts/betting"
	"AgentBet-Chain/internal/ledger"
	"AgentBet-Chain/internal/oracle"
	"AgentBet-Chain/pkg/logger"
)

// metadataFilename is the fixed name the raw oracle response is stored
// under in content-addressed storage.
const metadataFilename = "metadata.json"

// SignalFetcher pulls the off-chain betting signal. *oracle.Client satisfies
// it.
type SignalFetcher interface {
	Fetch(ctx context.Context, spec oracle.Spec) (map[string]any, error)
}

// ContentStore persists objects into content-addressed storage.
// *ipfs.Client satisfies it.
type ContentStore interface {
	Put(ctx context.Context, filename string, obj any) (string, error)
	GatewayURL(hash string) string
}

// DataPullBehaviour pulls the betting signal from the oracle, persists the
// raw response, reads the on-chain placement status, and bundles the three
// facts into its payload.
type DataPullBehaviour struct {
	params  Params
	spec    oracle.Spec
	fetcher SignalFetcher
	content ContentStore
	ledger  ledger.Client
	logger  *slog.Logger
}

// NewDataPullBehaviour 构造数据拉取阶段。
func NewDataPullBehaviour(params Params, spec oracle.Spec, fetcher SignalFetcher, content ContentStore, ledgerClient ledger.Client) *DataPullBehaviour {
	return &DataPullBehaviour{
		params:  params,
		spec:    spec,
		fetcher: fetcher,
		content: content,
		ledger:  ledgerClient,
		logger:  logger.Named("data_pull"),
	}
}

// Act computes the stage's candidate payload. Sub-step failures degrade to
// their documented defaults instead of aborting the run: a failed oracle
// fetch yields a false result, a failed storage write an empty hash, and a
// failed placement read a true placement flag so no replica proposes a bet
// on unknown on-chain state.
func (b *DataPullBehaviour) Act(ctx context.Context, _ SynchronizedData) (DataPullPayload, error) {
	response := b.fetchBettingSignal(ctx)

	result := false
	if response != nil {
		if value, ok := response["result"].(bool); ok {
			result = value
		} else {
			b.logger.Error("信号响应缺少布尔 result 字段")
		}
	}

	ipfsHash := b.persistSignal(ctx, response)
	hasPlacedBet := b.readHasPlacedBet(ctx)

	return DataPullPayload{
		BettingResult:   result,
		BettingIPFSHash: ipfsHash,
		HasPlacedBet:    hasPlacedBet,
	}, nil
}

func (b *DataPullBehaviour) fetchBettingSignal(ctx context.Context) map[string]any {
	response, err := b.fetcher.Fetch(ctx, b.spec)
	if err != nil {
		b.logger.Error("拉取博彩信号失败", slog.Any("error", err))
		return nil
	}
	b.logger.Info("博彩信号", slog.Any("response", response))
	return response
}

// persistSignal stages the raw response into a fresh per-run temp file and
// uploads it. Failure is non-fatal: the run continues with an empty hash.
// The staged file is not cleaned up here; cleanup is an external concern.
func (b *DataPullBehaviour) persistSignal(ctx context.Context, response map[string]any) string {
	if response == nil {
		return ""
	}
	if path, err := b.stageMetadata(response); err != nil {
		b.logger.Warn("暂存元数据文件失败", slog.Any("error", err))
	} else {
		b.logger.Debug("元数据已暂存", slog.String("path", path))
	}

	hash, err := b.content.Put(ctx, metadataFilename, response)
	if err != nil {
		b.logger.Error("写入内容寻址存储失败", slog.Any("error", err))
		return ""
	}
	b.logger.Info("博彩信号已存储", slog.String("url", b.content.GatewayURL(hash)))
	return hash
}

func (b *DataPullBehaviour) stageMetadata(response map[string]any) (string, error) {
	dir, err := os.MkdirTemp("", "agentbet-")
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(response)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, metadataFilename)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (b *DataPullBehaviour) readHasPlacedBet(ctx context.Context) bool {
	response, err := b.ledger.Request(ctx, ledger.Request{
		Performative:    ledger.PerformativeGetRawTransaction,
		ContractAddress: b.params.BettingContractAddress,
		ContractID:      bettingcontract.ContractID,
		Callable:        bettingcontract.CallableHasPlacedBet,
		Kwargs: map[string]any{
			"bettor":    b.params.TransferTargetAddress,
			"match_key": b.params.MatchKey,
		},
	})
	if err != nil {
		b.logger.Error("查询投注状态失败", slog.Any("error", err))
		return true
	}
	if !response.IsSuccessFor(ledger.PerformativeGetRawTransaction) {
		b.logger.Error("查询投注状态返回了异常 performative",
			slog.String("performative", string(response.Performative)),
			slog.Any("body", response.Body),
		)
		return true
	}
	placed, ok := response.Body["data"].(bool)
	if !ok {
		b.logger.Error("投注状态响应缺少 data 字段", slog.Any("body", response.Body))
		return true
	}
	b.logger.Info("投注状态", slog.Bool("has_placed_bet", placed))
	return placed
}
