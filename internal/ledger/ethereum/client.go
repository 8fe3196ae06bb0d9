package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AgentBet-Chain/internal/ledger"
	"AgentBet-Chain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM backed ledger client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Notes   string
}

// CallBackend is the subset of the go-ethereum client that registered
// callables are allowed to use for read-only contract access.
type CallBackend interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Callable implements one contract operation. It receives the request kwargs
// and returns the response body. Errors are translated into error
// performative responses by the client, never into transport errors.
type Callable func(ctx context.Context, backend CallBackend, contractAddress common.Address, kwargs map[string]any) (map[string]any, error)

// Client implements ledger.Client on top of an EVM compatible node.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   CallBackend
	chainID   *big.Int

	mu        sync.RWMutex
	callables map[string]map[string]Callable
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use
// ledger client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		chainID:   chainID,
		callables: make(map[string]map[string]Callable),
	}, nil
}

// NewStaticClient wraps an arbitrary call backend, used by tests and by the
// local single-replica mode where no live node is available.
func NewStaticClient(name string, chainID *big.Int, backend CallBackend) *Client {
	return &Client{
		name:      name,
		backend:   backend,
		chainID:   new(big.Int).Set(chainID),
		notes:     "static backend",
		callables: make(map[string]map[string]Callable),
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID returns the chain identifier the client is bound to.
func (c *Client) ChainID() *big.Int {
	if c == nil || c.chainID == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(c.chainID)
}

// Register binds a callable implementation to a contract identifier. Contract
// adapter packages call this during wiring.
func (c *Client) Register(contractID, callable string, fn Callable) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.callables[contractID]
	if !ok {
		set = make(map[string]Callable)
		c.callables[contractID] = set
	}
	set[callable] = fn
}

// Request dispatches a performative request to the registered callable.
// Handler failures degrade to an error performative so the caller can apply
// its own null-propagation policy; only an unusable client is a hard error.
func (c *Client) Request(ctx context.Context, req ledger.Request) (ledger.Response, error) {
	if c == nil || c.backend == nil {
		return ledger.Response{}, errors.New("未初始化的以太坊账本客户端")
	}
	if req.Performative != ledger.PerformativeGetRawTransaction && req.Performative != ledger.PerformativeGetState {
		return ledger.ErrorResponse(fmt.Sprintf("不支持的请求 performative: %s", req.Performative)), nil
	}

	c.mu.RLock()
	fn := c.callables[req.ContractID][req.Callable]
	c.mu.RUnlock()
	if fn == nil {
		return ledger.ErrorResponse(fmt.Sprintf("合约 %s 未注册方法 %s", req.ContractID, req.Callable)), nil
	}

	address := common.HexToAddress(req.ContractAddress)
	body, err := fn(ctx, c.backend, address, req.Kwargs)
	if err != nil {
		logger.Named("ledger").Warn("合约调用失败",
			"contract_id", req.ContractID,
			"callable", req.Callable,
			"error", err,
		)
		return ledger.ErrorResponse(err.Error()), nil
	}

	performative := ledger.PerformativeRawTransaction
	if req.Performative == ledger.PerformativeGetState {
		performative = ledger.PerformativeState
	}
	return ledger.Response{Performative: performative, Body: body}, nil
}
