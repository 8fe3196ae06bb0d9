package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 AgentBet 在启动阶段需要加载的核心配置。
type Config struct {
	Server      ServerConfig      `json:"server"`
	Storage     StorageConfig     `json:"storage"`
	Ledger      LedgerConfig      `json:"ledger"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	IPFS        IPFSConfig        `json:"ipfs"`
	Oracle      OracleConfig      `json:"oracle"`
	Betting     BettingConfig     `json:"betting"`
	Logging     LoggingConfig     `json:"logging"`
	Alerting    AlertingConfig    `json:"alerting"`
	Runtime     RuntimeConfig     `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述运行历史的存储后端。
type StorageConfig struct {
	RunStore RunStoreConfig `json:"run_store"`
}

// RunStoreConfig 支持 memory 与 mysql 两种驱动。
type RunStoreConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// LedgerConfig 包含访问区块链节点所需的 RPC 地址。
type LedgerConfig struct {
	Name    string `json:"name"`
	RPCURL  string `json:"rpc_url"`
	ChainID int64  `json:"chain_id"`
}

// CoordinatorConfig 描述多副本协同所用的后端及其参数。
type CoordinatorConfig struct {
	Driver    string                 `json:"driver"`
	ReplicaID string                 `json:"replica_id"`
	Threshold int                    `json:"threshold"`
	Redis     RedisCoordinatorConfig `json:"redis"`
	AMQP      AMQPCoordinatorConfig  `json:"amqp"`
}

// RedisCoordinatorConfig 对应 Redis 协同后端。
type RedisCoordinatorConfig struct {
	Address      string `json:"address"`
	Password     string `json:"password"`
	DB           int    `json:"db"`
	KeyPrefix    string `json:"key_prefix"`
	PollInterval int    `json:"poll_interval_ms"`
	RoundTTL     int    `json:"round_ttl_seconds"`
}

// AMQPCoordinatorConfig 对应 RabbitMQ 协同后端。
type AMQPCoordinatorConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// IPFSConfig 描述元数据上传所用的 IPFS 节点。
type IPFSConfig struct {
	APIURL     string `json:"api_url"`
	GatewayURL string `json:"gateway_url"`
	TimeoutSec int    `json:"timeout_seconds"`
}

// OracleConfig 指定信号源 API 规格文件及默认规格名称。
type OracleConfig struct {
	SpecsPath  string `json:"specs_path"`
	Spec       string `json:"spec"`
	TimeoutSec int    `json:"timeout_seconds"`
}

// BettingConfig 汇总下注所需的链上参数。
type BettingConfig struct {
	BettingContractAddress string `json:"betting_contract_address"`
	SafeContractAddress    string `json:"safe_contract_address"`
	MultisendAddress       string `json:"multisend_address"`
	TransferTargetAddress  string `json:"transfer_target_address"`
	MatchKey               string `json:"match_key"`
	BettingAmountWei       string `json:"betting_amount_wei"`
	RunIntervalSec         int    `json:"run_interval_seconds"`
}

// LoggingConfig 控制结构化日志与决策日志的输出位置。
type LoggingConfig struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	Directory   string `json:"directory"`
	DecisionLog bool   `json:"decision_log"`
}

// AlertingConfig 控制告警渠道。
type AlertingConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// BettingAmount 将配置中的字符串金额解析为大整数（单位 wei）。
func (c *Config) BettingAmount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(c.Betting.BettingAmountWei, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("下注金额非法: %q", c.Betting.BettingAmountWei)
	}
	return amount, nil
}

// RunInterval 返回两轮运行之间的间隔。
func (c *Config) RunInterval() time.Duration {
	return time.Duration(c.Betting.RunIntervalSec) * time.Second
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}

	if c.Ledger.Name == "" {
		c.Ledger.Name = "gnosis"
	}
	if c.Ledger.ChainID == 0 {
		c.Ledger.ChainID = 100
	}

	if c.Coordinator.Driver == "" {
		c.Coordinator.Driver = "memory"
	}
	if c.Coordinator.ReplicaID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Coordinator.ReplicaID = host
		} else {
			c.Coordinator.ReplicaID = "replica-0"
		}
	}
	if c.Coordinator.Threshold == 0 {
		c.Coordinator.Threshold = 1
	}
	if c.Coordinator.Redis.KeyPrefix == "" {
		c.Coordinator.Redis.KeyPrefix = "agentbet:rounds"
	}
	if c.Coordinator.Redis.PollInterval == 0 {
		c.Coordinator.Redis.PollInterval = 200
	}
	if c.Coordinator.Redis.RoundTTL == 0 {
		c.Coordinator.Redis.RoundTTL = 600
	}
	if c.Coordinator.AMQP.Exchange == "" {
		c.Coordinator.AMQP.Exchange = "agentbet.rounds"
	}

	if c.IPFS.TimeoutSec == 0 {
		c.IPFS.TimeoutSec = 30
	}
	if c.Oracle.TimeoutSec == 0 {
		c.Oracle.TimeoutSec = 30
	}
	if c.Oracle.SpecsPath == "" {
		c.Oracle.SpecsPath = filepath.Join(baseDir, "oracle.yaml")
	} else if !filepath.IsAbs(c.Oracle.SpecsPath) {
		c.Oracle.SpecsPath = filepath.Join(baseDir, c.Oracle.SpecsPath)
	}
	if c.Oracle.Spec == "" {
		c.Oracle.Spec = "betting_signal"
	}

	if c.Betting.BettingAmountWei == "" {
		c.Betting.BettingAmountWei = "1000000000000000"
	}
	if c.Betting.RunIntervalSec == 0 {
		c.Betting.RunIntervalSec = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = filepath.Join(c.Runtime.DataDir, "logs")
	} else if !filepath.IsAbs(c.Logging.Directory) {
		c.Logging.Directory = filepath.Join(baseDir, c.Logging.Directory)
	}
}

// validate 在启动前拦截明显的配置错误。
func (c *Config) validate() error {
	if c.Ledger.RPCURL == "" {
		return errors.New("缺少链上节点 RPC 地址")
	}
	if c.Betting.BettingContractAddress == "" {
		return errors.New("缺少下注合约地址")
	}
	if c.Betting.SafeContractAddress == "" {
		return errors.New("缺少 Safe 合约地址")
	}
	if c.Betting.MatchKey == "" {
		return errors.New("缺少比赛标识 match_key")
	}
	if _, err := c.BettingAmount(); err != nil {
		return err
	}
	switch c.Coordinator.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的协同后端: %q", c.Coordinator.Driver)
	}
	return nil
}
