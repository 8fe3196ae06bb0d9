package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentBet-Chain/internal/api"
	"AgentBet-Chain/internal/betting"
	"AgentBet-Chain/internal/config"
	bettingcontract "AgentBet-Chain/internal/contracts/betting"
	"AgentBet-Chain/internal/contracts/multisend"
	"AgentBet-Chain/internal/contracts/safe"
	"AgentBet-Chain/internal/coordinator"
	"AgentBet-Chain/internal/ipfs"
	"AgentBet-Chain/internal/ledger"
	"AgentBet-Chain/internal/ledger/ethereum"
	"AgentBet-Chain/internal/observability/alerting"
	"AgentBet-Chain/internal/oracle"
	"AgentBet-Chain/internal/storage/mysql"
	"AgentBet-Chain/pkg/logger"
)

// main 是 AgentBet 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agentbetd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTBET_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentbet.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		Decision: logger.DecisionLogConfig{
			Enabled: cfg.Logging.DecisionLog,
			Path:    filepath.Join(cfg.Logging.Directory, "decisions.log"),
		},
	}); err != nil {
		return err
	}

	// 初始化链上读客户端并注册合约适配器。
	ledgerClient, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:    cfg.Ledger.Name,
		RPCURL:  cfg.Ledger.RPCURL,
		ChainID: cfg.Ledger.ChainID,
	})
	if err != nil {
		return err
	}
	defer ledgerClient.Close()

	bettingcontract.Register(ledgerClient)
	safe.Register(ledgerClient)
	multisend.Register(ledgerClient)

	if err := checkMatchKey(ctx, ledgerClient, cfg); err != nil {
		return err
	}

	// 运行历史仓库。
	var runRepo mysql.RunRepository
	switch cfg.Storage.RunStore.Driver {
	case "memory", "":
		repo, err := mysql.NewMemoryRunRepository(cfg.Runtime.DataDir)
		if err != nil {
			return err
		}
		runRepo = repo
	case "mysql":
		repo, err := mysql.NewSQLRunRepository(ctx, mysql.Config{
			DSN:             cfg.Storage.RunStore.DSN,
			MaxOpenConns:    cfg.Storage.RunStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.RunStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.RunStore.ConnMaxLifetime) * time.Second,
		})
		if err != nil {
			return err
		}
		runRepo = repo
	default:
		return mysql.ErrUnsupportedDriver
	}
	if closer, ok := runRepo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// 多副本协同后端。
	coord, err := createCoordinator(cfg)
	if err != nil {
		return err
	}
	if closer, ok := coord.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// 信号源与元数据存储。
	specs, err := oracle.LoadSpecDefinitions(cfg.Oracle.SpecsPath)
	if err != nil {
		return err
	}
	spec, err := specs.Get(cfg.Oracle.Spec)
	if err != nil {
		return err
	}
	oracleClient := oracle.NewClient(oracle.WithHTTPClient(&http.Client{
		Timeout: time.Duration(cfg.Oracle.TimeoutSec) * time.Second,
	}))

	ipfsClient, err := ipfs.NewClient(ipfs.Config{
		APIURL:     cfg.IPFS.APIURL,
		GatewayURL: cfg.IPFS.GatewayURL,
		Timeout:    time.Duration(cfg.IPFS.TimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	amount, err := cfg.BettingAmount()
	if err != nil {
		return err
	}
	params := betting.Params{
		BettingContractAddress: cfg.Betting.BettingContractAddress,
		SafeContractAddress:    cfg.Betting.SafeContractAddress,
		MultisendAddress:       cfg.Betting.MultisendAddress,
		TransferTargetAddress:  cfg.Betting.TransferTargetAddress,
		MatchKey:               cfg.Betting.MatchKey,
		BettingAmount:          amount,
	}

	store := betting.NewStore(cfg.Betting.SafeContractAddress)
	dataPull := betting.NewDataPullBehaviour(params, spec, oracleClient, ipfsClient, ledgerClient)
	decision := betting.NewDecisionMakingBehaviour()
	txPrep := betting.NewTxPreparationBehaviour(params, ledgerClient, coord)

	sequencer := betting.NewSequencer(coord, store, cfg.Coordinator.ReplicaID, dataPull, decision, txPrep)

	service := betting.NewService(sequencer, runRepo,
		betting.WithRunInterval(cfg.RunInterval()),
		betting.WithAlertDispatcher(createAlerting(cfg)),
	)

	serviceCtx, serviceCancel := context.WithCancel(ctx)
	defer serviceCancel()

	go func() {
		if err := service.Start(serviceCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("运行服务异常退出: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, runRepo)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// checkMatchKey 在启动阶段确认配置的比赛标识被合约承认，避免整个副本集
// 围绕一个必然失败的标识空转。
func checkMatchKey(ctx context.Context, client ledger.Client, cfg *config.Config) error {
	resp, err := client.Request(ctx, ledger.Request{
		Performative:    ledger.PerformativeGetState,
		ContractAddress: cfg.Betting.BettingContractAddress,
		ContractID:      bettingcontract.ContractID,
		Callable:        bettingcontract.CallableIsValidMatchKey,
		Kwargs:          map[string]any{"match_key": cfg.Betting.MatchKey},
	})
	if err != nil {
		return fmt.Errorf("校验 match_key 失败: %w", err)
	}
	if !resp.IsSuccessFor(ledger.PerformativeGetState) {
		return fmt.Errorf("校验 match_key 失败: %v", resp.Body["message"])
	}
	if valid, ok := resp.Body["data"].(bool); !ok || !valid {
		return fmt.Errorf("合约不接受配置的 match_key: %q", cfg.Betting.MatchKey)
	}
	return nil
}

func createCoordinator(cfg *config.Config) (coordinator.Client, error) {
	switch cfg.Coordinator.Driver {
	case "", "memory":
		return coordinator.NewLocal(cfg.Coordinator.Threshold), nil
	case "redis":
		return coordinator.NewRedis(coordinator.RedisConfig{
			Address:      cfg.Coordinator.Redis.Address,
			Password:     cfg.Coordinator.Redis.Password,
			DB:           cfg.Coordinator.Redis.DB,
			KeyPrefix:    cfg.Coordinator.Redis.KeyPrefix,
			ReplicaID:    cfg.Coordinator.ReplicaID,
			Threshold:    cfg.Coordinator.Threshold,
			PollInterval: time.Duration(cfg.Coordinator.Redis.PollInterval) * time.Millisecond,
			RoundTTL:     time.Duration(cfg.Coordinator.Redis.RoundTTL) * time.Second,
		})
	case "rabbitmq":
		return coordinator.NewAMQP(coordinator.AMQPConfig{
			URL:       cfg.Coordinator.AMQP.URL,
			Exchange:  cfg.Coordinator.AMQP.Exchange,
			ReplicaID: cfg.Coordinator.ReplicaID,
			Threshold: cfg.Coordinator.Threshold,
		})
	default:
		return nil, fmt.Errorf("未知的协同后端: %s", cfg.Coordinator.Driver)
	}
}

func createAlerting(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    alerting.NewWebhookSender(cfg.Alerting.SlackWebhookURL),
			ChannelID: cfg.Alerting.SlackChannel,
		})
	}
	return alerting.NewFanout(notifiers...)
}
