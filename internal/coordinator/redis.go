package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentBet-Chain/internal/errors"
)

// RedisConfig 描述 Redis 协调后端的连接参数。
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	KeyPrefix    string
	ReplicaID    string
	Threshold    int
	PollInterval time.Duration
	RoundTTL     time.Duration
}

// Redis coordinates payload agreement through a shared Redis instance. Each
// replica writes its candidate into a per-round hash; the first replica that
// observes the threshold commits the agreed value with SETNX, which makes the
// committed bytes authoritative for everyone.
type Redis struct {
	client    *redis.Client
	prefix    string
	replicaID string
	threshold int
	poll      time.Duration
	ttl       time.Duration

	mu    sync.Mutex
	clock int64
}

// NewRedis 创建 Redis 协调器实例。
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	if cfg.ReplicaID == "" {
		return nil, errors.New("未配置副本标识")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentbet:rounds"
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 1
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	ttl := cfg.RoundTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &Redis{
		client:    client,
		prefix:    prefix,
		replicaID: cfg.ReplicaID,
		threshold: threshold,
		poll:      poll,
		ttl:       ttl,
	}, nil
}

func (r *Redis) roundKey(round string) string  { return r.prefix + ":" + round + ":payloads" }
func (r *Redis) agreedKey(round string) string { return r.prefix + ":" + round + ":agreed" }
func (r *Redis) clockKey(round string) string  { return r.prefix + ":" + round + ":clock" }
func (r *Redis) ticketKey() string             { return r.prefix + ":tickets" }

// NextRound draws a ticket from the shared counter and maps it onto a run
// identity. The counter lives in Redis, so replicas arriving for the same
// logical run land in the same ticket group and join the same rounds.
func (r *Redis) NextRound(ctx context.Context) (string, error) {
	ticket, err := r.client.Incr(ctx, r.ticketKey()).Result()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeAgreementFailure, err, "申请运行轮次失败")
	}
	return roundName(runIndex(ticket, int64(r.threshold))), nil
}

// Submit writes the payload and polls until the round's agreed value exists.
func (r *Redis) Submit(ctx context.Context, p Payload) ([]byte, error) {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.roundKey(p.Round), r.replicaID, p.Data)
	pipe.Expire(ctx, r.roundKey(p.Round), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAgreementFailure, err, "提交候选负载失败")
	}

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		agreed, err := r.client.Get(ctx, r.agreedKey(p.Round)).Bytes()
		if err == nil {
			if err := r.recordClock(ctx, p.Round); err != nil {
				return nil, err
			}
			return agreed, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, xerrors.Wrap(xerrors.CodeAgreementFailure, err, "读取已达成负载失败")
		}

		submitted, err := r.client.HGetAll(ctx, r.roundKey(p.Round)).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeAgreementFailure, err, "读取候选负载失败")
		}
		if len(submitted) >= r.threshold {
			if err := r.commit(ctx, p.Round, submitted); err != nil {
				return nil, err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeAgreementFailure, ctx.Err(), "等待协调器达成一致超时")
		case <-ticker.C:
		}
	}
}

func (r *Redis) commit(ctx context.Context, round string, submitted map[string]string) error {
	candidates := make([][]byte, 0, len(submitted))
	for _, data := range submitted {
		candidates = append(candidates, []byte(data))
	}
	agreed := Agree(candidates)

	// The clock is written first: once the agreed key is visible, every
	// replica that adopts the value is guaranteed to find the round's
	// commit time as well. SETNX makes the first committer authoritative.
	serverTime, err := r.client.Time(ctx).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeAgreementFailure, err, "读取服务器时间失败")
	}
	if err := r.client.SetNX(ctx, r.clockKey(round), serverTime.Unix(), r.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeAgreementFailure, err, "写入同步时钟失败")
	}
	if err := r.client.SetNX(ctx, r.agreedKey(round), agreed, r.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeAgreementFailure, err, "写入已达成负载失败")
	}
	return nil
}

// recordClock adopts the round's stored commit time. It polls with the same
// loop as the agreed value so a replica never leaves a round carrying the
// clock of a previous one.
func (r *Redis) recordClock(ctx context.Context, round string) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		value, err := r.client.Get(ctx, r.clockKey(round)).Result()
		if err == nil {
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return xerrors.Wrap(xerrors.CodeAgreementFailure, err, "同步时钟格式非法")
			}
			r.mu.Lock()
			r.clock = ts
			r.mu.Unlock()
			return nil
		}
		if !errors.Is(err, redis.Nil) {
			return xerrors.Wrap(xerrors.CodeAgreementFailure, err, "读取同步时钟失败")
		}
		select {
		case <-ctx.Done():
			return xerrors.Wrap(xerrors.CodeAgreementFailure, ctx.Err(), "等待同步时钟超时")
		case <-ticker.C:
		}
	}
}

// AwaitSynchronizedClock returns the commit time of the last agreement. All
// replicas read the same stored value, never their local clocks.
func (r *Redis) AwaitSynchronizedClock(ctx context.Context) (int64, error) {
	r.mu.Lock()
	clock := r.clock
	r.mu.Unlock()
	if clock != 0 {
		return clock, nil
	}
	serverTime, err := r.client.Time(ctx).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeAgreementFailure, err, "读取同步时钟失败")
	}
	return serverTime.Unix(), nil
}

// RegisterStages publishes the stage table so operators can inspect the FSM
// the replica set is running.
func (r *Redis) RegisterStages(ctx context.Context, reg StageRegistration) error {
	payload, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("序列化阶段表失败: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+":stages", payload, 0).Err(); err != nil {
		return fmt.Errorf("注册阶段表失败: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
