package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AgentBet-Chain/internal/errors"
	"AgentBet-Chain/pkg/logger"
)

// AMQPConfig 描述 RabbitMQ 协调后端的连接参数。
type AMQPConfig struct {
	URL       string
	Exchange  string
	ReplicaID string
	Threshold int
}

const (
	kindPayload = "payload"
	kindTicket  = "ticket"
)

type envelope struct {
	Kind      string `json:"kind"`
	Sender    string `json:"sender"`
	Round     string `json:"round"`
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type amqpRound struct {
	payloads   map[string]envelope
	done       chan struct{}
	agreed     []byte
	commitTime int64
}

// AMQP coordinates payload agreement over a fanout exchange: every replica
// broadcasts its candidate and collects the others' until the threshold is
// met. The threshold must equal the replica count; otherwise replicas may
// decide over different submission subsets and diverge.
type AMQP struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	exchange  string
	replicaID string
	threshold int

	mu            sync.Mutex
	rounds        map[string]*amqpRound
	clock         int64
	ticketSeq     int64
	ticketCount   int64
	ticketWaiters map[string]chan int64
}

// NewAMQP 创建 RabbitMQ 协调器实例并启动后台收集循环。
func NewAMQP(cfg AMQPConfig) (*AMQP, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	if cfg.ReplicaID == "" {
		return nil, errors.New("未配置副本标识")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "agentbet.rounds"
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 1
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("打开 RabbitMQ 通道失败: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("声明交换机失败: %w", err)
	}
	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("声明队列失败: %w", err)
	}
	if err := channel.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("绑定队列失败: %w", err)
	}
	deliveries, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("订阅队列失败: %w", err)
	}

	c := &AMQP{
		conn:          conn,
		channel:       channel,
		exchange:      exchange,
		replicaID:     cfg.ReplicaID,
		threshold:     threshold,
		rounds:        make(map[string]*amqpRound),
		ticketWaiters: make(map[string]chan int64),
	}
	go c.collect(deliveries)
	return c, nil
}

func (c *AMQP) collect(deliveries <-chan amqp.Delivery) {
	for delivery := range deliveries {
		var env envelope
		if err := json.Unmarshal(delivery.Body, &env); err != nil {
			logger.Named("coordinator").Warn("丢弃无法解析的负载", "error", err)
			continue
		}
		switch env.Kind {
		case kindPayload:
			c.collectPayload(env)
		case kindTicket:
			c.collectTicket(env)
		}
	}
}

func (c *AMQP) collectPayload(env envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	round := c.ensureRoundLocked(env.Round)
	if round.agreed != nil {
		return
	}
	round.payloads[env.Sender] = env
	if len(round.payloads) >= c.threshold {
		candidates := make([][]byte, 0, len(round.payloads))
		commitTime := int64(0)
		for _, e := range round.payloads {
			candidates = append(candidates, e.Data)
			// The commit time is the smallest submitted timestamp:
			// identical submission sets yield the identical clock.
			if commitTime == 0 || e.Timestamp < commitTime {
				commitTime = e.Timestamp
			}
		}
		round.agreed = Agree(candidates)
		round.commitTime = commitTime
		c.clock = commitTime
		close(round.done)
	}
}

// collectTicket counts ticket broadcasts. The fanout exchange delivers the
// same message sequence to every bound queue, so each ticket lands at the
// same position on every replica.
func (c *AMQP) collectTicket(env envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticketCount++
	id := env.Sender + ":" + env.Round
	if waiter, ok := c.ticketWaiters[id]; ok {
		waiter <- c.ticketCount
		delete(c.ticketWaiters, id)
	}
}

func (c *AMQP) ensureRoundLocked(name string) *amqpRound {
	round, ok := c.rounds[name]
	if !ok {
		round = &amqpRound{
			payloads: make(map[string]envelope),
			done:     make(chan struct{}),
		}
		c.rounds[name] = round
	}
	return round
}

// NextRound broadcasts a ticket and waits for its own position in the shared
// delivery order, then maps that position onto a run identity.
func (c *AMQP) NextRound(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.ticketSeq++
	nonce := strconv.FormatInt(c.ticketSeq, 10)
	waiter := make(chan int64, 1)
	c.ticketWaiters[c.replicaID+":"+nonce] = waiter
	c.mu.Unlock()

	body, err := json.Marshal(envelope{
		Kind:   kindTicket,
		Sender: c.replicaID,
		Round:  nonce,
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeAgreementFailure, err, "序列化轮次申请失败")
	}
	if err := c.channel.PublishWithContext(ctx, c.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return "", xerrors.Wrap(xerrors.CodeAgreementFailure, err, "广播轮次申请失败")
	}

	select {
	case ticket := <-waiter:
		return roundName(runIndex(ticket, int64(c.threshold))), nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.ticketWaiters, c.replicaID+":"+nonce)
		c.mu.Unlock()
		return "", xerrors.Wrap(xerrors.CodeAgreementFailure, ctx.Err(), "等待运行轮次超时")
	}
}

// Submit broadcasts the payload and suspends until the round commits.
func (c *AMQP) Submit(ctx context.Context, p Payload) ([]byte, error) {
	env := envelope{
		Kind:      kindPayload,
		Sender:    c.replicaID,
		Round:     p.Round,
		Data:      p.Data,
		Timestamp: time.Now().Unix(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAgreementFailure, err, "序列化负载失败")
	}
	if err := c.channel.PublishWithContext(ctx, c.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAgreementFailure, err, "广播负载失败")
	}

	c.mu.Lock()
	round := c.ensureRoundLocked(p.Round)
	done := round.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, xerrors.Wrap(xerrors.CodeAgreementFailure, ctx.Err(), "等待协调器达成一致超时")
	}

	c.mu.Lock()
	agreed := append([]byte(nil), round.agreed...)
	c.mu.Unlock()
	return agreed, nil
}

// AwaitSynchronizedClock returns the commit time of the last agreed round.
func (c *AMQP) AwaitSynchronizedClock(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clock != 0 {
		return c.clock, nil
	}
	return time.Now().Unix(), nil
}

// RegisterStages broadcasts the stage table on a dedicated routing key so
// monitoring consumers can pick it up.
func (c *AMQP) RegisterStages(ctx context.Context, reg StageRegistration) error {
	payload, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("序列化阶段表失败: %w", err)
	}
	return c.channel.PublishWithContext(ctx, c.exchange, "stages", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

// Close releases the connection.
func (c *AMQP) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
