// Package kafka 实时数据接入与下游转发
//
// ========================================
// Kafka 消息流对接说明
// ========================================
//
// ## 消费者 (Consumer) - 本服务订阅的 Topic
//
// 1. Topic: collector-cycles
//    - 消息内容: 单个周期记录 (分发器 cycleRecord 原始 JSON)
//    - 处理逻辑: CycleService.InsertOrUpdate, 新周期触发区块构建
//
// 2. Topic: collector-receipts
//    - 消息内容: 单个回执 (model.Receipt)
//    - 处理逻辑: ReceiptIndexer.ProcessReceipts, 去重后落库并索引
//
// 3. Topic: collector-original-txs
//    - 消息内容: 单个原始交易 (model.OriginalTxData)
//    - 处理逻辑: OriginalTxIndexer.ProcessOriginalTxs
//
// 无法解析或处理失败的消息记录日志后跳过, 缺口由定时补缺修复
// ========================================
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// 消费的 Topic
const (
	TopicCycles      = "collector-cycles"
	TopicReceipts    = "collector-receipts"
	TopicOriginalTxs = "collector-original-txs"
)

// CycleSink 周期写入
type CycleSink interface {
	InsertOrUpdate(ctx context.Context, cycle *model.Cycle) error
}

// ReceiptSink 回执写入
type ReceiptSink interface {
	ProcessReceipts(ctx context.Context, receipts []*model.Receipt, saveOnlyNew bool) error
}

// OriginalTxSink 原始交易写入
type OriginalTxSink interface {
	ProcessOriginalTxs(ctx context.Context, items []*model.OriginalTxData, saveOnlyNew bool) error
}

// Consumer Kafka 消费者
type Consumer struct {
	client  sarama.ConsumerGroup
	handler *consumerGroupHandler
	topics  []string
	groupID string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	ClientID    string
	Cycles      CycleSink
	Receipts    ReceiptSink
	OriginalTxs OriginalTxSink
}

// NewConsumer 创建消费者
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &Consumer{
		client:  client,
		handler: newHandler(cfg.Cycles, cfg.Receipts, cfg.OriginalTxs),
		topics:  []string{TopicCycles, TopicReceipts, TopicOriginalTxs},
		groupID: cfg.GroupID,
	}, nil
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			if err := c.client.Consume(ctx, c.topics, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				logger.Error("kafka consume error", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("kafka consumer started",
		zap.Strings("topics", c.topics),
		zap.String("group_id", c.groupID))
	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	close(c.stopCh)
	c.running = false
	c.mu.Unlock()

	err := c.client.Close()
	c.wg.Wait()
	return err
}

// consumerGroupHandler 消费组处理器
type consumerGroupHandler struct {
	cycles      CycleSink
	receipts    ReceiptSink
	originalTxs OriginalTxSink
}

func newHandler(cycles CycleSink, receipts ReceiptSink, originalTxs OriginalTxSink) *consumerGroupHandler {
	return &consumerGroupHandler{cycles: cycles, receipts: receipts, originalTxs: originalTxs}
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		status := "ok"
		if err := h.handle(session.Context(), msg); err != nil {
			status = "error"
			logger.Error("failed to handle kafka message",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
		metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, status).Inc()
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *consumerGroupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	switch msg.Topic {
	case TopicCycles:
		c, _, err := model.NewCycle(json.RawMessage(msg.Value))
		if err != nil {
			return fmt.Errorf("decode cycle: %w", err)
		}
		return h.cycles.InsertOrUpdate(ctx, c)

	case TopicReceipts:
		var r model.Receipt
		if err := json.Unmarshal(msg.Value, &r); err != nil {
			return fmt.Errorf("decode receipt: %w", err)
		}
		return h.receipts.ProcessReceipts(ctx, []*model.Receipt{&r}, false)

	case TopicOriginalTxs:
		var o model.OriginalTxData
		if err := json.Unmarshal(msg.Value, &o); err != nil {
			return fmt.Errorf("decode original tx: %w", err)
		}
		return h.originalTxs.ProcessOriginalTxs(ctx, []*model.OriginalTxData{&o}, false)

	default:
		logger.Warn("unknown topic", zap.String("topic", msg.Topic))
		return nil
	}
}
