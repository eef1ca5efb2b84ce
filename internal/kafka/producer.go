package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// 转发的 Topic
const (
	// TopicCycleForward 新周期, Partition Key: cycle marker
	TopicCycleForward = "collector-cycle-forward"
	// TopicReceiptForward 新回执, Partition Key: receipt id
	TopicReceiptForward = "collector-receipt-forward"
)

const sinkName = "kafka"

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Producer 异步转发, 发送队列满时丢弃
type Producer struct {
	producer sarama.AsyncProducer
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerFrom(producer), nil
}

// NewProducerFrom 包装已有的异步生产者
func NewProducerFrom(producer sarama.AsyncProducer) *Producer {
	p := &Producer{producer: producer}
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for msg := range producer.Successes() {
			metrics.FanoutPublishedTotal.WithLabelValues(sinkName, msg.Topic).Inc()
		}
	}()
	go func() {
		defer p.wg.Done()
		for perr := range producer.Errors() {
			metrics.FanoutDroppedTotal.WithLabelValues(sinkName, perr.Msg.Topic).Inc()
			logger.Warn("failed to send kafka message",
				zap.String("topic", perr.Msg.Topic),
				zap.Error(perr.Err))
		}
	}()
	return p
}

// Close 关闭生产者, 等待未完成的发送
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}

// send 非阻塞发送
func (p *Producer) send(topic, key string, value []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("message-id"), Value: []byte(uuid.New().String())},
		},
	}
	select {
	case p.producer.Input() <- msg:
	default:
		metrics.FanoutDroppedTotal.WithLabelValues(sinkName, topic).Inc()
		logger.Warn("kafka send queue full, drop message", zap.String("topic", topic), zap.String("key", key))
	}
}

// ForwardCycle 转发周期
func (p *Producer) ForwardCycle(_ context.Context, cycle *model.Cycle) {
	data, err := json.Marshal(cycle)
	if err != nil {
		logger.Warn("marshal cycle failed", zap.Int64("counter", cycle.Counter), zap.Error(err))
		return
	}
	p.send(TopicCycleForward, cycle.Marker, data)
}

// ForwardReceipt 转发回执
func (p *Producer) ForwardReceipt(_ context.Context, receipt *model.Receipt) {
	data, err := json.Marshal(receipt)
	if err != nil {
		logger.Warn("marshal receipt failed", zap.String("receipt_id", receipt.ReceiptID), zap.Error(err))
		return
	}
	p.send(TopicReceiptForward, receipt.ReceiptID, data)
}
