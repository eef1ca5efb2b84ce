package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/model"
)

type recordingSink struct {
	mu          sync.Mutex
	cycles      []*model.Cycle
	receipts    []*model.Receipt
	originalTxs []*model.OriginalTxData
	err         error
}

func (s *recordingSink) InsertOrUpdate(_ context.Context, c *model.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, c)
	return s.err
}

func (s *recordingSink) ProcessReceipts(_ context.Context, rs []*model.Receipt, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, rs...)
	return s.err
}

func (s *recordingSink) ProcessOriginalTxs(_ context.Context, os []*model.OriginalTxData, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.originalTxs = append(s.originalTxs, os...)
	return s.err
}

// fakeSession 只记录 MarkMessage
type fakeSession struct {
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32                        { return nil }
func (s *fakeSession) MemberID() string                                  { return "member" }
func (s *fakeSession) GenerationID() int32                               { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)           {}
func (s *fakeSession) Commit()                                           {}
func (s *fakeSession) ResetOffset(string, int32, int64, string)          {}
func (s *fakeSession) Context() context.Context                          { return context.Background() }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) { s.marked = append(s.marked, msg.Offset) }

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func claimOf(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeClaim{msgs: ch}
}

func message(topic string, offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: topic, Offset: offset, Value: []byte(value)}
}

func TestConsumeClaim(t *testing.T) {
	sink := &recordingSink{}
	h := newHandler(sink, sink, sink)
	session := &fakeSession{}

	claim := claimOf(
		message(TopicCycles, 1, `{"counter":3,"marker":"m3","previous":"m2","start":1000,"duration":60}`),
		message(TopicReceipts, 2, `{"receiptId":"r1","cycle":3,"timestamp":1000}`),
		message(TopicOriginalTxs, 3, `{"txId":"o1","cycle":3,"timestamp":1000,"originalTxData":{}}`),
		message(TopicReceipts, 4, `not json`),
		message("other", 5, `{}`),
	)
	require.NoError(t, h.ConsumeClaim(session, claim))

	require.Len(t, sink.cycles, 1)
	assert.Equal(t, "m3", sink.cycles[0].Marker)
	assert.Equal(t, int64(3), sink.cycles[0].Counter)
	require.Len(t, sink.receipts, 1)
	assert.Equal(t, "r1", sink.receipts[0].ReceiptID)
	require.Len(t, sink.originalTxs, 1)
	assert.Equal(t, "o1", sink.originalTxs[0].TxID)
	// 失败的消息同样提交位点
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, session.marked)
}

func TestConsumeClaim_SinkError(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	h := newHandler(sink, sink, sink)
	session := &fakeSession{}

	require.NoError(t, h.ConsumeClaim(session, claimOf(
		message(TopicCycles, 7, `{"counter":1,"marker":"m1"}`),
	)))
	assert.Len(t, sink.cycles, 1)
	assert.Equal(t, []int64{7}, session.marked)
}

func expectMessage(topic, key string) mocks.MessageChecker {
	return func(msg *sarama.ProducerMessage) error {
		if msg.Topic != topic {
			return fmt.Errorf("topic %s, want %s", msg.Topic, topic)
		}
		k, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(k) != key {
			return fmt.Errorf("key %s, want %s", k, key)
		}
		return nil
	}
}

func TestProducer_Forward(t *testing.T) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	mp := mocks.NewAsyncProducer(t, config)
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(expectMessage(TopicCycleForward, "m9"))
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(expectMessage(TopicReceiptForward, "r9"))
	mp.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerFrom(mp)
	ctx := context.Background()
	p.ForwardCycle(ctx, &model.Cycle{Counter: 9, Marker: "m9", Record: []byte(`{"counter":9}`)})
	p.ForwardReceipt(ctx, &model.Receipt{ReceiptID: "r9"})
	p.ForwardReceipt(ctx, &model.Receipt{ReceiptID: "r10"})

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	// 关闭后不再发送
	p.ForwardReceipt(ctx, &model.Receipt{ReceiptID: "late"})
}
