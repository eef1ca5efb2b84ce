package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/model"
)

func TestHistoryBackfill_Run(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	var receipts []*model.Receipt
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("tx%d", i)
		r := newReceipt(id, int64(i), int64(1000+i),
			model.AccountCopy{AccountID: id + "a", Hash: "0xa"},
			model.AccountCopy{AccountID: id + "b", Hash: "0xb"},
		)
		receipts = append(receipts, r)
	}
	// 无交易记录的回执跳过
	receipts = append(receipts, newReceipt("orphan", 9, 2000, model.AccountCopy{AccountID: "x", Hash: "0xx"}))
	// 全局修改回执跳过
	global := newReceipt("global", 9, 2001, model.AccountCopy{AccountID: "g", Hash: "0xg"})
	global.GlobalModification = true
	receipts = append(receipts, global)
	require.NoError(t, store.Receipts.BulkUpsert(ctx, receipts))

	var txs []*model.Transaction
	for i := 0; i < 5; i++ {
		txs = append(txs, &model.Transaction{
			TxID:        fmt.Sprintf("tx%d", i),
			TxHash:      fmt.Sprintf("0xhash%d", i),
			Cycle:       int64(i),
			BlockNumber: int64(10 + i),
			BlockHash:   fmt.Sprintf("0xblock%d", i),
			Timestamp:   int64(1000 + i),
		})
	}
	txs = append(txs, &model.Transaction{TxID: "global", TxHash: "0xg", BlockHash: "0xgb"})
	require.NoError(t, store.Transactions.BulkUpsert(ctx, txs))

	b := NewHistoryBackfill(store)
	b.pageSize = 2
	b.bucketSize = 3

	written, err := b.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, written)

	count, err := store.History.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)

	rows, err := store.History.ListByAccount(ctx, "tx3a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(13), rows[0].BlockNumber)
	assert.Equal(t, "0xblock3", rows[0].BlockHash)
	assert.Equal(t, "tx3", rows[0].ReceiptID)

	// 重跑幂等
	written, err = b.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, written)
	count, err = store.History.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestHistoryBackfill_EmptyStore(t *testing.T) {
	written, err := NewHistoryBackfill(setupTestStore(t)).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, written)
}
