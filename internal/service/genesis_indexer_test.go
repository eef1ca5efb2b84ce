package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/dedup"
	"github.com/shardeum/relayer-collector/internal/model"
)

func genesisCopy(ac model.AccountCopy, cycle int64) *model.AccountCopy {
	ac.CycleNumber = cycle
	return &ac
}

func TestProcessGenesis(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	idx := NewReceiptIndexer(store, dedup.NewMemoryGuard(), nil, nil, indexAll())

	accounts := []*model.AccountCopy{
		genesisCopy(evmAccount(t, holderA, model.EOACodeHash, 10), 0),
		genesisCopy(receiptAccount(t, model.AccountTypeReceipt, txHash1, 10, map[string]interface{}{
			"blockHash":   "0xgb",
			"blockNumber": "0x0",
			"from":        holderA,
			"to":          tokenContract,
			"gasUsed":     "0x100",
			"logs":        []interface{}{transferLog(holderA, holderB, 1)},
		}), 1),
		{AccountID: "broken", Data: []byte(`{"no":"type"}`)},
	}

	txs, err := idx.ProcessGenesisAccounts(ctx, accounts)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	n, err := store.Accounts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, idx.ProcessGenesisTransactions(ctx, txs))

	tx, err := store.Transactions.GetByTxID(ctx, txHash1[2:])
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.Cycle)
	assert.Equal(t, int64(0), tx.BlockNumber)
	assert.Equal(t, tokenContract, tx.TxTo)
	assert.JSONEq(t, `{}`, string(tx.OriginalTxData))

	var rows []*model.TokenTx
	require.NoError(t, store.DB(ctx).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "0x100", rows[0].TransactionFee)

	// holderA 已有账户, 只为 holderB 生成占位账户
	n, err = store.Accounts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	acc, err := store.Accounts.GetByID(ctx, model.AccountIDFromAddress(holderB))
	require.NoError(t, err)
	assert.Equal(t, "0x", acc.Hash)
}

func TestProcessGenesis_KeepsNewerAccount(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	idx := NewReceiptIndexer(store, dedup.NewMemoryGuard(), nil, nil, indexAll())
	id := model.AccountIDFromAddress(holderA)

	require.NoError(t, idx.ProcessReceipts(ctx, []*model.Receipt{
		newReceipt("tx1", 9, 150, evmAccount(t, holderA, model.EOACodeHash, 150)),
	}, false))

	_, err := idx.ProcessGenesisAccounts(ctx, []*model.AccountCopy{
		genesisCopy(evmAccount(t, holderA, model.EOACodeHash, 50), 0),
	})
	require.NoError(t, err)

	acc, err := store.Accounts.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(150), acc.Timestamp)
	assert.Equal(t, int64(9), acc.Cycle)
}
