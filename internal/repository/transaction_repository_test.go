package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/model"
)

func testTx(id string, block, ts int64, typ model.TransactionType) *model.Transaction {
	return &model.Transaction{
		TxID:            id,
		TxHash:          "0x" + id,
		Cycle:           block / 10,
		BlockNumber:     block,
		BlockHash:       "0xb",
		Timestamp:       ts,
		TransactionType: typ,
	}
}

func TestTransactionRepository_ListByBlock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.BulkUpsert(ctx, []*model.Transaction{
		testTx("t3", 20, 300, model.TransactionTypeReceipt),
		testTx("t1", 20, 100, model.TransactionTypeStakeReceipt),
		testTx("t2", 20, 100, model.TransactionTypeUnstakeReceipt),
		testTx("t4", 20, 50, model.TransactionTypeNodeRewardReceipt),
		testTx("t5", 21, 10, model.TransactionTypeReceipt),
	}))

	txs, err := repo.ListByBlock(ctx, 20)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "t1", txs[0].TxID)
	assert.Equal(t, "t2", txs[1].TxID)
	assert.Equal(t, "t3", txs[2].TxID)

	none, err := repo.ListByBlock(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransactionRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	tx := testTx("t1", 5, 100, model.TransactionTypeReceipt)
	require.NoError(t, repo.Upsert(ctx, tx))
	tx.Timestamp = 200
	tx.Nominee = "n1"
	require.NoError(t, repo.Upsert(ctx, tx))

	got, err := repo.GetByTxID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Timestamp)
	assert.Equal(t, "n1", got.Nominee)

	_, err = repo.GetByTxID(ctx, "nope")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	n, err := repo.CountBetweenCycles(ctx, CycleRange{Start: 0, End: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTransactionRepository_TokenTxs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	rows := []*model.TokenTx{
		{TxID: "t1", LogIndex: 0, TokenIndex: 0, TxHash: "0x1", ContractAddress: "0xc", TokenType: model.TransactionTypeERC20},
		{TxID: "t1", LogIndex: 1, TokenIndex: 0, TxHash: "0x1", ContractAddress: "0xc", TokenType: model.TransactionTypeERC20},
		{TxID: "t1", LogIndex: 2, TokenIndex: 1, TxHash: "0x1", ContractAddress: "0xd", TokenType: model.TransactionTypeERC1155},
	}
	require.NoError(t, repo.BulkUpsertTokenTxs(ctx, rows))
	require.NoError(t, repo.BulkUpsertTokenTxs(ctx, rows))

	n, err := repo.CountTokenTxs(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
