package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/model"
)

func testAccount(id string, ts int64) *model.Account {
	return &model.Account{
		AccountID:   id,
		EthAddress:  "0x" + id,
		Cycle:       1,
		Timestamp:   ts,
		AccountType: model.AccountTypeAccount,
		Account:     json.RawMessage(`{"ts":` + jsonInt(ts) + `}`),
		Hash:        "h",
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// TestAccountRepository_LastWriterWins 旧时间戳不能覆盖新数据
func TestAccountRepository_LastWriterWins(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, testAccount("a1", 100)))

	updated, err := repo.UpdateIfNewer(ctx, testAccount("a1", 50))
	require.NoError(t, err)
	assert.False(t, updated)

	got, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Timestamp)

	updated, err = repo.UpdateIfNewer(ctx, testAccount("a1", 150))
	require.NoError(t, err)
	assert.True(t, updated)

	got, err = repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Timestamp)
	assert.JSONEq(t, `{"ts":150}`, string(got.Account))

	updated, err = repo.UpdateIfNewer(ctx, testAccount("a1", 150))
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestAccountRepository_UpdateKeepsContractInfo(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	a := testAccount("c1", 10)
	ct := model.ContractTypeERC721
	a.ContractType = &ct
	a.ContractInfo = json.RawMessage(`{"name":"NFT"}`)
	require.NoError(t, repo.Insert(ctx, a))

	updated, err := repo.UpdateIfNewer(ctx, testAccount("c1", 20))
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Timestamp)
	require.NotNil(t, got.ContractType)
	assert.Equal(t, model.ContractTypeERC721, *got.ContractType)
	assert.JSONEq(t, `{"name":"NFT"}`, string(got.ContractInfo))
}

func TestAccountRepository_Queries(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	a2 := testAccount("a2", 10)
	a2.Cycle = 7
	ct := model.ContractTypeERC20
	a2.ContractType = &ct
	a2.ContractInfo = json.RawMessage(`{"name":"Tok"}`)
	require.NoError(t, repo.BulkUpsert(ctx, []*model.Account{testAccount("a1", 10), a2}))

	_, err := repo.GetByID(ctx, "zz")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	got, err := repo.GetByIDs(ctx, []string{"a1", "a2", "zz"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.NotNil(t, got["a2"].ContractType)
	assert.Equal(t, model.ContractTypeERC20, *got["a2"].ContractType)

	empty, err := repo.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	n, err := repo.CountBetweenCycles(ctx, CycleRange{Start: 0, End: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAccountRepository_BulkUpsertKeepsNewer(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.BulkUpsert(ctx, []*model.Account{testAccount("a1", 100)}))

	require.NoError(t, repo.BulkUpsert(ctx, []*model.Account{testAccount("a1", 50), testAccount("a2", 50)}))
	got, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Timestamp)
	assert.JSONEq(t, `{"ts":100}`, string(got.Account))

	require.NoError(t, repo.BulkUpsert(ctx, []*model.Account{testAccount("a1", 150)}))
	got, err = repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Timestamp)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAccountRepository_TokensAndEntries(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	tokens := []*model.Token{
		{EthAddress: "0x1", ContractAddress: "0xc", TokenType: model.TransactionTypeERC20, TokenValue: "10"},
	}
	require.NoError(t, repo.BulkUpsertTokens(ctx, tokens))
	tokens[0].TokenValue = "20"
	require.NoError(t, repo.BulkUpsertTokens(ctx, tokens))

	var stored model.Token
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, "20", stored.TokenValue)

	entry := model.EntryOf(testAccount("a1", 5))
	require.NoError(t, repo.BulkUpsertEntries(ctx, []*model.AccountEntry{entry}))
	var count int64
	require.NoError(t, db.Model(&model.AccountEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
