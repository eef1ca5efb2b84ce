package service

import (
	"context"
	"fmt"

	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
)

// 批量写入阈值
const (
	receiptBucketSize = 100
	indexBucketSize   = 1000
)

// indexBatch 一次处理中待写入的派生数据
type indexBatch struct {
	store       *repository.Store
	mirrorEntry bool

	receipts   []*model.Receipt
	accounts   []*model.Account
	accountIdx map[string]int
	ethIdx     map[string]struct{}
	txs        []*model.Transaction
	tokenTxs   []*model.TokenTx
	tokenTxs2  []*model.TokenTx // ERC-1155
	tokens     []*model.Token
	history    []*model.AccountHistoryState
}

func newIndexBatch(store *repository.Store, mirrorEntry bool) *indexBatch {
	return &indexBatch{
		store:       store,
		mirrorEntry: mirrorEntry,
		accountIdx:  make(map[string]int),
		ethIdx:      make(map[string]struct{}),
	}
}

// account 批内已有的账户
func (b *indexBatch) account(accountID string) (*model.Account, bool) {
	i, ok := b.accountIdx[accountID]
	if !ok {
		return nil, false
	}
	return b.accounts[i], true
}

// hasEthAddress 批内是否已有该地址的账户
func (b *indexBatch) hasEthAddress(addr string) bool {
	_, ok := b.ethIdx[addr]
	return ok
}

// putAccount 加入或替换批内账户
func (b *indexBatch) putAccount(a *model.Account) {
	if i, ok := b.accountIdx[a.AccountID]; ok {
		b.accounts[i] = a
	} else {
		b.accountIdx[a.AccountID] = len(b.accounts)
		b.accounts = append(b.accounts, a)
	}
	b.ethIdx[a.EthAddress] = struct{}{}
}

func (b *indexBatch) addTokenTx(tx *model.TokenTx) {
	if tx.TokenType == model.TransactionTypeERC1155 {
		b.tokenTxs2 = append(b.tokenTxs2, tx)
	} else {
		b.tokenTxs = append(b.tokenTxs, tx)
	}
}

func (b *indexBatch) flushReceipts(ctx context.Context) error {
	if len(b.receipts) == 0 {
		return nil
	}
	if err := b.store.Receipts.BulkUpsert(ctx, dedupeLast(b.receipts, receiptKey)); err != nil {
		return fmt.Errorf("save receipts: %w", err)
	}
	b.receipts = nil
	return nil
}

func (b *indexBatch) flushAccounts(ctx context.Context) error {
	if len(b.accounts) == 0 {
		return nil
	}
	if err := b.store.Accounts.BulkUpsert(ctx, b.accounts); err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	if b.mirrorEntry {
		entries := make([]*model.AccountEntry, len(b.accounts))
		for i, a := range b.accounts {
			entries[i] = model.EntryOf(a)
		}
		if err := b.store.Accounts.BulkUpsertEntries(ctx, entries); err != nil {
			return fmt.Errorf("save account entries: %w", err)
		}
	}
	b.accounts = nil
	b.accountIdx = make(map[string]int)
	b.ethIdx = make(map[string]struct{})
	return nil
}

// flush 达到阈值的缓冲写入, force 时全部写入
func (b *indexBatch) flush(ctx context.Context, force bool) error {
	if force || len(b.receipts) >= receiptBucketSize {
		if err := b.flushReceipts(ctx); err != nil {
			return err
		}
	}
	if force || len(b.accounts) >= indexBucketSize {
		if err := b.flushAccounts(ctx); err != nil {
			return err
		}
	}
	if len(b.txs) > 0 && (force || len(b.txs) >= indexBucketSize) {
		if err := b.store.Transactions.BulkUpsert(ctx, dedupeLast(b.txs, txKey)); err != nil {
			return fmt.Errorf("save transactions: %w", err)
		}
		b.txs = nil
	}
	if len(b.tokenTxs) > 0 && (force || len(b.tokenTxs) >= indexBucketSize) {
		if err := b.store.Transactions.BulkUpsertTokenTxs(ctx, dedupeLast(b.tokenTxs, tokenTxKey)); err != nil {
			return fmt.Errorf("save token txs: %w", err)
		}
		b.tokenTxs = nil
	}
	if len(b.tokenTxs2) > 0 && (force || len(b.tokenTxs2) >= indexBucketSize) {
		if err := b.store.Transactions.BulkUpsertTokenTxs(ctx, dedupeLast(b.tokenTxs2, tokenTxKey)); err != nil {
			return fmt.Errorf("save erc1155 token txs: %w", err)
		}
		b.tokenTxs2 = nil
	}
	if len(b.tokens) > 0 && (force || len(b.tokens) >= indexBucketSize) {
		if err := b.store.Accounts.BulkUpsertTokens(ctx, dedupeLast(b.tokens, tokenKey)); err != nil {
			return fmt.Errorf("save tokens: %w", err)
		}
		b.tokens = nil
	}
	// 历史状态超过阈值才写
	if len(b.history) > 0 && (force || len(b.history) > indexBucketSize) {
		if err := b.store.History.BulkUpsert(ctx, dedupeLast(b.history, historyKey)); err != nil {
			return fmt.Errorf("save account history: %w", err)
		}
		b.history = nil
	}
	return nil
}

// dedupeLast 同键只保留最后一条, 避免一条 upsert 语句内主键冲突
func dedupeLast[T any](rows []T, key func(T) string) []T {
	idx := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		k := key(row)
		if i, ok := idx[k]; ok {
			out[i] = row
			continue
		}
		idx[k] = len(out)
		out = append(out, row)
	}
	return out
}

func receiptKey(r *model.Receipt) string { return r.ReceiptID }

func txKey(t *model.Transaction) string { return t.TxID + "|" + t.TxHash }

func tokenTxKey(t *model.TokenTx) string {
	return fmt.Sprintf("%s|%d|%d", t.TxID, t.LogIndex, t.TokenIndex)
}

func tokenKey(t *model.Token) string { return t.EthAddress + "|" + t.ContractAddress }

func historyKey(h *model.AccountHistoryState) string {
	return fmt.Sprintf("%s|%d", h.AccountID, h.Timestamp)
}
