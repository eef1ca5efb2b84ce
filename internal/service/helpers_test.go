package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shardeum/relayer-collector/internal/config"
	"github.com/shardeum/relayer-collector/internal/distributor"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
)

var testDBCounter int64

// setupTestStore 独立的内存 sqlite 仓储
func setupTestStore(t *testing.T) *repository.Store {
	counter := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:svctest%d?mode=memory&cache=shared", counter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(repository.Models...))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return repository.NewStore(db)
}

func indexAll() config.ProcessConfig {
	return config.ProcessConfig{
		IndexReceipt:            true,
		DecodeContractInfo:      true,
		DecodeTokenTransfer:     true,
		SaveAccountHistoryState: true,
	}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// evmAccount 普通或合约账户快照
func evmAccount(t *testing.T, addr, codeHash string, ts int64) model.AccountCopy {
	data := mustJSON(t, map[string]interface{}{
		"accountType": model.AccountTypeAccount,
		"ethAddress":  addr,
		"hash":        fmt.Sprintf("0xh%d", ts),
		"timestamp":   ts,
		"account": map[string]interface{}{
			"nonce":    "0x1",
			"balance":  "0x10",
			"codeHash": codeHash,
		},
	})
	return model.AccountCopy{
		AccountID: model.AccountIDFromAddress(addr),
		Data:      data,
		Timestamp: ts,
		Hash:      fmt.Sprintf("0xh%d", ts),
	}
}

// storageAccount 合约存储槽快照
func storageAccount(t *testing.T, contract, key string, value []byte, ts int64) model.AccountCopy {
	data := mustJSON(t, map[string]interface{}{
		"accountType": model.AccountTypeContractStorage,
		"ethAddress":  contract,
		"hash":        "0xs",
		"timestamp":   ts,
		"key":         key,
		"value":       model.Bytes(value).Hex(),
	})
	return model.AccountCopy{AccountID: key[2:], Data: data, Timestamp: ts, Hash: "0xs"}
}

// receiptAccount 回执类账户快照
func receiptAccount(t *testing.T, kind model.AccountType, txHash string, ts int64, readable map[string]interface{}) model.AccountCopy {
	data := mustJSON(t, map[string]interface{}{
		"accountType":     kind,
		"ethAddress":      txHash,
		"hash":            "0xr",
		"timestamp":       ts,
		"txId":            txHash[2:],
		"txFrom":          readable["from"],
		"amountSpent":     "0x5208",
		"readableReceipt": readable,
	})
	return model.AccountCopy{AccountID: txHash[2:], Data: data, Timestamp: ts, Hash: "0xr"}
}

func newReceipt(txID string, cycle, ts int64, after ...model.AccountCopy) *model.Receipt {
	ids := make([]string, 0, len(after))
	hashes := make([]string, 0, len(after))
	for _, a := range after {
		ids = append(ids, a.AccountID)
		hashes = append(hashes, a.Hash)
	}
	return &model.Receipt{
		ReceiptID: txID,
		Tx:        model.TxInfo{TxID: txID, Timestamp: ts, OriginalTxData: json.RawMessage(`{"tx":{"raw":"0x"}}`)},
		Cycle:     cycle,
		Timestamp: ts,
		SignedReceipt: &model.SignedReceipt{Proposal: model.Proposal{
			Applied:           true,
			AccountIDs:        ids,
			BeforeStateHashes: hashes,
			AfterStateHashes:  hashes,
		}},
		AfterStates:  after,
		BeforeStates: after,
	}
}

// recordingForwarder 记录转发的数据
type recordingForwarder struct {
	mu       sync.Mutex
	cycles   []*model.Cycle
	receipts []*model.Receipt
}

func (f *recordingForwarder) ForwardCycle(_ context.Context, c *model.Cycle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, c)
}

func (f *recordingForwarder) ForwardReceipt(_ context.Context, r *model.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, r)
}

// fakeContracts 固定返回的合约信息
type fakeContracts struct {
	info  json.RawMessage
	typ   model.ContractType
	calls int
}

func (f *fakeContracts) Resolve(_ context.Context, _ string) (json.RawMessage, model.ContractType, error) {
	f.calls++
	return f.info, f.typ, nil
}

// fakeDistributor 内存中的分发器
type fakeDistributor struct {
	mu           sync.Mutex
	cycles       []json.RawMessage
	receipts     []*model.Receipt
	originalTxs  []*model.OriginalTxData
	accounts     []*model.AccountCopy
	transactions []*model.AccountCopy

	// 非 nil 时覆盖按数据计算的计数
	receiptTally    []model.ReceiptTally
	originalTxTally []model.OriginalTxTally

	err          error
	failReceipts error
	calls        map[string]int
}

func (f *fakeDistributor) called(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
	return f.err
}

func (f *fakeDistributor) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func sliceRange[T any](items []T, start, end int64) []T {
	if start < 0 || start >= int64(len(items)) {
		return nil
	}
	if end >= int64(len(items)) {
		end = int64(len(items)) - 1
	}
	return items[start : end+1]
}

func pageOf[T any](items []T, page, size int64) []T {
	from := (page - 1) * size
	if from >= int64(len(items)) {
		return nil
	}
	to := from + size
	if to > int64(len(items)) {
		to = int64(len(items))
	}
	return items[from:to]
}

func (f *fakeDistributor) Cycles(_ context.Context, start, end int64) ([]json.RawMessage, error) {
	if err := f.called("cycles"); err != nil {
		return nil, err
	}
	return sliceRange(f.cycles, start, end), nil
}

func (f *fakeDistributor) receiptsInCycles(sc, ec int64) []*model.Receipt {
	var out []*model.Receipt
	for _, r := range f.receipts {
		if r.Cycle >= sc && r.Cycle <= ec {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeDistributor) originalTxsInCycles(sc, ec int64) []*model.OriginalTxData {
	var out []*model.OriginalTxData
	for _, o := range f.originalTxs {
		if o.Cycle >= sc && o.Cycle <= ec {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeDistributor) Receipts(_ context.Context, p distributor.Params) ([]*model.Receipt, error) {
	if err := f.called("receipts"); err != nil {
		return nil, err
	}
	if f.failReceipts != nil {
		return nil, f.failReceipts
	}
	if p.StartCycle != nil {
		return pageOf(f.receiptsInCycles(*p.StartCycle, *p.EndCycle), *p.Page, 100), nil
	}
	return sliceRange(f.receipts, *p.Start, *p.End), nil
}

func (f *fakeDistributor) OriginalTxs(_ context.Context, p distributor.Params) ([]*model.OriginalTxData, error) {
	if err := f.called("original_txs"); err != nil {
		return nil, err
	}
	if p.StartCycle != nil {
		return pageOf(f.originalTxsInCycles(*p.StartCycle, *p.EndCycle), *p.Page, 100), nil
	}
	return sliceRange(f.originalTxs, *p.Start, *p.End), nil
}

func (f *fakeDistributor) ReceiptTally(_ context.Context, sc, ec int64) ([]model.ReceiptTally, error) {
	if err := f.called("receipt_tally"); err != nil {
		return nil, err
	}
	if f.receiptTally != nil {
		return f.receiptTally, nil
	}
	var out []model.ReceiptTally
	for _, c := range tallyOf(f.receiptsInCycles(sc, ec), func(r *model.Receipt) int64 { return r.Cycle }) {
		out = append(out, model.ReceiptTally{Cycle: c.Cycle, Receipts: c.Count})
	}
	return out, nil
}

func (f *fakeDistributor) OriginalTxTally(_ context.Context, sc, ec int64) ([]model.OriginalTxTally, error) {
	if err := f.called("original_tx_tally"); err != nil {
		return nil, err
	}
	if f.originalTxTally != nil {
		return f.originalTxTally, nil
	}
	var out []model.OriginalTxTally
	for _, c := range tallyOf(f.originalTxsInCycles(sc, ec), func(o *model.OriginalTxData) int64 { return o.Cycle }) {
		out = append(out, model.OriginalTxTally{Cycle: c.Cycle, OriginalTxsData: c.Count})
	}
	return out, nil
}

func tallyOf[T any](items []T, cycleOf func(T) int64) []model.CycleCount {
	var out []model.CycleCount
	for _, it := range items {
		c := cycleOf(it)
		if n := len(out); n > 0 && out[n-1].Cycle == c {
			out[n-1].Count++
			continue
		}
		out = append(out, model.CycleCount{Cycle: c, Count: 1})
	}
	return out
}

func (f *fakeDistributor) ReceiptCount(_ context.Context, sc, ec int64) (int64, error) {
	if err := f.called("receipt_count"); err != nil {
		return 0, err
	}
	return int64(len(f.receiptsInCycles(sc, ec))), nil
}

func (f *fakeDistributor) OriginalTxCount(_ context.Context, sc, ec int64) (int64, error) {
	if err := f.called("original_tx_count"); err != nil {
		return 0, err
	}
	return int64(len(f.originalTxsInCycles(sc, ec))), nil
}

func (f *fakeDistributor) Accounts(_ context.Context, _, _, page int64) ([]*model.AccountCopy, error) {
	if err := f.called("accounts"); err != nil {
		return nil, err
	}
	return pageOf(f.accounts, page, 10000), nil
}

func (f *fakeDistributor) AccountsTotal(_ context.Context, _, _ int64) (int64, error) {
	if err := f.called("accounts_total"); err != nil {
		return 0, err
	}
	return int64(len(f.accounts)), nil
}

func (f *fakeDistributor) Transactions(_ context.Context, _, _, page int64) ([]*model.AccountCopy, error) {
	if err := f.called("transactions"); err != nil {
		return nil, err
	}
	return pageOf(f.transactions, page, 10000), nil
}

func (f *fakeDistributor) TransactionsTotal(_ context.Context, _, _ int64) (int64, error) {
	if err := f.called("transactions_total"); err != nil {
		return 0, err
	}
	return int64(len(f.transactions)), nil
}

func (f *fakeDistributor) TotalData(_ context.Context) (*model.TotalData, error) {
	if err := f.called("total_data"); err != nil {
		return nil, err
	}
	return &model.TotalData{
		TotalCycles:       int64(len(f.cycles)),
		TotalAccounts:     int64(len(f.accounts)),
		TotalTransactions: int64(len(f.transactions)),
		TotalReceipts:     int64(len(f.receipts)),
		TotalOriginalTxs:  int64(len(f.originalTxs)),
	}, nil
}

// plainReceipt 不含账户快照的回执
func plainReceipt(id string, cycle int64) *model.Receipt {
	return newReceipt(id, cycle, 1_000_000+cycle*1000)
}

func plainOriginalTx(id string, cycle int64) *model.OriginalTxData {
	return &model.OriginalTxData{
		TxID:           id,
		Cycle:          cycle,
		Timestamp:      1_000_000 + cycle*1000,
		OriginalTxData: json.RawMessage(`{"tx":{"raw":""}}`),
	}
}
