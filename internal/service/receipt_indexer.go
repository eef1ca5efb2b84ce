// ========================================
// ReceiptIndexer 回执索引
// ========================================
//
// 一批回执按顺序处理, 每条回执:
//   1. (txId, timestamp) 去重, 重复投递整条跳过
//   2. 原始回执按 100 条一批落库
//   3. afterStates 分类写入账户, 库中已有的账户只在时间戳更新时覆盖
//   4. 回执类账户导出交易行, 日志解析出代币转账与持仓
//   5. 被引用但不存在的地址生成占位账户
//   6. 共识提案生成账户历史状态
//
// 派生数据按 1000 条一批落库, 处理结束时全部写入
// ========================================
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/config"
	"github.com/shardeum/relayer-collector/internal/decoder"
	"github.com/shardeum/relayer-collector/internal/dedup"
	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// ReceiptIndexer 回执索引服务
type ReceiptIndexer struct {
	store     *repository.Store
	guard     dedup.Guard
	contracts ContractInfoSource
	forwarder Forwarder
	cfg       config.ProcessConfig
}

// NewReceiptIndexer 创建回执索引服务, contracts 为空时不查询合约信息
func NewReceiptIndexer(
	store *repository.Store,
	guard dedup.Guard,
	contracts ContractInfoSource,
	forwarder Forwarder,
	cfg config.ProcessConfig,
) *ReceiptIndexer {
	if forwarder == nil {
		forwarder = NopForwarder{}
	}
	return &ReceiptIndexer{
		store:     store,
		guard:     guard,
		contracts: contracts,
		forwarder: forwarder,
		cfg:       cfg,
	}
}

// ProcessReceipts 处理一批回执, saveOnlyNew 时已存在的原始回执不再重写
func (s *ReceiptIndexer) ProcessReceipts(ctx context.Context, receipts []*model.Receipt, saveOnlyNew bool) error {
	if len(receipts) == 0 {
		return nil
	}
	batch := newIndexBatch(s.store, s.cfg.AccountEntryMirror)
	processed := 0

	for _, r := range receipts {
		if r == nil || r.TxID() == "" {
			metrics.RecordDropped("receipt", "invalid")
			logger.Warn("drop receipt without tx id")
			continue
		}
		txID := r.TxID()
		seen, err := s.guard.CheckAndMark(ctx, txID, r.Timestamp)
		if err != nil {
			return fmt.Errorf("dedup receipt %s: %w", txID, err)
		}
		if seen {
			metrics.RecordDedupHit("receipt")
			continue
		}

		if err := s.stageReceipt(ctx, batch, r, saveOnlyNew); err != nil {
			return err
		}
		s.forwarder.ForwardReceipt(ctx, r)
		processed++

		if s.cfg.IndexReceipt {
			if err := s.indexReceipt(ctx, batch, r); err != nil {
				return fmt.Errorf("index receipt %s: %w", txID, err)
			}
		}
		if err := batch.flush(ctx, false); err != nil {
			return err
		}
	}

	if err := batch.flush(ctx, true); err != nil {
		return err
	}
	metrics.RecordProcessed("receipt", processed)
	return nil
}

// stageReceipt 缓冲原始回执
func (s *ReceiptIndexer) stageReceipt(ctx context.Context, batch *indexBatch, r *model.Receipt, saveOnlyNew bool) error {
	if saveOnlyNew {
		exists, err := s.store.Receipts.Exists(ctx, r.TxID())
		if err != nil {
			return fmt.Errorf("check receipt %s: %w", r.TxID(), err)
		}
		if exists {
			return nil
		}
	}
	stored := *r
	if !s.cfg.StoreReceiptBeforeStates {
		stored.BeforeStates = []model.AccountCopy{}
	}
	batch.receipts = append(batch.receipts, &stored)
	return nil
}

// indexReceipt 由回执导出账户, 交易, 代币与历史状态
func (s *ReceiptIndexer) indexReceipt(ctx context.Context, batch *indexBatch, r *model.Receipt) error {
	storage := decoder.StorageMap{}
	txReceipt := appReceiptAccount(r)

	for i := range r.AfterStates {
		ac := &r.AfterStates[i]
		st, err := model.DecodeAccountState(ac.Data)
		if err != nil {
			metrics.RecordDropped("account", "decode")
			logger.Warn("skip undecodable account state",
				zap.String("tx_id", r.TxID()),
				zap.String("account_id", ac.AccountID),
				zap.Error(err))
			continue
		}
		row := accountRow(ac, st, r.Cycle)

		if evm, ok := st.(*model.EVMAccountState); ok && s.cfg.DecodeContractInfo && evm.IsContract() {
			if err := s.upsertContractAccount(ctx, row); err != nil {
				return err
			}
			continue
		}
		if cs, ok := st.(*model.ContractStorageState); ok && s.cfg.DecodeTokenTransfer && cs.Key != "" {
			storage.Put(cs)
		}

		if err := s.mergeAccount(ctx, batch, row); err != nil {
			return err
		}
		if st.Type().Bucket() == model.BucketReceipt {
			txReceipt = &model.WrappedAccount{AccountID: ac.AccountID, Data: ac.Data, Timestamp: ac.Timestamp}
		}
	}

	blockNumber, blockHash, hasBlock := int64(0), "", false
	if txReceipt != nil {
		var err error
		blockNumber, blockHash, hasBlock, err = s.indexTransaction(ctx, batch, r, txReceipt, storage)
		if err != nil {
			return err
		}
	}

	if s.cfg.SaveAccountHistoryState {
		s.stageHistory(batch, r, blockNumber, blockHash, hasBlock)
	}
	return nil
}

// appReceiptAccount appReceiptData 作为默认的回执账户
func appReceiptAccount(r *model.Receipt) *model.WrappedAccount {
	if len(r.AppReceiptData) == 0 || string(r.AppReceiptData) == "null" {
		return nil
	}
	var w model.WrappedAccount
	if err := json.Unmarshal(r.AppReceiptData, &w); err != nil || len(w.Data) == 0 {
		return nil
	}
	return &w
}

// accountRow 账户快照转账户行
func accountRow(ac *model.AccountCopy, st model.AccountState, cycle int64) *model.Account {
	row := &model.Account{
		AccountID:   ac.AccountID,
		Cycle:       cycle,
		Timestamp:   ac.Timestamp,
		AccountType: st.Type(),
		Account:     ac.Data,
		Hash:        ac.Hash,
		IsGlobal:    ac.IsGlobal,
	}
	if st.Type().Bucket() == model.BucketNetwork {
		row.EthAddress = ac.AccountID
	} else {
		row.EthAddress = model.EthAddressOf(st)
	}
	if row.EthAddress == "" {
		row.EthAddress = ac.AccountID
	}
	return row
}

// upsertContractAccount 合约账户首次出现时查询合约信息并立即写入
func (s *ReceiptIndexer) upsertContractAccount(ctx context.Context, row *model.Account) error {
	_, err := s.store.Accounts.GetByID(ctx, row.AccountID)
	if err == nil {
		_, err = s.store.Accounts.UpdateIfNewer(ctx, row)
		return err
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return fmt.Errorf("query contract account: %w", err)
	}

	if s.contracts != nil {
		info, typ, rerr := s.contracts.Resolve(ctx, row.EthAddress)
		if rerr != nil {
			logger.Warn("resolve contract info failed",
				zap.String("address", row.EthAddress),
				zap.Error(rerr))
		}
		row.ContractInfo = info
		row.ContractType = &typ
	}
	if err := s.store.Accounts.Insert(ctx, row); err != nil {
		return fmt.Errorf("insert contract account: %w", err)
	}
	if s.cfg.AccountEntryMirror {
		return s.store.Accounts.BulkUpsertEntries(ctx, []*model.AccountEntry{model.EntryOf(row)})
	}
	return nil
}

// mergeAccount 批内按时间戳合并, 库中已有时仅更新更新的数据
func (s *ReceiptIndexer) mergeAccount(ctx context.Context, batch *indexBatch, row *model.Account) error {
	if cur, ok := batch.account(row.AccountID); ok {
		if cur.Timestamp < row.Timestamp {
			batch.putAccount(row)
		}
		return nil
	}
	existing, err := s.store.Accounts.GetByID(ctx, row.AccountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		batch.putAccount(row)
		return nil
	}
	if err != nil {
		return fmt.Errorf("query account: %w", err)
	}
	if existing.Timestamp >= row.Timestamp {
		return nil
	}
	if _, err := s.store.Accounts.UpdateIfNewer(ctx, row); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if s.cfg.AccountEntryMirror {
		return s.store.Accounts.BulkUpsertEntries(ctx, []*model.AccountEntry{model.EntryOf(row)})
	}
	return nil
}

// indexTransaction 回执账户导出交易行与代币转账
func (s *ReceiptIndexer) indexTransaction(
	ctx context.Context,
	batch *indexBatch,
	r *model.Receipt,
	txReceipt *model.WrappedAccount,
	storage decoder.StorageMap,
) (int64, string, bool, error) {
	st, err := model.DecodeAccountState(txReceipt.Data)
	if err != nil {
		return 0, "", false, nil
	}
	rs, ok := st.(*model.ReceiptState)
	if !ok {
		return 0, "", false, nil
	}
	txType, ok := rs.Type().TransactionType()
	if !ok {
		return 0, "", false, nil
	}

	readable := &rs.ReadableReceipt
	blockNumber, hasNumber := readable.BlockNumberInt()
	blockHash := readable.BlockHash
	if blockHash == "" {
		logger.Warn("transaction has no block hash", zap.String("tx_id", r.TxID()))
	}

	originalTx := r.Tx.OriginalTxData
	if len(originalTx) == 0 {
		originalTx = json.RawMessage(`{}`)
	}
	tx := &model.Transaction{
		TxID:              r.TxID(),
		TxHash:            rs.EthAddress,
		Cycle:             r.Cycle,
		BlockNumber:       blockNumber,
		BlockHash:         blockHash,
		Timestamp:         r.Tx.Timestamp,
		TransactionType:   txType,
		TxFrom:            readable.From,
		TxTo:              readable.Recipient(),
		WrappedEVMAccount: txReceipt.Data,
		OriginalTxData:    originalTx,
	}
	if readable.StakeInfo != nil {
		tx.Nominee = readable.StakeInfo.Nominee
	}

	newTx := true
	existing, err := s.store.Transactions.GetByTxID(ctx, tx.TxID)
	switch {
	case errors.Is(err, repository.ErrTransactionNotFound):
		if tx.Nominee != "" {
			if err := s.store.Transactions.Upsert(ctx, tx); err != nil {
				return 0, "", false, fmt.Errorf("save stake transaction: %w", err)
			}
		} else {
			batch.txs = append(batch.txs, tx)
		}
	case err != nil:
		return 0, "", false, fmt.Errorf("query transaction: %w", err)
	default:
		if existing.Timestamp < tx.Timestamp {
			if err := s.store.Transactions.Upsert(ctx, tx); err != nil {
				return 0, "", false, fmt.Errorf("update transaction: %w", err)
			}
		}
		newTx = false
	}

	if s.cfg.DecodeTokenTransfer {
		if err := s.indexTokens(ctx, batch, tx, rs, storage, newTx); err != nil {
			return 0, "", false, err
		}
	}
	return blockNumber, blockHash, hasNumber && blockHash != "", nil
}

// indexTokens 代币转账, 持仓与占位账户
func (s *ReceiptIndexer) indexTokens(
	ctx context.Context,
	batch *indexBatch,
	tx *model.Transaction,
	rs *model.ReceiptState,
	storage decoder.StorageMap,
	newTx bool,
) error {
	out := decoder.DecodeTokenTransfers(&rs.ReadableReceipt, storage, newTx)

	for _, addr := range out.Accounts {
		if err := s.ensureAccount(ctx, batch, addr, tx.Cycle, tx.Timestamp); err != nil {
			return err
		}
	}

	for _, t := range out.Txs {
		info, err := s.contractInfoOf(ctx, batch, t.ContractAddress)
		if err != nil {
			return err
		}
		t.TxID = tx.TxID
		t.TxHash = tx.TxHash
		t.Cycle = tx.Cycle
		t.Timestamp = tx.Timestamp
		t.TransactionFee = rs.AmountSpent
		t.ContractInfo = info
		batch.addTokenTx(t)
	}
	batch.tokens = append(batch.tokens, out.Tokens...)
	return nil
}

// ensureAccount 地址尚无账户时生成占位账户
func (s *ReceiptIndexer) ensureAccount(ctx context.Context, batch *indexBatch, addr string, cycle, timestamp int64) error {
	if addr == model.ZeroAddress || batch.hasEthAddress(addr) {
		return nil
	}
	_, err := s.store.Accounts.GetByID(ctx, model.AccountIDFromAddress(addr))
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return fmt.Errorf("query account %s: %w", addr, err)
	}
	batch.putAccount(model.DummyAccount(addr, cycle, timestamp))
	return nil
}

// contractInfoOf 代币合约账户上的合约信息, 没有时为空对象
func (s *ReceiptIndexer) contractInfoOf(ctx context.Context, batch *indexBatch, contract string) (json.RawMessage, error) {
	id := model.AccountIDFromAddress(contract)
	if a, ok := batch.account(id); ok && len(a.ContractInfo) > 0 {
		return a.ContractInfo, nil
	}
	a, err := s.store.Accounts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query contract %s: %w", contract, err)
	}
	if len(a.ContractInfo) == 0 || string(a.ContractInfo) == "null" {
		return json.RawMessage(`{}`), nil
	}
	return a.ContractInfo, nil
}

// stageHistory 缓冲账户历史状态
func (s *ReceiptIndexer) stageHistory(batch *indexBatch, r *model.Receipt, blockNumber int64, blockHash string, hasBlock bool) {
	if r.HistoryEligible() && hasBlock {
		rows := model.HistoryFromProposal(&r.SignedReceipt.Proposal, r.Timestamp, blockNumber, blockHash, r.TxID())
		batch.history = append(batch.history, rows...)
		return
	}
	switch {
	case r.GlobalModification:
		logger.Info("receipt has global modification",
			zap.String("tx_id", r.TxID()),
			zap.Int64("timestamp", r.Timestamp))
	case r.SignedReceipt == nil:
		logger.Warn("receipt has no signed receipt",
			zap.String("tx_id", r.TxID()),
			zap.Int64("timestamp", r.Timestamp))
	}
	if !hasBlock {
		logger.Warn("receipt has no block number or block hash",
			zap.String("tx_id", r.TxID()),
			zap.Int64("timestamp", r.Timestamp))
	}
}
