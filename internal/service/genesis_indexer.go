package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/decoder"
	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// ProcessGenesisAccounts 写入创世账户, 返回其中的回执类账户供生成交易
func (s *ReceiptIndexer) ProcessGenesisAccounts(ctx context.Context, accounts []*model.AccountCopy) ([]*model.AccountCopy, error) {
	if len(accounts) == 0 {
		return nil, nil
	}
	batch := newIndexBatch(s.store, s.cfg.AccountEntryMirror)
	var txs []*model.AccountCopy

	for _, ac := range accounts {
		st, err := model.DecodeAccountState(ac.Data)
		if err != nil {
			metrics.RecordDropped("account", "decode")
			logger.Warn("skip undecodable genesis account",
				zap.String("account_id", ac.AccountID),
				zap.Error(err))
			continue
		}
		row := accountRow(ac, st, ac.CycleNumber)

		if evm, ok := st.(*model.EVMAccountState); ok && s.cfg.DecodeContractInfo && evm.IsContract() {
			if err := s.upsertContractAccount(ctx, row); err != nil {
				return nil, err
			}
			continue
		}
		if err := s.mergeAccount(ctx, batch, row); err != nil {
			return nil, err
		}
		if st.Type().Bucket() == model.BucketReceipt {
			txs = append(txs, ac)
		}
		if err := batch.flush(ctx, false); err != nil {
			return nil, err
		}
	}

	if err := batch.flush(ctx, true); err != nil {
		return nil, err
	}
	metrics.RecordProcessed("genesis_account", len(accounts))
	return txs, nil
}

// ProcessGenesisTransactions 由创世回执类账户生成交易与代币转账
func (s *ReceiptIndexer) ProcessGenesisTransactions(ctx context.Context, txs []*model.AccountCopy) error {
	if len(txs) == 0 {
		return nil
	}
	batch := newIndexBatch(s.store, s.cfg.AccountEntryMirror)

	for _, ac := range txs {
		st, err := model.DecodeAccountState(ac.Data)
		if err != nil {
			metrics.RecordDropped("transaction", "decode")
			continue
		}
		rs, ok := st.(*model.ReceiptState)
		if !ok {
			continue
		}
		txType, ok := rs.Type().TransactionType()
		if !ok {
			continue
		}
		readable := &rs.ReadableReceipt
		blockNumber, _ := readable.BlockNumberInt()
		txID := rs.TxID
		if txID == "" {
			txID = ac.AccountID
		}
		tx := &model.Transaction{
			TxID:              txID,
			TxHash:            rs.EthAddress,
			Cycle:             ac.CycleNumber,
			BlockNumber:       blockNumber,
			BlockHash:         readable.BlockHash,
			Timestamp:         ac.Timestamp,
			TransactionType:   txType,
			TxFrom:            readable.From,
			TxTo:              readable.Recipient(),
			WrappedEVMAccount: ac.Data,
			OriginalTxData:    json.RawMessage(`{}`),
		}
		if readable.StakeInfo != nil {
			tx.Nominee = readable.StakeInfo.Nominee
		}

		out := decoder.DecodeTokenTransfers(readable, nil, true)
		for _, addr := range out.Accounts {
			if err := s.ensureAccount(ctx, batch, addr, tx.Cycle, tx.Timestamp); err != nil {
				return err
			}
		}
		fee := readable.GasUsed
		if fee == "" {
			fee = "0"
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
			t.TransactionFee = fee
			t.ContractInfo = info
			batch.addTokenTx(t)
		}
		batch.tokens = append(batch.tokens, out.Tokens...)
		batch.txs = append(batch.txs, tx)

		if err := batch.flush(ctx, false); err != nil {
			return err
		}
	}

	if err := batch.flush(ctx, true); err != nil {
		return err
	}
	metrics.RecordProcessed("genesis_transaction", len(txs))
	return nil
}
