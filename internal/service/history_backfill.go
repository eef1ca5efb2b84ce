package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

const (
	historyReadPageSize  = 100
	historyBucketSize    = 1000
	historyProgressEvery = 10000
)

// HistoryBackfill 由已存回执重建账户历史状态
type HistoryBackfill struct {
	store      *repository.Store
	pageSize   int
	bucketSize int
}

// NewHistoryBackfill 创建历史状态回填
func NewHistoryBackfill(store *repository.Store) *HistoryBackfill {
	return &HistoryBackfill{
		store:      store,
		pageSize:   historyReadPageSize,
		bucketSize: historyBucketSize,
	}
}

// Run 逐页读取回执, 区块信息取自已索引的交易, 返回写入的历史记录数
func (b *HistoryBackfill) Run(ctx context.Context) (int, error) {
	total, err := b.store.Receipts.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	logger.Info("history backfill starting", zap.Int64("receipts", total))

	bucket := make([]*model.AccountHistoryState, 0, b.bucketSize)
	written := 0
	flush := func() error {
		if len(bucket) == 0 {
			return nil
		}
		if err := b.store.History.BulkUpsert(ctx, bucket); err != nil {
			return fmt.Errorf("save account history: %w", err)
		}
		written += len(bucket)
		bucket = bucket[:0]
		return nil
	}

	for skip := 0; int64(skip) < total; skip += b.pageSize {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		receipts, err := b.store.Receipts.List(ctx, skip, b.pageSize)
		if err != nil {
			return written, fmt.Errorf("list receipts at %d: %w", skip, err)
		}
		if len(receipts) == 0 {
			break
		}
		for _, r := range receipts {
			if !r.HistoryEligible() {
				continue
			}
			tx, err := b.store.Transactions.GetByTxID(ctx, r.TxID())
			if errors.Is(err, repository.ErrTransactionNotFound) {
				continue
			}
			if err != nil {
				return written, fmt.Errorf("query transaction %s: %w", r.TxID(), err)
			}
			if tx.BlockHash == "" {
				continue
			}
			bucket = append(bucket, model.HistoryFromProposal(&r.SignedReceipt.Proposal, r.Timestamp, tx.BlockNumber, tx.BlockHash, r.TxID())...)
			if len(bucket) >= b.bucketSize {
				if err := flush(); err != nil {
					return written, err
				}
			}
		}
		if (skip+b.pageSize)%historyProgressEvery == 0 {
			logger.Info("history backfill progress", zap.Int("receipts", skip+b.pageSize), zap.Int("written", written))
		}
	}

	if err := flush(); err != nil {
		return written, err
	}
	logger.Info("history backfill done", zap.Int("written", written))
	return written, nil
}
