package service

import (
	"context"
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

// OriginalTxIndexer 原始交易索引服务
type OriginalTxIndexer struct {
	store *repository.Store
	guard dedup.Guard
	cfg   config.ProcessConfig
}

// NewOriginalTxIndexer 创建原始交易索引服务
func NewOriginalTxIndexer(store *repository.Store, guard dedup.Guard, cfg config.ProcessConfig) *OriginalTxIndexer {
	return &OriginalTxIndexer{store: store, guard: guard, cfg: cfg}
}

// ProcessOriginalTxs 写入原始交易及其类型索引
// 无法解析的 EVM 载荷只丢弃类型索引, 原始数据照常保存
func (s *OriginalTxIndexer) ProcessOriginalTxs(ctx context.Context, items []*model.OriginalTxData, saveOnlyNew bool) error {
	if len(items) == 0 {
		return nil
	}
	var (
		raws      []*model.OriginalTxData
		derived   []*model.OriginalTxData2
		processed int
	)
	flush := func(force bool) error {
		if len(raws) > 0 && (force || len(raws) >= receiptBucketSize) {
			if err := s.store.OriginalTxs.BulkUpsert(ctx, dedupeLast(raws, originalTxKey)); err != nil {
				return fmt.Errorf("save original txs: %w", err)
			}
			raws = nil
		}
		if len(derived) > 0 && (force || len(derived) >= receiptBucketSize) {
			if err := s.store.OriginalTxs.BulkUpsertType2(ctx, dedupeLast(derived, originalTx2Key)); err != nil {
				return fmt.Errorf("save original txs index: %w", err)
			}
			derived = nil
		}
		return nil
	}

	for _, o := range items {
		if o == nil || o.TxID == "" {
			metrics.RecordDropped("original_tx", "invalid")
			logger.Warn("drop original tx without tx id")
			continue
		}
		seen, err := s.guard.CheckAndMark(ctx, o.TxID, o.Timestamp)
		if err != nil {
			return fmt.Errorf("dedup original tx %s: %w", o.TxID, err)
		}
		if seen {
			metrics.RecordDedupHit("original_tx")
			continue
		}
		if saveOnlyNew {
			exists, err := s.store.OriginalTxs.Exists(ctx, o.TxID)
			if err != nil {
				return fmt.Errorf("check original tx %s: %w", o.TxID, err)
			}
			if exists {
				continue
			}
		}
		raws = append(raws, o)
		processed++

		if s.cfg.IndexOriginalTxData {
			d, err := decoder.DeriveOriginalTxData2(o)
			if err != nil {
				metrics.RecordDropped("original_tx", "decode")
				logger.Warn("unable to decode original tx",
					zap.String("tx_id", o.TxID),
					zap.Error(err))
			} else {
				derived = append(derived, d)
			}
		}
		if err := flush(false); err != nil {
			return err
		}
	}

	if err := flush(true); err != nil {
		return err
	}
	metrics.RecordProcessed("original_tx", processed)
	return nil
}

func originalTxKey(o *model.OriginalTxData) string { return o.TxID }

func originalTx2Key(o *model.OriginalTxData2) string { return o.TxID }
