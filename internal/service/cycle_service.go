package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/dedup"
	"github.com/shardeum/relayer-collector/internal/metrics"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
	apperrors "github.com/shardeum/relayer-collector/pkg/errors"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// CycleService 周期写入服务
type CycleService struct {
	store     *repository.Store
	guards    *dedup.Guards
	forwarder Forwarder
	retention time.Duration
	events    chan<- model.CycleCommitted
	now       func() time.Time
}

// NewCycleService 创建周期服务, events 为空时不发布落库事件
func NewCycleService(
	store *repository.Store,
	guards *dedup.Guards,
	forwarder Forwarder,
	retention time.Duration,
	events chan<- model.CycleCommitted,
) *CycleService {
	if forwarder == nil {
		forwarder = NopForwarder{}
	}
	return &CycleService{
		store:     store,
		guards:    guards,
		forwarder: forwarder,
		retention: retention,
		events:    events,
		now:       time.Now,
	}
}

// validateCycle 解析并校验周期记录, counter 以记录为准
func validateCycle(c *model.Cycle) (*model.CycleRecord, error) {
	if c == nil || c.Marker == "" || len(c.Record) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidCycle, "missing cycle marker or record")
	}
	rec, err := model.ParseCycleRecord(c.Record)
	if err != nil {
		return nil, apperrors.WrapWithCause(apperrors.ErrInvalidCycle, err, "parse cycle %s", c.Marker)
	}
	if !rec.Valid() {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidCycle, "cycle %s: invalid record", c.Marker)
	}
	c.Counter = rec.Counter
	return rec, nil
}

// InsertOrUpdate 按 marker 写入周期, 内容变化时更新, 新周期触发出块与去重清理
func (s *CycleService) InsertOrUpdate(ctx context.Context, c *model.Cycle) error {
	rec, err := validateCycle(c)
	if err != nil {
		metrics.RecordDropped("cycle", "invalid")
		logger.Warn("no valid cycle record or marker", zap.Error(err))
		return err
	}

	existing, err := s.store.Cycles.GetByMarker(ctx, c.Marker)
	switch {
	case err == nil:
		if existing.Counter != c.Counter || !model.JSONEqual(existing.Record, c.Record) {
			if err := s.store.Cycles.UpdateByMarker(ctx, c); err != nil {
				return fmt.Errorf("update cycle %d: %w", c.Counter, err)
			}
		}
	case errors.Is(err, repository.ErrCycleNotFound):
		if err := s.store.Cycles.Insert(ctx, c); err != nil {
			return fmt.Errorf("insert cycle %d: %w", c.Counter, err)
		}
		metrics.LatestCycleGauge.Set(float64(c.Counter))
		s.pruneGuards(ctx)
		s.emit(ctx, rec)
	default:
		return fmt.Errorf("query cycle %s: %w", c.Marker, err)
	}

	s.forwarder.ForwardCycle(ctx, c)
	metrics.RecordProcessed("cycle", 1)
	return nil
}

// BulkInsert 批量写入周期, 无效记录丢弃, saveOnlyNew 时已有 counter 不覆盖
// 返回新写入的周期数
func (s *CycleService) BulkInsert(ctx context.Context, cycles []*model.Cycle, saveOnlyNew bool) (int, error) {
	valid := make([]*model.Cycle, 0, len(cycles))
	records := make(map[int64]*model.CycleRecord, len(cycles))
	var lo, hi int64 = -1, -1
	for _, c := range cycles {
		rec, err := validateCycle(c)
		if err != nil {
			metrics.RecordDropped("cycle", "invalid")
			continue
		}
		valid = append(valid, c)
		records[c.Counter] = rec
		if lo < 0 || c.Counter < lo {
			lo = c.Counter
		}
		if c.Counter > hi {
			hi = c.Counter
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}

	stored, err := s.store.Cycles.ListBetween(ctx, lo, hi)
	if err != nil {
		return 0, fmt.Errorf("list cycles %d-%d: %w", lo, hi, err)
	}
	exists := make(map[int64]struct{}, len(stored))
	for _, c := range stored {
		exists[c.Counter] = struct{}{}
	}

	toSave := valid
	if saveOnlyNew {
		toSave = make([]*model.Cycle, 0, len(valid))
		for _, c := range valid {
			if _, ok := exists[c.Counter]; !ok {
				toSave = append(toSave, c)
			}
		}
	}
	if len(toSave) == 0 {
		return 0, nil
	}
	toSave = dedupeLast(toSave, func(c *model.Cycle) string { return c.Marker })
	if err := s.store.Cycles.BulkUpsert(ctx, toSave); err != nil {
		return 0, fmt.Errorf("save cycles: %w", err)
	}

	inserted := 0
	for _, c := range toSave {
		if _, ok := exists[c.Counter]; ok {
			continue
		}
		exists[c.Counter] = struct{}{}
		inserted++
		s.emit(ctx, records[c.Counter])
	}
	if inserted > 0 {
		s.pruneGuards(ctx)
	}
	metrics.LatestCycleGauge.Set(float64(hi))
	metrics.RecordProcessed("cycle", len(toSave))
	return inserted, nil
}

func (s *CycleService) emit(ctx context.Context, rec *model.CycleRecord) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- model.CycleCommitted{Counter: rec.Counter, Start: rec.Start}:
	case <-ctx.Done():
	}
}

// pruneGuards 清理保留期之前的去重记录
func (s *CycleService) pruneGuards(ctx context.Context) {
	if s.guards == nil {
		return
	}
	cutoff := s.now().Add(-s.retention).UnixMilli()
	receipts, originalTxs, err := s.guards.PruneAll(ctx, cutoff)
	if err != nil {
		logger.Warn("prune dedup guards failed", zap.Error(err))
		return
	}
	metrics.DedupPrunedTotal.WithLabelValues("receipt").Add(float64(receipts))
	metrics.DedupPrunedTotal.WithLabelValues("original_tx").Add(float64(originalTxs))
}

// PruneGuards 定时清理入口
func (s *CycleService) PruneGuards(ctx context.Context) {
	s.pruneGuards(ctx)
}
