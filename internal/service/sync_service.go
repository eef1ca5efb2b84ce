package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shardeum/relayer-collector/internal/distributor"
	"github.com/shardeum/relayer-collector/internal/repository"
	"github.com/shardeum/relayer-collector/pkg/logger"
)

// Locker 按名称互斥, 未获取到锁时 ok 为 false
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

// LocalLocker 进程内互斥锁
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock 非阻塞加锁
func (l *LocalLocker) TryLock(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return nil, false, nil
	}
	l.held[name] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, true, nil
}

// SyncService 启动追赶与定时补缺
type SyncService struct {
	dist   distributor.Distributor
	store  *repository.Store
	recon  *ReconciliationService
	locker Locker
}

// NewSyncService 创建同步服务, locker 为 nil 时使用进程内锁
func NewSyncService(dist distributor.Distributor, store *repository.Store, recon *ReconciliationService, locker Locker) *SyncService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &SyncService{dist: dist, store: store, recon: recon, locker: locker}
}

// withLock 在该类数据的锁内执行, 锁被占用时跳过
func (s *SyncService) withLock(ctx context.Context, kind string, fn func() error) error {
	release, ok, err := s.locker.TryLock(ctx, "sync:"+kind)
	if err != nil {
		return fmt.Errorf("lock %s: %w", kind, err)
	}
	if !ok {
		logger.Info("sync of this kind is already running, skip", zap.String("kind", kind))
		return nil
	}
	defer release()
	return fn()
}

// Run 启动时追赶分发器
func (s *SyncService) Run(ctx context.Context) error {
	totals, err := s.dist.TotalData(ctx)
	if err != nil {
		return fmt.Errorf("query total data: %w", err)
	}
	logger.Info("distributor total data",
		zap.Int64("cycles", totals.TotalCycles),
		zap.Int64("receipts", totals.TotalReceipts),
		zap.Int64("original_txs", totals.TotalOriginalTxs),
		zap.Int64("accounts", totals.TotalAccounts),
		zap.Int64("transactions", totals.TotalTransactions))

	if totals.TotalAccounts > 0 {
		if err := s.recon.DownloadAndSyncGenesis(ctx); err != nil {
			return fmt.Errorf("sync genesis: %w", err)
		}
	}

	cycles, err := s.store.Cycles.Count(ctx)
	if err != nil {
		return err
	}
	receipts, err := s.store.Receipts.Count(ctx)
	if err != nil {
		return err
	}
	originalTxs, err := s.store.OriginalTxs.Count(ctx)
	if err != nil {
		return err
	}

	if cycles == 0 && receipts == 0 && originalTxs == 0 {
		remote := SyncPositions{
			Receipts:    totals.TotalReceipts,
			OriginalTxs: totals.TotalOriginalTxs,
			Cycles:      totals.TotalCycles,
		}
		var pos SyncPositions
		err := s.withLock(ctx, "all", func() error {
			var err error
			pos, err = s.recon.DownloadTxsDataAndCycles(ctx, remote, SyncPositions{})
			return err
		})
		if err != nil {
			return fmt.Errorf("download from index (reached %+v): %w", pos, err)
		}
		return nil
	}

	return errors.Join(
		s.withLock(ctx, KindReceipt, func() error { return s.resumeReceipts(ctx, totals.TotalCycles) }),
		s.withLock(ctx, KindOriginalTx, func() error { return s.resumeOriginalTxs(ctx, totals.TotalCycles) }),
		s.withLock(ctx, KindCycle, func() error { return s.resumeCycles(ctx, totals.TotalCycles) }),
	)
}

func (s *SyncService) resumeReceipts(ctx context.Context, totalCycles int64) error {
	last, ok, err := s.store.Receipts.LatestCycle(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return s.recon.DownloadReceiptsBetweenCycles(ctx, 0, totalCycles, true)
	}
	res, err := s.recon.CompareWithOldReceipts(ctx, last)
	if err != nil {
		logger.Error("receipts diverged from distributor, halt receipt sync", zap.Int64("last_cycle", last), zap.Error(err))
		return err
	}
	logPartialMatch(KindReceipt, res)
	return s.recon.DownloadReceiptsBetweenCycles(ctx, res.MatchedCycle, totalCycles, true)
}

func (s *SyncService) resumeOriginalTxs(ctx context.Context, totalCycles int64) error {
	last, ok, err := s.store.OriginalTxs.LatestCycle(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return s.recon.DownloadOriginalTxsBetweenCycles(ctx, 0, totalCycles, true)
	}
	res, err := s.recon.CompareWithOldOriginalTxs(ctx, last)
	if err != nil {
		logger.Error("original txs diverged from distributor, halt original tx sync", zap.Int64("last_cycle", last), zap.Error(err))
		return err
	}
	logPartialMatch(KindOriginalTx, res)
	return s.recon.DownloadOriginalTxsBetweenCycles(ctx, res.MatchedCycle, totalCycles, true)
}

func (s *SyncService) resumeCycles(ctx context.Context, totalCycles int64) error {
	last, ok, err := s.store.Cycles.MaxCounter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return s.recon.DownloadCyclesBetweenCycles(ctx, 0, totalCycles, true)
	}
	res, err := s.recon.CompareWithOldCycles(ctx, last)
	if err != nil {
		logger.Error("cycles diverged from distributor, halt cycle sync", zap.Int64("last_counter", last), zap.Error(err))
		return err
	}
	logPartialMatch(KindCycle, res)
	return s.recon.DownloadCyclesBetweenCycles(ctx, res.MatchedCycle, totalCycles, true)
}

// logPartialMatch 部分一致时从最后一致的周期重新下载
func logPartialMatch(kind string, res CompareResult) {
	if res.Success {
		return
	}
	logger.Warn("resume sync from last agreed cycle",
		zap.String("kind", kind),
		zap.Int64("matched_cycle", res.MatchedCycle))
}

// Patch 修复最近 lastN 个周期的缺口
func (s *SyncService) Patch(ctx context.Context, lastN int64) error {
	latest, ok, err := s.store.Cycles.MaxCounter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	start := latest - lastN
	if start < 0 {
		start = 0
	}

	return errors.Join(
		s.withLock(ctx, KindCycle, func() error {
			return s.recon.DownloadCyclesBetweenCycles(ctx, start, latest, true)
		}),
		s.withLock(ctx, KindReceipt, func() error {
			tallies := s.recon.CompareReceiptsCountByCycles(ctx, start, latest)
			if len(tallies) == 0 {
				return nil
			}
			logger.Info("patching receipts", zap.Int("cycles", len(tallies)))
			_, err := s.recon.DownloadReceiptsByCycle(ctx, tallies)
			return err
		}),
		s.withLock(ctx, KindOriginalTx, func() error {
			tallies := s.recon.CompareOriginalTxsCountByCycles(ctx, start, latest)
			if len(tallies) == 0 {
				return nil
			}
			logger.Info("patching original txs", zap.Int("cycles", len(tallies)))
			_, err := s.recon.DownloadOriginalTxsByCycle(ctx, tallies)
			return err
		}),
	)
}
